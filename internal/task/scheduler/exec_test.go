package scheduler

import "remindbot/internal/task/engine"

type fakeExec struct {
	tasks []engine.Task
	err   error
}

func (f *fakeExec) Enqueue(t engine.Task) error {
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, t)
	return nil
}
