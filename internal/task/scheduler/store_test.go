package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func onceJob(name string, at time.Time) Job {
	return Job{Name: name, Kind: KindOnce, Callback: TimerFire, Trigger: Trigger{At: at}, NextAt: at}
}

func TestStoreInsertReplacesByName(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Insert(onceJob("a", t0.Add(time.Hour))))
	assert.True(t, s.Insert(onceJob("a", t0.Add(time.Minute))))

	require.Equal(t, 1, s.Len())
	j, ok := s.FindByName("a")
	require.True(t, ok)
	assert.Equal(t, t0.Add(time.Minute), j.NextAt)
}

func TestStoreRemove(t *testing.T) {
	s := NewStore()
	s.Insert(onceJob("a", t0))
	assert.True(t, s.Remove("a"))
	assert.False(t, s.Remove("a"))
	_, ok := s.FindByName("a")
	assert.False(t, ok)
	assert.Equal(t, 0, s.Len())
}

func TestStoreListAllIsOrderedAndStable(t *testing.T) {
	s := NewStore()
	s.Insert(onceJob("c", t0.Add(2*time.Minute)))
	s.Insert(onceJob("b", t0.Add(time.Minute)))
	s.Insert(onceJob("a", t0.Add(2*time.Minute)))

	names := func() []string {
		var out []string
		for _, j := range s.ListAll() {
			out = append(out, j.Name)
		}
		return out
	}
	assert.Equal(t, []string{"b", "a", "c"}, names())
	assert.Equal(t, names(), names())
}

func TestStorePopDue(t *testing.T) {
	s := NewStore()
	s.Insert(onceJob("late", t0.Add(time.Hour)))
	s.Insert(onceJob("first", t0.Add(-time.Minute)))
	s.Insert(onceJob("second", t0))

	next, ok := s.NextDue(t0)
	require.True(t, ok)
	assert.Equal(t, "first", next.Name)

	due := s.PopDue(t0)
	require.Len(t, due, 2)
	assert.Equal(t, "first", due[0].Name)
	assert.Equal(t, "second", due[1].Name)
	assert.Equal(t, 1, s.Len())

	_, ok = s.NextDue(t0)
	assert.False(t, ok)
	assert.Equal(t, t0.Add(time.Hour), s.NextAt())
}

func TestStoreAdvanceRearms(t *testing.T) {
	s := NewStore()
	s.Insert(onceJob("keep", t0))
	s.Insert(onceJob("drop", t0))

	due := s.Advance(t0, func(j Job) (time.Time, bool) {
		if j.Name == "keep" {
			return t0.Add(24 * time.Hour), true
		}
		return time.Time{}, false
	})
	require.Len(t, due, 2)
	j, ok := s.FindByName("keep")
	require.True(t, ok)
	assert.Equal(t, t0.Add(24*time.Hour), j.NextAt)
	_, ok = s.FindByName("drop")
	assert.False(t, ok)
}

func TestStoreRemoveWhereAndPrefix(t *testing.T) {
	s := NewStore()
	s.Insert(onceJob("1-aa-once", t0.Add(time.Minute)))
	s.Insert(onceJob("1-bb-once", t0))
	s.Insert(onceJob("2-cc-once", t0))

	assert.Len(t, s.WithPrefix("1-"), 2)
	removed := s.RemoveWhere(func(j Job) bool { return j.Name[0] == '1' })
	require.Len(t, removed, 2)
	assert.Equal(t, "1-bb-once", removed[0].Name)
	assert.Equal(t, 1, s.Len())
}
