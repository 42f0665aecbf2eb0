package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{"callback_id":"reminder_fire","name":"42","trigger":{"kind":"daily","time":"09:00","offset":2},"payload":{"chat_id":42}}
{"callback_id":"timer_fire","name":"42-0a1b2c3d-once","trigger":{"kind":"once","at":"2030-01-02T03:04:05Z"},"payload":{"chat_id":42,"text":"tea"}}
`

func TestPrintSnapshot(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSnapshot(&out, strings.NewReader(sample)))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "42 daily 09:00 (+0200)"))
	assert.Equal(t, "42-0a1b2c3d-once once at=2030-01-02T03:04:05Z", lines[1])
	assert.Equal(t, "2 job(s)", lines[2])
}

func TestPrintSnapshotTruncated(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printSnapshot(&out, strings.NewReader(sample+`{"callback_id":"timer_fire","na`)))
	assert.Contains(t, out.String(), "2 job(s)")
	assert.Contains(t, out.String(), "stopped early")
}

func TestVersionCommand(t *testing.T) {
	app := newCLI()
	var out bytes.Buffer
	app.Writer = &out
	require.NoError(t, app.Run([]string{"remindbot", "version"}))
	assert.Equal(t, version+"\n", out.String())
}

func TestInspectNeedsFile(t *testing.T) {
	app := newCLI()
	app.Writer = &bytes.Buffer{}
	app.ErrWriter = &bytes.Buffer{}
	err := app.Run([]string{"remindbot", "inspect"})
	require.Error(t, err)
}
