package system

import (
	"context"
	"errors"
	"io"
	"log/slog"
)

type fakeRunner struct {
	calls  []Cmd
	output string
	err    error
}

func (f *fakeRunner) Run(_ context.Context, cmd Cmd) (string, error) {
	f.calls = append(f.calls, cmd)
	return f.output, f.err
}

var errExit = errors.New("exit status 1")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
