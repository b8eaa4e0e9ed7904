package otsapi

import (
	"context"
	"errors"

	"github.com/ogon-project/ogon-sessiond/internal/call"
	"github.com/ogon-project/ogon-sessiond/internal/session"
)

// funcTask adapts a plain function to taskexec.Task, firing an optional
// completion with the function's outcome. internal/logon's TaskEnd and
// TaskCallIn each hand-roll this shape for their own specific payload;
// otsapi's operations have no reply payload beyond success/failure, so one
// generic adapter covers disconnect, logoff, remote-control start/stop and
// virtual channel open/close alike.
type funcTask struct {
	fn         func(ctx context.Context) error
	completion *call.Completion
}

// PreProcess implements taskexec.Task.
func (t *funcTask) PreProcess(ctx context.Context) error { return nil }

// Run implements taskexec.Task.
func (t *funcTask) Run(ctx context.Context) error { return t.fn(ctx) }

// PostProcess implements taskexec.Task, firing the completion (if any) with
// Run's outcome.
func (t *funcTask) PostProcess(ctx context.Context, runErr error) {
	if t.completion == nil {
		return
	}
	status, errDesc := 0, ""
	if runErr != nil {
		status, errDesc = 1, runErr.Error()
	}
	t.completion.Fire(status, nil, errDesc)
}

// Abort implements taskexec.Task: the target session's executor shut down
// before this task ran.
func (t *funcTask) Abort(err error) {
	if t.completion != nil {
		t.completion.Fire(1, nil, err.Error())
	}
}

// dispatchAndWait submits fn onto sess's executor and blocks until it
// completes or ctx is done, for operations the caller needs a synchronous
// outcome from (the wait=true half of disconnectSession/logoffSession, and
// every operation that has no wait parameter at all).
func dispatchAndWait(ctx context.Context, sess *session.Session, fn func(context.Context) error) error {
	completion := call.NewCompletion()
	if err := sess.Executor().Submit(&funcTask{fn: fn, completion: completion}); err != nil {
		return err
	}
	_, _, errDesc, err := completion.Wait(ctx)
	if err != nil {
		return err
	}
	if errDesc != "" {
		return errors.New(errDesc)
	}
	return nil
}

// dispatchAsync submits fn onto sess's executor without waiting for it to
// run, for the wait=false half of disconnectSession/logoffSession.
func dispatchAsync(sess *session.Session, fn func(context.Context) error) error {
	return sess.Executor().Submit(&funcTask{fn: fn})
}
