package actorutil

import (
	"errors"
	"testing"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

type taskOutcome struct {
	value string
}

func runTask(t *testing.T, start func(ctx actor.Context)) taskOutcome {
	t.Helper()

	as := NewActorSystemWithZapLogger(zap.Must(zap.NewDevelopment()))
	defer as.Shutdown()

	out := make(chan taskOutcome, 1)
	props := actor.PropsFromFunc(func(ctx actor.Context) {
		switch msg := ctx.Message().(type) {
		case *actor.Started:
			start(ctx)
		case taskOutcome:
			out <- msg
		}
	})
	as.Root.Spawn(props)

	select {
	case o := <-out:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("no task outcome")
		return taskOutcome{}
	}
}

func TestBackgroundTaskSuccess(t *testing.T) {

	outcome := runTask(t, func(ctx actor.Context) {
		MapBackgroundTask(NewBackgroundTask(ctx, func() (*int, error) {
			v := 42
			return &v, nil
		}), func(v *int) *taskOutcome {
			return &taskOutcome{value: "read"}
		}).WithTimeout(time.Second).PipeTo(ctx.Self())
	})
	assert.Equal(t, "read", outcome.value)
}

func TestBackgroundTaskRecoversError(t *testing.T) {

	outcome := runTask(t, func(ctx actor.Context) {
		NewBackgroundTask(ctx, func() (*taskOutcome, error) {
			return nil, errors.New("modem gone")
		}).Recover(func(err error) taskOutcome {
			return taskOutcome{value: err.Error()}
		}).PipeTo(ctx.Self())
	})
	assert.Equal(t, "modem gone", outcome.value)
}

func TestBackgroundTaskTimeout(t *testing.T) {

	outcome := runTask(t, func(ctx actor.Context) {
		NewBackgroundTask(ctx, func() (*taskOutcome, error) {
			time.Sleep(500 * time.Millisecond)
			return &taskOutcome{value: "late"}, nil
		}).WithTimeout(50 * time.Millisecond).Recover(func(err error) taskOutcome {
			return taskOutcome{value: "timeout"}
		}).PipeTo(ctx.Self())
	})
	assert.Equal(t, "timeout", outcome.value)
}
