package groutine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGo_PropagatesName(t *testing.T) {
	names := make(chan string, 1)
	Go(nil, "scan-pump", func(ctx context.Context) {
		names <- GetName(ctx)
	})

	select {
	case name := <-names:
		assert.Equal(t, "scan-pump", name)
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

func TestGetName_Empty(t *testing.T) {
	assert.Equal(t, "", GetName(nil)) //nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, "", GetName(context.Background()))
}

func TestGoSafe_RecoversPanics(t *testing.T) {
	logger, hook := test.NewNullLogger()
	done := make(chan struct{})

	GoSafe(context.Background(), "gatt-discover-1", logger, func(ctx context.Context) {
		defer close(done)
		panic("boom")
	}, nil)

	<-done
	require.Eventually(t, func() bool { return hook.LastEntry() != nil }, time.Second, 5*time.Millisecond)
	entry := hook.LastEntry()
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.Equal(t, "gatt-discover-1", entry.Data["goroutine"])
	assert.Equal(t, "boom", entry.Data["panic"])
}

func TestGoSafe_HandsPanicToFailurePath(t *testing.T) {
	logger, _ := test.NewNullLogger()
	failures := make(chan error, 1)

	GoSafe(context.Background(), "gatt-dial-3", logger, func(ctx context.Context) {
		panic("driver crashed")
	}, func(err error) {
		failures <- err
	})

	select {
	case err := <-failures:
		var pe *PanicError
		require.True(t, errors.As(err, &pe), "recovered panic MUST be a *PanicError")
		assert.Equal(t, "gatt-dial-3", pe.Goroutine)
		assert.Equal(t, "driver crashed", pe.Value)
		assert.EqualError(t, err, "goroutine gatt-dial-3 panicked: driver crashed")
	case <-time.After(time.Second):
		t.Fatal("panic MUST be handed to the failure callback")
	}
}

func TestGoSafe_NoCallbackWithoutPanic(t *testing.T) {
	done := make(chan struct{})
	called := make(chan error, 1)

	GoSafe(context.Background(), "scan-pump-1", nil, func(ctx context.Context) {
		close(done)
	}, func(err error) {
		called <- err
	})

	<-done
	select {
	case err := <-called:
		t.Fatalf("failure callback MUST NOT run on a clean return, got %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}
