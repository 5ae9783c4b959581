package script

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutorSerializes(t *testing.T) {
	exec := NewExecutor(8, nil)
	defer exec.Close()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
	)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := exec.Execute(context.Background(), func() error {
				mu.Lock()
				running++
				if running > maxSeen {
					maxSeen = running
				}
				mu.Unlock()

				time.Sleep(time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
}

func TestExecutorReturnsErrors(t *testing.T) {
	exec := NewExecutor(1, nil)
	defer exec.Close()

	want := errors.New("failed")
	assert.Equal(t, want, exec.Execute(context.Background(), func() error { return want }))

	err := exec.Execute(context.Background(), func() error { panic("bad") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
}

func TestExecutorCloseRunsOnStop(t *testing.T) {
	stopped := make(chan struct{})
	exec := NewExecutor(1, func() { close(stopped) })

	require.NoError(t, exec.Execute(context.Background(), func() error { return nil }))
	exec.Close()
	exec.Close()

	select {
	case <-exec.Stopped():
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	select {
	case <-stopped:
	default:
		t.Fatal("onStop did not run")
	}

	assert.True(t, exec.IsClosed())
	assert.ErrorIs(t, exec.Execute(context.Background(), func() error { return nil }), ErrExecutorClosed)
}

func TestExecutorCallerContext(t *testing.T) {
	exec := NewExecutor(1, nil)
	defer exec.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	release := make(chan struct{})
	err := exec.Execute(ctx, func() error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(release)

	assert.NoError(t, exec.Execute(context.Background(), func() error { return nil }))
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(".Lua", func() (Engine, error) { return &fakeEngine{}, nil })

	f, err := r.Factory("lua")
	require.NoError(t, err)
	require.NotNil(t, f)

	_, err = r.Factory(".LUA")
	assert.NoError(t, err)

	_, err = r.Factory("py")
	assert.Error(t, err)
	assert.Equal(t, []string{"lua"}, r.Extensions())
}
