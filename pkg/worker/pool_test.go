package worker_test

import (
	"sync"
	"testing"
	"time"

	"github.com/soycharroup/memoryreel/pkg/worker"
	"github.com/stretchr/testify/require"
)

func Test_WakeupWorkers_SignalDuringTaskIsNotLost(t *testing.T) {
	// The worker is held mid-task while the wakeup is issued; the signal
	// must be buffered and consumed when the worker next sleeps, forcing
	// an immediate re-poll instead of an indefinite sleep.
	polls := make(chan struct{}, 8)
	gate := make(chan struct{})
	var once sync.Once

	pool := worker.NewWorkerPool()
	require.NoError(t, pool.PushWorker(worker.New("test-worker", worker.TaskFunc(func(_ worker.Worker) (bool, error) {
		polls <- struct{}{}
		once.Do(func() { <-gate })
		return false, nil
	}))))

	require.NoError(t, pool.Start())
	t.Cleanup(pool.Close)

	select {
	case <-polls:
	case <-time.After(time.Second):
		t.Fatal("worker never began its first poll")
	}

	require.NoError(t, pool.WakeupWorkers())
	close(gate)

	select {
	case <-polls:
	case <-time.After(time.Second):
		t.Fatal("wakeup issued while the worker was busy was lost")
	}
}

func Test_WakeupWorkers_WakesSleepingWorker(t *testing.T) {
	polls := make(chan struct{}, 8)

	pool := worker.NewWorkerPool()
	require.NoError(t, pool.PushWorker(worker.New("test-worker", worker.TaskFunc(func(_ worker.Worker) (bool, error) {
		polls <- struct{}{}
		return false, nil
	}))))

	require.NoError(t, pool.Start())
	t.Cleanup(pool.Close)

	select {
	case <-polls:
	case <-time.After(time.Second):
		t.Fatal("worker never began its first poll")
	}

	// Drain any immediate re-poll from a startup signal, then confirm a
	// fresh wakeup reaches the sleeping worker.
	time.Sleep(time.Millisecond * 20)
	for len(polls) > 0 {
		<-polls
	}

	require.NoError(t, pool.WakeupWorkers())

	select {
	case <-polls:
	case <-time.After(time.Second):
		t.Fatal("sleeping worker was not woken")
	}
}

func Test_WorkerPool_LifecycleGuards(t *testing.T) {
	pool := worker.NewWorkerPool()
	require.Error(t, pool.WakeupWorkers(), "waking a pool that has not started must fail")

	require.NoError(t, pool.PushWorker(worker.New("test-worker", worker.TaskFunc(func(_ worker.Worker) (bool, error) {
		return false, nil
	}))))
	require.NoError(t, pool.Start())
	require.Error(t, pool.Start(), "a pool cannot be started twice")
	require.Error(t, pool.PushWorker(worker.New("late", nil)), "workers cannot join a running pool")

	pool.Close()
}