package worker

import "github.com/soycharroup/memoryreel/pkg/logger"

var log = logger.Get("Worker")

type WakeupChan chan int

type Status int

const (
	Sleeping Status = iota
	Working
	Finished
)

// Task is the unit of work executed by a worker. Implementations should
// return 'true' from Execute if work was performed (the worker will
// immediately poll again), and 'false' if there was nothing to do (the
// worker will go back to sleep until woken).
type Task interface {
	Execute(Worker) (bool, error)
}

// TaskFunc adapts a plain function (typically a service method) to the
// Task interface.
type TaskFunc func(Worker) (bool, error)

func (f TaskFunc) Execute(w Worker) (bool, error) { return f(w) }

type Worker interface {
	Start()
	Status() Status
	WakeupChan() WakeupChan
	Label() string
	Sleep() bool
	Close()
}

type taskWorker struct {
	label         string
	task          Task
	wakeupChan    WakeupChan
	currentStatus Status
}

func New(label string, task Task) *taskWorker {
	return &taskWorker{
		label: label,
		task:  task,
		// The wakeup channel holds one pending signal so that a wakeup
		// issued while the worker is mid-task (or between failing to find
		// work and going to sleep) is consumed on the next Sleep rather
		// than lost.
		wakeupChan:    make(WakeupChan, 1),
		currentStatus: Sleeping,
	}
}

// Start runs the workers main loop; the task is executed repeatedly until
// it reports no work remaining, at which point the worker sleeps until
// woken (or until its wakeup channel is closed, which stops the worker).
func (worker *taskWorker) Start() {
	log.Emit(logger.NEW, "Starting worker %s\n", worker.label)
	worker.currentStatus = Working

	for {
		busy, err := worker.task.Execute(worker)
		if err != nil {
			log.Emit(logger.ERROR, "Worker %s reported an error(%T): %v\n", worker.label, err, err)
		}

		if busy {
			continue
		}

		if !worker.Sleep() {
			return
		}
	}
}

func (worker *taskWorker) Status() Status { return worker.currentStatus }

func (worker *taskWorker) WakeupChan() WakeupChan { return worker.wakeupChan }

func (worker *taskWorker) Label() string { return worker.label }

// Close closes the Worker by closing the WakeupChan. Note that this does
// not interrupt a currently executing task.
func (worker *taskWorker) Close() {
	close(worker.wakeupChan)
}

// Sleep puts a worker to sleep until its wakeupChan is signalled from
// another goroutine. Returns a boolean that is 'false' if the wakeup
// channel was closed - indicating the worker should quit.
func (worker *taskWorker) Sleep() (isAlive bool) {
	worker.currentStatus = Sleeping

	if _, isAlive = <-worker.wakeupChan; isAlive {
		worker.currentStatus = Working
	} else {
		log.Emit(logger.STOP, "Wakeup channel for worker '%s' has been closed - worker is exiting\n", worker.label)
		worker.currentStatus = Finished
	}

	return isAlive
}
