package worker

import (
	"sync"

	"github.com/pingcap-incubator/tinykcv/log"
)

type TaskStop struct{}

type Task interface{}

// Worker runs tasks one at a time on a dedicated goroutine.
type Worker struct {
	name     string
	sender   chan<- Task
	receiver <-chan Task
	wg       *sync.WaitGroup
	stopOnce sync.Once
}

type TaskHandler interface {
	Handle(t Task)
}

type Starter interface {
	Start()
}

func (w *Worker) Start(handler TaskHandler) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if s, ok := handler.(Starter); ok {
			s.Start()
		}
		for {
			task := <-w.receiver
			if _, ok := task.(TaskStop); ok {
				log.Debugf("worker %s stopped", w.name)
				return
			}
			handler.Handle(task)
		}
	}()
}

func (w *Worker) Sender() chan<- Task {
	return w.sender
}

// TrySend queues t unless the queue is full.
func (w *Worker) TrySend(t Task) bool {
	select {
	case w.sender <- t:
		return true
	default:
		return false
	}
}

// Stop asks the worker to exit after the tasks already queued. Calling it again is a no-op.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.sender <- TaskStop{}
	})
}

func (w *Worker) Name() string {
	return w.name
}

func NewWorkerWithCapacity(name string, wg *sync.WaitGroup, capacity int) *Worker {
	ch := make(chan Task, capacity)
	return &Worker{
		sender:   (chan<- Task)(ch),
		receiver: (<-chan Task)(ch),
		name:     name,
		wg:       wg,
	}
}
