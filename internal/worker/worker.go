// Package worker runs a fixed set of goroutines and joins them.
package worker

import "sync"

// Worker is a unit of work run on its own goroutine.
type Worker interface {
	// Run is a blocking method that returns when its input is exhausted or stopC is closed.
	Run(stopC <-chan struct{})
}

// Workers tracks started workers. The zero value is ready to use.
type Workers struct {
	stopC    chan struct{}
	stopOnce sync.Once
	initOnce sync.Once
	wg       sync.WaitGroup
}

func (w *Workers) init() {
	w.initOnce.Do(func() { w.stopC = make(chan struct{}) })
}

// Start runs r on a new goroutine.
func (w *Workers) Start(r Worker) {
	w.init()
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		r.Run(w.stopC)
	}()
}

// Done returns a channel that is closed after every started worker has returned.
func (w *Workers) Done() <-chan struct{} {
	doneC := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneC)
	}()
	return doneC
}

// Stop signals all workers to return and waits for them.
func (w *Workers) Stop() {
	w.init()
	w.stopOnce.Do(func() { close(w.stopC) })
	w.wg.Wait()
}
