package storage

import (
	"errors"
	"sync"

	"poolEngine/internal/model"
)

var ErrSinkClosed = errors.New("sink closed")

// maxMerged caps how many records one write to the wrapped sink carries.
const maxMerged = 500

// AsyncSink queues records for a single background writer. Records reach the
// wrapped sink in submission order. PutOperations blocks only when the queue
// is full.
type AsyncSink struct {
	sink    Sink
	onError func(records []model.OperationRecord, err error)
	queue   chan []model.OperationRecord
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewAsyncSink starts the writer. onError receives every batch the wrapped
// sink rejected; nil drops them.
func NewAsyncSink(sink Sink, buffer int, onError func(records []model.OperationRecord, err error)) *AsyncSink {
	if buffer <= 0 {
		buffer = 1
	}
	a := &AsyncSink{
		sink:    sink,
		onError: onError,
		queue:   make(chan []model.OperationRecord, buffer),
		done:    make(chan struct{}),
	}
	go a.loop()
	return a
}

// PutOperations copies records onto the queue.
func (a *AsyncSink) PutOperations(records []model.OperationRecord) error {
	if len(records) == 0 {
		return nil
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return ErrSinkClosed
	}
	a.queue <- append([]model.OperationRecord(nil), records...)
	return nil
}

// Close stops accepting records and waits until the queue is drained.
func (a *AsyncSink) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.queue)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}

func (a *AsyncSink) loop() {
	defer close(a.done)
	for batch := range a.queue {
		batch = a.merge(batch)
		if err := a.sink.PutOperations(batch); err != nil && a.onError != nil {
			a.onError(batch, err)
		}
	}
}

// merge appends whatever is already queued, up to maxMerged records.
func (a *AsyncSink) merge(batch []model.OperationRecord) []model.OperationRecord {
	for len(batch) < maxMerged {
		select {
		case next, ok := <-a.queue:
			if !ok {
				return batch
			}
			batch = append(batch, next...)
		default:
			return batch
		}
	}
	return batch
}
