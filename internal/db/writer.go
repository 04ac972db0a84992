package db

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultBufferSize = 1000

// AsyncWriter records audit entries off the request path with a buffered channel
type AsyncWriter struct {
	store  Store
	logger *slog.Logger
	ch     chan *ActionRecord
	wg     sync.WaitGroup
	done   chan struct{}
	once   sync.Once
}

// NewAsyncWriter starts a writer draining into store. logger may be nil.
func NewAsyncWriter(store Store, logger *slog.Logger) *AsyncWriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	w := &AsyncWriter{
		store:  store,
		logger: logger,
		ch:     make(chan *ActionRecord, defaultBufferSize),
		done:   make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// Record queues an entry, filling in its id and time when unset.
// Non-blocking; drops the entry if the buffer is full.
func (w *AsyncWriter) Record(rec *ActionRecord) bool {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	select {
	case w.ch <- rec:
		return true
	default:
		w.logger.Warn("audit buffer full, dropping record", "action", rec.Action, "queue_id", rec.QueueID)
		return false
	}
}

func (w *AsyncWriter) run() {
	defer w.wg.Done()
	for {
		select {
		case rec, ok := <-w.ch:
			if !ok {
				return
			}
			w.insert(rec)
		case <-w.done:
			for {
				select {
				case rec, ok := <-w.ch:
					if !ok {
						return
					}
					w.insert(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *AsyncWriter) insert(rec *ActionRecord) {
	if err := w.store.InsertAction(context.Background(), rec); err != nil {
		w.logger.Warn("audit insert failed", "id", rec.ID, "error", err)
	}
}

// Close gracefully shuts down the writer, draining the buffer. Safe to call
// more than once.
func (w *AsyncWriter) Close() {
	w.once.Do(func() {
		close(w.done)
		w.wg.Wait()
	})
}
