package db

import (
	"context"
	"database/sql"
)

type TxFn func(ctx context.Context, tx *sql.Tx) error

type job struct {
	ctx  context.Context
	fn   TxFn
	ch   chan error
}

// Worker funnels every write transaction through one goroutine so SQLite
// never sees two writers. Callers that give up still get their
// transaction committed or rolled back in full; only the result is lost.
type Worker struct {
	db   *sql.DB
	jobs chan job
	done chan struct{}
}

func NewWorker(db *sql.DB) *Worker {
	w := &Worker{
		db:   db,
		jobs: make(chan job, 256),
		done: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *Worker) Close() {
	close(w.jobs)
	<-w.done
}

func (w *Worker) Do(ctx context.Context, fn TxFn) error {
	ch := make(chan error, 1)
	j := job{ctx: ctx, fn: fn, ch: ch}

	// Enqueue; bail out if the caller's context expires while the buffer is full.
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-ch:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop() {
	defer close(w.done)

	for j := range w.jobs {
		// A job whose caller already left never starts.
		if err := j.ctx.Err(); err != nil {
			j.ch <- err
			continue
		}

		// Once begun, the transaction is detached from caller cancellation.
		ctx := context.WithoutCancel(j.ctx)

		tx, err := w.db.BeginTx(ctx, nil)
		if err != nil {
			j.ch <- err
			continue
		}

		if err := j.fn(ctx, tx); err != nil {
			_ = tx.Rollback()
			j.ch <- err
			continue
		}

		j.ch <- tx.Commit()
	}
}
