// Package memory provides in-process implementations of the repository ports,
// used by tests and by embedders that do not need durable storage.
package memory

import (
	"context"
	"sync"

	"github.com/garyjia/payment-approval/internal/application/port"
)

// Store holds all in-memory state behind one lock, so WithTransaction gives
// the same all-or-nothing visibility as the sqlite transaction manager.
type Store struct {
	mu sync.Mutex

	definitions map[string]*definitionRow
	instances   map[string]*instanceRow
	audits      []*auditRow
	auditSeq    int64
}

type txState struct {
	undo []func()
}

type contextKey string

const txKey contextKey = "memtx"

// NewStore creates an empty store
func NewStore() *Store {
	return &Store{
		definitions: make(map[string]*definitionRow),
		instances:   make(map[string]*instanceRow),
	}
}

// WithTransaction implements port.TransactionManager. Writes inside fn are
// rolled back if fn returns an error.
func (s *Store) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey).(*txState); ok {
		return fn(ctx)
	}

	tx := &txState{}
	txCtx := context.WithValue(ctx, txKey, tx)

	defer func() {
		if p := recover(); p != nil {
			s.rollback(tx)
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		s.rollback(tx)
		return err
	}
	return nil
}

func (s *Store) rollback(tx *txState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(tx.undo) - 1; i >= 0; i-- {
		tx.undo[i]()
	}
}

// recordUndo registers an undo step; must be called with s.mu held
func recordUndo(ctx context.Context, undo func()) {
	if tx, ok := ctx.Value(txKey).(*txState); ok {
		tx.undo = append(tx.undo, undo)
	}
}

var _ port.TransactionManager = (*Store)(nil)
