package store

import (
	"context"
	"database/sql"
	"fmt"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

// dbtx is the read surface shared by the reader pool and a read
// transaction.
type dbtx interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// reads holds every query method. Store embeds one bound to the reader
// pool; Snapshot embeds one bound to a read transaction.
type reads struct {
	q       dbtx
	weights FieldWeights
}

// Snapshot is a read-only view of one committed generation. Every read
// through it sees the same rows, whatever the writer commits meanwhile.
// A Snapshot holds one reader connection until Close.
type Snapshot struct {
	reads
	store *Store
	tx    *sql.Tx
	gen   int64
}

// Snapshot starts a read transaction and pins it to the current generation.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	if s.reader == nil {
		return nil, cerrors.New(cerrors.ErrCodeCorruptIndex, "index is closed", nil)
	}
	tx, err := s.reader.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read snapshot: %w", err)
	}
	// The WAL read mark is taken on the first statement, so reading the
	// generation here fixes the view.
	gen, err := readGeneration(ctx, tx)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}
	return &Snapshot{
		reads: reads{q: tx, weights: s.opts.Weights},
		store: s,
		tx:    tx,
		gen:   gen,
	}, nil
}

// Gen returns the generation the snapshot is pinned to.
func (sn *Snapshot) Gen() int64 {
	return sn.gen
}

// Close releases the snapshot's connection. It is safe to call twice.
func (sn *Snapshot) Close() error {
	if sn == nil || sn.tx == nil {
		return nil
	}
	err := sn.tx.Rollback()
	sn.tx = nil
	if err == sql.ErrTxDone {
		return nil
	}
	return err
}
