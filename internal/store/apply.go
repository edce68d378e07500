package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

// Apply commits a batch as a single transaction and returns the resulting
// generation. Files whose fingerprint matches the stored one are skipped
// unless b.Force is set; a batch that changes nothing leaves the generation
// where it was.
func (s *Store) Apply(ctx context.Context, b Batch) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return 0, cerrors.New(cerrors.ErrCodeIndexFailed, "failed to begin batch", err)
	}
	defer func() { _ = tx.Rollback() }()

	changed := 0
	for _, fu := range b.Files {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		ok, err := applyFile(ctx, tx, fu, b.Force)
		if err != nil {
			return 0, cerrors.New(cerrors.ErrCodeIndexFailed, "failed to store "+fu.File.Path, err)
		}
		if ok {
			changed++
		}
	}
	for _, path := range b.Removals {
		ok, err := removeFile(ctx, tx, path)
		if err != nil {
			return 0, cerrors.New(cerrors.ErrCodeIndexFailed, "failed to remove "+path, err)
		}
		if ok {
			changed++
		}
	}

	if changed == 0 {
		return readGeneration(ctx, tx)
	}

	// Embeddings for symbols that no longer exist anywhere are unreachable.
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM embeddings WHERE symbol_id NOT IN (SELECT id FROM symbols)`); err != nil {
		return 0, cerrors.New(cerrors.ErrCodeIndexFailed, "failed to prune embeddings", err)
	}

	gen, err := bumpGeneration(ctx, tx, b.RunID)
	if err != nil {
		return 0, cerrors.New(cerrors.ErrCodeIndexFailed, "failed to advance generation", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, cerrors.New(cerrors.ErrCodeIndexFailed, "failed to commit batch", err)
	}
	s.invalidateVectors()

	slog.Debug("batch_applied",
		slog.Int64("generation", gen),
		slog.Int("changed", changed),
		slog.Int("files", len(b.Files)),
		slog.Int("removals", len(b.Removals)),
		slog.String("run_id", b.RunID))
	return gen, nil
}

// Remove drops every row for path in its own batch.
func (s *Store) Remove(ctx context.Context, path string) (int64, error) {
	return s.Apply(ctx, Batch{Removals: []string{path}})
}

func applyFile(ctx context.Context, tx *sql.Tx, fu FileUpdate, force bool) (bool, error) {
	f := fu.File
	var stored string
	err := tx.QueryRowContext(ctx, `SELECT fingerprint FROM files WHERE path = ?`, f.Path).Scan(&stored)
	switch {
	case err == nil:
		if stored == f.Fingerprint && !force {
			return false, nil
		}
	case !errors.Is(err, sql.ErrNoRows):
		return false, err
	}

	if err := deleteFileRows(ctx, tx, f.Path); err != nil {
		return false, err
	}

	indexedAt := f.IndexedAt
	if indexedAt.IsZero() {
		indexedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO files (path, fingerprint, size, language, indexed_at, truncated) VALUES (?, ?, ?, ?, ?, ?)`,
		f.Path, f.Fingerprint, f.Size, f.Language, indexedAt.UnixMilli(), boolInt(f.Truncated)); err != nil {
		return false, fmt.Errorf("insert file: %w", err)
	}

	names := make(map[string][]string, len(fu.Documents))
	symbolDoc := make(map[string]string, len(fu.Symbols))
	for _, sym := range fu.Symbols {
		docID := documentFor(fu.Documents, sym.StartByte)
		symbolDoc[sym.ID] = docID
		names[docID] = append(names[docID], sym.Name)
	}

	if err := insertDocuments(ctx, tx, fu.Documents, names); err != nil {
		return false, err
	}
	if err := insertSymbols(ctx, tx, fu, symbolDoc); err != nil {
		return false, err
	}
	if err := insertEdges(ctx, tx, fu); err != nil {
		return false, err
	}
	return true, nil
}

func insertDocuments(ctx context.Context, tx *sql.Tx, docs []Document, names map[string][]string) error {
	if len(docs) == 0 {
		return nil
	}
	docStmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO documents (id, path, ordinal, start_byte, end_byte, start_line, end_line, content)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare documents: %w", err)
	}
	defer func() { _ = docStmt.Close() }()

	ftsStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO documents_fts (doc_id, path_tokens, name_tokens, content_tokens) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare fts: %w", err)
	}
	defer func() { _ = ftsStmt.Close() }()

	for _, d := range docs {
		if _, err := docStmt.ExecContext(ctx,
			d.ID, d.Path, d.Ordinal, d.StartByte, d.EndByte, d.StartLine, d.EndLine, d.Content); err != nil {
			return fmt.Errorf("insert document %s: %w", d.ID, err)
		}
		if _, err := ftsStmt.ExecContext(ctx,
			d.ID, tokenText(d.Path), tokenText(strings.Join(names[d.ID], " ")), tokenText(d.IndexText())); err != nil {
			return fmt.Errorf("index document %s: %w", d.ID, err)
		}
	}
	return nil
}

func insertSymbols(ctx context.Context, tx *sql.Tx, fu FileUpdate, symbolDoc map[string]string) error {
	if len(fu.Symbols) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR REPLACE INTO symbols
		 (id, parent_id, name, kind, path, language, start_byte, end_byte, start_line, end_line, preview, fingerprint, doc_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare symbols: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, sym := range fu.Symbols {
		if _, err := stmt.ExecContext(ctx,
			sym.ID, sym.ParentID, sym.Name, string(sym.Kind), fu.File.Path, sym.Language,
			sym.StartByte, sym.EndByte, sym.StartLine, sym.EndLine, sym.Preview, sym.Fingerprint,
			symbolDoc[sym.ID]); err != nil {
			return fmt.Errorf("insert symbol %s: %w", sym.Name, err)
		}
	}
	return nil
}

func insertEdges(ctx context.Context, tx *sql.Tx, fu FileUpdate) error {
	if len(fu.Edges) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO edges (source_id, target_name, target_id, kind, path, line, col) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edges: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, e := range fu.Edges {
		if _, err := stmt.ExecContext(ctx,
			e.SourceID, e.TargetName, e.TargetID, string(e.Kind), fu.File.Path, e.Line, e.Column); err != nil {
			return fmt.Errorf("insert edge %s: %w", e.TargetName, err)
		}
	}
	return nil
}

func deleteFileRows(ctx context.Context, tx *sql.Tx, path string) error {
	stmts := []string{
		`DELETE FROM documents_fts WHERE doc_id IN (SELECT id FROM documents WHERE path = ?)`,
		`DELETE FROM documents WHERE path = ?`,
		`DELETE FROM symbols WHERE path = ?`,
		`DELETE FROM edges WHERE path = ?`,
	}
	for _, q := range stmts {
		if _, err := tx.ExecContext(ctx, q, path); err != nil {
			return fmt.Errorf("clear %s: %w", path, err)
		}
	}
	return nil
}

func removeFile(ctx context.Context, tx *sql.Tx, path string) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM files WHERE path = ?`, path)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	return true, deleteFileRows(ctx, tx, path)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
