package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Aman-CERP/cgrep/internal/symbols"
)

// DefaultTextLimit caps SearchText when TextQuery.Limit is unset.
const DefaultTextLimit = 50

// SearchText ranks documents against query with FTS5 BM25. Path and document
// restrictions are part of the SQL, so excluded documents are never scored.
func (r *reads) SearchText(ctx context.Context, query string, q TextQuery) ([]TextHit, error) {
	expr := matchExpression(query)
	if expr == "" {
		return nil, nil
	}
	if q.Fuzzy {
		var err error
		if expr, err = r.fuzzyExpression(ctx, query); err != nil {
			return nil, err
		}
	}
	if (q.Paths != nil && len(q.Paths) == 0) || (q.DocIDs != nil && len(q.DocIDs) == 0) {
		return nil, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = DefaultTextLimit
	}

	w := r.weights
	var sb strings.Builder
	sb.WriteString(`SELECT documents_fts.doc_id, d.path, d.ordinal, d.start_line, d.end_line,
		bm25(documents_fts, 0.0, ?, ?, ?) AS rank
		FROM documents_fts JOIN documents d ON d.id = documents_fts.doc_id
		WHERE documents_fts MATCH ?`)
	args := []any{w.Path, w.Names, w.Content, expr}
	if q.Paths != nil {
		sb.WriteString(` AND d.path IN (SELECT value FROM json_each(?))`)
		args = append(args, jsonList(q.Paths))
	}
	if q.DocIDs != nil {
		sb.WriteString(` AND d.id IN (SELECT value FROM json_each(?))`)
		args = append(args, jsonList(q.DocIDs))
	}
	sb.WriteString(` ORDER BY rank, d.path, d.ordinal LIMIT ?`)
	args = append(args, limit)

	rows, err := r.q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		// FTS5 rejects some token sequences; treat as no match.
		if strings.Contains(err.Error(), "fts5") {
			slog.Debug("fts_query_rejected", slog.String("query", query), slog.String("error", err.Error()))
			return nil, nil
		}
		return nil, fmt.Errorf("text search failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var hits []TextHit
	for rows.Next() {
		var h TextHit
		var rank float64
		if err := rows.Scan(&h.DocID, &h.Path, &h.Ordinal, &h.StartLine, &h.EndLine, &rank); err != nil {
			return nil, fmt.Errorf("failed to scan text hit: %w", err)
		}
		// FTS5 bm25() is lower-is-better.
		h.Score = -rank
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

func jsonList(items []string) string {
	data, _ := json.Marshal(items)
	return string(data)
}

const symbolColumns = `id, parent_id, name, kind, path, language, start_byte, end_byte,
	start_line, end_line, preview, fingerprint`

func scanSymbol(sc interface{ Scan(...any) error }) (symbols.Symbol, error) {
	var sym symbols.Symbol
	var kind string
	err := sc.Scan(&sym.ID, &sym.ParentID, &sym.Name, &kind, &sym.Path, &sym.Language,
		&sym.StartByte, &sym.EndByte, &sym.StartLine, &sym.EndLine, &sym.Preview, &sym.Fingerprint)
	sym.Kind = symbols.Kind(kind)
	return sym, err
}

func collectSymbols(rows *sql.Rows) ([]symbols.Symbol, error) {
	defer func() { _ = rows.Close() }()
	var out []symbols.Symbol
	for rows.Next() {
		sym, err := scanSymbol(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// Symbols lists symbols matching q, ordered by path then position.
func (r *reads) Symbols(ctx context.Context, q SymbolQuery) ([]symbols.Symbol, error) {
	if q.Paths != nil && len(q.Paths) == 0 {
		return nil, nil
	}

	var where []string
	var args []any
	if q.Name != "" {
		if q.Exact {
			where = append(where, `name = ?`)
			args = append(args, q.Name)
		} else {
			where = append(where, `name LIKE ? ESCAPE '\'`)
			args = append(args, "%"+escapeLike(q.Name)+"%")
		}
	}
	if q.Kind != "" {
		where = append(where, `kind = ?`)
		args = append(args, string(q.Kind))
	}
	if q.Language != "" {
		where = append(where, `language = ?`)
		args = append(args, q.Language)
	}
	if q.Paths != nil {
		where = append(where, `path IN (SELECT value FROM json_each(?))`)
		args = append(args, jsonList(q.Paths))
	}

	query := `SELECT ` + symbolColumns + ` FROM symbols`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY path, start_line, name`
	if q.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, q.Limit)
	}

	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("symbol query failed: %w", err)
	}
	return collectSymbols(rows)
}

// Symbol returns one symbol by ID, or nil.
func (r *reads) Symbol(ctx context.Context, id string) (*symbols.Symbol, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+symbolColumns+` FROM symbols WHERE id = ?`, id)
	sym, err := scanSymbol(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("symbol lookup failed: %w", err)
	}
	return &sym, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

const edgeColumns = `source_id, target_name, target_id, kind, path, line, col`

func (r *reads) queryEdges(ctx context.Context, where string, args ...any) ([]symbols.Edge, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+edgeColumns+` FROM edges WHERE `+where+` ORDER BY path, line, col`, args...)
	if err != nil {
		return nil, fmt.Errorf("edge query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []symbols.Edge
	for rows.Next() {
		var e symbols.Edge
		var kind string
		if err := rows.Scan(&e.SourceID, &e.TargetName, &e.TargetID, &kind, &e.Path, &e.Line, &e.Column); err != nil {
			return nil, fmt.Errorf("failed to scan edge: %w", err)
		}
		e.Kind = symbols.EdgeKind(kind)
		out = append(out, e)
	}
	return out, rows.Err()
}

// EdgesByTarget returns edges naming target, optionally limited to kinds.
func (r *reads) EdgesByTarget(ctx context.Context, name string, kinds ...symbols.EdgeKind) ([]symbols.Edge, error) {
	if len(kinds) == 0 {
		return r.queryEdges(ctx, `target_name = ?`, name)
	}
	ks := make([]string, len(kinds))
	for i, k := range kinds {
		ks[i] = string(k)
	}
	return r.queryEdges(ctx, `target_name = ? AND kind IN (SELECT value FROM json_each(?))`, name, jsonList(ks))
}

// EdgesBySource returns the outgoing edges of a symbol.
func (r *reads) EdgesBySource(ctx context.Context, symbolID string) ([]symbols.Edge, error) {
	return r.queryEdges(ctx, `source_id = ?`, symbolID)
}

// EdgesToSymbol returns edges resolved to a symbol ID.
func (r *reads) EdgesToSymbol(ctx context.Context, symbolID string) ([]symbols.Edge, error) {
	return r.queryEdges(ctx, `target_id = ?`, symbolID)
}

// ImportEdges returns every import edge in the index.
func (r *reads) ImportEdges(ctx context.Context) ([]symbols.Edge, error) {
	return r.queryEdges(ctx, `kind = ?`, string(symbols.EdgeImports))
}

const fileColumns = `path, fingerprint, size, language, indexed_at, truncated`

func scanFile(sc interface{ Scan(...any) error }) (File, error) {
	var f File
	var indexedAt int64
	var truncated int
	err := sc.Scan(&f.Path, &f.Fingerprint, &f.Size, &f.Language, &indexedAt, &truncated)
	f.IndexedAt = time.UnixMilli(indexedAt)
	f.Truncated = truncated != 0
	return f, err
}

// Files lists tracked files by path.
func (r *reads) Files(ctx context.Context) ([]File, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+fileColumns+` FROM files ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("file query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// File returns the tracked row for path, or nil.
func (r *reads) File(ctx context.Context, path string) (*File, error) {
	f, err := scanFile(r.q.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file lookup failed: %w", err)
	}
	return &f, nil
}

const documentColumns = `id, path, ordinal, start_byte, end_byte, start_line, end_line, content`

func scanDocument(sc interface{ Scan(...any) error }) (Document, error) {
	var d Document
	err := sc.Scan(&d.ID, &d.Path, &d.Ordinal, &d.StartByte, &d.EndByte, &d.StartLine, &d.EndLine, &d.Content)
	return d, err
}

// Document returns one document by ID, or nil.
func (r *reads) Document(ctx context.Context, id string) (*Document, error) {
	d, err := scanDocument(r.q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("document lookup failed: %w", err)
	}
	return &d, nil
}

// DocumentsForPath returns a file's documents in ordinal order.
func (r *reads) DocumentsForPath(ctx context.Context, path string) ([]Document, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE path = ? ORDER BY ordinal`, path)
	if err != nil {
		return nil, fmt.Errorf("document query failed: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}
