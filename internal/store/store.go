package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

// Store is the SQLite-backed index. A single writer connection applies
// batches; a separate reader pool serves queries from the last committed
// WAL snapshot.
type Store struct {
	dir  string
	path string
	opts Options

	writer *sql.DB
	reader *sql.DB

	// reads serves queries straight from the reader pool. Callers needing
	// several reads to agree use Snapshot.
	reads

	// mu serializes writers inside this process. Other processes are kept
	// out by WriterLock.
	mu sync.Mutex

	rebuilt string

	vecMu    sync.Mutex
	vecCache map[vectorKey]*VectorIndex
}

// Exists reports whether dir holds an index database.
func Exists(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, DBFileName))
	return err == nil && info.Size() > 0
}

// Open opens or creates the index in dir. An index with a foreign schema
// version, or one failing SQLite's integrity check, is deleted and
// recreated empty; Rebuilt reports why.
func Open(dir string, opts Options) (*Store, error) {
	if opts.Weights == (FieldWeights{}) {
		opts.Weights = DefaultFieldWeights()
	}
	if opts.ReadConns <= 0 {
		opts.ReadConns = DefaultOptions().ReadConns
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cerrors.IOError(dir, err)
	}

	path := filepath.Join(dir, DBFileName)
	reason := checkExisting(path)
	if reason != "" {
		if err := removeDatabase(path); err != nil {
			return nil, cerrors.IOError(path, err)
		}
	}

	s := &Store{
		dir:      dir,
		path:     path,
		opts:     opts,
		rebuilt:  reason,
		vecCache: make(map[vectorKey]*VectorIndex),
	}
	if err := s.open(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) open() error {
	writer, err := sql.Open(DriverName, dsn(s.path))
	if err != nil {
		return cerrors.New(cerrors.ErrCodeCorruptIndex, "failed to open index database", err)
	}
	writer.SetMaxOpenConns(1)
	s.writer = writer

	if _, err := writer.Exec(schemaSQL); err != nil {
		return cerrors.New(cerrors.ErrCodeCorruptIndex, "failed to create index schema", err)
	}
	if _, err := writer.Exec(`INSERT OR IGNORE INTO meta (key, value) VALUES (?, ?), (?, ?)`,
		metaSchemaVersion, strconv.Itoa(SchemaVersion), metaGeneration, "0"); err != nil {
		return cerrors.New(cerrors.ErrCodeCorruptIndex, "failed to initialize index metadata", err)
	}

	reader, err := sql.Open(DriverName, dsn(s.path))
	if err != nil {
		return cerrors.New(cerrors.ErrCodeCorruptIndex, "failed to open index reader", err)
	}
	reader.SetMaxOpenConns(s.opts.ReadConns)
	s.reader = reader
	s.reads = reads{q: reader, weights: s.opts.Weights}
	return nil
}

// checkExisting returns a non-empty reason when the database at path must
// be discarded.
func checkExisting(path string) string {
	if _, err := os.Stat(path); err != nil {
		return ""
	}

	db, err := sql.Open(DriverName, dsn(path))
	if err != nil {
		slog.Warn("index_open_failed", slog.String("path", path), slog.String("error", err.Error()))
		return "unreadable database"
	}
	defer func() { _ = db.Close() }()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil || result != "ok" {
		if err != nil {
			result = err.Error()
		}
		slog.Warn("index_corrupt", slog.String("path", path), slog.String("integrity", result))
		return "integrity check failed"
	}

	found := 0
	var raw string
	if err := db.QueryRow(`SELECT value FROM meta WHERE key = ?`, metaSchemaVersion).Scan(&raw); err == nil {
		found, _ = strconv.Atoi(raw)
	}
	if found != SchemaVersion {
		mismatch := cerrors.SchemaMismatchError(found, SchemaVersion)
		slog.Warn("index_schema_mismatch", cerrors.FormatForLog(mismatch)...)
		return fmt.Sprintf("schema version %d, want %d", found, SchemaVersion)
	}
	return ""
}

func removeDatabase(path string) error {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Rebuilt returns why Open discarded the previous index, or "".
func (s *Store) Rebuilt() string {
	return s.rebuilt
}

// Dir returns the state directory holding the database.
func (s *Store) Dir() string {
	return s.dir
}

// Close checkpoints the WAL and releases both connection pools.
func (s *Store) Close() error {
	var errs []error
	if s.writer != nil {
		if _, err := s.writer.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			slog.Debug("wal_checkpoint_failed", slog.String("error", err.Error()))
		}
		errs = append(errs, s.writer.Close())
		s.writer = nil
	}
	if s.reader != nil {
		errs = append(errs, s.reader.Close())
		s.reader = nil
	}
	return errors.Join(errs...)
}

// Generation returns the last committed generation.
func (r *reads) Generation(ctx context.Context) (int64, error) {
	return readGeneration(ctx, r.q)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func readMeta(ctx context.Context, q queryer, key string) (string, error) {
	var v string
	err := q.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return v, err
}

func readGeneration(ctx context.Context, q queryer) (int64, error) {
	v, err := readMeta(ctx, q, metaGeneration)
	if err != nil {
		return 0, fmt.Errorf("failed to read generation: %w", err)
	}
	if v == "" {
		return 0, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

// bumpGeneration advances the generation inside tx and returns the new value.
func bumpGeneration(ctx context.Context, tx *sql.Tx, runID string) (int64, error) {
	gen, err := readGeneration(ctx, tx)
	if err != nil {
		return 0, err
	}
	gen++
	rows := []any{
		metaGeneration, strconv.FormatInt(gen, 10),
		metaUpdatedAt, strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if runID != "" {
		rows = append(rows, metaRunID, runID)
	}
	for i := 0; i < len(rows); i += 2 {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO meta (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			rows[i], rows[i+1]); err != nil {
			return 0, fmt.Errorf("failed to write %v: %w", rows[i], err)
		}
	}
	return gen, nil
}

// Stats counts rows and reads the index metadata from one snapshot.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = snap.Close() }()

	st := &Stats{Driver: DriverDescription, Languages: make(map[string]int), Generation: snap.gen}
	q := snap.q
	if v, err := readMeta(ctx, q, metaSchemaVersion); err == nil {
		st.SchemaVersion, _ = strconv.Atoi(v)
	}
	if v, err := readMeta(ctx, q, metaRunID); err == nil {
		st.RunID = v
	}
	if v, err := readMeta(ctx, q, metaUpdatedAt); err == nil && v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			st.UpdatedAt = time.UnixMilli(ms)
		}
	}

	counts := []struct {
		query string
		dst   *int
	}{
		{`SELECT COUNT(*) FROM files`, &st.Files},
		{`SELECT COUNT(*) FROM documents`, &st.Documents},
		{`SELECT COUNT(*) FROM symbols`, &st.Symbols},
		{`SELECT COUNT(*) FROM edges`, &st.Edges},
		{`SELECT COUNT(*) FROM embeddings e JOIN symbols s ON s.id = e.symbol_id AND s.fingerprint = e.fingerprint`, &st.Embeddings},
	}
	for _, c := range counts {
		if err := q.QueryRowContext(ctx, c.query).Scan(c.dst); err != nil {
			return nil, fmt.Errorf("failed to count rows: %w", err)
		}
	}

	rows, err := q.QueryContext(ctx, `SELECT language, COUNT(*) FROM files GROUP BY language`)
	if err != nil {
		return nil, fmt.Errorf("failed to count languages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, err
		}
		if lang == "" {
			lang = "text"
		}
		st.Languages[lang] += n
	}

	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}
	return st, rows.Err()
}
