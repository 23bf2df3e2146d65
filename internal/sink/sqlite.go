package sink

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// SQLiteSink stores each collection as a table of (id, JSON document) rows
// and builds indexes on json_extract expressions.
type SQLiteSink struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens (or creates) a SQLite database at path.
func OpenSQLite(path string) (*SQLiteSink, error) {
	if path == "" {
		return nil, errors.New("sqlite: path is required")
	}
	if !strings.HasPrefix(path, "file:") {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("sqlite: resolve path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
			return nil, fmt.Errorf("sqlite: create directory: %w", err)
		}
		path = abs
	}

	connStr := path + "?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=temp_store(MEMORY)"
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// A single writer keeps batches serialized.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping %s: %w", path, err)
	}
	return &SQLiteSink{db: db, path: path}, nil
}

func quoteIdent(name string) string {
	return `"` + name + `"`
}

func (s *SQLiteSink) ReplaceCollection(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+quoteIdent(name)); err != nil {
		return fmt.Errorf("sqlite: drop %s: %w", name, err)
	}
	create := "CREATE TABLE " + quoteIdent(name) + " (id TEXT PRIMARY KEY, doc TEXT NOT NULL)"
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return fmt.Errorf("sqlite: create %s: %w", name, err)
	}
	return tx.Commit()
}

func (s *SQLiteSink) InsertMany(ctx context.Context, name string, docs []Document) error {
	if err := checkName(name); err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO "+quoteIdent(name)+" (id, doc) VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("sqlite: prepare insert into %s: %w", name, err)
	}
	defer stmt.Close()

	for _, d := range docs {
		b, err := json.Marshal(d)
		if err != nil {
			return fmt.Errorf("sqlite: marshal %s: %w", d.DocumentID(), err)
		}
		if _, err := stmt.ExecContext(ctx, d.DocumentID(), string(b)); err != nil {
			return fmt.Errorf("sqlite: insert %s into %s: %w", d.DocumentID(), name, err)
		}
	}
	return tx.Commit()
}

func (s *SQLiteSink) CreateIndex(ctx context.Context, name string, idx Index) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := checkIndex(idx); err != nil {
		return err
	}

	exprs := make([]string, 0, len(idx.Fields))
	for _, f := range idx.Fields {
		e := "json_extract(doc, '$." + f.Path + "')"
		if f.Desc {
			e += " DESC"
		}
		exprs = append(exprs, e)
	}
	stmt := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quoteIdent(name+"_"+idx.Name), quoteIdent(name), strings.Join(exprs, ", "))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("sqlite: create index %s on %s: %w", idx.Name, name, err)
	}
	return nil
}

func (s *SQLiteSink) Count(ctx context.Context, name string) (int64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quoteIdent(name)).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: count %s: %w", name, err)
	}
	return n, nil
}

func (s *SQLiteSink) Get(ctx context.Context, name, id string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	var doc string
	err := s.db.QueryRowContext(ctx, "SELECT doc FROM "+quoteIdent(name)+" WHERE id = ?", id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get %s/%s: %w", name, id, err)
	}
	return []byte(doc), nil
}

// Indexes lists the index names on a collection table.
func (s *SQLiteSink) Indexes(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = ? AND sql IS NOT NULL ORDER BY name", name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// Path returns the database file path.
func (s *SQLiteSink) Path() string { return s.path }

func (s *SQLiteSink) Close() error { return s.db.Close() }
