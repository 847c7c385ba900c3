package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/darkwatch/internal/model"
)

// ErrDatabaseNotFound is returned by Open when the database file is missing
// and CreateIfNotExists is false.
var ErrDatabaseNotFound = errors.New("database not found")

// PostDB is the SQLite store for extracted posts and quarantine records.
// SQLite supports a single writer, so the pool is limited to one connection
// and every write is serialized by database/sql.
type PostDB struct {
	db     *sql.DB
	dbPath string
}

// Options configures PostDB behavior.
type Options struct {
	// CreateIfNotExists creates the database file and its directory if they
	// do not exist.
	CreateIfNotExists bool

	// EnableWAL enables Write-Ahead Logging.
	EnableWAL bool
}

// DefaultOptions returns the default database options.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens or creates the database at dbPath.
func Open(dbPath string, opts Options) (*PostDB, error) {
	if !opts.CreateIfNotExists {
		if _, err := os.Stat(dbPath); os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrDatabaseNotFound, dbPath)
		} else if err != nil {
			return nil, fmt.Errorf("failed to check database path: %w", err)
		}
	} else if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// mode=rw refuses to create a new file; mode=rwc allows it.
	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		dsn = dbPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	pdb := &PostDB{db: db, dbPath: dbPath}

	if opts.EnableWAL {
		if _, err := db.ExecContext(context.Background(), "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := pdb.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return pdb, nil
}

// Path returns the database file path.
func (p *PostDB) Path() string {
	return p.dbPath
}

// Close closes the database connection.
func (p *PostDB) Close() error {
	return p.db.Close()
}

func (p *PostDB) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dedup_key TEXT NOT NULL UNIQUE,
		forum TEXT NOT NULL,
		thread_title TEXT,
		thread_permalink TEXT,
		author TEXT,
		posted_at TEXT,
		content TEXT,
		permalink TEXT,
		listing_url TEXT,
		missing_fields TEXT,
		fetched_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_posts_forum ON posts(forum);
	CREATE INDEX IF NOT EXISTS idx_posts_thread ON posts(thread_permalink);

	CREATE TABLE IF NOT EXISTS quarantine (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sha256 TEXT NOT NULL,
		stored_path TEXT NOT NULL,
		forum TEXT NOT NULL,
		original_name TEXT,
		stored_name TEXT NOT NULL,
		size INTEGER NOT NULL,
		content_type TEXT,
		source_url TEXT,
		thread_permalink TEXT,
		fetched_at DATETIME NOT NULL,
		UNIQUE(sha256, stored_path)
	);

	CREATE INDEX IF NOT EXISTS idx_quarantine_forum ON quarantine(forum);

	CREATE TABLE IF NOT EXISTS indicators (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		dedup_key TEXT NOT NULL,
		forum TEXT NOT NULL,
		kind TEXT NOT NULL,
		value TEXT NOT NULL,
		UNIQUE(dedup_key, kind, value)
	);

	CREATE INDEX IF NOT EXISTS idx_indicators_value ON indicators(kind, value);
	`
	_, err := p.db.ExecContext(context.Background(), schema)
	return err
}

// InsertPost stores post unless a row with the same dedup key exists. It
// reports whether a row was inserted. When onInserted is not nil it runs
// inside the transaction after the insert, and an error from it rolls the
// insert back; the sink uses this to keep the log and the table in step.
func (p *PostDB) InsertPost(ctx context.Context, post *model.Post, onInserted func() error) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after Commit
	}()

	query := `
	INSERT INTO posts (dedup_key, forum, thread_title, thread_permalink, author, posted_at, content, permalink, listing_url, missing_fields, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(dedup_key) DO NOTHING
	`
	result, err := tx.ExecContext(ctx, query,
		post.DedupKey(),
		post.ForumKey,
		post.ThreadTitle,
		post.ThreadPermalink,
		post.Author,
		post.Timestamp,
		post.Content,
		post.Permalink,
		post.ListingURL,
		strings.Join(post.Missing, ","),
		post.FetchedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert post: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := insertIndicators(ctx, tx, post); err != nil {
		return false, err
	}

	if onInserted != nil {
		if err := onInserted(); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit post: %w", err)
	}
	return true, nil
}

func insertIndicators(ctx context.Context, tx *sql.Tx, post *model.Post) error {
	if len(post.Indicators) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO indicators (dedup_key, forum, kind, value)
	VALUES (?, ?, ?, ?)
	ON CONFLICT(dedup_key, kind, value) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare indicator insert: %w", err)
	}
	defer stmt.Close()

	key := post.DedupKey()
	for _, ind := range post.Indicators {
		if _, err := stmt.ExecContext(ctx, key, post.ForumKey, ind.Kind, ind.Value); err != nil {
			return fmt.Errorf("failed to insert indicator: %w", err)
		}
	}
	return nil
}

// CountPosts returns the number of stored posts for forumKey, or for every
// forum when forumKey is empty.
func (p *PostDB) CountPosts(ctx context.Context, forumKey string) (int, error) {
	query := `SELECT COUNT(*) FROM posts`
	args := make([]any, 0, 1)
	if forumKey != "" {
		query += ` WHERE forum = ?`
		args = append(args, forumKey)
	}

	var count int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

// InsertQuarantineRecord stores rec. A record for the same file at the same
// path is ignored.
func (p *PostDB) InsertQuarantineRecord(ctx context.Context, rec *model.QuarantineRecord) error {
	query := `
	INSERT INTO quarantine (sha256, stored_path, forum, original_name, stored_name, size, content_type, source_url, thread_permalink, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(sha256, stored_path) DO NOTHING
	`
	_, err := p.db.ExecContext(ctx, query,
		rec.SHA256,
		rec.StoredPath,
		rec.ForumKey,
		rec.OriginalName,
		rec.StoredName,
		rec.Size,
		rec.ContentType,
		rec.SourceURL,
		rec.ThreadPermalink,
		rec.FetchedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("failed to insert quarantine record: %w", err)
	}
	return nil
}

// CountQuarantined returns the number of quarantine records for forumKey,
// or for every forum when forumKey is empty.
func (p *PostDB) CountQuarantined(ctx context.Context, forumKey string) (int, error) {
	query := `SELECT COUNT(*) FROM quarantine`
	args := make([]any, 0, 1)
	if forumKey != "" {
		query += ` WHERE forum = ?`
		args = append(args, forumKey)
	}

	var count int
	if err := p.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count quarantine records: %w", err)
	}
	return count, nil
}

// CountIndicators returns the number of stored indicators per kind for
// forumKey, or for every forum when forumKey is empty. A value seen in
// several posts is counted once.
func (p *PostDB) CountIndicators(ctx context.Context, forumKey string) (map[string]int, error) {
	query := `SELECT kind, COUNT(DISTINCT value) FROM indicators`
	args := make([]any, 0, 1)
	if forumKey != "" {
		query += ` WHERE forum = ?`
		args = append(args, forumKey)
	}
	query += ` GROUP BY kind`

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to count indicators: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			kind  string
			count int
		)
		if err := rows.Scan(&kind, &count); err != nil {
			return nil, fmt.Errorf("failed to scan indicator count: %w", err)
		}
		counts[kind] = count
	}
	return counts, rows.Err()
}
