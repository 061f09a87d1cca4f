package normalize

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"
	_ "modernc.org/sqlite"
)

// Labels is the classification output for one input text.
type Labels struct {
	Program    string
	University string
}

var foldCaser = cases.Fold()

// CacheKey folds case and collapses whitespace. It is the single key
// derivation for both the read and write paths; using anything else on
// one side silently turns duplicates into cache misses.
func CacheKey(text string) string {
	return strings.Join(strings.Fields(foldCaser.String(text)), " ")
}

// Cache is the durable text→labels memo in front of the classifier.
// Entries are immutable once written: a Put for an existing key keeps
// the stored value.
type Cache struct {
	db *sql.DB
}

const cacheSchema = `
CREATE TABLE IF NOT EXISTS norm_cache (
	key        TEXT PRIMARY KEY,
	program    TEXT,
	university TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// OpenCache opens (or creates) the cache database at path and configures
// WAL mode so concurrent normalize workers can write safely.
func OpenCache(path string) (*Cache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, eris.Wrap(err, "cache: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "cache: exec %s", pragma)
		}
	}
	if _, err := db.Exec(cacheSchema); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "cache: migrate")
	}
	return &Cache{db: db}, nil
}

// Close releases the underlying database handle.
func (c *Cache) Close() error {
	return c.db.Close()
}

// Get looks up previously computed labels for a text. The second return
// is false on a miss.
func (c *Cache) Get(ctx context.Context, text string) (Labels, bool, error) {
	var l Labels
	err := c.db.QueryRowContext(ctx,
		`SELECT program, university FROM norm_cache WHERE key = ?`,
		CacheKey(text),
	).Scan(&l.Program, &l.University)
	if errors.Is(err, sql.ErrNoRows) {
		return Labels{}, false, nil
	}
	if err != nil {
		return Labels{}, false, eris.Wrap(err, "cache: get")
	}
	return l, true, nil
}

// Put stores labels for a text. Existing entries win: cached output is
// treated as immutable during steady-state reads.
func (c *Cache) Put(ctx context.Context, text string, l Labels) error {
	_, err := c.db.ExecContext(ctx,
		`INSERT INTO norm_cache (key, program, university) VALUES (?, ?, ?)
		 ON CONFLICT (key) DO NOTHING`,
		CacheKey(text), l.Program, l.University,
	)
	return eris.Wrap(err, "cache: put")
}

// Len reports the number of cached entries.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM norm_cache`).Scan(&n); err != nil {
		return 0, eris.Wrap(err, "cache: count")
	}
	return n, nil
}
