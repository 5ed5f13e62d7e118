// Package recall maintains a rebuildable text index over Thought DB content.
// The index is a pure cache: it can be deleted and rebuilt from the logs at
// any time, and nothing in the run loop blocks on its availability.
package recall

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode"

	_ "modernc.org/sqlite"

	"mindloop/internal/logging"
	"mindloop/internal/thoughtdb"
	"mindloop/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id    TEXT PRIMARY KEY,
	kind  TEXT NOT NULL,
	scope TEXT NOT NULL,
	text  TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tokens (
	token   TEXT NOT NULL,
	item_id TEXT NOT NULL,
	PRIMARY KEY (token, item_id)
);
CREATE INDEX IF NOT EXISTS idx_tokens_token ON tokens (token);
`

// Item kinds the index knows about.
const (
	KindClaim = "claim"
	KindNode  = "node"
)

// Index is a token-match index in a local sqlite database.
type Index struct {
	mu   sync.Mutex
	db   *sql.DB
	topK int
}

// OpenIndex opens (or creates) the index database.
func OpenIndex(path string, topKDefault int) (*Index, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("recall: open %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("recall: init schema: %w", err)
	}
	if topKDefault <= 0 {
		topKDefault = 12
	}
	return &Index{db: db, topK: topKDefault}, nil
}

// Close releases the database handle.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.db.Close()
}

// Ingest indexes (or re-indexes) one item.
func (ix *Index) Ingest(id, kind, scope, text string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`INSERT INTO items (id, kind, scope, text) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET kind=excluded.kind, scope=excluded.scope, text=excluded.text`,
		id, kind, scope, text); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM tokens WHERE item_id = ?`, id); err != nil {
		return err
	}
	for _, tok := range Tokenize(text) {
		if _, err := tx.Exec(`INSERT OR IGNORE INTO tokens (token, item_id) VALUES (?, ?)`, tok, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Remove drops one item from the index.
func (ix *Index) Remove(id string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, err := ix.db.Exec(`DELETE FROM tokens WHERE item_id = ?`, id); err != nil {
		return err
	}
	_, err := ix.db.Exec(`DELETE FROM items WHERE id = ?`, id)
	return err
}

// Search returns item ids ranked by matched-token count. An empty result is
// normal; errors are logged and reported as empty so callers never block on
// the cache.
func (ix *Index) Search(scope string, kinds []string, query string, topK int) []string {
	if topK <= 0 {
		topK = ix.topK
	}
	tokens := Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	placeholders := strings.Repeat("?,", len(tokens))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(tokens)+len(kinds)+2)
	for _, tok := range tokens {
		args = append(args, tok)
	}
	q := `SELECT t.item_id, COUNT(*) AS hits
		FROM tokens t JOIN items i ON i.id = t.item_id
		WHERE t.token IN (` + placeholders + `)`
	if scope != "" {
		q += ` AND i.scope = ?`
		args = append(args, scope)
	}
	if len(kinds) > 0 {
		kp := strings.Repeat("?,", len(kinds))
		q += ` AND i.kind IN (` + kp[:len(kp)-1] + `)`
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	q += ` GROUP BY t.item_id ORDER BY hits DESC, t.item_id LIMIT ?`
	args = append(args, topK)

	rows, err := ix.db.Query(q, args...)
	if err != nil {
		logging.Get(logging.CategoryRecall).Warnw("search failed", "error", err)
		return nil
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		var hits int
		if rows.Scan(&id, &hits) == nil {
			out = append(out, id)
		}
	}
	return out
}

// RebuildFromStore re-indexes every active claim and node. Used on cold
// start and whenever the watcher reports the logs changed underneath us.
func (ix *Index) RebuildFromStore(store *thoughtdb.Store) error {
	timer := logging.StartTimer(logging.CategoryRecall, "index rebuild")
	defer timer.Stop()

	res := store.Run(thoughtdb.Query{})
	for _, c := range res.Claims {
		if err := ix.Ingest(c.ClaimID, KindClaim, string(c.Scope), c.Text); err != nil {
			return err
		}
	}
	for _, n := range res.Nodes {
		if err := ix.Ingest(n.NodeID, KindNode, string(n.Scope), n.Title+" "+n.Text); err != nil {
			return err
		}
	}
	return nil
}

// SearchFunc adapts the index to the why-tracer's backfill hook.
func (ix *Index) SearchFunc(scope types.Scope) thoughtdb.SearchFunc {
	return func(query string, k int) []string {
		return ix.Search(string(scope), []string{KindClaim}, query, k)
	}
}

// Tokenize splits text into lowercase alphanumeric tokens, dropping one-char
// fragments and duplicates.
func Tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
