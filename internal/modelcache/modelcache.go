// Package modelcache persists discovered workflow definitions (name,
// model ID, default flow config) keyed by instance URL, with a
// TTL-bounded in-memory layer in front of the SQLite-backed store.
package modelcache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Definition describes one workflow definition a given Service instance
// advertises.
type Definition struct {
	Name          string `json:"name"`
	ModelID       string `json:"modelId"`
	DefaultConfig string `json:"defaultConfig"`
}

// DefaultTTL bounds how long a Get result is served from the in-memory
// layer before the store is consulted again.
const DefaultTTL = 5 * time.Minute

// Cache is a TTL-bounded, SQLite-backed cache of per-instance workflow
// definitions.
type Cache struct {
	db  *sql.DB
	ttl time.Duration

	mu        sync.RWMutex
	memory    map[string][]Definition
	cachedAt  map[string]time.Time
}

// Open creates or opens a SQLite database at dbPath for the cache. If the
// database cannot be opened, Open falls back to an in-memory-only cache:
// entries stored by Put are still served within the TTL, and every other
// Get is a miss.
func Open(dbPath string) *Cache {
	c := &Cache{
		ttl:      DefaultTTL,
		memory:   map[string][]Definition{},
		cachedAt: map[string]time.Time{},
	}

	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return c
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return c
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_definitions (
			instance_url TEXT PRIMARY KEY,
			definitions  TEXT NOT NULL,
			updated_at   TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return c
	}
	c.db = db
	return c
}

// Close releases the underlying database handle, if any.
func (c *Cache) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Get returns the workflow definitions known for instanceURL. If the
// in-memory layer holds a fresh (within TTL) entry it is returned
// directly; otherwise the SQLite store is consulted and the in-memory
// layer refreshed.
func (c *Cache) Get(instanceURL string) ([]Definition, bool) {
	c.mu.RLock()
	if defs, ok := c.memory[instanceURL]; ok && time.Since(c.cachedAt[instanceURL]) < c.ttl {
		c.mu.RUnlock()
		return defs, true
	}
	c.mu.RUnlock()

	if c.db == nil {
		return nil, false
	}

	var raw string
	err := c.db.QueryRow("SELECT definitions FROM workflow_definitions WHERE instance_url = ?", instanceURL).Scan(&raw)
	if err != nil {
		return nil, false
	}

	var defs []Definition
	if err := json.Unmarshal([]byte(raw), &defs); err != nil {
		return nil, false
	}

	c.mu.Lock()
	c.memory[instanceURL] = defs
	c.cachedAt[instanceURL] = time.Now()
	c.mu.Unlock()

	return defs, true
}

// Put stores the workflow definitions discovered for instanceURL,
// refreshing both the in-memory layer and the persistent store.
func (c *Cache) Put(instanceURL string, defs []Definition) error {
	c.mu.Lock()
	c.memory[instanceURL] = defs
	c.cachedAt[instanceURL] = time.Now()
	c.mu.Unlock()

	if c.db == nil {
		return nil
	}

	raw, err := json.Marshal(defs)
	if err != nil {
		return err
	}
	_, err = c.db.Exec(
		"INSERT OR REPLACE INTO workflow_definitions (instance_url, definitions, updated_at) VALUES (?, ?, ?)",
		instanceURL, string(raw), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}
