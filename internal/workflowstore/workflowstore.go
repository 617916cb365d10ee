// Package workflowstore persists the mapping from a session key
// (instanceURL, modelID, hostSessionID) to the remote workflow ID the
// Service assigned it, so a Host reconnect can resume the same workflow
// instead of creating a new one.
package workflowstore

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	_ "modernc.org/sqlite"
)

// Key identifies a session for persistence purposes.
type Key struct {
	InstanceURL   string
	ModelID       string
	HostSessionID string
}

func (k Key) string() string {
	return k.InstanceURL + "\x1f" + k.ModelID + "\x1f" + k.HostSessionID
}

// Store maps a Key to a workflow ID. The zero value is not usable; use
// Open.
type Store struct {
	mu sync.RWMutex

	db *sql.DB // nil if running in JSON-file or in-memory-only mode

	jsonPath string         // non-empty if falling back to a JSON file
	mem      map[string]string
}

// Open opens (creating if necessary) a SQLite-backed store at dbPath. If
// SQLite cannot be opened there, it falls back to a JSON file at
// dbPath+".json"; if even that cannot be read or written, the store
// degrades to in-memory-only for the remainder of the process. Open never
// returns an error: persistence is a best-effort convenience, never a
// precondition for the core's operation.
func Open(dbPath string) *Store {
	s := &Store{mem: map[string]string{}}

	db, err := openSQLite(dbPath)
	if err == nil {
		s.db = db
		return s
	}
	slog.Warn("workflowstore: sqlite unavailable, falling back to json file",
		"component", "workflowstore", "path", dbPath, "error", err)

	s.jsonPath = dbPath + ".json"
	if err := s.loadJSON(); err != nil {
		slog.Warn("workflowstore: json fallback unavailable, using in-memory store only",
			"component", "workflowstore", "path", s.jsonPath, "error", err)
		s.jsonPath = ""
	}
	return s
}

func openSQLite(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", fmt.Sprintf("file:%s?cache=shared&mode=rwc&_journal_mode=WAL", dbPath))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS workflow_ids (
			session_key TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL
		)
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create workflow_ids table: %w", err)
	}
	return db, nil
}

// Close releases the underlying database handle, if any.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Get returns the workflow ID associated with key, if any.
func (s *Store) Get(key Key) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db != nil {
		var id string
		err := s.db.QueryRow("SELECT workflow_id FROM workflow_ids WHERE session_key = ?", key.string()).Scan(&id)
		if err == sql.ErrNoRows {
			return "", false
		}
		if err != nil {
			slog.Warn("workflowstore: get failed", "component", "workflowstore", "session", key.HostSessionID, "error", err)
			return "", false
		}
		return id, true
	}

	id, ok := s.mem[key.string()]
	return id, ok
}

// Put records the workflow ID for key.
func (s *Store) Put(key Key, workflowID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.string()
	s.mem[k] = workflowID

	if s.db != nil {
		if _, err := s.db.Exec("INSERT OR REPLACE INTO workflow_ids (session_key, workflow_id) VALUES (?, ?)", k, workflowID); err != nil {
			slog.Warn("workflowstore: put failed", "component", "workflowstore", "session", key.HostSessionID, "error", err)
		}
		return
	}
	if s.jsonPath != "" {
		if err := s.saveJSON(); err != nil {
			slog.Warn("workflowstore: json save failed, continuing in-memory only",
				"component", "workflowstore", "session", key.HostSessionID, "error", err)
			s.jsonPath = ""
		}
	}
}

// Delete removes key's mapping, if any.
func (s *Store) Delete(key Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := key.string()
	delete(s.mem, k)

	if s.db != nil {
		if _, err := s.db.Exec("DELETE FROM workflow_ids WHERE session_key = ?", k); err != nil {
			slog.Warn("workflowstore: delete failed", "component", "workflowstore", "session", key.HostSessionID, "error", err)
		}
		return
	}
	if s.jsonPath != "" {
		if err := s.saveJSON(); err != nil {
			slog.Warn("workflowstore: json save failed, continuing in-memory only",
				"component", "workflowstore", "session", key.HostSessionID, "error", err)
			s.jsonPath = ""
		}
	}
}

func (s *Store) loadJSON() error {
	data, err := os.ReadFile(s.jsonPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("corrupt json, starting empty: %w", err)
	}
	s.mem = m
	return nil
}

func (s *Store) saveJSON() error {
	data, err := json.Marshal(s.mem)
	if err != nil {
		return err
	}
	return os.WriteFile(s.jsonPath, data, 0o600)
}
