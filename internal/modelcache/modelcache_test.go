package modelcache

import (
	"path/filepath"
	"testing"
	"time"
)

func TestPutGetRoundTrip(t *testing.T) {
	c := Open(filepath.Join(t.TempDir(), "models.db"))
	defer c.Close()

	defs := []Definition{{Name: "software_development", ModelID: "claude-4"}}
	if err := c.Put("https://gitlab.example.com", defs); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok := c.Get("https://gitlab.example.com")
	if !ok || len(got) != 1 || got[0].Name != "software_development" {
		t.Fatalf("got=%+v ok=%v", got, ok)
	}
}

func TestGetMissForUnknownInstance(t *testing.T) {
	c := Open(filepath.Join(t.TempDir(), "models.db"))
	defer c.Close()

	if _, ok := c.Get("https://unknown.example.com"); ok {
		t.Fatal("expected miss")
	}
}

func TestGetServesFromMemoryWithinTTL(t *testing.T) {
	c := Open(filepath.Join(t.TempDir(), "models.db"))
	defer c.Close()
	c.ttl = time.Hour

	_ = c.Put("https://gitlab.example.com", []Definition{{Name: "a"}})
	c.db.Close()
	c.db = nil // store is now unreachable; memory layer must still serve

	got, ok := c.Get("https://gitlab.example.com")
	if !ok || len(got) != 1 {
		t.Fatalf("got=%+v ok=%v", got, ok)
	}
}
