package localfs

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"
)

func TestSaveAndOpenRoundTrip(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := storage.Save(context.Background(), "movies_task-1.json", strings.NewReader(`[{"id":1}]`)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	rc, err := storage.Open(context.Background(), "movies_task-1.json")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer rc.Close()
	got, _ := io.ReadAll(rc)
	if string(got) != `[{"id":1}]` {
		t.Fatalf("unexpected payload %q", got)
	}

	entries, _ := os.ReadDir(storage.basePath)
	if len(entries) != 1 {
		t.Fatalf("expected no temporary files to remain, got %d entries", len(entries))
	}
}

func TestRejectsKeysOutsideBasePath(t *testing.T) {
	storage, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	for _, key := range []string{"", "..", "../escape.json", "nested/key.json"} {
		if err := storage.Save(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Fatalf("expected key %q to be rejected", key)
		}
	}
	if _, err := storage.Open(context.Background(), "missing.json"); err == nil {
		t.Fatalf("expected open of a missing key to fail")
	}
}
