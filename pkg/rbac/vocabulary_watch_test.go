package rbac

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/halldesk/halldesk/pkg/observability"
)

func TestWatchVocabularyFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "permissions.yaml")
	writeVocab := func(version string) {
		t.Helper()
		content := "version: " + version + "\npermissions:\n  - code: plugins.install\n    category: administration\n"
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("Failed to write vocabulary file: %v", err)
		}
	}
	writeVocab("v1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Vocabulary, 4)
	err := WatchVocabularyFile(ctx, path, observability.NewNopLogger(), func(v *Vocabulary) {
		reloaded <- v
	})
	if err != nil {
		t.Fatalf("WatchVocabularyFile failed: %v", err)
	}

	writeVocab("v2")

	select {
	case vocab := <-reloaded:
		if vocab.Version != "v2" {
			t.Errorf("Expected reloaded version v2, got %s", vocab.Version)
		}
		if !vocab.Has("plugins.install") {
			t.Error("Expected file codes in the reloaded vocabulary")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for vocabulary reload")
	}
}

func TestWatchVocabularyFile_KeepsPreviousOnParseError(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "permissions.yaml")
	if err := os.WriteFile(path, []byte("version: v1\npermissions: []\n"), 0o644); err != nil {
		t.Fatalf("Failed to write vocabulary file: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan *Vocabulary, 4)
	err := WatchVocabularyFile(ctx, path, observability.NewNopLogger(), func(v *Vocabulary) {
		reloaded <- v
	})
	if err != nil {
		t.Fatalf("WatchVocabularyFile failed: %v", err)
	}

	// A broken write must not reach the callback.
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatalf("Failed to write vocabulary file: %v", err)
	}

	select {
	case vocab := <-reloaded:
		t.Errorf("Unexpected reload with version %s from a broken file", vocab.Version)
	case <-time.After(500 * time.Millisecond):
	}
}
