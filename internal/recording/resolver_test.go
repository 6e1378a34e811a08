package recording

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestResolveExistingRecording(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "2026", "08", "29")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	mp3 := filepath.Join(dir, "q-001-1756450000.1.mp3")
	if err := os.WriteFile(mp3, []byte("id3"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	r := NewResolver(root, nil)
	got := r.Resolve(context.Background(), "/var/spool/asterisk/monitor/2026/08/29/q-001-1756450000.1.wav")
	if got != mp3 {
		t.Fatalf("resolve = %q, want %q", got, mp3)
	}
}

func TestResolveMissingFile(t *testing.T) {
	r := NewResolver(t.TempDir(), nil)
	if got := r.Resolve(context.Background(), "/var/spool/asterisk/monitor/2026/08/29/a.wav"); got != "" {
		t.Fatalf("missing mp3 must resolve empty, got %q", got)
	}
}

func TestResolveNonDatePath(t *testing.T) {
	r := NewResolver(t.TempDir(), nil)
	if got := r.Resolve(context.Background(), "/tmp/a.wav"); got != "" {
		t.Fatalf("non-date path must resolve empty, got %q", got)
	}
}

func TestResolveEmptyInputs(t *testing.T) {
	r := NewResolver("", nil)
	if got := r.Resolve(context.Background(), "/var/spool/asterisk/monitor/2026/08/29/a.wav"); got != "" {
		t.Fatalf("disabled resolver must return empty")
	}
	r2 := NewResolver(t.TempDir(), nil)
	if got := r2.Resolve(context.Background(), ""); got != "" {
		t.Fatalf("empty wav must return empty")
	}
}
