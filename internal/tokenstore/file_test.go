package tokenstore

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "creds", "token")
	f := NewFile(path)

	if _, ok, err := f.Load(); err != nil || ok {
		t.Fatalf("empty slot: ok=%v err=%v", ok, err)
	}

	if err := f.Save("svt_abc123"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	token, ok, err := f.Load()
	if err != nil || !ok {
		t.Fatalf("Load: ok=%v err=%v", ok, err)
	}
	if token != "svt_abc123" {
		t.Errorf("token = %q", token)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		if err != nil {
			t.Fatal(err)
		}
		if perm := info.Mode().Perm(); perm != 0o600 {
			t.Errorf("token file mode = %o, want 600", perm)
		}
	}

	if err := f.Remove(); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if _, ok, _ := f.Load(); ok {
		t.Error("slot should be empty after Remove")
	}
	// Removing an empty slot is fine.
	if err := f.Remove(); err != nil {
		t.Errorf("second Remove: %v", err)
	}
}

func TestFileLastWriterWins(t *testing.T) {
	f := NewFile(filepath.Join(t.TempDir(), "token"))
	if err := f.Save("first"); err != nil {
		t.Fatal(err)
	}
	if err := f.Save("second"); err != nil {
		t.Fatal(err)
	}
	token, _, _ := f.Load()
	if token != "second" {
		t.Errorf("token = %q, want the last write", token)
	}
}
