package trust

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/orbisys/warden/ecode"
	"github.com/orbisys/warden/security/hasher"
)

func testEntry(content, version string) Entry {
	return Entry{
		ContentHash:     hasher.Bytes([]byte(content)),
		DeclaredVersion: version,
		Signature:       strings.Repeat("ab", 64),
		AddedAt:         time.Now().UTC(),
	}
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "absent.sealed"), "pw")
	if err != nil {
		t.Fatalf("Load() error = %v, want nil for missing file", err)
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.sealed")
	s, err := Load(path, "pw")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	e1 := testEntry("plugin-a", "1.0.0")
	e2 := testEntry("plugin-b", "2.1.0")
	if err := s.Add(e1); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Add(e2); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	reloaded, err := Load(path, "pw")
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("reloaded Len() = %d, want 2", reloaded.Len())
	}
	got, ok := reloaded.Find(e1.ContentHash)
	if !ok {
		t.Fatal("entry for plugin-a not found after reload")
	}
	if got.DeclaredVersion != "1.0.0" {
		t.Errorf("DeclaredVersion = %s, want 1.0.0", got.DeclaredVersion)
	}
}

func TestLoadWrongPassphraseFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.sealed")
	s, _ := Load(path, "right")
	if err := s.Add(testEntry("plugin-a", "1.0.0")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	opened, err := Load(path, "wrong")
	if !ecode.IsSealed(err) {
		t.Errorf("Load() error = %v, want ErrSealed", err)
	}
	if opened == nil {
		t.Fatal("Load() returned nil store")
	}
	if opened.Len() != 0 {
		t.Errorf("wrong passphrase yielded %d trusted entries, want 0", opened.Len())
	}
}

func TestLoadCorruptBlobFailsClosed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.sealed")
	if err := os.WriteFile(path, []byte("not a sealed blob"), 0o600); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	opened, err := Load(path, "pw")
	if !ecode.IsSealed(err) {
		t.Errorf("Load() error = %v, want ErrSealed", err)
	}
	if opened.Len() != 0 {
		t.Errorf("corrupt blob yielded %d trusted entries, want 0", opened.Len())
	}
}

func TestStoreFileIsSealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.sealed")
	s, _ := Load(path, "pw")
	e := testEntry("plugin-a", "1.0.0")
	if err := s.Add(e); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sealed file: %v", err)
	}
	if strings.Contains(string(raw), e.ContentHash) {
		t.Error("sealed file contains a plaintext content hash")
	}
	if strings.Contains(string(raw), "declared_version") {
		t.Error("sealed file contains plaintext JSON keys")
	}
}

func TestSaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, _ := Load(filepath.Join(dir, "store.sealed"), "pw")
	if err := s.Add(testEntry("plugin-a", "1.0.0")); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := s.Save(); err != nil {
		t.Fatalf("second Save() error = %v", err)
	}

	names, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, de := range names {
		if strings.HasPrefix(de.Name(), ".trust-") {
			t.Errorf("leftover temp file %s", de.Name())
		}
	}
	if len(names) != 1 {
		t.Errorf("dir has %d files, want 1", len(names))
	}
}

func TestAddValidation(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "s.sealed"), "pw")
	valid := testEntry("plugin-a", "1.0.0")

	tests := []struct {
		name   string
		mutate func(Entry) Entry
	}{
		{"bad hash", func(e Entry) Entry { e.ContentHash = "zzz"; return e }},
		{"no version", func(e Entry) Entry { e.DeclaredVersion = ""; return e }},
		{"no signature", func(e Entry) Entry { e.Signature = ""; return e }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Add(tt.mutate(valid)); err == nil {
				t.Error("Add() expected error")
			}
		})
	}
}

func TestAddReplacesAndRemove(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "s.sealed"), "pw")
	e := testEntry("plugin-a", "1.0.0")
	if err := s.Add(e); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	e.DeclaredVersion = "1.1.0"
	if err := s.Add(e); err != nil {
		t.Fatalf("Add() replace error = %v", err)
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after replace", s.Len())
	}
	got, _ := s.Find(e.ContentHash)
	if got.DeclaredVersion != "1.1.0" {
		t.Errorf("DeclaredVersion = %s, want 1.1.0", got.DeclaredVersion)
	}

	if !s.Remove(e.ContentHash) {
		t.Error("Remove() = false, want true")
	}
	if s.Remove(e.ContentHash) {
		t.Error("Remove() of absent entry = true, want false")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}
}

func TestEntriesSortedCopy(t *testing.T) {
	s, _ := Load(filepath.Join(t.TempDir(), "s.sealed"), "pw")
	for _, c := range []string{"c", "a", "b"} {
		if err := s.Add(testEntry(c, "1.0.0")); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
	}
	entries := s.Entries()
	if len(entries) != 3 {
		t.Fatalf("Entries() len = %d, want 3", len(entries))
	}
	for i := 1; i < len(entries); i++ {
		if entries[i-1].ContentHash >= entries[i].ContentHash {
			t.Error("Entries() not sorted by content hash")
		}
	}
}
