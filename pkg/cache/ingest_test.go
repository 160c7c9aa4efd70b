package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wevtflow/wevtflow/pkg/testing/generators"
)

func writePE(t *testing.T, path string, blobs ...[]byte) {
	t.Helper()
	if err := os.WriteFile(path, generators.BuildPE(blobs), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestAddDLL(t *testing.T) {
	dir := t.TempDir()
	dll := filepath.Join(dir, "provider.dll")
	writePE(t, dll, manifestBlob(providerGUID, templateGUID))

	c := New()
	n, err := c.AddDLL(dll)
	if err != nil {
		t.Fatalf("AddDLL: %v", err)
	}
	if n != 1 {
		t.Errorf("AddDLL = %d templates, want 1", n)
	}
	if _, err := c.Resolve(providerGUID, 4624, 2); err != nil {
		t.Errorf("Resolve: %v", err)
	}
}

func TestAddDLL_NotPE(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "not-pe.dll")
	if err := os.WriteFile(bad, []byte("plain text"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := New()
	if _, err := c.AddDLL(bad); err == nil {
		t.Error("expected error for a non-PE file")
	}
}

func TestAddDir(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}

	writePE(t, filepath.Join(dir, "a.dll"), manifestBlob(providerGUID, templateGUID))
	writePE(t, filepath.Join(sub, "b.exe"), manifestBlob(otherTempl, otherTempl))
	writePE(t, filepath.Join(dir, "skipped.txt"), manifestBlob(providerGUID, templateGUID))

	c := New()
	n, err := c.AddDir(dir, true, "")
	if err != nil {
		t.Fatalf("AddDir: %v", err)
	}
	if n != 2 {
		t.Errorf("AddDir = %d templates, want 2", n)
	}
	if len(c.Resources()) != 2 {
		t.Errorf("Resources = %d, want 2 (the .txt file must be skipped)", len(c.Resources()))
	}
}

func TestAddDir_NonRecursive(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "sub")
	if err := os.Mkdir(sub, 0o755); err != nil {
		t.Fatal(err)
	}
	writePE(t, filepath.Join(dir, "a.dll"), manifestBlob(providerGUID, templateGUID))
	writePE(t, filepath.Join(sub, "b.dll"), manifestBlob(otherTempl, otherTempl))

	c := New()
	n, err := c.AddDir(dir, false, "")
	if err != nil {
		t.Fatalf("AddDir: %v", err)
	}
	if n != 1 {
		t.Errorf("AddDir = %d templates, want 1 (subdirectory must be skipped)", n)
	}
}

func TestAddDir_MissingRoot(t *testing.T) {
	c := New()
	n, err := c.AddDir(filepath.Join(t.TempDir(), "does-not-exist"), true, "")
	if err != nil {
		t.Fatalf("AddDir: %v", err)
	}
	if n != 0 {
		t.Errorf("AddDir = %d, want 0", n)
	}
}

func TestCollectInputPaths_Sorted(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"zeta.dll", "alpha.dll", "mid.sys"} {
		writePE(t, filepath.Join(dir, name))
	}

	files, err := CollectInputPaths(dir, false, "dll,sys")
	if err != nil {
		t.Fatalf("CollectInputPaths: %v", err)
	}
	want := []string{
		filepath.Join(dir, "alpha.dll"),
		filepath.Join(dir, "mid.sys"),
		filepath.Join(dir, "zeta.dll"),
	}
	if len(files) != len(want) {
		t.Fatalf("got %d files, want %d", len(files), len(want))
	}
	for i := range want {
		if files[i] != want[i] {
			t.Errorf("file %d = %q, want %q", i, files[i], want[i])
		}
	}
}

func TestCollectInputPaths_SingleFile(t *testing.T) {
	dir := t.TempDir()
	dll := filepath.Join(dir, "one.dll")
	writePE(t, dll)

	files, err := CollectInputPaths(dll, true, "")
	if err != nil {
		t.Fatalf("CollectInputPaths: %v", err)
	}
	if len(files) != 1 || files[0] != dll {
		t.Errorf("files = %v, want [%s]", files, dll)
	}
}

func TestCollectInputPaths_ExtensionFilter(t *testing.T) {
	dir := t.TempDir()
	writePE(t, filepath.Join(dir, "a.DLL"))
	writePE(t, filepath.Join(dir, "b.mui"))
	writePE(t, filepath.Join(dir, "noext"))

	tests := []struct {
		extensions string
		want       int
	}{
		{"", 1}, // defaults: dll matches case-insensitively
		{"dll,mui", 2},
		{".DLL, .mui ", 2}, // dots and whitespace tolerated
		{"sys", 0},
	}
	for _, tt := range tests {
		files, err := CollectInputPaths(dir, false, tt.extensions)
		if err != nil {
			t.Fatalf("CollectInputPaths(%q): %v", tt.extensions, err)
		}
		if len(files) != tt.want {
			t.Errorf("extensions %q: got %d files, want %d", tt.extensions, len(files), tt.want)
		}
	}
}

func TestDumpLoad_RoundTrip(t *testing.T) {
	c := New()
	if _, err := c.Ingest(manifestBlob(providerGUID, templateGUID)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := c.Ingest(manifestBlob(otherTempl, otherTempl)); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	path := filepath.Join(t.TempDir(), "dump.wevtcache")
	if err := c.Dump(path, false); err != nil {
		t.Fatalf("Dump: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.TemplateCount() != c.TemplateCount() || loaded.EventCount() != c.EventCount() {
		t.Errorf("loaded counts (%d, %d) != original (%d, %d)",
			loaded.TemplateCount(), loaded.EventCount(), c.TemplateCount(), c.EventCount())
	}

	guid, err := loaded.Resolve(providerGUID, 4624, 2)
	if err != nil {
		t.Fatalf("Resolve on loaded cache: %v", err)
	}
	if guid != templateGUID {
		t.Errorf("Resolve = %q, want %q", guid, templateGUID)
	}
}

func TestDump_ExtensionRequired(t *testing.T) {
	c := New()
	err := c.Dump(filepath.Join(t.TempDir(), "dump.bin"), false)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestDump_Exists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.wevtcache")
	c := New()
	if err := c.Dump(path, false); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if err := c.Dump(path, false); !errors.Is(err, ErrAlreadyExists) {
		t.Errorf("err = %v, want ErrAlreadyExists", err)
	}
	if err := c.Dump(path, true); err != nil {
		t.Errorf("Dump with overwrite: %v", err)
	}
}

func TestLoad_ExtensionRequired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.bin")
	if err := os.WriteFile(path, []byte("WEVTCACH"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
}

func TestLoad_ExtensionCaseInsensitive(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.WevtCache")
	c := New()
	if err := c.Dump(path, false); err != nil {
		t.Fatalf("Dump: %v", err)
	}
	if _, err := Load(path); err != nil {
		t.Errorf("Load: %v", err)
	}
}
