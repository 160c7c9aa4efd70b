package cache

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/wevtflow/wevtflow/pkg/peres"
)

// DefaultExtensions is the default extension allow-list for directory
// ingestion.
const DefaultExtensions = "exe,dll,sys"

// CacheFileExt is the required extension for cache files.
const CacheFileExt = ".wevtcache"

// AddDLL reads a PE file, extracts its WEVT_TEMPLATE resources, and ingests
// each. Strict: any read, extract, or parse failure aborts and propagates.
// Returns the number of templates indexed from the file.
func (c *TemplateCache) AddDLL(path string) (int, error) {
	image, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("cache: read %s: %w", path, err)
	}
	blobs, err := peres.ExtractWEVTTemplates(image)
	if err != nil {
		return 0, fmt.Errorf("cache: extract %s: %w", path, err)
	}

	total := 0
	for i, blob := range blobs {
		n, err := c.Ingest(blob)
		if err != nil {
			return total, fmt.Errorf("cache: %s resource %d: %w", path, i, err)
		}
		total += n
	}
	return total, nil
}

// AddDir walks a directory and ingests every file matching the extension
// allow-list (comma-separated, case-insensitive, leading dots tolerated;
// empty means DefaultExtensions). Traversal is breadth-first, entries are
// deduplicated by canonical path, and the final file list is sorted before
// ingestion so index contents are deterministic. A missing root is not an
// error and yields zero.
func (c *TemplateCache) AddDir(path string, recursive bool, extensions string) (int, error) {
	files, err := CollectInputPaths(path, recursive, extensions)
	if err != nil {
		return 0, err
	}

	total := 0
	for _, f := range files {
		n, err := c.AddDLL(f)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// Load reads a .wevtcache file and builds a cache from its entries in file
// order.
func Load(path string) (*TemplateCache, error) {
	if !strings.EqualFold(filepath.Ext(path), CacheFileExt) {
		return nil, fmt.Errorf("%w: expected a %s file, got %q", ErrInvalidArgument, CacheFileExt, path)
	}

	r, err := OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	c := New()
	for {
		kind, payload, err := r.NextEntry()
		if err == io.EOF {
			return c, nil
		}
		if err != nil {
			return nil, err
		}
		switch kind {
		case EntryKindCRIM:
			if _, err := c.Ingest(payload); err != nil {
				return nil, err
			}
		}
	}
}

// Dump writes the cache's resources to a .wevtcache file in ingestion
// order. An existing target fails with ErrAlreadyExists unless overwrite
// is set.
func (c *TemplateCache) Dump(path string, overwrite bool) error {
	if !strings.EqualFold(filepath.Ext(path), CacheFileExt) {
		return fmt.Errorf("%w: expected a %s file, got %q", ErrInvalidArgument, CacheFileExt, path)
	}

	w, err := CreateWriter(path, overwrite)
	if err != nil {
		return err
	}
	for _, blob := range c.Resources() {
		if err := w.WriteEntry(EntryKindCRIM, blob); err != nil {
			w.Abort()
			return err
		}
	}
	return w.Finish()
}

// CollectInputPaths gathers the candidate files under root: breadth-first,
// deduplicated by canonical path, filtered by the extension allow-list,
// sorted. A missing root yields an empty result. Exposed so callers can
// report progress per file.
func CollectInputPaths(root string, recursive bool, extensions string) ([]string, error) {
	allowed := parseExtensions(extensions)

	info, err := os.Stat(root)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: stat %s: %w", root, err)
	}

	if !info.IsDir() {
		return []string{root}, nil
	}

	var files []string
	seenFiles := make(map[string]bool)
	seenDirs := map[string]bool{canonicalPath(root): true}

	queue := []string{root}
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("cache: read dir %s: %w", dir, err)
		}
		for _, entry := range entries {
			p := filepath.Join(dir, entry.Name())
			st, err := os.Stat(p) // follow symlinks
			if err != nil {
				return nil, fmt.Errorf("cache: stat %s: %w", p, err)
			}
			if st.IsDir() {
				if recursive && !seenDirs[canonicalPath(p)] {
					seenDirs[canonicalPath(p)] = true
					queue = append(queue, p)
				}
				continue
			}
			if !allowedExtension(p, allowed) {
				continue
			}
			if cp := canonicalPath(p); !seenFiles[cp] {
				seenFiles[cp] = true
				files = append(files, p)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// parseExtensions splits a comma-separated allow-list, trimming whitespace
// and leading dots and lower-casing.
func parseExtensions(extensions string) map[string]bool {
	if extensions == "" {
		extensions = DefaultExtensions
	}
	allowed := make(map[string]bool)
	for _, ext := range strings.Split(extensions, ",") {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			allowed[ext] = true
		}
	}
	return allowed
}

func allowedExtension(path string, allowed map[string]bool) bool {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if ext == "" {
		return false
	}
	return allowed[ext]
}

// canonicalPath resolves symlinks so files reachable through more than one
// path are counted once; when resolution fails the absolute path is the
// best available identity.
func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		path = resolved
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
