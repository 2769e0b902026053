package steam

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// ReadLibraryFolders returns the library roots listed in
// <root>/steamapps/libraryfolders.vdf. The install root itself is always
// included first. Both the current object form ("0" { "path" "..." }) and the
// legacy string form ("1" "D:\\SteamLibrary") are accepted.
func ReadLibraryFolders(root string) ([]string, error) {
	f, err := os.Open(filepath.Join(root, "steamapps", "libraryfolders.vdf"))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: no libraryfolders.vdf under %s", ErrClientNotFound, root)
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	doc, err := parseVDF(f)
	if err != nil {
		return nil, err
	}
	node, ok := lookupMap(doc, "libraryfolders")
	if !ok {
		node = doc
	}

	keys := make([]string, 0, len(node))
	for k := range node {
		if _, err := strconv.Atoi(k); err == nil {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		a, _ := strconv.Atoi(keys[i])
		b, _ := strconv.Atoi(keys[j])
		return a < b
	})

	libs := []string{normalizeLibraryPath(root)}
	seen := map[string]struct{}{libs[0]: {}}
	for _, k := range keys {
		var p string
		switch v := node[k].(type) {
		case map[string]any:
			p = lookupString(v, "path")
		case string:
			p = strings.TrimSpace(v)
		}
		if p == "" {
			continue
		}
		p = normalizeLibraryPath(p)
		if _, dup := seen[p]; dup {
			continue
		}
		seen[p] = struct{}{}
		libs = append(libs, p)
	}
	return libs, nil
}

// normalizeLibraryPath undoes escaped backslashes and makes p absolute.
func normalizeLibraryPath(p string) string {
	fixed := strings.ReplaceAll(p, `\\`, `\`)
	if abs, err := filepath.Abs(fixed); err == nil {
		return abs
	}
	return filepath.Clean(fixed)
}
