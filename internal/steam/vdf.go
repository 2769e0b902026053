package steam

import (
	"fmt"
	"io"
	"strings"

	"github.com/andygrunwald/vdf"
)

// parseVDF decodes a Valve KeyValues document. Parser panics on malformed input
// are reported as ErrManifestParse.
func parseVDF(r io.Reader) (m map[string]any, err error) {
	defer func() {
		if p := recover(); p != nil {
			m, err = nil, fmt.Errorf("%w: %v", ErrManifestParse, p)
		}
	}()
	m, err = vdf.NewParser(r).Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrManifestParse, err)
	}
	return m, nil
}

// lookup finds key in node, preferring an exact match and falling back to a
// case-insensitive one.
func lookup(node map[string]any, key string) (any, bool) {
	if v, ok := node[key]; ok {
		return v, true
	}
	for k, v := range node {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

func lookupMap(node map[string]any, key string) (map[string]any, bool) {
	v, ok := lookup(node, key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

func lookupString(node map[string]any, key string) string {
	v, ok := lookup(node, key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return strings.TrimSpace(s)
}
