//go:build windows

package steam

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/windows/registry"
)

func registrySteamPath() (string, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, `Software\Valve\Steam`, registry.QUERY_VALUE)
	if err != nil {
		return "", fmt.Errorf("%w: open registry key: %w", ErrClientNotFound, err)
	}
	defer func() { _ = k.Close() }()
	p, _, err := k.GetStringValue("SteamPath")
	if err != nil {
		return "", fmt.Errorf("%w: read SteamPath: %w", ErrClientNotFound, err)
	}
	p = filepath.Clean(p)
	if _, err := os.Stat(filepath.Join(p, "steamapps")); err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrClientNotFound, p, err)
	}
	return p, nil
}
