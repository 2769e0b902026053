//go:build !windows

package steam

import "fmt"

func registrySteamPath() (string, error) {
	return "", fmt.Errorf("%w: registry lookup is windows-only", ErrClientNotFound)
}
