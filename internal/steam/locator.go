package steam

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loykin/playwatch/internal/process"
)

// Locator finds the Steam install root, the directory holding steamapps/.
type Locator interface {
	Locate(ctx context.Context) (string, error)
}

// LocatorFunc adapts a function to Locator.
type LocatorFunc func(ctx context.Context) (string, error)

func (f LocatorFunc) Locate(ctx context.Context) (string, error) { return f(ctx) }

// StaticLocator returns a configured root if it looks like a Steam install.
type StaticLocator struct {
	Root string
}

func (l StaticLocator) Locate(context.Context) (string, error) {
	root := strings.TrimSpace(l.Root)
	if root == "" {
		return "", fmt.Errorf("%w: no root configured", ErrClientNotFound)
	}
	fi, err := os.Stat(filepath.Join(root, "steamapps"))
	if err != nil || !fi.IsDir() {
		return "", fmt.Errorf("%w: %s has no steamapps directory", ErrClientNotFound, root)
	}
	return filepath.Clean(root), nil
}

// ProcessLocator finds a running Steam client and derives the root from its
// executable path.
type ProcessLocator struct {
	Lister process.Lister
	// Names are matched case-insensitively; defaults to steam.exe.
	Names []string
}

func (l ProcessLocator) Locate(ctx context.Context) (string, error) {
	if l.Lister == nil {
		return "", fmt.Errorf("%w: no process lister", ErrClientNotFound)
	}
	names := l.Names
	if len(names) == 0 {
		names = []string{"steam.exe"}
	}
	recs, err := l.Lister.List(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrClientNotFound, err)
	}
	for _, r := range recs {
		if r.SessionID == 0 || r.ExecutablePath == "" {
			continue
		}
		for _, n := range names {
			if strings.EqualFold(r.Name, n) {
				return rootFromExecutable(r.ExecutablePath), nil
			}
		}
	}
	return "", fmt.Errorf("%w: no running steam process", ErrClientNotFound)
}

// rootFromExecutable strips the executable name, keeping forward slashes.
func rootFromExecutable(exe string) string {
	p := strings.ReplaceAll(exe, `\`, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[:i]
	}
	return p
}

// RegistryLocator reads HKCU\Software\Valve\Steam\SteamPath. It always fails
// off Windows.
type RegistryLocator struct{}

func (RegistryLocator) Locate(context.Context) (string, error) {
	return registrySteamPath()
}

// Chain tries each locator in order and returns the first success.
type Chain []Locator

func (c Chain) Locate(ctx context.Context) (string, error) {
	var errs []error
	for _, l := range c {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		root, err := l.Locate(ctx)
		if err == nil && root != "" {
			return root, nil
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return "", ErrClientNotFound
	}
	return "", fmt.Errorf("%w: %w", ErrClientNotFound, errors.Join(errs...))
}
