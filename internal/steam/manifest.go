package steam

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// InstallManifest is the part of an appmanifest_<id>.acf file we use.
type InstallManifest struct {
	AppID      string
	Name       string
	InstallDir string
}

// ParseManifest reads an ACF document. AppState and its keys are matched
// case-insensitively; a manifest without installdir is rejected.
func ParseManifest(r io.Reader) (InstallManifest, error) {
	doc, err := parseVDF(r)
	if err != nil {
		return InstallManifest{}, err
	}
	state, ok := lookupMap(doc, "AppState")
	if !ok {
		state = doc
	}
	m := InstallManifest{
		AppID:      lookupString(state, "appid"),
		Name:       lookupString(state, "name"),
		InstallDir: lookupString(state, "installdir"),
	}
	if m.InstallDir == "" {
		return InstallManifest{}, fmt.Errorf("%w: missing installdir", ErrManifestParse)
	}
	return m, nil
}

// GamePath is the storefront-relative install path stored in the catalog.
func (m InstallManifest) GamePath() string {
	dir := strings.ReplaceAll(m.InstallDir, `\`, "/")
	return strings.ToLower("steamapps/common/" + dir)
}

// AppIDFromFilename extracts the id from "appmanifest_<id>.acf".
func AppIDFromFilename(name string) (string, bool) {
	lower := strings.ToLower(name)
	if !strings.HasPrefix(lower, "appmanifest_") || !strings.HasSuffix(lower, ".acf") {
		return "", false
	}
	raw := lower[len("appmanifest_") : len(lower)-len(".acf")]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint(id, 10), true
}
