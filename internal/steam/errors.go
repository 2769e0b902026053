package steam

import "errors"

var (
	// ErrClientNotFound means no Steam installation could be located.
	ErrClientNotFound = errors.New("steam: client not found")
	// ErrManifestParse wraps failures to read a VDF/ACF document.
	ErrManifestParse = errors.New("steam: manifest parse failed")
)
