//go:build !windows

package process

import "os/exec"

// hideWindow is a no-op outside Windows; there is no console to suppress.
func hideWindow(_ *exec.Cmd) {}
