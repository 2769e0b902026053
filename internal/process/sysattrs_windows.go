//go:build windows

package process

import (
	"os/exec"
	"syscall"
)

// CREATE_NO_WINDOW keeps the PowerShell child from flashing a console.
const CREATE_NO_WINDOW = 0x08000000

// hideWindow configures the enumeration child to run without a console window.
func hideWindow(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		HideWindow:    true,
		CreationFlags: CREATE_NO_WINDOW,
	}
}
