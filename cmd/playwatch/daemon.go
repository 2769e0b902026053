package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v4/process"
)

// daemonize starts a detached copy of this process and returns in the parent.
// The child receives the same arguments minus the daemon flags, so it keeps
// --pidfile and writes its own pid.
func daemonize(logFile string) error {
	if os.Getppid() == 1 {
		return nil
	}
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	// #nosec G204 -- re-executes this binary
	cmd := exec.Command(exe, childArgs(os.Args[1:])...)
	configureDaemonAttrs(cmd)
	if logFile != "" {
		// #nosec G304
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open daemon log: %w", err)
		}
		defer func() { _ = f.Close() }()
		cmd.Stdout, cmd.Stderr = f, f
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	fmt.Printf("playwatch daemon started (pid %d)\n", cmd.Process.Pid)
	return nil
}

// childArgs removes --daemonize and --logfile in both "--flag value" and
// "--flag=value" forms.
func childArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch {
		case a == "--daemonize", strings.HasPrefix(a, "--daemonize="):
		case a == "--logfile":
			i++
		case strings.HasPrefix(a, "--logfile="):
		default:
			out = append(out, a)
		}
	}
	return out
}

// writePidFile refuses to replace a pid file naming another live process.
func writePidFile(path string, pid int) error {
	if data, err := os.ReadFile(path); err == nil {
		old, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && old != pid && processAlive(old) {
			return fmt.Errorf("pid file %s is held by running process %d", path, old)
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	// #nosec G306
	return os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644)
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExists(int32(pid)) // #nosec G115
	return err == nil && ok
}

func removePidFile(path string) error {
	if path == "" {
		return nil
	}
	err := os.Remove(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
