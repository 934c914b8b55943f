//go:build unix

package agent

import (
	"fmt"
	"os"
	"syscall"
)

// Restart replaces the running process with a fresh image of the same
// binary, preserving argv and the environment. Only returns on failure.
func Restart() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("agent: cannot resolve own binary: %w", err)
	}
	if err := syscall.Exec(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("agent: exec %s: %w", exe, err)
	}
	return nil
}
