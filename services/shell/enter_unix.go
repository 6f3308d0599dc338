//go:build unix

package shell

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"golang.org/x/sys/unix"
)

// execShell replaces the current process with the user's login shell
// running inside the materialized environment.
func execShell(env *Env) error {
	shellPath := strings.TrimSpace(os.Getenv("SHELL"))
	if shellPath == "" {
		shellPath = "/bin/sh"
	}

	resolved, err := exec.LookPath(shellPath)
	if err != nil {
		return fmt.Errorf("locate shell %q: %w", shellPath, err)
	}

	if err := unix.Exec(resolved, []string{shellPath}, env.Environ(os.Environ())); err != nil {
		return fmt.Errorf("exec %s: %w", resolved, err)
	}
	return nil
}
