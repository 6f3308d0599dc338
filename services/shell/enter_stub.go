//go:build !unix

package shell

import "fmt"

// execShell is a stub used when building the CLI on non-unix platforms.
func execShell(env *Env) error {
	return fmt.Errorf("interactive devpin shells are only supported on unix hosts")
}
