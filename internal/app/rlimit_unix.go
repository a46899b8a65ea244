//go:build linux || darwin

package app

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// raiseFileLimit raises the open-file soft limit toward the hard limit,
// best effort, the way the teacher's per-OS files each own one narrow
// piece of platform-specific behavior.
func raiseFileLimit() (applied uint64, err error) {
	var rlimit unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlimit); err != nil {
		return 0, fmt.Errorf("getrlimit: %w", err)
	}
	if rlimit.Cur >= rlimit.Max {
		return rlimit.Cur, nil
	}
	want := rlimit.Max
	newLimit := unix.Rlimit{Cur: want, Max: rlimit.Max}
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &newLimit); err != nil {
		return rlimit.Cur, fmt.Errorf("setrlimit: %w", err)
	}
	return want, nil
}
