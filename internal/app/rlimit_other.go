//go:build !linux && !darwin

package app

// raiseFileLimit is a no-op on platforms without a POSIX rlimit model,
// mirroring the teacher's system_proxy_unsupported.go stub convention.
func raiseFileLimit() (applied uint64, err error) {
	return 0, nil
}
