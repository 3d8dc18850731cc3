//go:build linux

package serialhost

import "golang.org/x/sys/unix"

// checkAccess reports whether the current user may open path read/write.
func checkAccess(path string) error {
	return unix.Access(path, unix.R_OK|unix.W_OK)
}
