//go:build !linux

package serialhost

import "os"

// checkAccess opens and closes path to prove read/write access.
func checkAccess(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	return f.Close()
}
