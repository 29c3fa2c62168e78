//go:build unix

package perms

import (
	"fmt"
	"os"
	"syscall"
)

// StatOwnerReader reads ownership with lstat.
type StatOwnerReader struct{}

// Owner implements OwnerReader.
func (StatOwnerReader) Owner(path string) (Owner, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return Owner{}, err
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return Owner{}, fmt.Errorf("stat %s: no ownership information", path)
	}
	return Owner{UID: int(st.Uid), GID: int(st.Gid)}, nil
}
