//go:build !unix

package perms

import "errors"

// StatOwnerReader is unsupported on this platform.
type StatOwnerReader struct{}

// Owner implements OwnerReader.
func (StatOwnerReader) Owner(string) (Owner, error) {
	return Owner{}, errors.New("file ownership is not supported on this platform")
}
