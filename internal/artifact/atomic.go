package artifact

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrEmpty is returned when asked to publish zero bytes.
var ErrEmpty = errors.New("refusing to publish empty artifact")

// WriteFileAtomic publishes data at path by writing a temp file in the same
// directory, syncing it and renaming it over the destination. Readers never
// observe a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	if len(data) == 0 {
		return ErrEmpty
	}
	return PublishAtomic(path, perm, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// PublishAtomic is WriteFileAtomic for streaming writers.
func PublishAtomic(path string, perm os.FileMode, write func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil { // #nosec G301 -- artifacts are served publicly.
		return fmt.Errorf("create artifact dir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if err = write(tmp); err != nil {
		return fmt.Errorf("write temp for %s: %w", path, err)
	}
	var info os.FileInfo
	if info, err = tmp.Stat(); err != nil {
		return fmt.Errorf("stat temp for %s: %w", path, err)
	}
	if info.Size() == 0 {
		err = ErrEmpty
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp for %s: %w", path, err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp for %s: %w", path, err)
	}
	if err = os.Chmod(tmpName, perm); err != nil {
		return fmt.Errorf("chmod temp for %s: %w", path, err)
	}
	if err = os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}
