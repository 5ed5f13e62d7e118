package evidence

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// StorageCorruption reports an owned state file that failed to parse and was
// quarantined. A single corrupt file never blocks a run: callers receive the
// zero value and continue.
type StorageCorruption struct {
	Path          string
	QuarantinedTo string
	Err           error
}

func (e *StorageCorruption) Error() string {
	return fmt.Sprintf("storage corruption in %s (quarantined to %s): %v", e.Path, e.QuarantinedTo, e.Err)
}

func (e *StorageCorruption) Unwrap() error { return e.Err }

// IsStorageCorruption reports whether err wraps a StorageCorruption.
func IsStorageCorruption(err error) bool {
	var sc *StorageCorruption
	return errors.As(err, &sc)
}

// WriteJSONAtomic writes v as indented JSON via a temp file and rename, so
// readers never observe a partial file.
func WriteJSONAtomic(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := fmt.Sprintf("%s.tmp.%d", path, os.Getpid())
	if err := os.WriteFile(tmp, append(data, '\n'), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadJSONState reads an owned state file into out. A missing file returns
// (false, nil). A corrupt file is renamed aside to <path>.corrupt.<stamp> and
// reported as a *StorageCorruption; out is left untouched so the caller can
// proceed with defaults.
func ReadJSONState(path string, out any) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, quarantine(path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return false, quarantine(path, err)
	}
	return true, nil
}

func quarantine(path string, cause error) error {
	stamp := strings.NewReplacer("-", "", ":", "").Replace(time.Now().UTC().Format(time.RFC3339))
	dest := fmt.Sprintf("%s.corrupt.%s", path, stamp)
	for i := 1; i < 100; i++ {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			break
		}
		dest = fmt.Sprintf("%s.corrupt.%s.%d", path, stamp, i)
	}
	if err := os.Rename(path, dest); err != nil {
		dest = ""
	}
	return &StorageCorruption{Path: path, QuarantinedTo: dest, Err: cause}
}
