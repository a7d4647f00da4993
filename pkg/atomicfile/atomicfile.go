// Package atomicfile replaces files so that readers only ever see the old
// complete content or the new complete content.
package atomicfile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

var (
	// ErrVerifyFailed means the temp file did not survive read-back checks.
	ErrVerifyFailed = errors.New("temp file verification failed")
)

// VerifyFunc inspects the bytes read back from the temp file.
type VerifyFunc func(data []byte) error

// TempPath returns the sibling temp file used while writing path.
func TempPath(path string) string {
	return path + ".tmp"
}

// Write stores data at path using temp file, read back, verify, rename.
// On any failure the temp file is removed and path is left as it was.
func Write(path string, data []byte, verify VerifyFunc) (err error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create dir %s: %w", dir, err)
		}
	}

	tmp := TempPath(path)
	defer func() {
		if err != nil {
			_ = os.Remove(tmp)
		}
	}()

	if err = writeSynced(tmp, data); err != nil {
		return err
	}

	readBack, err := os.ReadFile(tmp)
	if err != nil {
		return fmt.Errorf("read back %s: %w", tmp, err)
	}
	if !bytes.Equal(readBack, data) {
		return fmt.Errorf("%s: short write: %w", tmp, ErrVerifyFailed)
	}
	if verify != nil {
		if vErr := verify(readBack); vErr != nil {
			err = fmt.Errorf("%s: %v: %w", tmp, vErr, ErrVerifyFailed)
			return err
		}
	}

	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return f.Close()
}

// VerifyJSONArray accepts only a JSON array.
func VerifyJSONArray(data []byte) error {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("not a JSON array: %w", err)
	}
	if arr == nil {
		return errors.New("not a JSON array: null")
	}
	return nil
}

// VerifyJSON accepts any valid JSON document.
func VerifyJSON(data []byte) error {
	if !json.Valid(data) {
		return errors.New("invalid JSON")
	}
	return nil
}
