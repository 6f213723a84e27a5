package storage

import (
	"errors"
	"os"
	"syscall"
)

// CopyFile copies srcPath into a newly created destPath. With exclusive set
// the copy fails if destPath already exists.
func CopyFile(srcPath string, destPath string, exclusive bool) (err error) {
	srcFile, err := os.Open(srcPath)
	if err != nil {
		return err
	}
	defer srcFile.Close()

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if exclusive {
		flags = os.O_WRONLY | os.O_CREATE | os.O_EXCL
	}

	destFile, err := os.OpenFile(destPath, flags, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := destFile.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil && !errors.Is(err, os.ErrExist) {
			_ = os.Remove(destPath)
		}
	}()

	if _, err = destFile.ReadFrom(srcFile); err != nil {
		return err
	}
	return destFile.Sync()
}

func isCrossDevice(err error) bool {
	var linkErr *os.LinkError
	return errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV)
}

// MoveFile renames srcPath to destPath, replacing any existing destination.
func MoveFile(srcPath string, destPath string) error {
	if err := os.Rename(srcPath, destPath); err != nil {

		// If the source file lives on a different filesystem, fall back to
		// copying its contents into place instead of renaming.
		if !isCrossDevice(err) {
			return err
		}

		if copyErr := CopyFile(srcPath, destPath, false); copyErr != nil {
			return copyErr
		}

		// Best-effort cleanup of the source file; ignore ENOENT in case
		// it was moved or removed it.
		if rmErr := os.Remove(srcPath); rmErr != nil && !os.IsNotExist(rmErr) {
			return rmErr
		}
	}

	return nil
}

// MoveFileNoReplace moves srcPath to destPath, failing with ErrExists if
// destPath is already present. A hard link claims the destination
// atomically; the exclusive copy is used where linking is not possible.
func MoveFileNoReplace(srcPath string, destPath string) error {
	err := os.Link(srcPath, destPath)
	switch {
	case err == nil:
	case errors.Is(err, os.ErrExist):
		return ErrExists
	default:
		if copyErr := CopyFile(srcPath, destPath, true); copyErr != nil {
			if errors.Is(copyErr, os.ErrExist) {
				return ErrExists
			}
			return copyErr
		}
	}

	if rmErr := os.Remove(srcPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return rmErr
	}
	return nil
}
