package storage

import (
	"errors"
	"os"
	"syscall"
)

// move renames src to dst, falling back to copy+delete across filesystems
// (the capture temp dir is often a tmpfs).
func move(src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && errors.Is(linkErr.Err, syscall.EXDEV) {
		return copyAndDelete(src, dst)
	}
	return &MoveError{Path: src, Op: "move", Err: err}
}

func copyAndDelete(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return &MoveError{Path: src, Op: "read", Err: err}
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return &MoveError{Path: src, Op: "stat", Err: err}
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return &MoveError{Path: dst, Op: "create", Err: err}
	}
	if _, err := in.WriteTo(out); err != nil {
		out.Close()
		os.Remove(dst)
		return &MoveError{Path: dst, Op: "write", Err: err}
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return &MoveError{Path: dst, Op: "sync", Err: err}
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return &MoveError{Path: dst, Op: "close", Err: err}
	}

	if err := os.Remove(src); err != nil {
		return &MoveError{Path: src, Op: "delete", Err: err}
	}
	return nil
}
