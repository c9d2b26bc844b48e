// Package fs implements the content-addressed, size-bounded directory
// store that backs an indexed buffer: atomic ingest by rename (falling
// back to copy+delete across filesystems), byte-quota accounting via a
// cached, periodically-recomputed size, and recursive pruning of
// now-empty intermediate directories after a delete.
//
// Ported in spirit from prism::indexed::Filesystem (src/filesystem.cpp):
// same construction-time safety checks, same quota/free-space test, same
// move/delete contract - adapted to Go's rename/copy idiom and to the
// teacher's (aistore) convention of a directory-rooted store that tracks
// its own cached size (compare: space/cleanup.go's mountpath capacity
// bookkeeping).
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package fs

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/karrick/godirwalk"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/indexedbuffer/cmn"
	"github.com/NVIDIA/indexedbuffer/cmn/cos"
	"github.com/NVIDIA/indexedbuffer/cmn/nlog"
)

// recomputeEvery bounds how long the cached size is trusted before
// AboveQuota forces a full recursive traversal.
const recomputeEvery = 10 * time.Minute

// minFreeFraction is the free-space-fraction floor below which the
// store reports itself above quota regardless of the byte quota.
const minFreeFraction = 0.10

// IoError wraps an unexpected filesystem failure. Failures that are
// recoverable user errors (missing file, destination exists,
// destination is a directory) are instead reported as a plain `false`
// return, per the Store contract.
type IoError struct {
	Op   string
	Path string
	Err  error
}

func (e *IoError) Error() string {
	return errors.Wrapf(e.Err, "fs: %s %q", e.Op, e.Path).Error()
}

func (e *IoError) Unwrap() error { return e.Err }

func newIoError(op, path string, err error) *IoError {
	return &IoError{Op: op, Path: path, Err: err}
}

// Store is a directory-rooted, size-bounded filesystem with atomic
// ingest. One Store is owned exclusively by one Buffer; callers
// outside ibuf never see a *Store directly.
type Store struct {
	root           string
	quotaBytes     uint64
	size           uint64
	lastSizeUpdate time.Time
}

// New creates or opens the store rooted at parent/bufferName. It
// creates the root directory if missing, rejects roots that resolve to
// parent or parent's parent, and computes the initial cached size by a
// full recursive traversal (individual entry errors are skipped, not
// fatal).
func New(parent, bufferName string, gigabyteQuota float64) (*Store, error) {
	if bufferName == "" {
		return nil, cmn.NewErrInvalidConfig("buffer name must not be empty")
	}
	if gigabyteQuota <= 0 {
		return nil, cmn.NewErrInvalidConfig("gigabyte quota must be positive, got %v", gigabyteQuota)
	}
	if parent == "" {
		parent = os.TempDir()
	}

	root := filepath.Join(parent, bufferName)
	if equivalentPaths(root, parent) || equivalentPaths(root, filepath.Join(parent, "..")) {
		return nil, cmn.NewErrInvalidConfig("store root %q must not equal its parent or grandparent", root)
	}

	if err := cos.CreateDir(root); err != nil {
		return nil, newIoError("mkdir", root, err)
	}

	s := &Store{
		root:       root,
		quotaBytes: uint64(gigabyteQuota * (1 << 30)),
	}
	s.size = s.recomputeSize()
	s.lastSizeUpdate = time.Now()
	return s, nil
}

// equivalentPaths reports whether a and b name the same location on
// disk, the way boost::filesystem::equivalent does for the original's
// construction-time safety check. Falls back to clean-path comparison
// when either side can't be stat'd (e.g. doesn't exist yet).
func equivalentPaths(a, b string) bool {
	ca, errA := filepath.Abs(a)
	cb, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	ca, cb = filepath.Clean(ca), filepath.Clean(cb)
	if ca == cb {
		return true
	}
	fa, errA := os.Stat(ca)
	fb, errB := os.Stat(cb)
	if errA != nil || errB != nil {
		return false
	}
	return os.SameFile(fa, fb)
}

// recomputeSize performs a full recursive traversal of the store root,
// summing file sizes and skipping individual entries that error out
// rather than aborting the scan.
func (s *Store) recomputeSize() uint64 {
	var total uint64
	err := godirwalk.Walk(s.root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() {
				return nil
			}
			fi, statErr := os.Lstat(path)
			if statErr != nil {
				return nil // skip this entry, keep scanning
			}
			total += uint64(fi.Size())
			return nil
		},
		ErrorCallback: func(string, error) godirwalk.ErrorAction {
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		nlog.Warningln("fs: size recompute walk:", s.root, err)
	}
	return total
}

// AboveQuota reports whether the store is over its byte quota or the
// containing mount's free space has fallen below 10%. The cached size
// is recomputed by full traversal if more than recomputeEvery has
// elapsed since the last update.
func (s *Store) AboveQuota() bool {
	if time.Since(s.lastSizeUpdate) > recomputeEvery {
		s.size = s.recomputeSize()
		s.lastSizeUpdate = time.Now()
	}
	if s.size > s.quotaBytes {
		return true
	}
	frac, err := freeFraction(s.root)
	if err != nil {
		nlog.Warningln("fs: statfs:", s.root, err)
		return false
	}
	return frac < minFreeFraction
}

func freeFraction(root string) (float64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(root, &st); err != nil {
		return 0, err
	}
	if st.Blocks == 0 {
		return 1, nil
	}
	return float64(st.Bavail) / float64(st.Blocks), nil
}

// Delete removes root/name. Returns false (no error) if name resolves
// to a directory or doesn't exist. On success it subtracts the file's
// size from the cached total and prunes now-empty ancestor directories
// up to (not including) root.
func (s *Store) Delete(name string) (bool, error) {
	path := s.GetFilepath(name)
	fi, err := os.Lstat(path)
	if err != nil {
		return false, nil
	}
	if fi.IsDir() {
		return false, nil
	}

	if err := os.Remove(path); err != nil {
		if cos.IsNotExist(err) {
			return false, nil
		}
		return false, newIoError("remove", path, err)
	}
	if uint64(fi.Size()) > s.size {
		s.size = 0
	} else {
		s.size -= uint64(fi.Size())
	}

	s.pruneEmptyAncestors(filepath.Dir(path))
	return true, nil
}

// pruneEmptyAncestors walks upward from dir, removing each now-empty
// directory, stopping at (and never removing) the store root. Paths
// are compared after filepath.Clean; since dir is always derived from
// the root by joining, this makes the stop condition exact. Symlinks
// are not resolved.
func (s *Store) pruneEmptyAncestors(dir string) {
	root := filepath.Clean(s.root)
	for {
		dir = filepath.Clean(dir)
		if dir == root || !isWithin(root, dir) {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}

func isWithin(root, dir string) bool {
	rel, err := filepath.Rel(root, dir)
	if err != nil {
		return false
	}
	return rel != ".." && !hasDotDotPrefix(rel)
}

func hasDotDotPrefix(rel string) bool {
	return len(rel) >= 2 && rel[0] == '.' && rel[1] == '.'
}

// GetBufferDirectory returns the store's root path.
func (s *Store) GetBufferDirectory() string { return s.root }

// Size returns the store's cached total size in bytes: the last full
// recompute, adjusted by every Move and Delete since.
func (s *Store) Size() uint64 { return s.size }

// GetExistingFilepath returns the full path to name if it currently
// exists on disk, or "" if not - the signal Buffer uses to detect an
// orphaned catalog entry.
func (s *Store) GetExistingFilepath(name string) string {
	path := s.GetFilepath(name)
	if cos.Stat(path) == nil {
		return ""
	}
	return path
}

// GetFilepath unconditionally joins name under the store root, without
// checking existence.
func (s *Store) GetFilepath(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Move ingests srcAbspath as dstRelname under the store root. Fails
// (returns false, nil) if the destination is a directory, already
// exists as a file, or the source doesn't exist. Parent directories of
// the destination are created as needed. Tries rename first; on a
// cross-device error it falls back to copy-then-delete. On success the
// resulting file's size is added to the cached total.
func (s *Store) Move(srcAbspath, dstRelname string) (bool, error) {
	dst := s.GetFilepath(dstRelname)

	srcInfo, err := os.Lstat(srcAbspath)
	if err != nil {
		return false, nil
	}
	if _, err := os.Lstat(dst); err == nil {
		// destination already exists, whether file or directory
		return false, nil
	}

	if err := cos.CreateDir(filepath.Dir(dst)); err != nil {
		return false, newIoError("mkdir", filepath.Dir(dst), err)
	}

	if err := os.Rename(srcAbspath, dst); err != nil {
		switch {
		case cos.IsCrossDevice(err):
			if cerr := copyThenRemove(srcAbspath, dst); cerr != nil {
				return false, newIoError("copy", srcAbspath, cerr)
			}
		case cos.IsErrOOS(err):
			nlog.Warningln("fs: move: device out of space:", dst)
			return false, newIoError("rename", srcAbspath, err)
		default:
			return false, newIoError("rename", srcAbspath, err)
		}
	}

	s.size += uint64(srcInfo.Size())
	return true, nil
}

func copyThenRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer cos.Close(in)

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		cos.Close(out)
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}
