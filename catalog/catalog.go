package catalog

import (
	"encoding/json"
	"fmt"
	"time"

	perrors "github.com/pkg/errors"
	"github.com/tidwall/buntdb"
)

// BusyTimeout bounds how long Open retries against a catalog file that
// is momentarily locked by a concurrent writer, standing in for the
// original's sqlite3 10s PRAGMA busy_timeout. buntdb has no
// cross-process lock of its own (a single Buffer owns a given root per
// process), so in practice this only matters for the brief window
// between one call's Close and the next call's Open.
const BusyTimeout = 10 * time.Second

const (
	idxKeepTime = "keep_time"
	idxDevTime  = "dev_time"
)

// Error wraps an underlying buntdb fault that doesn't map to one of
// this package's named error cases.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("catalog: %s: %s", e.Code, e.Message) }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Code: op, Message: err.Error()}
}

// Catalog is the persistent index over a single buntdb file. Every
// public method opens a fresh handle, does its work in one transaction,
// and closes the handle before returning - deliberately, so that the
// backing file may be removed and recreated out from under the process
// without leaving a stale descriptor.
type Catalog struct {
	path string
}

// New returns a Catalog backed by the buntdb file at path. The file and
// its indexes are created lazily on first use.
func New(path string) *Catalog {
	return &Catalog{path: path}
}

func (c *Catalog) withDB(fn func(db *buntdb.DB) error) error {
	deadline := time.Now().Add(BusyTimeout)
	var db *buntdb.DB
	var err error
	for {
		db, err = buntdb.Open(c.path)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			return wrapErr("open", err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	defer func() { _ = db.Close() }()

	if ierr := ensureIndexes(db); ierr != nil {
		return wrapErr("create-index", ierr)
	}
	return fn(db)
}

func ensureIndexes(db *buntdb.DB) error {
	if err := db.CreateIndex(idxKeepTime, recKeyPattern(), buntdb.IndexJSON("keep"), buntdb.IndexJSON("time_value")); err != nil && err != buntdb.ErrIndexExists {
		return err
	}
	if err := db.CreateIndex(idxDevTime, recKeyPattern(), buntdb.IndexJSON("device"), buntdb.IndexJSON("time_value")); err != nil && err != buntdb.ErrIndexExists {
		return err
	}
	return nil
}

func recKeyPattern() string { return "rec/*" }

// recKey is the primary key for (device, timeValue): zero-padded so
// that plain lexicographic key order already matches (device ASC,
// time_value ASC), which keeps key-space browsing sane for operators
// poking at the file. SelectAll itself orders by the dev_time index.
func recKey(device uint32, timeValue uint64) string {
	return fmt.Sprintf("rec/%010d/%020d", device, timeValue)
}

func encode(r Record) string {
	b, _ := json.Marshal(r)
	return string(b)
}

func decode(s string) (Record, error) {
	var r Record
	err := json.Unmarshal([]byte(s), &r)
	return r, err
}

// Insert adds a row for (timeValue, device). A no-op if hash is empty
// or if any slash-delimited component of hash isn't a portable
// filename. Fails with a *cmn.ErrConflict-compatible error (ErrConflict
// sentinel check via errors.Is is not applicable here - callers use
// IsConflict) when (timeValue, device) already exists; the insert is
// rolled back, matching the original's UNIQUE ... ON CONFLICT ROLLBACK.
func (c *Catalog) Insert(timeValue uint64, device uint32, hash string, size uint64, keep Keep) error {
	if hash == "" {
		return nil
	}
	if !isPortableHash(hash) {
		return nil
	}

	return c.withDB(func(db *buntdb.DB) error {
		return db.Update(func(tx *buntdb.Tx) error {
			key := recKey(device, timeValue)
			if _, err := tx.Get(key); err == nil {
				return &ErrConflict{TimeValue: timeValue, Device: device}
			} else if err != buntdb.ErrNotFound {
				return err
			}
			_, _, err := tx.Set(key, encode(Record{
				TimeValue: timeValue,
				Device:    device,
				Hash:      hash,
				Size:      size,
				Keep:      keep,
			}), nil)
			return err
		})
	})
}

// ErrConflict mirrors cmn.ErrConflict's shape without importing cmn,
// keeping catalog free of a dependency on the façade's error package;
// ibuf translates this into cmn.ErrConflict at the boundary.
type ErrConflict struct {
	TimeValue uint64
	Device    uint32
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("catalog: conflict on (time_value=%d, device=%d)", e.TimeValue, e.Device)
}

// IsConflict reports whether err is (or wraps) an ErrConflict.
func IsConflict(err error) bool {
	_, ok := perrors.Cause(err).(*ErrConflict)
	if ok {
		return true
	}
	_, ok = err.(*ErrConflict)
	return ok
}

// Delete removes every row with the given hash. A no-op for an empty
// hash.
func (c *Catalog) Delete(hash string) error {
	if hash == "" {
		return nil
	}
	return c.withDB(func(db *buntdb.DB) error {
		return db.Update(func(tx *buntdb.Tx) error {
			return deleteByHash(tx, hash)
		})
	})
}

// BulkDelete removes every row whose hash is in hashes, atomically.
func (c *Catalog) BulkDelete(hashes []string) error {
	if len(hashes) == 0 {
		return nil
	}
	return c.withDB(func(db *buntdb.DB) error {
		return db.Update(func(tx *buntdb.Tx) error {
			for _, h := range hashes {
				if h == "" {
					continue
				}
				if err := deleteByHash(tx, h); err != nil {
					return err
				}
			}
			return nil
		})
	})
}

// deleteByHash scans every record for a matching hash and removes it.
// There is no secondary index on hash: lookups and deletes in this
// catalog are always by (time_value, device) or by a handful of hashes
// collected from the eviction query, never a hot-path hash search.
func deleteByHash(tx *buntdb.Tx, hash string) error {
	var keys []string
	err := tx.Ascend(idxDevTime, func(key, value string) bool {
		rec, derr := decode(value)
		if derr == nil && rec.Hash == hash {
			keys = append(keys, key)
		}
		return true
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := tx.Delete(k); err != nil && err != buntdb.ErrNotFound {
			return err
		}
	}
	return nil
}

// FindHash returns the hash stored for (timeValue, device), or "" if
// absent.
func (c *Catalog) FindHash(timeValue uint64, device uint32) (string, error) {
	var hash string
	err := c.withDB(func(db *buntdb.DB) error {
		return db.View(func(tx *buntdb.Tx) error {
			val, err := tx.Get(recKey(device, timeValue))
			if err == buntdb.ErrNotFound {
				return nil
			}
			if err != nil {
				return err
			}
			rec, derr := decode(val)
			if derr != nil {
				return derr
			}
			hash = rec.Hash
			return nil
		})
	})
	return hash, err
}

// GetLowestDeletableHashes returns the hashes of every row with
// keep < PreserveRecord, ordered by keep ascending then time_value
// ascending - the order eviction should consider candidates in.
func (c *Catalog) GetLowestDeletableHashes() ([]string, error) {
	var hashes []string
	err := c.withDB(func(db *buntdb.DB) error {
		return db.View(func(tx *buntdb.Tx) error {
			return tx.Ascend(idxKeepTime, func(key, value string) bool {
				rec, derr := decode(value)
				if derr != nil {
					return true
				}
				if rec.Keep >= PreserveRecord {
					return false // index is sorted by keep ASC: nothing further qualifies
				}
				hashes = append(hashes, rec.Hash)
				return true
			})
		})
	})
	return hashes, err
}

// SelectAll returns every row, ordered by device ascending then
// time_value ascending.
func (c *Catalog) SelectAll() ([]Record, error) {
	var recs []Record
	err := c.withDB(func(db *buntdb.DB) error {
		return db.View(func(tx *buntdb.Tx) error {
			return tx.Ascend(idxDevTime, func(key, value string) bool {
				rec, derr := decode(value)
				if derr == nil {
					recs = append(recs, rec)
				}
				return true
			})
		})
	})
	return recs, err
}

// SetKeep updates the retention class of (timeValue, device). Returns
// true iff a row matching the key existed.
func (c *Catalog) SetKeep(timeValue uint64, device uint32, keep Keep) (bool, error) {
	var existed bool
	err := c.withDB(func(db *buntdb.DB) error {
		return db.Update(func(tx *buntdb.Tx) error {
			key := recKey(device, timeValue)
			val, err := tx.Get(key)
			if err == buntdb.ErrNotFound {
				return nil
			}
			if err != nil {
				return err
			}
			rec, derr := decode(val)
			if derr != nil {
				return derr
			}
			rec.Keep = keep
			_, _, err = tx.Set(key, encode(rec), nil)
			if err == nil {
				existed = true
			}
			return err
		})
	})
	return existed, err
}

// BulkSetKeep updates the retention class of every (tv, device) pair
// for tv in timeValues, atomically. Returns true (vacuously) for an
// empty timeValues, otherwise true iff at least one row existed.
func (c *Catalog) BulkSetKeep(timeValues []uint64, device uint32, keep Keep) (bool, error) {
	if len(timeValues) == 0 {
		return true, nil
	}
	var anyExisted bool
	err := c.withDB(func(db *buntdb.DB) error {
		return db.Update(func(tx *buntdb.Tx) error {
			for _, tv := range timeValues {
				key := recKey(device, tv)
				val, err := tx.Get(key)
				if err == buntdb.ErrNotFound {
					continue
				}
				if err != nil {
					return err
				}
				rec, derr := decode(val)
				if derr != nil {
					return derr
				}
				rec.Keep = keep
				if _, _, err := tx.Set(key, encode(rec), nil); err != nil {
					return err
				}
				anyExisted = true
			}
			return nil
		})
	})
	return anyExisted, err
}

// isPortableHash reports whether every slash-delimited component of
// hash is a portable filename: non-empty, not "." or "..", and free of
// NUL bytes and of the characters \ : * ? " < > |.
func isPortableHash(hash string) bool {
	if hash == "" {
		return false
	}
	start := 0
	for i := 0; i <= len(hash); i++ {
		if i == len(hash) || hash[i] == '/' {
			if !isPortableComponent(hash[start:i]) {
				return false
			}
			start = i + 1
		}
	}
	return true
}

func isPortableComponent(comp string) bool {
	if comp == "" || comp == "." || comp == ".." {
		return false
	}
	for i := 0; i < len(comp); i++ {
		switch comp[i] {
		case 0, '\\', ':', '*', '?', '"', '<', '>', '|':
			return false
		}
	}
	return true
}
