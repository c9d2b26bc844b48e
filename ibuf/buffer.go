// Package ibuf is the public façade over fs.Store and catalog.Catalog:
// it serializes every state-changing call through one mutex and
// implements eviction, ingest, lookup, delete, retention updates, and
// catalog enumeration. Ported from prism::indexed::Buffer::Impl
// (src/buffer.cpp), generalized with a richer retention/bulk contract
// than the original exposes.
/*
 * Copyright (c) 2018-2025, NVIDIA CORPORATION. All rights reserved.
 */
package ibuf

import (
	"os"
	"sync"
	"time"

	"github.com/NVIDIA/indexedbuffer/catalog"
	"github.com/NVIDIA/indexedbuffer/chrono"
	"github.com/NVIDIA/indexedbuffer/cmn"
	"github.com/NVIDIA/indexedbuffer/cmn/cos"
	"github.com/NVIDIA/indexedbuffer/cmn/nlog"
	"github.com/NVIDIA/indexedbuffer/fs"
	"github.com/NVIDIA/indexedbuffer/ibuf/ibufstats"
)

// bufferName is the fixed directory name a Buffer creates under its
// parent.
const bufferName = "indexed_buffer"

// indexFilename is the catalog's file name inside the store root.
const indexFilename = "indexed_data.db"

// defaultGigabyteQuota is the quota used when no WithGigabyteQuota
// option is given.
const defaultGigabyteQuota = 2.0

// Buffer is the public contract: push, delete, lookup, retention, and
// enumeration over a store root exclusively owned by this Buffer. The
// zero value is not usable; construct with New.
type Buffer struct {
	mu      sync.Mutex
	store   *fs.Store
	catalog *catalog.Catalog
	hashFn  HashFunc
	stats   *ibufstats.Tracker
}

// Option configures New.
type Option func(*options)

type options struct {
	parent        string
	gigabyteQuota float64
	hashFn        HashFunc
	stats         *ibufstats.Tracker
}

// WithParent sets the directory under which the buffer's store root is
// created. Defaults to the OS temp directory.
func WithParent(parent string) Option {
	return func(o *options) { o.parent = parent }
}

// WithGigabyteQuota sets the store's byte quota, in GiB. Must be
// positive; New aborts at construction otherwise.
func WithGigabyteQuota(gb float64) Option {
	return func(o *options) { o.gigabyteQuota = gb }
}

// WithHashFunc overrides the default 32-character alphanumeric random
// name generator - tests inject a deterministic sequence this way.
func WithHashFunc(fn HashFunc) Option {
	return func(o *options) { o.hashFn = fn }
}

// WithStats registers operation counters against an
// *ibufstats.Tracker; omit to run without metrics.
func WithStats(t *ibufstats.Tracker) Option {
	return func(o *options) { o.stats = t }
}

// New constructs a Buffer. A non-positive gigabyte quota is a fatal
// construction error; all other construction failures surface as the
// Store/Catalog errors they originate from.
func New(opts ...Option) (*Buffer, error) {
	o := &options{gigabyteQuota: defaultGigabyteQuota}
	for _, opt := range opts {
		opt(o)
	}
	if o.gigabyteQuota <= 0 {
		return nil, cmn.NewErrInvalidConfig("gigabyte quota must be positive, got %v", o.gigabyteQuota)
	}
	if o.hashFn == nil {
		o.hashFn = defaultHashFunc()
	}

	store, err := fs.New(o.parent, bufferName, o.gigabyteQuota)
	if err != nil {
		return nil, err
	}

	b := &Buffer{
		store:   store,
		catalog: catalog.New(store.GetFilepath(indexFilename)),
		hashFn:  o.hashFn,
		stats:   o.stats,
	}
	b.trackStoreBytes()
	return b, nil
}

// Push ingests the file at srcPath as the artifact for (tp, device):
// first it runs an eviction pass if the store is over quota, then it
// admits srcPath (rejecting a missing source or a directory), then it
// moves the file into the store and records it in the catalog.
func (b *Buffer) Push(tp time.Time, device uint32, srcPath string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := chrono.SnapToMinute(tp)

	if ok := b.evict(srcPath); !ok {
		b.trackRejected()
		return false
	}

	fi, err := os.Lstat(srcPath)
	if err != nil || fi.IsDir() {
		b.trackRejected()
		return false
	}
	size := uint64(fi.Size())
	hash := b.hashFn()

	moved, err := b.store.Move(srcPath, hash)
	if err != nil {
		nlog.Errorln("ibuf: push: move:", err)
		b.trackRejected()
		return false
	}
	if !moved {
		if rmErr := cos.RemoveFile(srcPath); rmErr != nil {
			nlog.Warningln("ibuf: push: remove source after failed move:", rmErr)
		}
		b.trackPushed()
		return true
	}
	b.trackStoreBytes()

	if err := b.catalog.Insert(t, device, hash, size, AttemptKeep); err != nil {
		if catalog.IsConflict(err) {
			err = &cmn.ErrConflict{TimeValue: t, Device: device}
		}
		nlog.Warningln("ibuf: push: insert failed, compensating:", err)
		if _, derr := b.store.Delete(hash); derr != nil {
			nlog.Errorln("ibuf: push: compensation delete:", derr)
		}
		b.trackStoreBytes()
		b.trackPushed()
		return true
	}

	b.trackPushed()
	return true
}

// evict runs the eviction pass. It returns false when the store is
// over quota and the catalog offers no evictable candidate, in which
// case the caller's source file has already been removed, and also
// when the eviction query itself fails, in which case the source file
// is left in place.
func (b *Buffer) evict(srcPath string) bool {
	if !b.store.AboveQuota() {
		return true
	}

	hashes, err := b.catalog.GetLowestDeletableHashes()
	if err != nil {
		nlog.Errorln("ibuf: push: eviction query:", err)
		return false
	}
	if len(hashes) == 0 {
		if rmErr := cos.RemoveFile(srcPath); rmErr != nil {
			nlog.Warningln("ibuf: push: remove source (quota exhausted):", rmErr)
		}
		return false
	}

	var evicted []string
	for _, h := range hashes {
		if !b.store.AboveQuota() {
			break
		}
		if ok, derr := b.store.Delete(h); derr != nil {
			nlog.Errorln("ibuf: push: evict delete:", derr)
		} else if ok {
			evicted = append(evicted, h)
		}
	}

	if err := b.catalog.BulkDelete(evicted); err != nil {
		nlog.Errorln("ibuf: push: evict bulk-delete:", err)
	}
	b.trackEvicted(len(evicted))
	b.trackStoreBytes()
	return true
}

// Delete removes the artifact (if any) stored for (tp, device).
func (b *Buffer) Delete(tp time.Time, device uint32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := chrono.SnapToMinute(tp)
	hash, err := b.catalog.FindHash(t, device)
	if err != nil || hash == "" {
		return false
	}

	if _, err := b.store.Delete(hash); err != nil {
		nlog.Warningln("ibuf: delete: store delete:", err)
	}
	b.trackStoreBytes()
	if err := b.catalog.Delete(hash); err != nil {
		nlog.Errorln("ibuf: delete: catalog delete:", err)
		return false
	}
	b.trackDeleted()
	return true
}

// GetFilepath returns the path to the artifact stored for (tp,
// device), or "" if none is present. A catalog row whose backing file
// has disappeared is self-healed: the row is removed and "" returned.
func (b *Buffer) GetFilepath(tp time.Time, device uint32) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := chrono.SnapToMinute(tp)
	hash, err := b.catalog.FindHash(t, device)
	if err != nil || hash == "" {
		return ""
	}

	path := b.store.GetExistingFilepath(hash)
	if path == "" {
		if err := b.catalog.Delete(hash); err != nil {
			nlog.Warningln("ibuf: get-filepath: orphan self-heal:", err)
		} else {
			b.trackHealed()
		}
		return ""
	}
	return path
}

// Full reports whether the store's cached size exceeds its configured
// quota or the free space on its mount has fallen below 10%.
func (b *Buffer) Full() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.AboveQuota()
}

// PreserveRecord marks (tp, device) as never evictable.
func (b *Buffer) PreserveRecord(tp time.Time, device uint32) bool {
	return b.setKeep(tp, device, PreserveRecord)
}

// SetLowPriority marks (tp, device) as evictable first.
func (b *Buffer) SetLowPriority(tp time.Time, device uint32) bool {
	return b.setKeep(tp, device, DeleteIfFull)
}

// KeepIfPossible marks (tp, device) as evictable only when no
// DeleteIfFull candidate remains.
func (b *Buffer) KeepIfPossible(tp time.Time, device uint32) bool {
	return b.setKeep(tp, device, AttemptKeep)
}

func (b *Buffer) setKeep(tp time.Time, device uint32, keep catalog.Keep) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := chrono.SnapToMinute(tp)
	existed, err := b.catalog.SetKeep(t, device, keep)
	if err != nil {
		nlog.Errorln("ibuf: set-keep:", err)
		return false
	}
	return existed
}

// BulkPreserveRecord marks every tp in tps as never evictable for device.
func (b *Buffer) BulkPreserveRecord(tps []time.Time, device uint32) bool {
	return b.bulkSetKeep(tps, device, PreserveRecord)
}

// BulkSetLowPriority marks every tp in tps as evictable first for device.
func (b *Buffer) BulkSetLowPriority(tps []time.Time, device uint32) bool {
	return b.bulkSetKeep(tps, device, DeleteIfFull)
}

// BulkKeepIfPossible marks every tp in tps as evictable only when no
// DeleteIfFull candidate remains, for device.
func (b *Buffer) BulkKeepIfPossible(tps []time.Time, device uint32) bool {
	return b.bulkSetKeep(tps, device, AttemptKeep)
}

func (b *Buffer) bulkSetKeep(tps []time.Time, device uint32, keep catalog.Keep) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(tps) == 0 {
		return true
	}
	times := make([]uint64, len(tps))
	for i, tp := range tps {
		times[i] = chrono.SnapToMinute(tp)
	}
	ok, err := b.catalog.BulkSetKeep(times, device, keep)
	if err != nil {
		nlog.Errorln("ibuf: bulk-set-keep:", err)
		return false
	}
	return ok
}

// GetCatalog returns every catalog entry, grouped by device and hour
// bucket. Unlike every other Buffer method, catalog errors are
// propagated rather than swallowed: callers need to distinguish
// "empty" from "broken".
func (b *Buffer) GetCatalog() (CatalogView, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	records, err := b.catalog.SelectAll()
	if err != nil {
		return nil, err
	}
	return buildCatalogView(records), nil
}

// GetBufferDirectory returns the store's root path.
func (b *Buffer) GetBufferDirectory() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.store.GetBufferDirectory()
}

func (b *Buffer) trackPushed() {
	if b.stats == nil {
		return
	}
	b.stats.Pushes.Inc()
}

func (b *Buffer) trackRejected() {
	if b.stats == nil {
		return
	}
	b.stats.PushRejected.Inc()
}

func (b *Buffer) trackEvicted(n int) {
	if b.stats == nil || n == 0 {
		return
	}
	b.stats.Evictions.Add(float64(n))
}

func (b *Buffer) trackDeleted() {
	if b.stats == nil {
		return
	}
	b.stats.Deletes.Inc()
}

func (b *Buffer) trackHealed() {
	if b.stats == nil {
		return
	}
	b.stats.OrphansHealed.Inc()
}

func (b *Buffer) trackStoreBytes() {
	if b.stats == nil {
		return
	}
	b.stats.StoreBytes.Set(float64(b.store.Size()))
}
