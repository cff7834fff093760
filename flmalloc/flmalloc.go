// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package flmalloc provides a malloc library managing a single, fixed size,
// caller supplied memory region with an address ordered free list.
//
// All the bookkeeping lives inside the region: an allocator header at
// offset 0, a zero sized free list sentinel right after it and one block
// header in front of every block payload. A block is free iff it is
// reachable from the sentinel. Blocks are split on allocation and merged
// with their free neighbours on release. The block used for an allocation
// is chosen by a pluggable Fit strategy (first-fit by default).
//
// A FLMalloc is not safe for concurrent use.
package flmalloc

import (
	"github.com/cockroachdb/errors"
)

const NAME = "flmalloc"

// MUsed contains the flmalloc memory usage statistics.
type MUsed struct {
	Used        uint64 // total payload size handed out
	RealUsed    uint64 // real size = Used + all header overhead
	MaxRealUsed uint64
}

// Options encodes various configuration flags for FLMalloc.
type Options uint32

const (
	FLDebug          Options = 1 << iota // log every operation
	FLChecks                             // verify the whole region after each change
	FLDefaultOptions Options = 0
)

// FLMalloc is a handle for one managed region.
type FLMalloc struct {
	options Options
	fit     Fit
	used    MUsed // statistics

	mem []byte // the managed region
}

// Debug returns true if malloc debugging is turned on.
func (fm *FLMalloc) Debug() bool { return fm.options&FLDebug != 0 }

// BChecks returns true if full region checks are turned on.
func (fm *FLMalloc) BChecks() bool { return fm.options&FLChecks != 0 }

// addUsed increases the "used" stats with the given payload size.
func (fm *FLMalloc) addUsed(size uint64) {
	fm.used.Used += size
	fm.used.RealUsed += size
	if fm.used.MaxRealUsed < fm.used.RealUsed {
		fm.used.MaxRealUsed = fm.used.RealUsed
	}
}

// subUsed subtracts size from the "used" stats.
func (fm *FLMalloc) subUsed(size uint64) {
	fm.used.Used -= size
	fm.used.RealUsed -= size
}

// addOverhead accounts for a new block header.
func (fm *FLMalloc) addOverhead(o uint64) {
	fm.used.RealUsed += o
	if fm.used.MaxRealUsed < fm.used.RealUsed {
		fm.used.MaxRealUsed = fm.used.RealUsed
	}
}

// subOverhead accounts for a block header reclaimed by a merge.
func (fm *FLMalloc) subOverhead(o uint64) {
	fm.used.RealUsed -= o
}

// MUsage returns current memory usage values.
func (fm *FLMalloc) MUsage() MUsed {
	return fm.used
}

// Size returns the managed region size.
func (fm *FLMalloc) Size() uint64 {
	return uint64(fm.end())
}

// Available returns how many payload bytes are free. Because of
// fragmentation an allocation of Available() bytes can still fail.
func (fm *FLMalloc) Available() uint64 {
	return fm.Size() - fm.used.RealUsed
}

// New returns a FLMalloc managing mem. See Init.
func New(mem []byte, options Options) (*FLMalloc, error) {
	fm := &FLMalloc{}
	if err := fm.Init(mem, options); err != nil {
		return nil, err
	}
	return fm, nil
}

// Init takes ownership of mem and sets up an empty allocator in it:
// the allocator header, the free list sentinel and a single free block
// spanning the rest of the region. Previous contents are overwritten.
// The fit strategy is reset to first-fit.
// The caller must not touch mem outside of allocated payloads afterwards.
func (fm *FLMalloc) Init(mem []byte, options Options) error {
	size := uint64(len(mem))
	if size < MinRegionSize {
		return errors.Wrapf(ErrRegionTooSmall, "%d bytes, need at least %d",
			size, MinRegionSize)
	}
	*fm = FLMalloc{} // zero, in case of re-init
	fm.mem = mem
	fm.options = options

	putWord(mem, hdrSizeOffs, size)
	fm.setBlkSize(sentinelAddr, 0)
	fm.setBlkNext(sentinelAddr, firstBlockAddr)
	fm.setBlkSize(firstBlockAddr, size-hdrSizeof-2*blkSizeof)
	fm.setBlkNext(firstBlockAddr, NilAddr)
	fm.addOverhead(hdrSizeof + 2*blkSizeof)
	fm.SetFit(FitFirst)

	if fm.Debug() {
		DBG("init: region %d bytes, first free block %#x size %d\n",
			size, uint64(firstBlockAddr), fm.blkSize(firstBlockAddr))
	}
	return nil
}

// SetFit installs the fit strategy used by the next allocations.
// A nil f restores first-fit.
func (fm *FLMalloc) SetFit(f Fit) {
	if f == nil {
		f = FitFirst
	}
	fm.fit = f
	var code StdFit
	if sf, ok := f.(StdFit); ok {
		code = sf
	}
	putWord(fm.mem, hdrFitOffs, uint64(code))
}

// Fit returns the active fit strategy.
func (fm *FLMalloc) Fit() Fit {
	return fm.fit
}

// FreeList returns a read-only view of the current free list.
func (fm *FLMalloc) FreeList() FreeList {
	return FreeList{fm: fm}
}

// Owns returns whether p lies inside the block area of the region.
func (fm *FLMalloc) Owns(p Addr) bool {
	return p >= payload(firstBlockAddr) && p < fm.end()
}

// freePrev returns the free list predecessor of the free block b or
// NilAddr if b is not on the free list.
func (fm *FLMalloc) freePrev(b Addr) Addr {
	for prev := sentinelAddr; ; {
		n := fm.blkNext(prev)
		if n == NilAddr {
			return NilAddr
		}
		if n == b {
			return prev
		}
		prev = n
	}
}

// isFree returns true if the block header b is on the free list.
// The list is address ordered, so the scan stops once it passes b.
// Stale link bytes in allocated blocks are never looked at.
func (fm *FLMalloc) isFree(b Addr) bool {
	for f := fm.blkNext(sentinelAddr); f != NilAddr && f <= b; f = fm.blkNext(f) {
		if f == b {
			return true
		}
	}
	return false
}

// isBlock returns true if p is the payload start of a block in the region.
func (fm *FLMalloc) isBlock(p Addr) bool {
	if !fm.Owns(p) {
		return false
	}
	end := fm.end()
	for b := firstBlockAddr; b+blkSizeof <= end; b = fm.blkEnd(b) {
		if payload(b) == p {
			return true
		}
		if payload(b) > p {
			return false
		}
	}
	return false
}

// allocatedBlock returns the header of the allocated block starting at p.
func (fm *FLMalloc) allocatedBlock(p Addr) (Addr, error) {
	if !fm.isBlock(p) {
		return NilAddr, errors.Wrapf(ErrInvalidAddress, "%#x", uint64(p))
	}
	b := header(p)
	if fm.isFree(b) {
		return NilAddr, errors.Wrapf(ErrAlreadyFree, "%#x", uint64(p))
	}
	return b, nil
}

// takeFree removes the free block b (with free list predecessor prev) from
// the list, handing out size bytes of it. If the remainder is big enough to
// hold a block header and some payload, it becomes a new free block in b's
// list position, otherwise the whole block is used.
func (fm *FLMalloc) takeFree(prev, b Addr, size uint64) {
	bSize := fm.blkSize(b)
	next := fm.blkNext(b)
	if bSize <= size+blkSizeof {
		// remainder too small, no split
		fm.setBlkNext(prev, next)
	} else {
		n := b + blkSizeof + Addr(size)
		fm.setBlkSize(n, bSize-blkSizeof-size)
		fm.setBlkNext(n, next)
		fm.setBlkNext(prev, n)
		fm.setBlkSize(b, size)
		fm.addOverhead(blkSizeof)
	}
	fm.setBlkNext(b, NilAddr)
	fm.addUsed(fm.blkSize(b))
}

// linkFree inserts the block b in the free list, keeping the list address
// ordered, and merges it with the physically adjacent free blocks.
// It returns the header of the resulting free block.
func (fm *FLMalloc) linkFree(b Addr) Addr {
	prev := sentinelAddr
	for n := fm.blkNext(prev); n != NilAddr && n < b; n = fm.blkNext(prev) {
		prev = n
	}
	fm.setBlkNext(b, fm.blkNext(prev))
	fm.setBlkNext(prev, b)

	// join with the previous block
	if prev != sentinelAddr && fm.blkEnd(prev) == b {
		fm.setBlkSize(prev, fm.blkSize(prev)+blkSizeof+fm.blkSize(b))
		fm.setBlkNext(prev, fm.blkNext(b))
		fm.subOverhead(blkSizeof)
		b = prev
	}
	// join with the next block
	if n := fm.blkNext(b); n != NilAddr && fm.blkEnd(b) == n {
		fm.setBlkSize(b, fm.blkSize(b)+blkSizeof+fm.blkSize(n))
		fm.setBlkNext(b, fm.blkNext(n))
		fm.subOverhead(blkSizeof)
	}
	return b
}

// shrink cuts the allocated block b down to size bytes if the cut off tail
// can hold a block header and some payload. The tail is released.
func (fm *FLMalloc) shrink(b Addr, size uint64) {
	cur := fm.blkSize(b)
	if cur <= size+blkSizeof {
		return
	}
	fm.setBlkSize(b, size)
	n := fm.blkEnd(b)
	fm.setBlkSize(n, cur-size-blkSizeof)
	fm.subUsed(cur - size)
	fm.addOverhead(blkSizeof)
	fm.linkFree(n)
}

// verify runs the full region check when FLChecks is set.
func (fm *FLMalloc) verify(op string) {
	if !fm.BChecks() {
		return
	}
	if err := fm.Check(); err != nil {
		fm.dumpStatus()
		PANIC("BUG: region check failed after %s: %v\n", op, err)
	}
}

// Alloc allocates size bytes and returns the payload address.
// It fails with ErrZeroSize or ErrOutOfMemory. A failed allocation does not
// change the allocator state.
func (fm *FLMalloc) Alloc(size uint64) (Addr, error) {
	if size == 0 {
		return NilAddr, ErrZeroSize
	}
	blk, ok := fm.fit.Select(fm.FreeList(), size)
	if !ok {
		if fm.Debug() {
			DBG("malloc(%d): no fit\n", size)
		}
		return NilAddr, errors.Wrapf(ErrOutOfMemory, "%d bytes requested", size)
	}
	b := blk.Hdr
	prev := fm.freePrev(b)
	if prev == NilAddr || fm.blkSize(b) < size {
		PANIC("BUG: fit strategy %v returned unusable block %#x (size %d)"+
			" for %d bytes\n", fm.fit, uint64(b), blk.Size, size)
	}
	fm.takeFree(prev, b, size)
	if fm.Debug() {
		DBG("malloc(%d) = %#x (block size %d)\n",
			size, uint64(payload(b)), fm.blkSize(b))
	}
	fm.verify("malloc")
	return payload(b), nil
}

// Malloc allocates size bytes of memory and returns its address.
// On failure (out of memory or size 0) it returns NilAddr.
func (fm *FLMalloc) Malloc(size uint64) Addr {
	p, _ := fm.Alloc(size)
	return p
}

// Free releases the block whose payload starts at p and merges it with its
// free neighbours. An address that is not a block payload start fails with
// ErrInvalidAddress and a block that is already free with ErrAlreadyFree;
// in both cases nothing is changed.
func (fm *FLMalloc) Free(p Addr) error {
	b, err := fm.allocatedBlock(p)
	if err != nil {
		if WARNon() {
			WARN("free(%#x): %v\n", uint64(p), err)
		}
		return err
	}
	fm.subUsed(fm.blkSize(b))
	f := fm.linkFree(b)
	if fm.Debug() {
		DBG("free(%#x): free block %#x size %d\n",
			uint64(p), uint64(f), fm.blkSize(f))
	}
	fm.verify("free")
	return nil
}

// Realloc grows or shrinks the block at p to size bytes.
// A NilAddr p is an Alloc, a zero size is a Free.
// Shrinking and growing into a free following block happen in place.
// Otherwise a new block is allocated, the old contents copied over and the
// old block released. On failure the original block is left untouched.
func (fm *FLMalloc) Realloc(p Addr, size uint64) (Addr, error) {
	if p == NilAddr {
		return fm.Alloc(size)
	}
	if size == 0 {
		return NilAddr, fm.Free(p)
	}
	b, err := fm.allocatedBlock(p)
	if err != nil {
		return NilAddr, err
	}
	cur := fm.blkSize(b)
	switch {
	case size < cur:
		fm.shrink(b, size)
	case size > cur:
		n := fm.blkEnd(b)
		if n+blkSizeof <= fm.end() && fm.isFree(n) &&
			cur+blkSizeof+fm.blkSize(n) >= size {
			nSize := fm.blkSize(n)
			fm.setBlkNext(fm.freePrev(n), fm.blkNext(n))
			fm.setBlkSize(b, cur+blkSizeof+nSize)
			fm.subOverhead(blkSizeof)
			fm.addUsed(blkSizeof + nSize)
			fm.shrink(b, size)
			break
		}
		np, err := fm.Alloc(size)
		if err != nil {
			return NilAddr, err
		}
		copy(fm.mem[np:np+Addr(cur)], fm.mem[p:p+Addr(cur)])
		fm.subUsed(cur)
		fm.linkFree(b)
		p = np
	}
	if fm.Debug() {
		DBG("realloc(%d) = %#x (block size %d)\n",
			size, uint64(p), fm.blkSize(header(p)))
	}
	fm.verify("realloc")
	return p, nil
}

// GetSize returns the usable payload size of the allocated block at p.
// The result is meaningless if p is not a payload address returned by
// Alloc, Malloc or Realloc.
func (fm *FLMalloc) GetSize(p Addr) uint64 {
	if !fm.Owns(p) {
		return 0
	}
	return fm.blkSize(header(p))
}

// Bytes returns the payload of the block at p as a slice of the region.
// The slice is only valid until the block is released.
func (fm *FLMalloc) Bytes(p Addr) []byte {
	size := fm.GetSize(p)
	if size == 0 || p+Addr(size) > fm.end() {
		return nil
	}
	return fm.mem[p : p+Addr(size) : p+Addr(size)]
}
