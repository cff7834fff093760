// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

// Block is a snapshot of a free block header, handed to fit strategies.
type Block struct {
	Hdr  Addr   // block header address
	Size uint64 // usable payload size
}

// Addr returns the payload address of the block.
func (b Block) Addr() Addr { return payload(b.Hdr) }

// FreeList is a read-only view of the free list, in list order.
// The sentinel is never returned.
type FreeList struct {
	fm *FLMalloc
}

// First returns the first real free block.
func (fl FreeList) First() (Block, bool) {
	return fl.at(fl.fm.blkNext(sentinelAddr))
}

// Next returns the free block following b in the list.
func (fl FreeList) Next(b Block) (Block, bool) {
	return fl.at(fl.fm.blkNext(b.Hdr))
}

// Len returns the number of free blocks.
func (fl FreeList) Len() int {
	n := 0
	for b, ok := fl.First(); ok; b, ok = fl.Next(b) {
		n++
	}
	return n
}

func (fl FreeList) at(h Addr) (Block, bool) {
	if h == NilAddr {
		return Block{}, false
	}
	return Block{Hdr: h, Size: fl.fm.blkSize(h)}, true
}

// Fit selects the free block used to satisfy an allocation request.
// Select must not modify the list and must return a block with
// Size >= size, or false if none qualifies.
type Fit interface {
	Select(fl FreeList, size uint64) (Block, bool)
}

// FitFunc adapts an ordinary function to the Fit interface.
type FitFunc func(fl FreeList, size uint64) (Block, bool)

// Select calls f(fl, size).
func (f FitFunc) Select(fl FreeList, size uint64) (Block, bool) {
	return f(fl, size)
}

// StdFit enumerates the built-in fit strategies. The value is also what gets
// recorded in the allocator header (0 is reserved for custom strategies).
type StdFit uint8

const (
	FitFirst StdFit = iota + 1
	FitBest
	FitWorst
)

var stdFitNames = map[StdFit]string{
	FitFirst: "first-fit",
	FitBest:  "best-fit",
	FitWorst: "worst-fit",
}

func (f StdFit) String() string {
	s, ok := stdFitNames[f]
	if !ok {
		return "unknown fit"
	}
	return s
}

// Select implements Fit.
func (f StdFit) Select(fl FreeList, size uint64) (Block, bool) {
	switch f {
	case FitFirst:
		return firstFit(fl, size)
	case FitBest:
		return bestFit(fl, size)
	case FitWorst:
		return worstFit(fl, size)
	}
	PANIC("BUG: unknown fit strategy %d\n", uint8(f))
	return Block{}, false
}

// firstFit returns the first block in list order that is big enough.
func firstFit(fl FreeList, size uint64) (Block, bool) {
	for b, ok := fl.First(); ok; b, ok = fl.Next(b) {
		if b.Size >= size {
			return b, true
		}
	}
	return Block{}, false
}

// bestFit returns the qualifying block with the smallest oversize.
// Ties go to the first one found.
func bestFit(fl FreeList, size uint64) (Block, bool) {
	var best Block
	found := false
	for b, ok := fl.First(); ok; b, ok = fl.Next(b) {
		if b.Size < size {
			continue
		}
		if !found || b.Size < best.Size {
			best = b
			found = true
			if b.Size == size {
				break // exact match, cannot do better
			}
		}
	}
	return best, found
}

// worstFit returns the qualifying block with the largest oversize.
// Ties go to the first one found.
func worstFit(fl FreeList, size uint64) (Block, bool) {
	var worst Block
	found := false
	for b, ok := fl.First(); ok; b, ok = fl.Next(b) {
		if b.Size < size {
			continue
		}
		if !found || b.Size > worst.Size {
			worst = b
			found = true
		}
	}
	return worst, found
}
