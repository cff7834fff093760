// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"github.com/cockroachdb/errors"
)

// VisitFunc is called by Walk for each block.
type VisitFunc func(p Addr, size uint64, free bool) error

// Walk calls visit for every block with a nonzero size, in ascending address
// order, with the block payload address, its payload size and whether it is
// on the free list. It stops at the first error returned by visit and
// returns it. Walk does not modify the region.
func (fm *FLMalloc) Walk(visit VisitFunc) error {
	end := fm.end()
	// the free list is address ordered: walk it in step with the blocks
	f := fm.blkNext(sentinelAddr)
	for b := firstBlockAddr; b+blkSizeof <= end; b = fm.blkEnd(b) {
		for f != NilAddr && f < b {
			f = fm.blkNext(f)
		}
		size := fm.blkSize(b)
		if size == 0 {
			continue
		}
		if err := visit(payload(b), size, f == b); err != nil {
			return err
		}
	}
	return nil
}

// Stats holds a summary of the region layout.
type Stats struct {
	Blocks      int    // number of blocks
	FreeBlocks  int    // number of free blocks
	UsedBytes   uint64 // payload bytes of allocated blocks
	FreeBytes   uint64 // payload bytes of free blocks
	LargestFree uint64 // largest free payload
}

// Stats walks the region and returns its layout summary.
func (fm *FLMalloc) Stats() (s Stats) {
	_ = fm.Walk(func(p Addr, size uint64, free bool) error {
		s.Blocks++
		if free {
			s.FreeBlocks++
			s.FreeBytes += size
			if size > s.LargestFree {
				s.LargestFree = size
			}
		} else {
			s.UsedBytes += size
		}
		return nil
	})
	return
}

// Check verifies the region layout: the allocator header, the sentinel,
// block headers tiling the region up to its end, the free list being
// strictly address ordered over real blocks and no two free blocks being
// physically adjacent. It also checks the usage statistics against the
// free list. The returned error wraps ErrCorrupted.
func (fm *FLMalloc) Check() error {
	end := fm.end()
	if uint64(end) != uint64(len(fm.mem)) {
		return errors.Wrapf(ErrCorrupted, "region size %d, header says %d",
			len(fm.mem), uint64(end))
	}
	if sz := fm.blkSize(sentinelAddr); sz != 0 {
		return errors.Wrapf(ErrCorrupted, "sentinel size %d", sz)
	}
	blocks := make(map[Addr]struct{})
	b := firstBlockAddr
	for b < end {
		if b+blkSizeof > end || fm.blkEnd(b) > end || fm.blkEnd(b) < b {
			return errors.Wrapf(ErrCorrupted,
				"block %#x (size %d) overruns region end %#x",
				uint64(b), fm.blkSize(b), uint64(end))
		}
		blocks[b] = struct{}{}
		b = fm.blkEnd(b)
	}
	if b != end {
		return errors.Wrapf(ErrCorrupted, "last block ends at %#x, region at %#x",
			uint64(b), uint64(end))
	}

	var free uint64
	prev := NilAddr
	for f := fm.blkNext(sentinelAddr); f != NilAddr; f = fm.blkNext(f) {
		if _, ok := blocks[f]; !ok {
			return errors.Wrapf(ErrCorrupted, "free list entry %#x is not a block",
				uint64(f))
		}
		if prev != NilAddr {
			if f <= prev {
				return errors.Wrapf(ErrCorrupted,
					"free list not ordered: %#x after %#x", uint64(f), uint64(prev))
			}
			if fm.blkEnd(prev) == f {
				return errors.Wrapf(ErrCorrupted,
					"adjacent free blocks %#x and %#x not merged",
					uint64(prev), uint64(f))
			}
		}
		free += fm.blkSize(f)
		prev = f
	}
	if free != fm.Available() {
		return errors.Wrapf(ErrCorrupted, "free list holds %d bytes, stats say %d",
			free, fm.Available())
	}
	return nil
}
