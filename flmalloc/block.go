// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import "encoding/binary"

// Addr is a byte offset inside the managed region.
// The zero Addr never names a block (the allocator header lives there) and
// is used as "none", both for returned addresses and for free list links.
type Addr uint64

// NilAddr is the "none" address.
const NilAddr Addr = 0

const wordSize = 8

// block header layout: size (payload bytes), next free block header
const (
	blkSizeOffs = 0
	blkNextOffs = wordSize
	blkSizeof   = 2 * wordSize
)

// allocator header layout: region size, active built-in fit code
const (
	hdrSizeOffs = 0
	hdrFitOffs  = wordSize
	hdrSizeof   = 2 * wordSize
)

// fixed positions inside the region
const (
	sentinelAddr   Addr = hdrSizeof
	firstBlockAddr Addr = sentinelAddr + blkSizeof
	// MinRegionSize is the smallest region Init accepts.
	MinRegionSize = hdrSizeof + 2*blkSizeof
)

// HeaderSize is the per block overhead in bytes.
const HeaderSize = blkSizeof

func getWord(mem []byte, off Addr) uint64 {
	return binary.LittleEndian.Uint64(mem[off : off+wordSize])
}

func putWord(mem []byte, off Addr, v uint64) {
	binary.LittleEndian.PutUint64(mem[off:off+wordSize], v)
}

// blkSize returns the payload size recorded in the block header at b.
func (fm *FLMalloc) blkSize(b Addr) uint64 {
	return getWord(fm.mem, b+blkSizeOffs)
}

func (fm *FLMalloc) setBlkSize(b Addr, size uint64) {
	putWord(fm.mem, b+blkSizeOffs, size)
}

// blkNext returns the free list link of the block header at b.
// It is meaningful only for the sentinel and for blocks on the free list.
func (fm *FLMalloc) blkNext(b Addr) Addr {
	return Addr(getWord(fm.mem, b+blkNextOffs))
}

func (fm *FLMalloc) setBlkNext(b Addr, next Addr) {
	putWord(fm.mem, b+blkNextOffs, uint64(next))
}

// payload returns the usable address for the block header at b.
func payload(b Addr) Addr { return b + blkSizeof }

// header returns the block header address for the payload address p.
func header(p Addr) Addr { return p - blkSizeof }

// blkEnd returns the address right after the payload of b, which is where
// the physically next block header starts.
func (fm *FLMalloc) blkEnd(b Addr) Addr {
	return b + blkSizeof + Addr(fm.blkSize(b))
}

// end returns the region end (exclusive).
func (fm *FLMalloc) end() Addr {
	return Addr(getWord(fm.mem, hdrSizeOffs))
}
