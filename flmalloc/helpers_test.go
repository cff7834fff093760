// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// newTestMalloc returns an allocator over a fresh region of size bytes,
// with full region checks after every operation.
func newTestMalloc(t testing.TB, size int) *FLMalloc {
	t.Helper()
	fm, err := New(make([]byte, size), FLChecks)
	require.NoError(t, err)
	return fm
}

type blockInfo struct {
	P    Addr
	Size uint64
	Free bool
}

func collectBlocks(t testing.TB, fm *FLMalloc) []blockInfo {
	t.Helper()
	var blocks []blockInfo
	err := fm.Walk(func(p Addr, size uint64, free bool) error {
		blocks = append(blocks, blockInfo{P: p, Size: size, Free: free})
		return nil
	})
	require.NoError(t, err)
	return blocks
}

// requireTiling checks that the walked blocks cover the region from the
// first block to the region end with no gap and no overlap.
func requireTiling(t testing.TB, fm *FLMalloc) {
	t.Helper()
	blocks := collectBlocks(t, fm)
	require.NotEmpty(t, blocks)
	require.Equal(t, payload(firstBlockAddr), blocks[0].P, "first block")
	for i := 1; i < len(blocks); i++ {
		prev := blocks[i-1]
		require.Equal(t, prev.P+Addr(prev.Size)+HeaderSize, blocks[i].P,
			"block %d does not start where block %d ends", i, i-1)
		require.False(t, prev.Free && blocks[i].Free,
			"adjacent free blocks %#x and %#x", prev.P, blocks[i].P)
	}
	last := blocks[len(blocks)-1]
	require.Equal(t, fm.Size(), uint64(last.P)+last.Size, "last block end")
	require.NoError(t, fm.Check())
}

// newFragmented returns an allocator whose free list holds blocks with the
// given payload sizes, in address order, each followed by a small allocated
// guard block, and then the free tail of the region.
// It returns the payload addresses of the free blocks.
func newFragmented(t testing.TB, regionSize int, sizes []uint64) (*FLMalloc, []Addr) {
	t.Helper()
	fm := newTestMalloc(t, regionSize)
	addrs := make([]Addr, 0, len(sizes))
	for _, sz := range sizes {
		p, err := fm.Alloc(sz)
		require.NoError(t, err)
		_, err = fm.Alloc(8) // guard
		require.NoError(t, err)
		addrs = append(addrs, p)
	}
	for _, p := range addrs {
		require.NoError(t, fm.Free(p))
	}
	require.Equal(t, len(sizes)+1, fm.FreeList().Len())
	return fm, addrs
}

// lastFree returns the last block of the free list.
func lastFree(fm *FLMalloc) Block {
	fl := fm.FreeList()
	var last Block
	for b, ok := fl.First(); ok; b, ok = fl.Next(b) {
		last = b
	}
	return last
}
