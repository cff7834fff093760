// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRealloc_NilAndZero(t *testing.T) {
	fm := newTestMalloc(t, 1000)
	p, err := fm.Realloc(NilAddr, 10)
	require.NoError(t, err)
	assert.Equal(t, payload(firstBlockAddr), p)
	assert.Equal(t, uint64(10), fm.GetSize(p))

	q, err := fm.Realloc(p, 0)
	require.NoError(t, err)
	assert.Equal(t, NilAddr, q)
	assert.Equal(t, []blockInfo{{P: 48, Size: 952, Free: true}}, collectBlocks(t, fm))
}

func TestRealloc_Shrink(t *testing.T) {
	fm := newTestMalloc(t, 1000)
	a := fm.Malloc(200)
	guard := fm.Malloc(10)
	require.NotEqual(t, NilAddr, guard)

	p, err := fm.Realloc(a, 100)
	require.NoError(t, err)
	assert.Equal(t, a, p)
	assert.Equal(t, []blockInfo{
		{P: 48, Size: 100, Free: false},
		{P: 164, Size: 84, Free: true},
		{P: 264, Size: 10, Free: false},
		{P: 290, Size: 710, Free: true},
	}, collectBlocks(t, fm))
	requireTiling(t, fm)
}

func TestRealloc_ShrinkTooLittleKeepsBlock(t *testing.T) {
	fm := newTestMalloc(t, 1000)
	a := fm.Malloc(200)
	p, err := fm.Realloc(a, 190)
	require.NoError(t, err)
	assert.Equal(t, a, p)
	assert.Equal(t, uint64(200), fm.GetSize(p))
}

func TestRealloc_ShrinkMergesWithFreeNeighbour(t *testing.T) {
	fm := newTestMalloc(t, 1000)
	a := fm.Malloc(200)
	p, err := fm.Realloc(a, 100)
	require.NoError(t, err)
	assert.Equal(t, []blockInfo{
		{P: 48, Size: 100, Free: false},
		{P: 164, Size: 836, Free: true},
	}, collectBlocks(t, fm))
	assert.Equal(t, uint64(836), fm.Available())
	requireTiling(t, fm)
	require.NoError(t, fm.Free(p))
}

func TestRealloc_GrowInPlace(t *testing.T) {
	fm := newTestMalloc(t, 1000)
	a := fm.Malloc(100)
	b := fm.Malloc(100)
	guard := fm.Malloc(10)
	require.NotEqual(t, NilAddr, guard)
	require.NoError(t, fm.Free(b))

	copy(fm.Bytes(a), []byte("keep me"))
	p, err := fm.Realloc(a, 150)
	require.NoError(t, err)
	assert.Equal(t, a, p)
	assert.Equal(t, []byte("keep me"), fm.Bytes(p)[:7])
	assert.Equal(t, []blockInfo{
		{P: 48, Size: 150, Free: false},
		{P: 214, Size: 50, Free: true},
		{P: 280, Size: 10, Free: false},
		{P: 306, Size: 694, Free: true},
	}, collectBlocks(t, fm))
	requireTiling(t, fm)
}

func TestRealloc_GrowAbsorbsWholeNeighbour(t *testing.T) {
	fm := newTestMalloc(t, 1000)
	a := fm.Malloc(100)
	b := fm.Malloc(100)
	guard := fm.Malloc(10)
	require.NotEqual(t, NilAddr, guard)
	require.NoError(t, fm.Free(b))

	p, err := fm.Realloc(a, 210)
	require.NoError(t, err)
	assert.Equal(t, a, p)
	assert.Equal(t, uint64(216), fm.GetSize(p))
	assert.Equal(t, 1, fm.FreeList().Len())
	requireTiling(t, fm)
}

func TestRealloc_Move(t *testing.T) {
	fm := newTestMalloc(t, 1000)
	a := fm.Malloc(100)
	guard := fm.Malloc(10)
	require.NotEqual(t, NilAddr, guard)
	buf := fm.Bytes(a)
	for i := range buf {
		buf[i] = byte(i)
	}

	p, err := fm.Realloc(a, 300)
	require.NoError(t, err)
	assert.NotEqual(t, a, p)
	assert.Equal(t, uint64(300), fm.GetSize(p))
	moved := fm.Bytes(p)
	for i := 0; i < 100; i++ {
		require.Equal(t, byte(i), moved[i])
	}
	blocks := collectBlocks(t, fm)
	require.Len(t, blocks, 4)
	assert.Equal(t, blockInfo{P: a, Size: 100, Free: true}, blocks[0])
	assert.Equal(t, blockInfo{P: p, Size: 300, Free: false}, blocks[2])
	requireTiling(t, fm)
}

func TestRealloc_FailureKeepsBlock(t *testing.T) {
	fm := newTestMalloc(t, 1000)
	a := fm.Malloc(100)
	guard := fm.Malloc(10)
	require.NotEqual(t, NilAddr, guard)
	before := collectBlocks(t, fm)

	p, err := fm.Realloc(a, 5000)
	assert.True(t, errors.Is(err, ErrOutOfMemory))
	assert.Equal(t, NilAddr, p)
	assert.Equal(t, before, collectBlocks(t, fm))
	assert.Equal(t, uint64(100), fm.GetSize(a))
}

func TestRealloc_BadAddress(t *testing.T) {
	fm := newTestMalloc(t, 1000)
	a := fm.Malloc(100)
	_, err := fm.Realloc(a+4, 10)
	assert.True(t, errors.Is(err, ErrInvalidAddress))

	require.NoError(t, fm.Free(a))
	_, err = fm.Realloc(a, 10)
	assert.True(t, errors.Is(err, ErrAlreadyFree))
}
