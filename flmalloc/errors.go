// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import "github.com/cockroachdb/errors"

var (
	// ErrRegionTooSmall is returned by Init when the region cannot hold the
	// allocator header, the free list sentinel and one block header.
	ErrRegionTooSmall = errors.New(NAME + ": region too small")

	// ErrZeroSize is returned for zero sized allocation requests.
	ErrZeroSize = errors.New(NAME + ": zero size request")

	// ErrOutOfMemory means no free block is large enough for the request.
	ErrOutOfMemory = errors.New(NAME + ": out of memory")

	// ErrInvalidAddress means the address is not the payload start of any
	// block in the region.
	ErrInvalidAddress = errors.New(NAME + ": invalid address")

	// ErrAlreadyFree is returned when releasing a block that is already on
	// the free list.
	ErrAlreadyFree = errors.New(NAME + ": block already free")

	// ErrCorrupted is returned by Check when the region layout is broken.
	ErrCorrupted = errors.New(NAME + ": corrupted region")
)
