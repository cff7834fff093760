// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"fmt"

	"github.com/intuitivelabs/slog"
)

// DumpStatus writes current status information in the debug log.
func (fm *FLMalloc) DumpStatus() {
	fm.dumpStatus()
}

func (fm *FLMalloc) dumpStatus() {
	const lev = slog.LDBG
	const prefix = "fl_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", fm)
	if fm == nil || fm.mem == nil {
		return
	}
	Log.LLog(lev, 0, prefix, "heap size= %d fit= %s\n", fm.Size(), fitName(fm.fit))
	Log.LLog(lev, 0, prefix, "used= %d, used+overhead=%d, free=%d\n",
		fm.used.Used, fm.used.RealUsed, fm.Available())
	Log.LLog(lev, 0, prefix, "max used (+overhead)= %d\n",
		fm.used.MaxRealUsed)
	Log.LLog(lev, 0, prefix, "dumping all blocks:\n")
	i := 0
	_ = fm.Walk(func(p Addr, size uint64, free bool) error {
		state := "used"
		if free {
			state = "free"
		}
		Log.LLog(lev, 0, prefix, "   %3d.    address=%#x size=%d %s\n",
			i, uint64(p), size, state)
		i++
		return nil
	})
	Log.LLog(lev, 0, prefix, "free blocks: %d\n", fm.FreeList().Len())
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}

// fitName returns a printable name for a fit strategy.
func fitName(f Fit) string {
	if s, ok := f.(fmt.Stringer); ok {
		return s.String()
	}
	return "custom"
}
