// Copyright 2021 Intuitive Labs GmbH. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package flmalloc

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// WriteJSON writes a detailed map of the region as a JSON object:
// the region size and usage, the active fit and every block in address
// order.
func (fm *FLMalloc) WriteJSON(w *jwriter.Writer) {
	obj := w.Object()
	obj.Name("size").Int(int(fm.Size()))
	obj.Name("headerSize").Int(HeaderSize)
	obj.Name("fit").String(fitName(fm.fit))
	obj.Name("used").Int(int(fm.used.Used))
	obj.Name("realUsed").Int(int(fm.used.RealUsed))
	obj.Name("available").Int(int(fm.Available()))

	arr := obj.Name("blocks").Array()
	_ = fm.Walk(func(p Addr, size uint64, free bool) error {
		b := w.Object()
		b.Name("addr").Int(int(p))
		b.Name("size").Int(int(size))
		b.Name("free").Bool(free)
		b.End()
		return nil
	})
	arr.End()
	obj.End()
}

// DumpJSON returns the WriteJSON output.
func (fm *FLMalloc) DumpJSON() ([]byte, error) {
	w := jwriter.NewWriter()
	fm.WriteJSON(&w)
	if err := w.Error(); err != nil {
		return nil, err
	}
	return w.Bytes(), nil
}
