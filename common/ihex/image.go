//
// Copyright (c) 2014-2019 Cesanta Software Limited
// All rights reserved
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
package ihex

import (
	"bytes"
	"io"
	"os"

	"github.com/juju/errors"
)

type Image struct {
	Segments []*Segment
}

type Segment struct {
	Addr uint32
	Data []byte
}

// Size returns the number of bytes in all segments.
func (im *Image) Size() int {
	n := 0
	for _, s := range im.Segments {
		n += len(s.Data)
	}
	return n
}

// ReadImage decodes a whole file into contiguous segments. Gaps shorter than
// maxGapSize are filled with the fill byte, longer ones start a new segment.
func ReadImage(r io.Reader, fill byte, maxGapSize int) (*Image, error) {
	im := &Image{}
	d := NewDecoder(r)
	var curData []byte
	var partBase, curAddr uint32
	for {
		res, err := d.Next()
		if err == io.EOF {
			return nil, errors.Annotatef(ErrMalformed, "unexpected end of data")
		}
		if err != nil {
			return nil, errors.Trace(err)
		}
		switch res.Status {
		case StatusData:
			addr := res.Addr
			if curData != nil && addr != curAddr {
				// There is a discontinuity in data.
				gap := int(addr - curAddr)
				if addr > curAddr && gap < maxGapSize {
					curData = append(curData, bytes.Repeat([]byte{fill}, gap)...)
				} else {
					im.Segments = append(im.Segments, &Segment{Addr: partBase, Data: curData})
					curData = nil
				}
			}
			if curData == nil {
				partBase = addr
			}
			curData = append(curData, res.Data...)
			curAddr = addr + uint32(len(res.Data))
		case StatusEOF:
			if curData != nil {
				im.Segments = append(im.Segments, &Segment{Addr: partBase, Data: curData})
			}
			return im, nil
		}
	}
}

func ReadImageFile(fname string, fill byte, maxGapSize int) (*Image, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	im, err := ReadImage(bytes.NewReader(data), fill, maxGapSize)
	return im, errors.Annotatef(err, "%s", fname)
}
