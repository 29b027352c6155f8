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
	"strings"
	"testing"
)

type sTestCase struct {
	addr uint32
	data string
}

func TestReadImage(t *testing.T) {
	cases := []struct {
		data     string
		fail     bool
		maxGap   int
		segments []*sTestCase
	}{
		// 0
		{data: "", fail: true},
		// 1
		{data: `
:040000004F484149DB
:00000001FF
`,
			segments: []*sTestCase{
				&sTestCase{addr: 0, data: "OHAI"},
			},
		},
		// 2 - linear address
		{data: `
:020000040800F2
:040000004F484149DB
:00000001FF
`,
			segments: []*sTestCase{
				&sTestCase{addr: 0x8000000, data: "OHAI"},
			},
		},
		// 3 - segment address is not supported
		{data: `
:020000021000EC
:040000004F484149DB
:00000001FF
`,
			fail: true,
		},
		// 4 - start linear address is not supported
		{data: `
:040000004F484149DB
:04000005000123458E
:00000001FF
`,
			fail: true,
		},
		// 5 - continuation across a segment boundary
		{data: `
:10FFF0004F4D474F4D474F4D474F4D474F4D472171
:020000040001F9
:10000000575446575446575446575446575446211A
:10001000575446575446575446575446575446210A
:00000001FF
`,
			segments: []*sTestCase{
				&sTestCase{addr: 0xfff0, data: "OMGOMGOMGOMGOMG!WTFWTFWTFWTFWTF!WTFWTFWTFWTFWTF!"},
			},
		},
		// 6 - separate segments
		{data: `
:10FFF0004F4D474F4D474F4D474F4D474F4D472171
:020000040001F9
:10000000575446575446575446575446575446211A
:020000040003F7
:030000002121219A
:00000001FF
`,
			segments: []*sTestCase{
				&sTestCase{addr: 0xfff0, data: "OMGOMGOMGOMGOMG!WTFWTFWTFWTFWTF!"},
				&sTestCase{addr: 0x30000, data: "!!!"},
			},
		},
		// 7 - small gap is filled
		{data: `
:040000004F484149DB
:040008004F484149D3
:00000001FF
`,
			maxGap: 16,
			segments: []*sTestCase{
				&sTestCase{addr: 0, data: "OHAI\xff\xff\xff\xffOHAI"},
			},
		},
		// 8 - no end of file record
		{data: `
:040000004F484149DB
`,
			fail: true,
		},
		// 9 - bad checksum
		{data: `
:040000004F484149DC
:00000001FF
`,
			fail: true,
		},
	}

	for i, c := range cases {
		im, err := ReadImage(strings.NewReader(c.data), 0xff, c.maxGap)
		if c.fail {
			if err == nil {
				t.Fatalf("%d: %s: expected failure, got %#v", i, c.data, im)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%d: got error: %s", i, err)
		}
		if len(im.Segments) != len(c.segments) {
			t.Fatalf("%d: invalid number of segments: expected %d, got %d", i, len(c.segments), len(im.Segments))
		}
		for si, cs := range c.segments {
			s := im.Segments[si]
			if s.Addr != cs.addr {
				t.Fatalf("%d: %d: invalid address: expected 0x%x, got 0x%x", i, si, cs.addr, s.Addr)
			}
			if !bytes.Equal(s.Data, []byte(cs.data)) {
				t.Fatalf("%d: %d: invalid data: expected %q, got %q", i, si, cs.data, string(s.Data))
			}
		}
	}
}
