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
	"fmt"
	"io"

	"github.com/juju/errors"
)

// Encoder writes data records at consecutive addresses, starting from the
// address it was created with.
type Encoder struct {
	w     io.Writer
	addr  uint32
	upper uint16
}

func NewEncoder(w io.Writer, startAddr uint32) *Encoder {
	return &Encoder{w: w, addr: startAddr}
}

// Addr returns the address of the next byte to be written.
func (e *Encoder) Addr() uint32 {
	return e.addr
}

func (e *Encoder) emit(r *Record) error {
	_, err := fmt.Fprintf(e.w, "%s\r\n", r)
	return errors.Trace(err)
}

// WriteRecord writes a single data record with as much of data as fits:
// at most MaxDataLen bytes and never past the end of the current 64K segment.
// An extended linear address record is written first if the upper 16 bits of
// the address changed. Returns the number of bytes consumed.
func (e *Encoder) WriteRecord(data []byte) (int, error) {
	n := len(data)
	if n > MaxDataLen {
		n = MaxDataLen
	}
	if room := segmentSize - int(e.addr&0xffff); n > room {
		n = room
	}
	if upper := uint16(e.addr >> 16); upper != e.upper {
		if err := e.emit(&Record{
			Type: RecordExtLinearAddr,
			Data: []byte{byte(upper >> 8), byte(upper)},
		}); err != nil {
			return 0, errors.Trace(err)
		}
		e.upper = upper
	}
	if err := e.emit(&Record{
		Type:   RecordData,
		Offset: uint16(e.addr),
		Data:   data[:n],
	}); err != nil {
		return 0, errors.Trace(err)
	}
	e.addr += uint32(n)
	return n, nil
}

// Write splits data into as many records as needed.
func (e *Encoder) Write(data []byte) (int, error) {
	written := 0
	for written < len(data) {
		n, err := e.WriteRecord(data[written:])
		written += n
		if err != nil {
			return written, errors.Trace(err)
		}
	}
	return written, nil
}

// Close writes the end of file record. It does not close the underlying writer.
func (e *Encoder) Close() error {
	return e.emit(&Record{Type: RecordEOF})
}
