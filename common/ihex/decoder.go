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
	"bufio"
	"io"
	"strings"

	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/common/multierror"
)

type Status int

const (
	StatusData Status = iota
	StatusAddrUpdate
	StatusEOF
)

func (s Status) String() string {
	switch s {
	case StatusData:
		return "data"
	case StatusAddrUpdate:
		return "address update"
	case StatusEOF:
		return "eof"
	}
	return "unknown"
}

// Result is one decoded line.
// For StatusData, Addr is the absolute address of Data.
// For StatusAddrUpdate, Addr is the new base address.
type Result struct {
	Status Status
	Addr   uint32
	Data   []byte
}

type Decoder struct {
	src    io.Reader
	r      *bufio.Reader
	base   uint32
	lineNo int
	// Set when the underlying reader fails.
	readErr error

	// MaxPayload, if non-zero, limits the size of a data record.
	MaxPayload int
}

func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{src: r, r: bufio.NewReader(r)}
}

// Line returns the number of the line last returned by Next.
func (d *Decoder) Line() int {
	return d.lineNo
}

// Next decodes the next non-empty line. At the end of the stream it returns
// io.EOF unwrapped; a well-formed file ends with a StatusEOF result before that.
// A line error does not stop the decoder, the following call moves on to the
// next line.
func (d *Decoder) Next() (*Result, error) {
	for {
		line, err := d.r.ReadString('\n')
		if err != nil && err != io.EOF {
			d.readErr = errors.Annotatef(err, "line %d", d.lineNo+1)
			return nil, d.readErr
		}
		if len(line) == 0 && err == io.EOF {
			return nil, io.EOF
		}
		d.lineNo++
		if len(strings.TrimSpace(line)) == 0 {
			continue
		}
		res, perr := d.decode(line)
		if perr != nil {
			return nil, errors.Annotatef(perr, "line %d", d.lineNo)
		}
		return res, nil
	}
}

func (d *Decoder) decode(line string) (*Result, error) {
	rec, err := ParseRecord(line)
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch rec.Type {
	case RecordData:
		if int(rec.Offset)+len(rec.Data) > segmentSize {
			return nil, errors.Annotatef(ErrOverflow, "record at 0x%04X crosses the segment end", rec.Offset)
		}
		if d.MaxPayload > 0 && len(rec.Data) > d.MaxPayload {
			return nil, errors.Annotatef(ErrOverflow, "payload of %d bytes, max %d", len(rec.Data), d.MaxPayload)
		}
		return &Result{Status: StatusData, Addr: d.base + uint32(rec.Offset), Data: rec.Data}, nil
	case RecordEOF:
		if len(rec.Data) != 0 {
			return nil, errors.Annotatef(ErrMalformed, "end of file record with payload")
		}
		return &Result{Status: StatusEOF}, nil
	case RecordExtLinearAddr:
		if len(rec.Data) != 2 {
			return nil, errors.Annotatef(ErrMalformed, "invalid extended linear address")
		}
		d.base = (uint32(rec.Data[0])<<8 | uint32(rec.Data[1])) << 16
		return &Result{Status: StatusAddrUpdate, Addr: d.base, Data: rec.Data}, nil
	}
	return nil, errors.Annotatef(ErrUnsupportedRecordType, "%s", rec.Type)
}

// Rewind moves back to the start of the stream. The underlying reader must
// be an io.Seeker.
func (d *Decoder) Rewind() error {
	s, ok := d.src.(io.Seeker)
	if !ok {
		return errors.NotSupportedf("rewinding a non-seekable stream")
	}
	if _, err := s.Seek(0, io.SeekStart); err != nil {
		return errors.Trace(err)
	}
	d.r.Reset(d.src)
	d.base = 0
	d.lineNo = 0
	d.readErr = nil
	return nil
}

// Check validates the whole stream and rewinds it. All line errors are
// reported together.
func (d *Decoder) Check() error {
	if err := d.Rewind(); err != nil {
		return errors.Trace(err)
	}
	var errs error
	eof := false
	for !eof {
		res, err := d.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs = multierror.Append(errs, err)
			if d.readErr != nil {
				break
			}
			continue
		}
		eof = (res.Status == StatusEOF)
	}
	if !eof && errs == nil {
		errs = errors.Annotatef(ErrMalformed, "unexpected end of data")
	}
	if err := d.Rewind(); err != nil {
		return errors.Trace(err)
	}
	return errs
}
