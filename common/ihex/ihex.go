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

// Package ihex reads and writes Intel HEX files in the 32-bit (I32HEX) flavour:
// data, end of file and extended linear address records.
package ihex

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/juju/errors"
)

type RecordType uint8

const (
	RecordData             RecordType = 0x00
	RecordEOF              RecordType = 0x01
	RecordExtSegmentAddr   RecordType = 0x02
	RecordStartSegmentAddr RecordType = 0x03
	RecordExtLinearAddr    RecordType = 0x04
	RecordStartLinearAddr  RecordType = 0x05
)

const (
	// MaxDataLen is the largest payload the encoder puts into a single record.
	MaxDataLen = 32

	segmentSize = 0x10000
)

var (
	ErrCRCMismatch           = errors.New("checksum mismatch")
	ErrMalformed             = errors.New("malformed record")
	ErrOverflow              = errors.New("record overflow")
	ErrUnsupportedRecordType = errors.New("unsupported record type")
)

func (t RecordType) String() string {
	switch t {
	case RecordData:
		return "data"
	case RecordEOF:
		return "end of file"
	case RecordExtSegmentAddr:
		return "extended segment address"
	case RecordStartSegmentAddr:
		return "start segment address"
	case RecordExtLinearAddr:
		return "extended linear address"
	case RecordStartLinearAddr:
		return "start linear address"
	}
	return fmt.Sprintf("type %02X", uint8(t))
}

// Record is a single line of a HEX file.
type Record struct {
	Type   RecordType
	Offset uint16
	Data   []byte
}

// Checksum returns the two's complement of the sum of b.
func Checksum(b []byte) byte {
	var sum byte
	for _, v := range b {
		sum += v
	}
	return (sum ^ 0xff) + 1
}

// Bytes returns the binary form of the record, checksum included.
func (r *Record) Bytes() []byte {
	b := make([]byte, 0, 5+len(r.Data))
	b = append(b, byte(len(r.Data)), byte(r.Offset>>8), byte(r.Offset), byte(r.Type))
	b = append(b, r.Data...)
	return append(b, Checksum(b))
}

func (r *Record) String() string {
	return ":" + strings.ToUpper(hex.EncodeToString(r.Bytes()))
}

// ParseRecord parses one line. The checksum is verified before the length and
// type fields are interpreted.
func ParseRecord(line string) (*Record, error) {
	line = strings.TrimSpace(line)
	if len(line) == 0 || line[0] != ':' {
		return nil, errors.Annotatef(ErrMalformed, "invalid start of the line")
	}
	if len(line) < 11 || len(line)%2 != 1 {
		return nil, errors.Annotatef(ErrMalformed, "too short (%d)", len(line))
	}
	ld, err := hex.DecodeString(line[1:])
	if err != nil {
		return nil, errors.Annotatef(ErrMalformed, "error decoding record body")
	}
	checksum := ld[len(ld)-1]
	if cs := Checksum(ld[:len(ld)-1]); cs != checksum {
		return nil, errors.Annotatef(ErrCRCMismatch, "want %02X, got %02X", checksum, cs)
	}
	recLen := int(ld[0])
	if len(ld) != 4+recLen+1 {
		return nil, errors.Annotatef(ErrMalformed, "invalid length %d", len(ld))
	}
	return &Record{
		Type:   RecordType(ld[3]),
		Offset: uint16(ld[1])<<8 | uint16(ld[2]),
		Data:   ld[4 : 4+recLen],
	}, nil
}
