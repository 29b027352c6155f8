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

// Package chips is the table of known parts, keyed by signature.
package chips

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/juju/errors"
	yaml "gopkg.in/yaml.v2"
)

type Arch string

const (
	ArchAVR8  Arch = "AVR8"
	ArchAVR8X Arch = "AVR8X"
	ArchXMEGA Arch = "XMEGA"
	ArchMCS51 Arch = "MCS51"
)

// Chip describes one part. Sizes are in bytes.
type Chip struct {
	Name           string
	Arch           Arch
	Signature      [3]byte
	FlashOffset    uint32
	FlashSize      uint32
	PageSize       uint16
	EEPROMOffset   uint32
	EEPROMSize     uint32
	EEPROMPageSize uint16
	SRAMSize       uint32
	NFuses         int
	NLocks         int
	NInterrupts    int
}

func (c *Chip) String() string {
	return fmt.Sprintf("%s (%02X %02X %02X)", c.Name, c.Signature[0], c.Signature[1], c.Signature[2])
}

// DB is an immutable chip table.
type DB struct {
	chips []*Chip
}

func NewDB(cc []*Chip) *DB {
	return &DB{chips: cc}
}

// Default returns the built-in table.
func Default() *DB {
	return NewDB(builtin)
}

func (db *DB) All() []*Chip {
	return db.chips
}

// Lookup finds an AVR8 part by the family and part number bytes of the
// signature. Later entries take precedence, so an extension table can
// override built-in ones. The vendor byte is not checked.
func (db *DB) Lookup(sig [3]byte) (*Chip, bool) {
	for i := len(db.chips) - 1; i >= 0; i-- {
		c := db.chips[i]
		if c.Arch == ArchAVR8 && c.Signature[1] == sig[1] && c.Signature[2] == sig[2] {
			return c, true
		}
	}
	return nil, false
}

func (db *DB) ByName(name string) (*Chip, bool) {
	for i := len(db.chips) - 1; i >= 0; i-- {
		if strings.EqualFold(db.chips[i].Name, name) {
			return db.chips[i], true
		}
	}
	return nil, false
}

type yamlChip struct {
	Name           string `yaml:"name"`
	Arch           string `yaml:"arch"`
	Signature      string `yaml:"signature"`
	FlashOffset    uint32 `yaml:"flash_offset"`
	FlashSize      uint32 `yaml:"flash_size"`
	PageSize       uint16 `yaml:"page_size"`
	EEPROMOffset   uint32 `yaml:"eeprom_offset"`
	EEPROMSize     uint32 `yaml:"eeprom_size"`
	EEPROMPageSize uint16 `yaml:"eeprom_page_size"`
	SRAMSize       uint32 `yaml:"sram_size"`
	NFuses         int    `yaml:"fuses"`
	NLocks         int    `yaml:"locks"`
	NInterrupts    int    `yaml:"interrupts"`
}

// ParseSignature parses "1E 95 0F", "1E950F" or "0x1E950F".
func ParseSignature(s string) ([3]byte, error) {
	var sig [3]byte
	hs := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	hs = strings.Replace(hs, " ", "", -1)
	if len(hs) != 6 {
		return sig, errors.NotValidf("signature %q", s)
	}
	v, err := strconv.ParseUint(hs, 16, 32)
	if err != nil {
		return sig, errors.NotValidf("signature %q", s)
	}
	sig[0], sig[1], sig[2] = byte(v>>16), byte(v>>8), byte(v)
	return sig, nil
}

// Extend returns a new table with the entries of a YAML list appended.
func (db *DB) Extend(data []byte) (*DB, error) {
	var ycc []yamlChip
	if err := yaml.Unmarshal(data, &ycc); err != nil {
		return nil, errors.Annotatef(err, "invalid chip list")
	}
	cc := append([]*Chip{}, db.chips...)
	for i, yc := range ycc {
		if yc.Name == "" {
			return nil, errors.Errorf("chip %d: no name", i)
		}
		sig, err := ParseSignature(yc.Signature)
		if err != nil {
			return nil, errors.Annotatef(err, "%s", yc.Name)
		}
		arch := Arch(strings.ToUpper(yc.Arch))
		if arch == "" {
			arch = ArchAVR8
		}
		switch arch {
		case ArchAVR8, ArchAVR8X, ArchXMEGA, ArchMCS51:
		default:
			return nil, errors.NotValidf("%s: arch %q", yc.Name, yc.Arch)
		}
		if yc.NFuses < 0 || yc.NFuses > 3 || yc.NLocks < 0 || yc.NLocks > 1 {
			return nil, errors.NotValidf("%s: %d fuses, %d locks", yc.Name, yc.NFuses, yc.NLocks)
		}
		cc = append(cc, &Chip{
			Name:           yc.Name,
			Arch:           arch,
			Signature:      sig,
			FlashOffset:    yc.FlashOffset,
			FlashSize:      yc.FlashSize,
			PageSize:       yc.PageSize,
			EEPROMOffset:   yc.EEPROMOffset,
			EEPROMSize:     yc.EEPROMSize,
			EEPROMPageSize: yc.EEPROMPageSize,
			SRAMSize:       yc.SRAMSize,
			NFuses:         yc.NFuses,
			NLocks:         yc.NLocks,
			NInterrupts:    yc.NInterrupts,
		})
	}
	return NewDB(cc), nil
}

func (db *DB) ExtendFromFile(fname string) (*DB, error) {
	data, err := os.ReadFile(fname)
	if err != nil {
		return nil, errors.Trace(err)
	}
	ndb, err := db.Extend(data)
	return ndb, errors.Annotatef(err, "%s", fname)
}
