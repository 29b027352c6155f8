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

// Package avrsim models an AVR target at the level of the serial programming
// interface. It answers four byte instructions the way a part does: the
// second byte of the frame is echoed while the third is sent, results come
// back during the fourth. Used in tests and with --target=sim.
package avrsim

import (
	"sync"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
	"github.com/mongoose-os/avrisp/cli/flash/avr/spisw"
)

// Options change how the target reacts to the programmer.
type Options struct {
	// Fastest speed at which programming enable is acknowledged.
	AckFrom spisw.Speed
	// Fastest speed at which signature reads are stable.
	StableFrom spisw.Speed
	// Never acknowledge programming enable.
	Unreachable bool
	// Fuse and lock writes are ignored.
	StuckFuses bool
}

type Target struct {
	mu   sync.Mutex
	chip *chips.Chip
	opts Options

	flash  []byte
	eeprom []byte
	fuses  [3]byte
	lock   byte
	page   []byte
	ext    byte

	open    bool
	speed   spisw.Speed
	inReset bool
	enabled bool
	frame   [4]byte
	pos     int
	noise   byte
	commits []uint16
	fuseWr  int
	erases  int
	opens   []spisw.Speed
}

// New returns an erased part with factory default fuses (0x62 0xD9 0xFF).
func New(chip *chips.Chip, opts Options) *Target {
	t := &Target{
		chip:   chip,
		opts:   opts,
		flash:  make([]byte, chip.FlashSize),
		eeprom: make([]byte, chip.EEPROMSize),
		fuses:  [3]byte{0x62, 0xd9, 0xff},
		lock:   0xff,
	}
	pageSize := int(chip.PageSize)
	if pageSize == 0 {
		pageSize = 2
	}
	t.page = make([]byte, pageSize)
	fill(t.flash)
	fill(t.eeprom)
	fill(t.page)
	return t
}

func fill(b []byte) {
	for i := range b {
		b[i] = 0xff
	}
}

// Opener returns a BusOpener connecting to this target.
func (t *Target) Opener() isp.BusOpener {
	return func(speed spisw.Speed) (isp.Bus, error) {
		if !speed.Valid() {
			return nil, errors.NotValidf("speed %d", int(speed))
		}
		t.mu.Lock()
		defer t.mu.Unlock()
		t.open = true
		t.speed = speed
		t.enabled = false
		t.pos = 0
		t.opens = append(t.opens, speed)
		return t, nil
	}
}

func (t *Target) Chip() *chips.Chip {
	return t.chip
}

func (t *Target) SetReset(level bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	// Active low.
	t.inReset = !level
	if !t.inReset {
		t.enabled = false
		t.pos = 0
	}
}

func (t *Target) SetClock(level bool) {}

func (t *Target) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = false
	t.enabled = false
	t.inReset = false
	t.pos = 0
}

func (t *Target) Transfer(b byte) byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open || !t.inReset || t.opts.Unreachable {
		return 0x00
	}
	pos := t.pos
	t.frame[pos] = b
	t.pos = (pos + 1) % 4
	if !t.enabled {
		// Only programming enable is understood, and only at a speed the
		// part can follow.
		ok := t.frame[0] == 0xac && t.frame[1] == 0x53 && t.speed >= t.opts.AckFrom
		switch {
		case pos == 2 && ok:
			return 0x53
		case pos == 3 && ok:
			t.enabled = true
		}
		return 0x00
	}
	switch pos {
	case 1:
		return t.frame[0]
	case 2:
		return t.frame[1]
	case 3:
		return t.exec(t.frame)
	}
	return 0x00
}

func (t *Target) flashAddr(f [4]byte) uint32 {
	return uint32(t.ext)<<16 | uint32(f[1])<<8 | uint32(f[2])
}

func (t *Target) exec(f [4]byte) byte {
	switch f[0] {
	case 0x30:
		if f[2] > 2 {
			return 0xff
		}
		v := t.chip.Signature[f[2]]
		if t.speed < t.opts.StableFrom {
			t.noise++
			v ^= t.noise
		}
		return v
	case 0x20, 0x28:
		a := t.flashAddr(f)*2 + uint32(f[0]>>3&1)
		if a >= uint32(len(t.flash)) {
			return 0xff
		}
		return t.flash[a]
	case 0x40, 0x48:
		words := len(t.page) / 2
		if words == 0 {
			words = 1
		}
		i := int(f[2])%words*2 + int(f[0]>>3&1)
		t.page[i] = f[3]
	case 0x4c:
		t.commitPage(f)
	case 0x4d:
		t.ext = f[2]
	case 0xa0:
		a := uint32(f[1])<<8 | uint32(f[2])
		if a >= uint32(len(t.eeprom)) {
			return 0xff
		}
		return t.eeprom[a]
	case 0xc0:
		a := uint32(f[1])<<8 | uint32(f[2])
		if a < uint32(len(t.eeprom)) {
			t.eeprom[a] = f[3]
		}
	case 0x50:
		if f[1] == 0x08 {
			return t.fuses[2]
		}
		return t.fuses[0]
	case 0x58:
		if f[1] == 0x08 {
			return t.fuses[1]
		}
		return t.lock
	case 0xac:
		return t.execAC(f)
	default:
		glog.V(2).Infof("sim: unknown instruction % x", f)
	}
	return 0x00
}

func (t *Target) commitPage(f [4]byte) {
	words := uint32(len(t.page) / 2)
	addr := uint16(f[1])<<8 | uint16(f[2])
	t.commits = append(t.commits, addr)
	base := (uint32(t.ext)<<16 | uint32(addr)) &^ (words - 1) * 2
	for i, v := range t.page {
		if a := base + uint32(i); a < uint32(len(t.flash)) {
			// Programming can only clear bits.
			t.flash[a] &= v
		}
	}
	fill(t.page)
}

func (t *Target) execAC(f [4]byte) byte {
	switch f[1] {
	case 0x53:
		return 0x00
	case 0x80:
		t.erases++
		fill(t.flash)
		fill(t.eeprom)
		t.lock = 0xff
		return 0x00
	}
	t.fuseWr++
	if t.opts.StuckFuses {
		return 0x00
	}
	switch f[1] {
	case 0xa0:
		t.fuses[0] = f[3]
	case 0xa8:
		t.fuses[1] = f[3]
	case 0xa4:
		t.fuses[2] = f[3]
	case 0xe0:
		t.lock = f[3]
	}
	return 0x00
}

// Flash returns a copy of flash contents.
func (t *Target) Flash() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.flash...)
}

func (t *Target) EEPROM() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.eeprom...)
}

// Load copies data into flash and EEPROM at offset 0, as if programmed.
func (t *Target) Load(flash, eeprom []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	copy(t.flash, flash)
	copy(t.eeprom, eeprom)
}

// Fuses returns low, high and extended fuse bytes and the lock byte.
func (t *Target) Fuses() (l, h, e, lock byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fuses[0], t.fuses[1], t.fuses[2], t.lock
}

func (t *Target) SetFuses(l, h, e, lock byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fuses = [3]byte{l, h, e}
	t.lock = lock
}

// Commits returns word addresses of all page commits seen so far.
func (t *Target) Commits() []uint16 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]uint16(nil), t.commits...)
}

// FuseWrites returns the number of fuse and lock write instructions seen.
func (t *Target) FuseWrites() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fuseWr
}

func (t *Target) Erases() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.erases
}

// Opens returns the speeds of all bus opens so far.
func (t *Target) Opens() []spisw.Speed {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]spisw.Speed(nil), t.opens...)
}

// IsOpen reports whether a programmer holds the bus.
func (t *Target) IsOpen() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.open
}

func (t *Target) Speed() spisw.Speed {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.speed
}
