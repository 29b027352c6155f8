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
package isp

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

// MemType values match the memory type bytes of the STK500 protocol.
type MemType byte

const (
	Flash  MemType = 'F'
	EEPROM MemType = 'E'
)

func (m MemType) String() string {
	switch m {
	case Flash:
		return "flash"
	case EEPROM:
		return "eeprom"
	}
	return fmt.Sprintf("MemType(0x%02x)", byte(m))
}

// Region describes a memory of the target. Flash addresses are word
// addresses, EEPROM addresses are byte addresses. Offset and Size are in
// bytes and bound the writable addresses. A zero Size disables bounds
// checking.
type Region struct {
	Mem      MemType
	Offset   uint32
	Size     uint32
	PageSize uint16
}

// PageOf returns the address of the flash page containing word address addr.
func (r Region) PageOf(addr uint16) uint16 {
	return PageOf(r.PageSize, addr)
}

// PageOf masks word address addr down to the start of its page for the page
// sizes (in bytes) that AVR parts have. Other sizes are treated as unpaged.
func PageOf(pageSize uint16, addr uint16) uint16 {
	switch pageSize {
	case 32:
		return addr & 0xfff0
	case 64:
		return addr & 0xffe0
	case 128:
		return addr & 0xffc0
	case 256:
		return addr & 0xff80
	}
	return addr
}

// ReadPage fills buf from memory starting at addr. For flash, the low 16 bits
// of the word address are used, the rest is selected by SetExtendedAddress.
func (p *Programmer) ReadPage(mem MemType, addr uint32, buf []byte) error {
	if p.bus == nil {
		return errors.Trace(ErrNotInProgMode)
	}
	switch mem {
	case Flash:
		a := uint16(addr)
		for x := 0; x < len(buf); x += 2 {
			buf[x] = p.transaction(0x20, byte(a>>8), byte(a), 0x00)
			if x+1 < len(buf) {
				buf[x+1] = p.transaction(0x28, byte(a>>8), byte(a), 0x00)
			}
			a++
		}
	case EEPROM:
		for x := range buf {
			a := uint16(addr) + uint16(x)
			buf[x] = p.transaction(0xa0, byte(a>>8), byte(a), 0x00)
		}
	default:
		return errors.NotSupportedf("%s", mem)
	}
	glog.V(4).Infof("read %s @ 0x%x: % x", mem, addr, buf)
	return nil
}

// WritePage writes data to the region starting at addr. Flash is loaded word
// by word and committed every time the page changes and at the end. EEPROM is
// written byte by byte.
func (p *Programmer) WritePage(r Region, addr uint32, data []byte) error {
	if p.bus == nil {
		return errors.Trace(ErrNotInProgMode)
	}
	switch r.Mem {
	case Flash:
		if r.Size > 0 && (addr < r.Offset/2 || addr+uint32(len(data))/2 > (r.Offset+r.Size)/2) {
			return errors.Annotatef(ErrOutOfRange, "flash @ 0x%x + %d, size %d", addr, len(data), r.Size)
		}
		p.writeFlash(r, uint16(addr), data)
	case EEPROM:
		if r.Size > 0 && (addr < r.Offset || addr+uint32(len(data)) > r.Offset+r.Size) {
			return errors.Annotatef(ErrOutOfRange, "eeprom @ 0x%x + %d, size %d", addr, len(data), r.Size)
		}
		p.writeEEPROM(uint16(addr), data)
	default:
		return errors.NotSupportedf("%s", r.Mem)
	}
	return nil
}

func (p *Programmer) writeFlash(r Region, addr uint16, data []byte) {
	if len(data) == 0 {
		return
	}
	page := r.PageOf(addr)
	for x := 0; x < len(data); x += 2 {
		if cur := r.PageOf(addr); cur != page {
			p.commit(page, data[x-1])
			page = cur
		}
		hi := byte(0xff)
		if x+1 < len(data) {
			hi = data[x+1]
		}
		p.transaction(0x40, byte(addr>>8), byte(addr), data[x])
		p.transaction(0x48, byte(addr>>8), byte(addr), hi)
		addr++
	}
	p.commit(page, data[len(data)-1])
}

// commit writes the page buffer to flash and waits for it to complete.
// An erased value cannot be polled for, so that case gets a fixed delay.
func (p *Programmer) commit(page uint16, last byte) {
	glog.V(3).Infof("commit page @ 0x%04x", page)
	p.transaction(0x4c, byte(page>>8), byte(page), 0x00)
	if last == 0xff {
		p.sleep(flashCommitDelay)
		return
	}
	deadline := time.Now().Add(flashCommitPoll)
	for time.Now().Before(deadline) {
		if p.transaction(0x28, byte(page>>8), byte(page), 0x00) != 0xff {
			return
		}
	}
	glog.V(1).Infof("page @ 0x%04x: no completion after %s", page, flashCommitPoll)
}

func (p *Programmer) writeEEPROM(addr uint16, data []byte) {
	for i, b := range data {
		a := addr + uint16(i)
		p.transaction(0xc0, byte(a>>8), byte(a), b)
		if b == 0xff {
			p.sleep(eepromWriteDelay)
			continue
		}
		deadline := time.Now().Add(eepromWriteDelay)
		for time.Now().Before(deadline) {
			if p.transaction(0xa0, byte(a>>8), byte(a), 0x00) == b {
				break
			}
		}
	}
}
