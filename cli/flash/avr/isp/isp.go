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

// Package isp implements the AVR serial programming instruction set on top
// of an SPI bus: programming mode entry with speed negotiation, signature,
// flash and EEPROM page access, fuse and lock bytes, chip erase.
package isp

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/flash/avr/spisw"
)

// Bus is a byte-wide full duplex link to the target plus its reset and clock lines.
type Bus interface {
	Transfer(b byte) byte
	SetReset(level bool)
	SetClock(level bool)
	Close()
}

// BusOpener opens the bus at the given speed.
type BusOpener func(speed spisw.Speed) (Bus, error)

// GPIOOpener returns a BusOpener for the bit-banged driver on the given pins.
func GPIOOpener(pins spisw.Pins) BusOpener {
	return func(speed spisw.Speed) (Bus, error) {
		d, err := spisw.Open(pins, speed)
		if err != nil {
			return nil, errors.Trace(err)
		}
		return d, nil
	}
}

var (
	ErrNoTarget      = errors.New("no target detected")
	ErrNoResponse    = errors.New("target did not acknowledge programming enable")
	ErrNotInProgMode = errors.New("not in programming mode")
	ErrOutOfRange    = errors.New("out of range")
	ErrWriteFailed   = errors.New("value did not stick")
	ErrUnstableRead  = errors.New("unstable read")
)

const (
	resetPulseLow     = 20 * time.Millisecond
	resetPulseRelease = 1 * time.Millisecond
	resetSettle       = 50 * time.Millisecond
	signatureRereads  = 8
	flashCommitDelay  = 5 * time.Millisecond
	flashCommitPoll   = 30 * time.Millisecond
	eepromWriteDelay  = 10 * time.Millisecond
	fuseReadWindow    = 300 * time.Millisecond
	fuseWritePoll     = 30 * time.Millisecond
	chipEraseDelay    = 100 * time.Millisecond
)

// Signature is the three byte device signature: vendor, family, part number.
type Signature [3]byte

const VendorAtmel = 0x1e

func (s Signature) Vendor() byte {
	return s[0]
}

func (s Signature) String() string {
	return fmt.Sprintf("%02X %02X %02X", s[0], s[1], s[2])
}

// Programmer drives one target. The bus is open if and only if the target is
// in programming mode. Not safe for concurrent use.
type Programmer struct {
	open          BusOpener
	sleep         func(time.Duration)
	bus           Bus
	speed         spisw.Speed
	rstActiveHigh bool
}

func New(open BusOpener) *Programmer {
	return &Programmer{open: open, sleep: time.Sleep}
}

// SetSleepFunc replaces time.Sleep for fixed delays.
func (p *Programmer) SetSleepFunc(sleep func(time.Duration)) {
	p.sleep = sleep
}

// SetResetActiveHigh selects reset polarity. AVR targets use active low reset.
func (p *Programmer) SetResetActiveHigh(v bool) {
	p.rstActiveHigh = v
}

func (p *Programmer) InProgMode() bool {
	return p.bus != nil
}

// Speed returns the speed programming mode was entered at.
func (p *Programmer) Speed() spisw.Speed {
	return p.speed
}

func (p *Programmer) resetTarget(reset bool) {
	p.bus.SetReset(reset == p.rstActiveHigh)
}

func (p *Programmer) closeBus() {
	if p.bus != nil {
		p.bus.Close()
		p.bus = nil
	}
}

// EnterProgMode pulses reset and sends the programming enable instruction at
// the given speed. On failure the bus is closed.
func (p *Programmer) EnterProgMode(speed spisw.Speed) error {
	p.closeBus()
	bus, err := p.open(speed)
	if err != nil {
		return errors.Annotatef(err, "failed to open bus @ %s", speed)
	}
	p.bus = bus
	p.speed = speed
	p.resetTarget(true)
	bus.SetClock(false)
	p.sleep(resetPulseLow)
	p.resetTarget(false)
	p.sleep(resetPulseRelease)
	p.resetTarget(true)
	p.sleep(resetSettle)
	bus.Transfer(0xac)
	bus.Transfer(0x53)
	echo := bus.Transfer(0x00)
	bus.Transfer(0x00)
	if echo != 0x53 {
		p.resetTarget(false)
		p.closeBus()
		return errors.Annotatef(ErrNoResponse, "@ %s (got 0x%02x)", speed, echo)
	}
	glog.V(2).Infof("programming mode @ %s", speed)
	return nil
}

// AutoEnterProgMode tries all speeds, fastest first, and settles on the first
// one at which the signature reads back consistently. When that is not the
// fastest speed, the next slower one is used for margin.
func (p *Programmer) AutoEnterProgMode() error {
	for i, speed := range spisw.Speeds {
		if err := p.EnterProgMode(speed); err != nil {
			glog.V(3).Infof("%s", err)
			continue
		}
		if !p.signatureStable() {
			glog.V(2).Infof("unstable signature @ %s", speed)
			p.ExitProgMode()
			continue
		}
		if i > 0 && i < len(spisw.Speeds)-1 {
			next := spisw.Speeds[i+1]
			glog.V(1).Infof("target responds @ %s, using %s", speed, next)
			p.ExitProgMode()
			return errors.Trace(p.EnterProgMode(next))
		}
		glog.V(1).Infof("target responds @ %s", speed)
		return nil
	}
	p.closeBus()
	return errors.Trace(ErrNoTarget)
}

func (p *Programmer) signatureStable() bool {
	sig := p.readSignature()
	exam := p.readSignature()
	y := 0
	for ; y < signatureRereads; y++ {
		if exam != sig {
			break
		}
		exam = p.readSignature()
	}
	return y == signatureRereads
}

// ExitProgMode releases reset and closes the bus. Does nothing if not in
// programming mode.
func (p *Programmer) ExitProgMode() {
	if p.bus == nil {
		return
	}
	p.resetTarget(false)
	p.closeBus()
	glog.V(2).Infof("programming mode off")
}

// WithProgMode negotiates programming mode, runs f and exits programming mode
// regardless of the outcome.
func (p *Programmer) WithProgMode(f func() error) error {
	if err := p.AutoEnterProgMode(); err != nil {
		return errors.Trace(err)
	}
	defer p.ExitProgMode()
	return errors.Trace(f())
}

func (p *Programmer) transaction(a, b, c, d byte) byte {
	p.bus.Transfer(a)
	p.bus.Transfer(b)
	p.bus.Transfer(c)
	return p.bus.Transfer(d)
}

// Transaction sends one raw four byte instruction and returns the last byte
// received. Returns 0 outside programming mode.
func (p *Programmer) Transaction(a, b, c, d byte) byte {
	if p.bus == nil {
		glog.Warningf("%02x %02x %02x %02x: %s", a, b, c, d, ErrNotInProgMode)
		return 0
	}
	r := p.transaction(a, b, c, d)
	glog.V(4).Infof("%02x %02x %02x %02x -> %02x", a, b, c, d, r)
	return r
}

func (p *Programmer) readSignature() Signature {
	var sig Signature
	for i := range sig {
		sig[i] = p.transaction(0x30, 0x00, byte(i), 0x00)
	}
	return sig
}

func (p *Programmer) ReadSignature() (Signature, error) {
	if p.bus == nil {
		return Signature{}, errors.Trace(ErrNotInProgMode)
	}
	return p.readSignature(), nil
}

// SetExtendedAddress selects the 64K word bank for flash access on large parts.
func (p *Programmer) SetExtendedAddress(b byte) error {
	if p.bus == nil {
		return errors.Trace(ErrNotInProgMode)
	}
	p.transaction(0x4d, 0x00, b, 0x00)
	return nil
}

// EraseChip erases flash, EEPROM (unless preserved by fuses) and lock bits.
// Programming mode is negotiated if needed and is always left afterwards.
func (p *Programmer) EraseChip() error {
	if p.bus == nil {
		if err := p.AutoEnterProgMode(); err != nil {
			return errors.Annotatef(err, "chip erase")
		}
	}
	defer p.ExitProgMode()
	p.transaction(0xac, 0x80, 0x00, 0x00)
	p.sleep(chipEraseDelay)
	glog.V(1).Infof("chip erased")
	return nil
}
