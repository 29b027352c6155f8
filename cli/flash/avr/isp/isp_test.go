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
package isp_test

import (
	"bytes"
	"reflect"
	"testing"
	"time"

	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/flash/avr/avrsim"
	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
	"github.com/mongoose-os/avrisp/cli/flash/avr/spisw"
)

func chip(t *testing.T, name string) *chips.Chip {
	t.Helper()
	c, ok := chips.Default().ByName(name)
	if !ok {
		t.Fatalf("%s not found", name)
	}
	return c
}

func newProgrammer(t *testing.T, name string, opts avrsim.Options) (*isp.Programmer, *avrsim.Target) {
	t.Helper()
	sim := avrsim.New(chip(t, name), opts)
	p := isp.New(sim.Opener())
	p.SetSleepFunc(func(time.Duration) {})
	return p, sim
}

func TestAutoEnterProgMode(t *testing.T) {
	cases := []struct {
		opts avrsim.Options
		want spisw.Speed
	}{
		{opts: avrsim.Options{}, want: spisw.Speed1MHz},
		// Only the slowest speed works.
		{opts: avrsim.Options{AckFrom: spisw.Speed1KHz}, want: spisw.Speed1KHz},
		// One grade of margin below the fastest working speed.
		{opts: avrsim.Options{AckFrom: spisw.Speed60KHz}, want: spisw.Speed40KHz},
		{opts: avrsim.Options{StableFrom: spisw.Speed125KHz}, want: spisw.Speed60KHz},
		{opts: avrsim.Options{AckFrom: spisw.Speed5KHz}, want: spisw.Speed1KHz},
	}
	for i, c := range cases {
		p, sim := newProgrammer(t, "ATmega328P", c.opts)
		if err := p.AutoEnterProgMode(); err != nil {
			t.Fatalf("%d: %s", i, err)
		}
		if !p.InProgMode() || !sim.IsOpen() {
			t.Errorf("%d: not in programming mode", i)
		}
		if got := p.Speed(); got != c.want {
			t.Errorf("%d: got %s, want %s", i, got, c.want)
		}
		if got := sim.Speed(); got != c.want {
			t.Errorf("%d: bus is open @ %s, want %s", i, got, c.want)
		}
		sig, err := p.ReadSignature()
		if err != nil {
			t.Fatalf("%d: %s", i, err)
		}
		if got, want := sig, (isp.Signature{0x1e, 0x95, 0x0f}); got != want {
			t.Errorf("%d: got %s, want %s", i, got, want)
		}
		p.ExitProgMode()
		if p.InProgMode() || sim.IsOpen() {
			t.Errorf("%d: bus still held after exit", i)
		}
	}
}

func TestAutoEnterProgModeNoTarget(t *testing.T) {
	p, sim := newProgrammer(t, "ATmega328P", avrsim.Options{Unreachable: true})
	err := p.AutoEnterProgMode()
	if errors.Cause(err) != isp.ErrNoTarget {
		t.Fatalf("got %v, want %s", err, isp.ErrNoTarget)
	}
	if p.InProgMode() || sim.IsOpen() {
		t.Errorf("bus still held")
	}
	if got, want := sim.Opens(), spisw.Speeds; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestResetPolarity(t *testing.T) {
	p, _ := newProgrammer(t, "ATmega328P", avrsim.Options{})
	p.SetResetActiveHigh(true)
	if err := p.AutoEnterProgMode(); errors.Cause(err) != isp.ErrNoTarget {
		t.Errorf("got %v, want %s", err, isp.ErrNoTarget)
	}
}

func TestNotInProgMode(t *testing.T) {
	p, _ := newProgrammer(t, "ATmega328P", avrsim.Options{})
	if _, err := p.ReadSignature(); errors.Cause(err) != isp.ErrNotInProgMode {
		t.Errorf("got %v", err)
	}
	if err := p.ReadPage(isp.Flash, 0, make([]byte, 4)); errors.Cause(err) != isp.ErrNotInProgMode {
		t.Errorf("got %v", err)
	}
	if _, err := p.ReadFuseLow(); errors.Cause(err) != isp.ErrNotInProgMode {
		t.Errorf("got %v", err)
	}
	if got := p.Transaction(0x30, 0, 0, 0); got != 0 {
		t.Errorf("got 0x%02x", got)
	}
}

func TestPageCommits(t *testing.T) {
	p, sim := newProgrammer(t, "ATmega88P", avrsim.Options{})
	r := isp.Region{Mem: isp.Flash, Size: 8192, PageSize: 64}
	data := []byte{
		0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09,
		0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f, 0x10, 0x11, 0x12,
	}
	err := p.WithProgMode(func() error {
		return p.WritePage(r, 60, data)
	})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := sim.Commits(), []uint16{32, 64}; !reflect.DeepEqual(got, want) {
		t.Errorf("got commits %v, want %v", got, want)
	}
	if got := sim.Flash()[120:138]; !bytes.Equal(got, data) {
		t.Errorf("got % x, want % x", got, data)
	}
	if got := sim.Flash()[118:120]; !bytes.Equal(got, []byte{0xff, 0xff}) {
		t.Errorf("bytes before the write changed: % x", got)
	}
}

func TestPageOf(t *testing.T) {
	cases := []struct {
		page uint16
		addr uint16
		want uint16
	}{
		{32, 0x1234, 0x1230},
		{64, 0x1234, 0x1220},
		{128, 0x1234, 0x1200},
		{256, 0x12b4, 0x1280},
		{0, 0x1234, 0x1234},
		{512, 0x1234, 0x1234},
	}
	for _, c := range cases {
		if got := isp.PageOf(c.page, c.addr); got != c.want {
			t.Errorf("page %d, 0x%04x: got 0x%04x, want 0x%04x", c.page, c.addr, got, c.want)
		}
	}
}

func TestReadWritePage(t *testing.T) {
	c := chip(t, "ATmega328P")
	p, sim := newProgrammer(t, c.Name, avrsim.Options{})
	flash := isp.Region{Mem: isp.Flash, Size: c.FlashSize, PageSize: c.PageSize}
	eeprom := isp.Region{Mem: isp.EEPROM, Size: c.EEPROMSize, PageSize: c.EEPROMPageSize}
	fdata := make([]byte, 256)
	for i := range fdata {
		fdata[i] = byte(i)
	}
	edata := []byte("hello, eeprom\xff")
	err := p.WithProgMode(func() error {
		if err := p.WritePage(flash, 0x100, fdata); err != nil {
			return err
		}
		if err := p.WritePage(eeprom, 0x10, edata); err != nil {
			return err
		}
		fbuf := make([]byte, len(fdata))
		if err := p.ReadPage(isp.Flash, 0x100, fbuf); err != nil {
			return err
		}
		if !bytes.Equal(fbuf, fdata) {
			t.Errorf("flash: got % x, want % x", fbuf, fdata)
		}
		ebuf := make([]byte, len(edata))
		if err := p.ReadPage(isp.EEPROM, 0x10, ebuf); err != nil {
			return err
		}
		if !bytes.Equal(ebuf, edata) {
			t.Errorf("eeprom: got %q, want %q", ebuf, edata)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := sim.Flash()[0x200:0x300]; !bytes.Equal(got, fdata) {
		t.Errorf("flash contents: got % x", got)
	}
	if got, want := len(sim.Commits()), 2; got != want {
		t.Errorf("got %d commits, want %d", got, want)
	}
	if p.InProgMode() {
		t.Errorf("still in programming mode")
	}
}

func TestWritePageBounds(t *testing.T) {
	p, _ := newProgrammer(t, "ATtiny13", avrsim.Options{})
	flash := isp.Region{Mem: isp.Flash, Size: 1024, PageSize: 32}
	eeprom := isp.Region{Mem: isp.EEPROM, Size: 64, PageSize: 4}
	err := p.WithProgMode(func() error {
		if err := p.WritePage(flash, 496, make([]byte, 32)); err != nil {
			t.Errorf("last page: %s", err)
		}
		if err := p.WritePage(flash, 497, make([]byte, 32)); errors.Cause(err) != isp.ErrOutOfRange {
			t.Errorf("got %v, want %s", err, isp.ErrOutOfRange)
		}
		if err := p.WritePage(eeprom, 60, make([]byte, 4)); err != nil {
			t.Errorf("eeprom end: %s", err)
		}
		if err := p.WritePage(eeprom, 61, make([]byte, 4)); errors.Cause(err) != isp.ErrOutOfRange {
			t.Errorf("got %v, want %s", err, isp.ErrOutOfRange)
		}

		// Regions that start above zero.
		upper := isp.Region{Mem: isp.Flash, Offset: 512, Size: 512, PageSize: 32}
		if err := p.WritePage(upper, 256, make([]byte, 32)); err != nil {
			t.Errorf("upper half: %s", err)
		}
		if err := p.WritePage(upper, 255, make([]byte, 4)); errors.Cause(err) != isp.ErrOutOfRange {
			t.Errorf("below offset: got %v, want %s", err, isp.ErrOutOfRange)
		}
		upperEE := isp.Region{Mem: isp.EEPROM, Offset: 32, Size: 32, PageSize: 4}
		if err := p.WritePage(upperEE, 32, make([]byte, 4)); err != nil {
			t.Errorf("eeprom upper half: %s", err)
		}
		if err := p.WritePage(upperEE, 31, make([]byte, 4)); errors.Cause(err) != isp.ErrOutOfRange {
			t.Errorf("eeprom below offset: got %v, want %s", err, isp.ErrOutOfRange)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestExtendedAddress(t *testing.T) {
	c := chip(t, "ATmega2560")
	p, sim := newProgrammer(t, c.Name, avrsim.Options{})
	flash := isp.Region{Mem: isp.Flash, Size: c.FlashSize, PageSize: c.PageSize}
	data := []byte{0xde, 0xad, 0xbe, 0xef}
	err := p.WithProgMode(func() error {
		if err := p.SetExtendedAddress(1); err != nil {
			return err
		}
		if err := p.WritePage(flash, 0x10000, data); err != nil {
			return err
		}
		buf := make([]byte, 4)
		if err := p.ReadPage(isp.Flash, 0x10000, buf); err != nil {
			return err
		}
		if !bytes.Equal(buf, data) {
			t.Errorf("got % x, want % x", buf, data)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := sim.Flash()[0x20000:0x20004]; !bytes.Equal(got, data) {
		t.Errorf("got % x, want % x", got, data)
	}
	if got := sim.Flash()[0:4]; !bytes.Equal(got, []byte{0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("low bank changed: % x", got)
	}
}

func TestFuses(t *testing.T) {
	p, sim := newProgrammer(t, "ATmega328P", avrsim.Options{})
	sim.SetFuses(0xff, 0xda, 0xfd, 0x3f)
	err := p.WithProgMode(func() error {
		for _, c := range []struct {
			read func() (byte, error)
			want byte
		}{
			{p.ReadFuseLow, 0xff},
			{p.ReadFuseHigh, 0xda},
			{p.ReadFuseExtended, 0xfd},
			{p.ReadLock, 0x3f},
		} {
			v, err := c.read()
			if err != nil {
				return err
			}
			if v != c.want {
				t.Errorf("got 0x%02x, want 0x%02x", v, c.want)
			}
		}

		// Same values: nothing is written.
		if err := p.WriteFuseLow(0xff); err != nil {
			return err
		}
		if err := p.WriteFuseHigh(0xda); err != nil {
			return err
		}
		if err := p.WriteFuseExtended(0xfd); err != nil {
			return err
		}
		if err := p.WriteLock(0x3f); err != nil {
			return err
		}
		if got := sim.FuseWrites(); got != 0 {
			t.Errorf("got %d fuse writes, want 0", got)
		}

		if err := p.WriteFuseHigh(0xde); err != nil {
			return err
		}
		if got := sim.FuseWrites(); got != 1 {
			t.Errorf("got %d fuse writes, want 1", got)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, h, _, _ := sim.Fuses(); h != 0xde {
		t.Errorf("got hfuse 0x%02x, want 0xde", h)
	}
}

func TestFuseWriteFails(t *testing.T) {
	p, _ := newProgrammer(t, "ATmega328P", avrsim.Options{StuckFuses: true})
	err := p.WithProgMode(func() error {
		return p.WriteFuseLow(0xe2)
	})
	if errors.Cause(err) != isp.ErrWriteFailed {
		t.Errorf("got %v, want %s", err, isp.ErrWriteFailed)
	}
	if p.InProgMode() {
		t.Errorf("still in programming mode")
	}
}

func TestEraseChip(t *testing.T) {
	p, sim := newProgrammer(t, "ATmega328P", avrsim.Options{})
	sim.Load([]byte{1, 2, 3, 4}, []byte{5, 6})
	if err := p.EraseChip(); err != nil {
		t.Fatal(err)
	}
	if got := sim.Erases(); got != 1 {
		t.Errorf("got %d erases, want 1", got)
	}
	if got := sim.Flash()[:4]; !bytes.Equal(got, []byte{0xff, 0xff, 0xff, 0xff}) {
		t.Errorf("flash not erased: % x", got)
	}
	if p.InProgMode() || sim.IsOpen() {
		t.Errorf("bus still held")
	}
}
