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

// Package stk500 serves the STK500 version 1 protocol, as spoken by avrdude
// with -c stk500v1 or -c arduino, on top of an isp.Programmer.
package stk500

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"

	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
)

const (
	// BufSize is the capacity of the receive and transmit queues.
	BufSize = 320

	getchTimeout = 30 * time.Millisecond
)

type Bridge struct {
	prog *isp.Programmer

	rx   chan byte
	tx   chan byte
	exit atomic.Bool

	cbMu sync.Mutex
	cb   func()

	dev    DeviceParams
	addr   uint16
	errors atomic.Int32
}

func New(prog *isp.Programmer) *Bridge {
	return &Bridge{
		prog: prog,
		rx:   make(chan byte, BufSize),
		tx:   make(chan byte, BufSize),
	}
}

// SetTxCallback sets a function to be called after every command, when
// there may be a reply waiting.
func (b *Bridge) SetTxCallback(cb func()) {
	b.cbMu.Lock()
	b.cb = cb
	b.cbMu.Unlock()
}

// Rx queues received bytes. Either all of data is queued or, if there is not
// enough room, none of it. There must be a single producer.
func (b *Bridge) Rx(data []byte) bool {
	if cap(b.rx)-len(b.rx) < len(data) {
		return false
	}
	for _, c := range data {
		b.rx <- c
	}
	return true
}

// SpacesRx returns how many bytes Rx can accept.
func (b *Bridge) SpacesRx() int {
	return cap(b.rx) - len(b.rx)
}

// Tx moves pending reply bytes into buf without blocking.
func (b *Bridge) Tx(buf []byte) int {
	n := 0
	for n < len(buf) {
		select {
		case c := <-b.tx:
			buf[n] = c
			n++
		default:
			return n
		}
	}
	return n
}

// Exit makes Serve return within one receive timeout.
func (b *Bridge) Exit() {
	b.exit.Store(true)
}

// Errors returns the number of protocol errors since the last sync.
func (b *Bridge) Errors() int {
	return int(b.errors.Load())
}

// Serve processes commands until Exit is called or ctx is done. Programming
// mode is left on return. A bridge can be served again after that.
func (b *Bridge) Serve(ctx context.Context) {
	b.exit.Store(false)
	stop := context.AfterFunc(ctx, b.Exit)
	defer stop()
	glog.V(1).Infof("stk500: serving")
	for !b.exit.Load() {
		b.serveOne()
	}
	b.prog.ExitProgMode()
	glog.V(1).Infof("stk500: done")
}

func (b *Bridge) getch() byte {
	select {
	case c := <-b.rx:
		return c
	default:
	}
	t := time.NewTimer(getchTimeout)
	defer t.Stop()
	for {
		select {
		case c := <-b.rx:
			return c
		case <-t.C:
			if b.exit.Load() {
				return 0
			}
			t.Reset(getchTimeout)
		}
	}
}

func (b *Bridge) fill(n int) []byte {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = b.getch()
	}
	return buf
}

func (b *Bridge) txch(c byte) {
	select {
	case b.tx <- c:
		return
	default:
	}
	t := time.NewTimer(getchTimeout)
	defer t.Stop()
	for {
		select {
		case b.tx <- c:
			return
		case <-t.C:
			if b.exit.Load() {
				return
			}
			t.Reset(getchTimeout)
		}
	}
}

func (b *Bridge) send(data ...byte) {
	for _, c := range data {
		b.txch(c)
	}
}

// eop consumes the end of packet marker. On mismatch it replies with a
// sync error and returns false.
func (b *Bridge) eop() bool {
	if b.getch() == crcEOP {
		return true
	}
	b.errors.Add(1)
	b.send(respNoSync)
	return false
}

func (b *Bridge) emptyReply() {
	if b.eop() {
		b.send(respInSync, respOK)
	}
}

func (b *Bridge) byteReply(v byte) {
	if b.eop() {
		b.send(respInSync, v, respOK)
	}
}

func (b *Bridge) serveOne() {
	cmd := b.decode(b.getch())
	glog.V(3).Infof("stk500: %s", cmd.name())
	b.execute(cmd)
	b.cbMu.Lock()
	cb := b.cb
	b.cbMu.Unlock()
	if cb != nil {
		cb()
	}
}

func (b *Bridge) execute(cmd command) {
	switch c := cmd.(type) {
	case getSync:
		b.errors.Store(0)
		b.emptyReply()
	case getSignOn:
		if b.eop() {
			b.errors.Store(0)
			b.send(respInSync)
			b.send([]byte(signOnMessage)...)
			b.send(respOK)
		}
	case setParameter:
		glog.V(2).Infof("stk500: ignoring parameter 0x%02x = 0x%02x", c.param, c.value)
		b.emptyReply()
	case getParameter:
		b.byteReply(parameter(c.param))
	case setDevice:
		b.dev = c.params
		// Device codes 0xE0 and above are parts with active high reset.
		b.prog.SetResetActiveHigh(c.params.DeviceCode >= 0xe0)
		glog.V(1).Infof("stk500: device 0x%02x, flash %d (page %d), eeprom %d",
			c.params.DeviceCode, c.params.FlashSize, c.params.PageSize, c.params.EEPROMSize)
		b.emptyReply()
	case setDeviceExt:
		b.emptyReply()
	case enterProgMode:
		if !b.prog.InProgMode() {
			if err := b.prog.AutoEnterProgMode(); err != nil {
				glog.Errorf("stk500: %s", err)
			}
		}
		b.emptyReply()
	case leaveProgMode:
		b.errors.Store(0)
		b.prog.ExitProgMode()
		b.emptyReply()
	case loadAddress:
		b.addr = c.addr
		b.emptyReply()
	case universal:
		f := c.frame
		b.byteReply(b.prog.Transaction(f[0], f[1], f[2], f[3]))
	case progFlash, progData:
		b.emptyReply()
	case progPage:
		b.progPage(c)
	case readPage:
		b.readPage(c)
	case readSign:
		if !b.eop() {
			return
		}
		sig, err := b.prog.ReadSignature()
		if err != nil {
			glog.Errorf("stk500: %s", err)
		}
		b.send(respInSync, sig[0], sig[1], sig[2], respOK)
	case bareEOP:
		b.errors.Add(1)
		b.send(respNoSync)
	case unknown:
		b.errors.Add(1)
		if b.getch() == crcEOP {
			b.send(respUnknown)
		} else {
			b.send(respNoSync)
		}
	}
}

func parameter(p byte) byte {
	switch p {
	case parmHWVer:
		return hwVersion
	case parmSWMajor:
		return swMajor
	case parmSWMinor:
		return swMinor
	case parmConnectType:
		return connectType
	}
	return 0
}

func (b *Bridge) progPage(c progPage) {
	var result byte = respFailed
	switch isp.MemType(c.mem) {
	case isp.Flash:
		data := b.fill(int(c.length))
		if !b.eop() {
			return
		}
		b.send(respInSync)
		r := isp.Region{Mem: isp.Flash, Size: b.dev.FlashSize, PageSize: b.dev.PageSize}
		if err := b.prog.WritePage(r, uint32(b.addr), data); err != nil {
			glog.Errorf("stk500: flash @ 0x%04x: %s", b.addr, err)
		} else {
			result = respOK
		}
		b.addr += c.length / 2
	case isp.EEPROM:
		data := b.fill(int(c.length))
		if !b.eop() {
			return
		}
		b.send(respInSync)
		if c.length > b.dev.EEPROMSize {
			b.errors.Add(1)
			glog.Errorf("stk500: eeprom write of %d bytes, eeprom size %d", c.length, b.dev.EEPROMSize)
			break
		}
		r := isp.Region{Mem: isp.EEPROM, PageSize: b.dev.PageSize}
		if err := b.prog.WritePage(r, uint32(b.addr)*2, data); err != nil {
			glog.Errorf("stk500: eeprom @ 0x%04x: %s", uint32(b.addr)*2, err)
		} else {
			result = respOK
		}
	default:
		glog.Errorf("stk500: write to unknown memory type 0x%02x", c.mem)
	}
	b.send(result)
}

func (b *Bridge) readPage(c readPage) {
	if !b.eop() {
		return
	}
	b.send(respInSync)
	var result byte = respFailed
	buf := make([]byte, c.length)
	switch isp.MemType(c.mem) {
	case isp.Flash:
		if err := b.prog.ReadPage(isp.Flash, uint32(b.addr), buf); err != nil {
			glog.Errorf("stk500: flash @ 0x%04x: %s", b.addr, err)
			break
		}
		b.send(buf...)
		b.addr += c.length / 2
		result = respOK
	case isp.EEPROM:
		if err := b.prog.ReadPage(isp.EEPROM, uint32(b.addr)*2, buf); err != nil {
			glog.Errorf("stk500: eeprom @ 0x%04x: %s", uint32(b.addr)*2, err)
			break
		}
		b.send(buf...)
		result = respOK
	default:
		glog.Errorf("stk500: read of unknown memory type 0x%02x", c.mem)
	}
	b.send(result)
}
