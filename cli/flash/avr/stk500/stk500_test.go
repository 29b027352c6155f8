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
package stk500

import (
	"bytes"
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mongoose-os/avrisp/cli/flash/avr/avrsim"
	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
)

type harness struct {
	t      *testing.T
	b      *Bridge
	sim    *avrsim.Target
	cancel context.CancelFunc
	done   chan struct{}
}

func start(t *testing.T) *harness {
	t.Helper()
	c, _ := chips.Default().ByName("ATmega328P")
	sim := avrsim.New(c, avrsim.Options{})
	prog := isp.New(sim.Opener())
	prog.SetSleepFunc(func(time.Duration) {})
	ctx, cancel := context.WithCancel(context.Background())
	h := &harness{t: t, b: New(prog), sim: sim, cancel: cancel, done: make(chan struct{})}
	go func() {
		h.b.Serve(ctx)
		close(h.done)
	}()
	return h
}

func (h *harness) stop() {
	h.cancel()
	select {
	case <-h.done:
	case <-time.After(2 * time.Second):
		h.t.Fatalf("bridge did not exit")
	}
}

func (h *harness) send(data ...byte) {
	h.t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for len(data) > 0 {
		n := len(data)
		if n > 64 {
			n = 64
		}
		for !h.b.Rx(data[:n]) {
			if time.Now().After(deadline) {
				h.t.Fatalf("rx queue is stuck")
			}
			time.Sleep(time.Millisecond)
		}
		data = data[n:]
	}
}

// recv waits for exactly n reply bytes.
func (h *harness) recv(n int) []byte {
	h.t.Helper()
	buf := make([]byte, n+1)
	got := 0
	deadline := time.Now().Add(2 * time.Second)
	for got < n && time.Now().Before(deadline) {
		got += h.b.Tx(buf[got:n])
		if got < n {
			time.Sleep(time.Millisecond)
		}
	}
	if got < n {
		h.t.Fatalf("got %d bytes (% x), want %d", got, buf[:got], n)
	}
	// Nothing more should be pending.
	time.Sleep(5 * time.Millisecond)
	if extra := h.b.Tx(buf[n:]); extra != 0 {
		h.t.Fatalf("unexpected extra reply byte 0x%02x after % x", buf[n], buf[:n])
	}
	return buf[:n]
}

func (h *harness) expect(req []byte, want ...byte) {
	h.t.Helper()
	h.send(req...)
	if got := h.recv(len(want)); !bytes.Equal(got, want) {
		h.t.Errorf("% x: got % x, want % x", req, got, want)
	}
}

var setDeviceReq = []byte{
	cmdSetDevice,
	0x86, 0x00, 0x00, 0x01, 0x01, 0x01, 0x01, 0x03,
	0xff, 0xff, 0xff, 0xff,
	0x00, 0x80, // page size
	0x04, 0x00, // eeprom size
	0x00, 0x00, 0x80, 0x00, // flash size
	crcEOP,
}

func TestSimpleCommands(t *testing.T) {
	h := start(t)
	defer h.stop()

	h.expect([]byte{cmdGetSync, crcEOP}, respInSync, respOK)
	h.expect([]byte{cmdGetSignOn, crcEOP}, append(append([]byte{respInSync}, "AVR ISP"...), respOK)...)
	h.expect([]byte{cmdGetParameter, parmHWVer, crcEOP}, respInSync, 2, respOK)
	h.expect([]byte{cmdGetParameter, parmSWMajor, crcEOP}, respInSync, 1, respOK)
	h.expect([]byte{cmdGetParameter, parmSWMinor, crcEOP}, respInSync, 18, respOK)
	h.expect([]byte{cmdGetParameter, parmConnectType, crcEOP}, respInSync, 'S', respOK)
	h.expect([]byte{cmdGetParameter, 0x98, crcEOP}, respInSync, 0, respOK)
	h.expect([]byte{cmdSetParameter, 0x98, 0x01, crcEOP}, respInSync, respOK)
	h.expect([]byte{cmdSetDeviceExt, 1, 2, 3, 4, 5, crcEOP}, respInSync, respOK)
	h.expect([]byte{cmdProgFlash, 0x12, 0x34, crcEOP}, respInSync, respOK)
	h.expect([]byte{cmdProgData, 0x12, crcEOP}, respInSync, respOK)
	if got := h.b.Errors(); got != 0 {
		t.Errorf("got %d errors, want 0", got)
	}
}

func TestFramingErrors(t *testing.T) {
	h := start(t)
	defer h.stop()

	h.expect([]byte{cmdGetSync, 0x21}, respNoSync)
	h.expect([]byte{crcEOP}, respNoSync)
	h.expect([]byte{0x99, crcEOP}, respUnknown)
	h.expect([]byte{0x99, 0x00}, respNoSync)
	if got := h.b.Errors(); got != 4 {
		t.Errorf("got %d errors, want 4", got)
	}
	h.expect([]byte{cmdGetSync, crcEOP}, respInSync, respOK)
	if got := h.b.Errors(); got != 0 {
		t.Errorf("got %d errors after sync, want 0", got)
	}
}

func TestSignOnClearsErrors(t *testing.T) {
	h := start(t)
	defer h.stop()

	h.expect([]byte{crcEOP}, respNoSync)
	if got := h.b.Errors(); got != 1 {
		t.Fatalf("got %d errors, want 1", got)
	}
	h.expect([]byte{cmdGetSignOn, crcEOP}, append(append([]byte{respInSync}, "AVR ISP"...), respOK)...)
	if got := h.b.Errors(); got != 0 {
		t.Errorf("got %d errors after sign on, want 0", got)
	}
}

func TestServeAgain(t *testing.T) {
	h := start(t)
	h.expect([]byte{cmdGetSync, crcEOP}, respInSync, respOK)
	h.stop()

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel, h.done = cancel, make(chan struct{})
	go func() {
		h.b.Serve(ctx)
		close(h.done)
	}()
	defer h.stop()
	h.expect([]byte{cmdGetSync, crcEOP}, respInSync, respOK)
}

func TestFlashSession(t *testing.T) {
	h := start(t)
	defer h.stop()

	page := make([]byte, 128)
	for i := range page {
		page[i] = byte(i + 1)
	}

	h.expect(setDeviceReq, respInSync, respOK)
	h.expect([]byte{cmdEnterProgMode, crcEOP}, respInSync, respOK)
	h.expect([]byte{cmdReadSign, crcEOP}, respInSync, 0x1e, 0x95, 0x0f, respOK)
	h.expect([]byte{cmdUniversal, 0x30, 0x00, 0x01, 0x00, crcEOP}, respInSync, 0x95, respOK)

	// Word address 0x40 is byte address 0x80.
	h.expect([]byte{cmdLoadAddress, 0x40, 0x00, crcEOP}, respInSync, respOK)
	h.expect(append(append([]byte{cmdProgPage, 0x00, 0x80, 'F'}, page...), crcEOP), respInSync, respOK)
	if got := h.sim.Flash()[0x80:0x100]; !bytes.Equal(got, page) {
		t.Errorf("flash: got % x", got)
	}
	if got, want := h.sim.Commits(), []uint16{0x40}; len(got) != 1 || got[0] != want[0] {
		t.Errorf("got commits %v, want %v", got, want)
	}

	h.expect([]byte{cmdLoadAddress, 0x40, 0x00, crcEOP}, respInSync, respOK)
	h.expect([]byte{cmdReadPage, 0x00, 0x80, 'F', crcEOP}, append(append([]byte{respInSync}, page...), respOK)...)
	// The address advances after a read.
	h.expect([]byte{cmdReadPage, 0x00, 0x02, 'F', crcEOP}, respInSync, 0xff, 0xff, respOK)

	h.expect([]byte{cmdLeaveProgMode, crcEOP}, respInSync, respOK)
	if h.sim.IsOpen() {
		t.Errorf("bus still held after leaving programming mode")
	}
}

func TestEEPROMSession(t *testing.T) {
	h := start(t)
	defer h.stop()

	h.expect(setDeviceReq, respInSync, respOK)
	h.expect([]byte{cmdEnterProgMode, crcEOP}, respInSync, respOK)
	// EEPROM addresses are also given in words.
	h.expect([]byte{cmdLoadAddress, 0x04, 0x00, crcEOP}, respInSync, respOK)
	h.expect([]byte{cmdProgPage, 0x00, 0x04, 'E', 0xca, 0xfe, 0xba, 0xbe, crcEOP}, respInSync, respOK)
	if got, want := h.sim.EEPROM()[8:12], []byte{0xca, 0xfe, 0xba, 0xbe}; !bytes.Equal(got, want) {
		t.Errorf("eeprom: got % x, want % x", got, want)
	}
	h.expect([]byte{cmdReadPage, 0x00, 0x04, 'E', crcEOP}, respInSync, 0xca, 0xfe, 0xba, 0xbe, respOK)

	// Longer than the eeprom.
	req := append([]byte{cmdProgPage, 0x05, 0x00, 'E'}, make([]byte, 0x500)...)
	h.expect(append(req, crcEOP), respInSync, respFailed)
	if got := h.b.Errors(); got != 1 {
		t.Errorf("got %d errors, want 1", got)
	}

	h.expect([]byte{cmdProgPage, 0x00, 0x00, 'X'}, respFailed)
	h.expect([]byte{cmdReadPage, 0x00, 0x02, 'X', crcEOP}, respInSync, respFailed)
	h.expect([]byte{cmdLeaveProgMode, crcEOP}, respInSync, respOK)
}

func TestActiveHighReset(t *testing.T) {
	h := start(t)
	defer h.stop()

	req := append([]byte{}, setDeviceReq...)
	req[1] = 0xe1
	h.expect(req, respInSync, respOK)
	// The simulated part has active low reset and does not respond.
	h.expect([]byte{cmdEnterProgMode, crcEOP}, respInSync, respOK)
	h.expect([]byte{cmdReadSign, crcEOP}, respInSync, 0, 0, 0, respOK)
	if h.sim.IsOpen() {
		t.Errorf("bus held without a target")
	}
}

func TestTxCallback(t *testing.T) {
	h := start(t)
	defer h.stop()

	var calls int32
	h.b.SetTxCallback(func() { atomic.AddInt32(&calls, 1) })
	h.expect([]byte{cmdGetSync, crcEOP}, respInSync, respOK)
	h.expect([]byte{cmdGetSync, crcEOP}, respInSync, respOK)
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("got %d callbacks, want 2", got)
	}
}

func TestRxAllOrNothing(t *testing.T) {
	b := New(nil)
	if !b.Rx(make([]byte, BufSize-1)) {
		t.Fatalf("rx rejected data that fits")
	}
	if b.Rx([]byte{1, 2}) {
		t.Errorf("rx accepted data that does not fit")
	}
	if got := b.SpacesRx(); got != 1 {
		t.Errorf("got %d spaces, want 1", got)
	}
}

// fakePort returns io.EOF on reads when there is no data, like a serial port
// with an inter-character timeout.
type fakePort struct {
	mu  sync.Mutex
	in  bytes.Buffer
	out bytes.Buffer
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.in.Len() == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		p.mu.Lock()
		return 0, io.EOF
	}
	return p.in.Read(b)
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.out.Write(b)
}

func (p *fakePort) output() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.out.Bytes()...)
}

func TestServeConn(t *testing.T) {
	c, _ := chips.Default().ByName("ATmega328P")
	sim := avrsim.New(c, avrsim.Options{})
	prog := isp.New(sim.Opener())
	prog.SetSleepFunc(func(time.Duration) {})
	b := New(prog)

	port := &fakePort{}
	port.in.Write([]byte{cmdGetSync, crcEOP, cmdGetParameter, parmSWMajor, crcEOP})

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- b.ServeConn(ctx, port) }()

	want := []byte{respInSync, respOK, respInSync, 1, respOK}
	deadline := time.Now().Add(2 * time.Second)
	for len(port.output()) < len(want) && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	if got := port.output(); !bytes.Equal(got, want) {
		t.Errorf("got % x, want % x", got, want)
	}
	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("got %s", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("ServeConn did not return")
	}
}
