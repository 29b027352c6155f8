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
package spisw

import (
	"testing"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

// loopbackPin reads back whatever the source pin drives.
type loopbackPin struct {
	*gpiotest.Pin
	src *gpiotest.Pin
}

func (p *loopbackPin) Read() gpio.Level {
	return p.src.Read()
}

// clockPin counts rising edges.
type clockPin struct {
	*gpiotest.Pin
	rises int
}

func (p *clockPin) Out(l gpio.Level) error {
	if l == gpio.High && p.Pin.Read() == gpio.Low {
		p.rises++
	}
	return p.Pin.Out(l)
}

func testPins() (Pins, *clockPin) {
	mosi := &gpiotest.Pin{N: "MOSI"}
	sck := &clockPin{Pin: &gpiotest.Pin{N: "SCK"}}
	return Pins{
		SCK:  sck,
		MOSI: mosi,
		MISO: &loopbackPin{Pin: &gpiotest.Pin{N: "MISO"}, src: mosi},
		RST:  &gpiotest.Pin{N: "RST"},
	}, sck
}

func TestTransferLoopback(t *testing.T) {
	pins, sck := testPins()
	d, err := Open(pins, Speed1MHz)
	if err != nil {
		t.Fatal(err)
	}
	defer d.Close()
	for _, b := range []byte{0x00, 0xff, 0xac, 0x53, 0x01, 0x80} {
		if got := d.Transfer(b); got != b {
			t.Errorf("got: 0x%02x, want: 0x%02x", got, b)
		}
	}
	if got, want := sck.rises, 6*8; got != want {
		t.Errorf("got %d clock pulses, want %d", got, want)
	}
	if got := sck.Pin.Read(); got != gpio.Low {
		t.Errorf("clock left %s", got)
	}
	if err := d.Err(); err != nil {
		t.Errorf("unexpected error: %s", err)
	}
}

func TestResetAndClock(t *testing.T) {
	pins, _ := testPins()
	d, err := Open(pins, Speed10KHz)
	if err != nil {
		t.Fatal(err)
	}
	rst := pins.RST.(*gpiotest.Pin)
	if got := rst.Read(); got != gpio.High {
		t.Errorf("reset after open: got %s, want High", got)
	}
	d.SetReset(false)
	if got := rst.Read(); got != gpio.Low {
		t.Errorf("got %s, want Low", got)
	}
	d.SetClock(true)
	if got := pins.SCK.Read(); got != gpio.High {
		t.Errorf("got %s, want High", got)
	}
	d.Close()
	if got := rst.P; got != gpio.Float {
		t.Errorf("reset pull after close: got %s, want %s", got, gpio.Float)
	}
}

func TestOpenErrors(t *testing.T) {
	pins, _ := testPins()
	if _, err := Open(pins, Speed(42)); err == nil {
		t.Errorf("expected an error for an invalid speed")
	}
	pins.MISO = nil
	if _, err := Open(pins, Speed1MHz); err == nil {
		t.Errorf("expected an error for a missing pin")
	}
}

func TestSpeeds(t *testing.T) {
	if got, want := len(Speeds), 10; got != want {
		t.Fatalf("got %d speeds, want %d", got, want)
	}
	for i := 1; i < len(Speeds); i++ {
		if Speeds[i].Frequency() >= Speeds[i-1].Frequency() {
			t.Errorf("%s is not slower than %s", Speeds[i], Speeds[i-1])
		}
	}
	cases := []struct {
		speed Speed
		half  time.Duration
		str   string
	}{
		{Speed1MHz, 0, "1MHz"},
		{Speed10KHz, 50 * time.Microsecond, "10kHz"},
		{Speed1KHz, 500 * time.Microsecond, "1kHz"},
	}
	for _, c := range cases {
		if got := c.speed.HalfPeriod(); got != c.half {
			t.Errorf("%s: got half period %s, want %s", c.speed, got, c.half)
		}
		if got := c.speed.String(); got != c.str {
			t.Errorf("got %q, want %q", got, c.str)
		}
	}
}
