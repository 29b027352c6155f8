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

// Package spisw is a bit-banged SPI master (mode 0, MSB first) on four GPIO
// lines, with an extra reset line for the target.
package spisw

import (
	"fmt"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

type Speed int

const (
	Speed1MHz Speed = iota
	Speed400KHz
	Speed250KHz
	Speed125KHz
	Speed60KHz
	Speed40KHz
	Speed20KHz
	Speed10KHz
	Speed5KHz
	Speed1KHz
)

var frequencies = [...]physic.Frequency{
	Speed1MHz:   1 * physic.MegaHertz,
	Speed400KHz: 400 * physic.KiloHertz,
	Speed250KHz: 250 * physic.KiloHertz,
	Speed125KHz: 125 * physic.KiloHertz,
	Speed60KHz:  60 * physic.KiloHertz,
	Speed40KHz:  40 * physic.KiloHertz,
	Speed20KHz:  20 * physic.KiloHertz,
	Speed10KHz:  10 * physic.KiloHertz,
	Speed5KHz:   5 * physic.KiloHertz,
	Speed1KHz:   1 * physic.KiloHertz,
}

// Speeds lists all grades, fastest first.
var Speeds = []Speed{
	Speed1MHz, Speed400KHz, Speed250KHz, Speed125KHz, Speed60KHz,
	Speed40KHz, Speed20KHz, Speed10KHz, Speed5KHz, Speed1KHz,
}

func (s Speed) Valid() bool {
	return s >= 0 && int(s) < len(frequencies)
}

func (s Speed) Frequency() physic.Frequency {
	if !s.Valid() {
		return 0
	}
	return frequencies[s]
}

func (s Speed) String() string {
	if !s.Valid() {
		return fmt.Sprintf("Speed(%d)", int(s))
	}
	return s.Frequency().String()
}

// HalfPeriod is the time SCK spends in each state. The fastest grade runs
// without delays and is limited by GPIO access time only.
func (s Speed) HalfPeriod() time.Duration {
	if s == Speed1MHz || !s.Valid() {
		return 0
	}
	return s.Frequency().Period() / 2
}

type Pins struct {
	SCK  gpio.PinIO
	MOSI gpio.PinIO
	MISO gpio.PinIO
	RST  gpio.PinIO
}

type Driver struct {
	pins  Pins
	speed Speed
	delay time.Duration
	err   error
}

// Open claims the pins: SCK and MOSI are driven low, MISO becomes an input,
// RST is driven high.
func Open(pins Pins, speed Speed) (*Driver, error) {
	if pins.SCK == nil || pins.MOSI == nil || pins.MISO == nil || pins.RST == nil {
		return nil, errors.Errorf("SCK, MOSI, MISO and RST pins are all required")
	}
	if !speed.Valid() {
		return nil, errors.NotValidf("speed %d", int(speed))
	}
	d := &Driver{pins: pins, speed: speed, delay: speed.HalfPeriod()}
	if err := pins.SCK.Out(gpio.Low); err != nil {
		return nil, errors.Annotatef(err, "SCK (%s)", pins.SCK)
	}
	if err := pins.MOSI.Out(gpio.Low); err != nil {
		return nil, errors.Annotatef(err, "MOSI (%s)", pins.MOSI)
	}
	if err := pins.MISO.In(gpio.Float, gpio.NoEdge); err != nil {
		return nil, errors.Annotatef(err, "MISO (%s)", pins.MISO)
	}
	if err := pins.RST.Out(gpio.High); err != nil {
		return nil, errors.Annotatef(err, "RST (%s)", pins.RST)
	}
	glog.V(3).Infof("spi open @ %s: sck=%s mosi=%s miso=%s rst=%s", speed, pins.SCK, pins.MOSI, pins.MISO, pins.RST)
	return d, nil
}

func (d *Driver) Speed() Speed {
	return d.speed
}

// Err returns the first pin error seen since Open.
func (d *Driver) Err() error {
	return d.err
}

func (d *Driver) out(p gpio.PinIO, level bool) {
	if err := p.Out(gpio.Level(level)); err != nil && d.err == nil {
		d.err = errors.Annotatef(err, "%s", p)
		glog.Errorf("spi: %s", d.err)
	}
}

func (d *Driver) wait() {
	if d.delay <= 0 {
		return
	}
	if d.delay >= time.Millisecond {
		time.Sleep(d.delay)
		return
	}
	// time.Sleep is too coarse at this scale.
	for start := time.Now(); time.Since(start) < d.delay; {
	}
}

// Transfer clocks out b and returns the byte clocked in at the same time.
func (d *Driver) Transfer(b byte) byte {
	var in byte
	for i := 0; i < 8; i++ {
		d.out(d.pins.MOSI, b&0x80 != 0)
		b <<= 1
		d.out(d.pins.SCK, true)
		d.wait()
		in <<= 1
		if d.pins.MISO.Read() == gpio.High {
			in |= 1
		}
		d.out(d.pins.SCK, false)
		d.wait()
	}
	return in
}

func (d *Driver) SetReset(level bool) {
	d.out(d.pins.RST, level)
}

func (d *Driver) SetClock(level bool) {
	d.out(d.pins.SCK, level)
}

// Close puts all lines into high impedance.
func (d *Driver) Close() {
	for _, p := range []gpio.PinIO{d.pins.SCK, d.pins.MOSI, d.pins.MISO, d.pins.RST} {
		if err := p.In(gpio.Float, gpio.NoEdge); err != nil {
			glog.Warningf("spi: failed to release %s: %s", p, err)
		}
	}
	glog.V(3).Infof("spi closed")
}
