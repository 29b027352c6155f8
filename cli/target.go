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
package main

import (
	"github.com/golang/glog"
	"github.com/juju/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"github.com/mongoose-os/avrisp/cli/flags"
	"github.com/mongoose-os/avrisp/cli/flash/avr/avrsim"
	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
	"github.com/mongoose-os/avrisp/cli/flash/avr/spisw"
)

func loadChips() (*chips.DB, error) {
	db := chips.Default()
	if *flags.ChipsFile == "" {
		return db, nil
	}
	db, err := db.ExtendFromFile(*flags.ChipsFile)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to load chips from %s", *flags.ChipsFile)
	}
	glog.V(1).Infof("%d chips known", len(db.All()))
	return db, nil
}

func lookupPin(flagName, name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, errors.NotFoundf("--%s: pin %q", flagName, name)
	}
	return p, nil
}

func gpioPins() (spisw.Pins, error) {
	var pins spisw.Pins
	if _, err := host.Init(); err != nil {
		return pins, errors.Annotatef(err, "failed to init GPIO")
	}
	var err error
	if pins.SCK, err = lookupPin("pin-sck", *flags.PinSCK); err != nil {
		return pins, errors.Trace(err)
	}
	if pins.MOSI, err = lookupPin("pin-mosi", *flags.PinMOSI); err != nil {
		return pins, errors.Trace(err)
	}
	if pins.MISO, err = lookupPin("pin-miso", *flags.PinMISO); err != nil {
		return pins, errors.Trace(err)
	}
	if pins.RST, err = lookupPin("pin-rst", *flags.PinRST); err != nil {
		return pins, errors.Trace(err)
	}
	return pins, nil
}

// newProgrammer creates a programmer for the target selected by --target.
func newProgrammer(db *chips.DB) (*isp.Programmer, error) {
	t, err := flags.Target()
	if err != nil {
		return nil, errors.Trace(err)
	}
	switch t {
	case flags.TargetSim:
		c, ok := db.ByName(*flags.SimChip)
		if !ok {
			return nil, errors.NotFoundf("--sim-chip %q", *flags.SimChip)
		}
		glog.Infof("Using simulated %s", c)
		return isp.New(avrsim.New(c, avrsim.Options{}).Opener()), nil
	default:
		pins, err := gpioPins()
		if err != nil {
			return nil, errors.Trace(err)
		}
		glog.Infof("SCK=%s MOSI=%s MISO=%s RST=%s", pins.SCK, pins.MOSI, pins.MISO, pins.RST)
		return isp.New(isp.GPIOOpener(pins)), nil
	}
}
