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
package flags

import (
	"strings"

	"github.com/juju/errors"
	flag "github.com/spf13/pflag"
)

const (
	TargetGPIO = "gpio"
	TargetSim  = "sim"
)

var (
	Port = flag.String("port", "auto", "Serial port for the STK500 bridge. "+
		"If set to 'auto', ports on the system will be enumerated and the first will be used.")
	BaudRate = flag.Int("baud-rate", 19200, "Serial port speed")
	HWFC     = flag.Bool("hw-flow-control", false, "Enable hardware flow control (CTS/RTS)")

	target  = flag.String("target", TargetGPIO, "How the target is connected: gpio or sim")
	PinSCK  = flag.String("pin-sck", "GPIO11", "GPIO connected to the target SCK")
	PinMOSI = flag.String("pin-mosi", "GPIO10", "GPIO connected to the target MOSI")
	PinMISO = flag.String("pin-miso", "GPIO9", "GPIO connected to the target MISO")
	PinRST  = flag.String("pin-rst", "GPIO25", "GPIO connected to the target RESET")
	SimChip = flag.String("sim-chip", "ATmega328P", "Part emulated by --target=sim")

	Dir       = flag.String("dir", ".", "Directory with dump files")
	Name      = flag.String("name", "", "Dump name, files are <name>.avr, <name>_flash.hex and <name>_eeprom.hex")
	ChipsFile = flag.String("chips-file", "", "YAML file with additional chip descriptors")
	NoVerify  = flag.Bool("no-verify", false, "Do not verify after writing")

	Verbose = flag.Bool("verbose", false, "Verbose output")
)

// Target returns the validated value of --target.
func Target() (string, error) {
	switch t := strings.ToLower(*target); t {
	case TargetGPIO, TargetSim:
		return t, nil
	}
	return "", errors.NotValidf("--target %q", *target)
}
