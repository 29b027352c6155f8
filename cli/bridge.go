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
	"context"

	serial "github.com/cesanta/go-serial/serial"
	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/devutil"
	"github.com/mongoose-os/avrisp/cli/flags"
	"github.com/mongoose-os/avrisp/cli/flash/avr/stk500"
	"github.com/mongoose-os/avrisp/cli/ourutil"
)

// In ms. Reads return io.EOF after this much idle time.
const serialReadTimeout = 100

func bridge(ctx context.Context) error {
	db, err := loadChips()
	if err != nil {
		return errors.Trace(err)
	}
	prog, err := newProgrammer(db)
	if err != nil {
		return errors.Trace(err)
	}
	port, err := devutil.GetPort()
	if err != nil {
		return errors.Trace(err)
	}
	s, err := serial.Open(serial.OpenOptions{
		PortName:              port,
		BaudRate:              uint(*flags.BaudRate),
		HardwareFlowControl:   *flags.HWFC,
		DataBits:              8,
		ParityMode:            serial.PARITY_NONE,
		StopBits:              1,
		InterCharacterTimeout: serialReadTimeout,
		MinimumReadSize:       0,
	})
	if err != nil {
		return errors.Annotatef(err, "failed to open %s", port)
	}
	defer s.Close()
	// Drop whatever was buffered before we opened the port.
	s.Flush()

	b := stk500.New(prog)
	ourutil.Reportf("Serving STK500 on %s at %d, press Ctrl-C to exit", port, *flags.BaudRate)
	err = b.ServeConn(ctx, s)
	glog.Infof("bridge done, %d protocol errors", b.Errors())
	if err != nil && ctx.Err() == nil {
		return errors.Trace(err)
	}
	return nil
}
