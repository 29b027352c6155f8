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
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/devutil"
	"github.com/mongoose-os/avrisp/cli/flags"
	"github.com/mongoose-os/avrisp/cli/flash/avr/flasher"
	"github.com/mongoose-os/avrisp/cli/ourutil"
)

const progressInterval = 500 * time.Millisecond

func newWorker() (*flasher.Worker, error) {
	db, err := loadChips()
	if err != nil {
		return nil, errors.Trace(err)
	}
	prog, err := newProgrammer(db)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return flasher.New(prog, db), nil
}

func printResult(ok bool, f string, args ...interface{}) {
	if ok {
		color.New(color.FgGreen).Fprint(os.Stderr, "OK ")
	} else {
		color.New(color.FgRed).Fprint(os.Stderr, "FAILED ")
	}
	ourutil.Reportf(f, args...)
}

func detect(ctx context.Context) error {
	w, err := newWorker()
	if err != nil {
		return errors.Trace(err)
	}
	res, err := w.Detect(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	if !res.Found {
		printResult(false, "%s, signature %s", res.Name, res.Signature)
		return errors.Trace(flasher.ErrNotDetected)
	}
	printResult(true, "%s, signature %s, %d bytes of flash", res.Name, res.Signature, res.FlashSize)
	fuseNames := []string{"Low", "High", "Extended"}
	for i := 0; i < res.Chip.NFuses && i < len(fuseNames); i++ {
		ourutil.Reportf("  %-8s fuse: 0x%02X", fuseNames[i], res.Fuses.Fuses[i])
	}
	if res.Chip.NLocks > 0 {
		ourutil.Reportf("  Lock bits:     0x%02X", res.Fuses.Lock)
	}
	return nil
}

// runTask runs one background task on w, reporting progress until it ends.
func runTask(ctx context.Context, w *flasher.Worker, what string, start func() error) error {
	statusCh := make(chan flasher.Status, 1)
	w.SetStatusCallback(func(s flasher.Status) {
		statusCh <- s
	})
	w.SetDetectCallback(func(res flasher.DetectResult) {
		if res.Found {
			ourutil.Reportf("Target: %s", res.Chip)
		}
	})
	w.Start()
	defer w.Stop()
	if err := start(); err != nil {
		return errors.Trace(err)
	}
	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return errors.Annotatef(ctx.Err(), "%s", what)
		case <-ticker.C:
			ourutil.Reportf("  %-14s flash %s, EEPROM %s", w.State(),
				ourutil.Percent(w.ProgressFlash()), ourutil.Percent(w.ProgressEEPROM()))
		case s := <-statusCh:
			if s.IsError() {
				printResult(false, "%s: %s", what, w.Err())
				return errors.Annotatef(w.Err(), "%s", what)
			}
			printResult(true, "%s", what)
			return nil
		}
	}
}

func readDump(ctx context.Context) error {
	w, err := newWorker()
	if err != nil {
		return errors.Trace(err)
	}
	return runTask(ctx, w, fmt.Sprintf("Read %s", *flags.Name), func() error {
		return w.ReadDumpStart(*flags.Dir, *flags.Name)
	})
}

func writeDump(ctx context.Context) error {
	w, err := newWorker()
	if err != nil {
		return errors.Trace(err)
	}
	if err := runTask(ctx, w, fmt.Sprintf("Write %s", *flags.Name), func() error {
		return w.WriteDumpStart(*flags.Dir, *flags.Name)
	}); err != nil {
		return errors.Trace(err)
	}
	if *flags.NoVerify {
		return nil
	}
	return runTask(ctx, w, fmt.Sprintf("Verify %s", *flags.Name), func() error {
		return w.VerifyStart(*flags.Dir, *flags.Name)
	})
}

func verifyDump(ctx context.Context) error {
	w, err := newWorker()
	if err != nil {
		return errors.Trace(err)
	}
	return runTask(ctx, w, fmt.Sprintf("Verify %s", *flags.Name), func() error {
		return w.VerifyStart(*flags.Dir, *flags.Name)
	})
}

func writeFuses(ctx context.Context) error {
	w, err := newWorker()
	if err != nil {
		return errors.Trace(err)
	}
	return runTask(ctx, w, fmt.Sprintf("Write fuses from %s", *flags.Name), func() error {
		return w.WriteFusesStart(*flags.Dir, *flags.Name)
	})
}

func listChips(ctx context.Context) error {
	db, err := loadChips()
	if err != nil {
		return errors.Trace(err)
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tSIGNATURE\tFLASH\tPAGE\tEEPROM\tFUSES\n")
	for _, c := range db.All() {
		fmt.Fprintf(tw, "%s\t%02X %02X %02X\t%d\t%d\t%d\t%d\n", c.Name,
			c.Signature[0], c.Signature[1], c.Signature[2],
			c.FlashSize, c.PageSize, c.EEPROMSize, c.NFuses)
	}
	return errors.Trace(tw.Flush())
}

func listPorts(ctx context.Context) error {
	for _, p := range devutil.EnumerateSerialPorts() {
		fmt.Println(p)
	}
	return nil
}
