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
package flasher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
	"github.com/mongoose-os/avrisp/common/ihex"
)

// Verify compares the target memory with the HEX files of dump dir/name.
// It stops at the first mismatch. The target is detected first unless a
// previous task already did.
func (w *Worker) Verify(ctx context.Context, dir, name string) error {
	w.resetProgress()
	c := w.chip
	if c == nil {
		var err error
		if c, err = w.requireChip(ctx); err != nil {
			return errors.Trace(err)
		}
	}
	w.setState(StateVerifying)
	defer w.setState(StateIdle)
	return w.prog.WithProgMode(func() error {
		if err := w.verifyFlash(ctx, c, filepath.Join(dir, FlashFileName(name))); err != nil {
			return errors.Annotatef(err, "flash")
		}
		if c.EEPROMSize > 0 {
			if err := w.verifyEEPROM(ctx, c, filepath.Join(dir, EEPROMFileName(name))); err != nil {
				return errors.Annotatef(err, "eeprom")
			}
		}
		return nil
	})
}

func (w *Worker) verifyFlash(ctx context.Context, c *chips.Chip, fname string) error {
	glog.Infof("verifying flash against %s", fname)
	ext := -1
	err := verifyFile(ctx, fname, func(res *ihex.Result, buf []byte) error {
		word := res.Addr / 2
		if err := w.extAddr(c, word, &ext); err != nil {
			return errors.Trace(err)
		}
		if err := w.prog.ReadPage(isp.Flash, word, buf); err != nil {
			return errors.Trace(err)
		}
		setProgress(&w.progressFlash, float64(res.Addr+uint32(len(buf))-c.FlashOffset)/float64(c.FlashSize))
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	setProgress(&w.progressFlash, 1)
	return nil
}

func (w *Worker) verifyEEPROM(ctx context.Context, c *chips.Chip, fname string) error {
	glog.Infof("verifying eeprom against %s", fname)
	err := verifyFile(ctx, fname, func(res *ihex.Result, buf []byte) error {
		if err := w.prog.ReadPage(isp.EEPROM, res.Addr, buf); err != nil {
			return errors.Trace(err)
		}
		setProgress(&w.progressEEPROM, float64(res.Addr+uint32(len(buf))-c.EEPROMOffset)/float64(c.EEPROMSize))
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	setProgress(&w.progressEEPROM, 1)
	return nil
}

// verifyFile reads every data record of fname from the target with read and
// compares.
func verifyFile(ctx context.Context, fname string, read func(res *ihex.Result, buf []byte) error) error {
	f, err := os.Open(fname)
	if err != nil {
		return errors.Annotatef(err, "failed to open %s", fname)
	}
	defer f.Close()
	dec := ihex.NewDecoder(f)
	return forEachData(ctx, dec, func(res *ihex.Result) error {
		buf := make([]byte, len(res.Data))
		if err := read(res, buf); err != nil {
			return errors.Annotatef(err, "@ 0x%x", res.Addr)
		}
		if !bytes.Equal(buf, res.Data) {
			logMismatch(res.Addr, res.Data, buf)
			return errors.Annotatef(ErrMismatch, "%s line %d @ 0x%x", filepath.Base(fname), dec.Line(), res.Addr)
		}
		return nil
	})
}

func logMismatch(addr uint32, want, got []byte) {
	ws, gs := fmt.Sprintf("% X", want), fmt.Sprintf("% X", got)
	glog.Errorf("mismatch @ 0x%04X", addr)
	glog.Errorf("file: %s", ws)
	glog.Errorf("chip: %s", gs)
	if glog.V(1) {
		dmp := diffmatchpatch.New()
		diffs := dmp.DiffMain(ws, gs, false)
		glog.Infof("diff: %s", dmp.DiffPrettyText(diffs))
	}
}
