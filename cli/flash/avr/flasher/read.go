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
	"bufio"
	"context"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
	"github.com/mongoose-os/avrisp/common/ihex"
)

const (
	eepromChunk = 32
	// Flash larger than this many words needs the extended address byte.
	extAddrWords = 0x10000
)

// ReadDump detects the target and saves its fuses to dir/name.avr, flash to
// dir/name_flash.hex and EEPROM, if the part has one, to dir/name_eeprom.hex.
func (w *Worker) ReadDump(ctx context.Context, dir, name string) error {
	w.resetProgress()
	c, err := w.requireChip(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	w.setState(StateReading)
	defer w.setState(StateIdle)
	m := NewManifest(c, w.signature, w.fuses, name)
	if err := m.Save(manifestPath(dir, name)); err != nil {
		return errors.Trace(err)
	}
	return w.prog.WithProgMode(func() error {
		if err := w.dumpFlash(ctx, c, filepath.Join(dir, m.FlashFile)); err != nil {
			return errors.Annotatef(err, "flash")
		}
		if m.EEPROMFile != "" {
			if err := w.dumpEEPROM(ctx, c, filepath.Join(dir, m.EEPROMFile)); err != nil {
				return errors.Annotatef(err, "eeprom")
			}
		}
		return nil
	})
}

// createHex runs f with an encoder writing to a new file fname and finishes
// the file with an end of file record.
func createHex(fname string, startAddr uint32, f func(enc *ihex.Encoder) error) (err error) {
	fp, err := os.Create(fname)
	if err != nil {
		return errors.Annotatef(err, "failed to create %s", fname)
	}
	defer func() {
		if cerr := fp.Close(); cerr != nil && err == nil {
			err = errors.Annotatef(cerr, "failed to close %s", fname)
		}
	}()
	bw := bufio.NewWriter(fp)
	enc := ihex.NewEncoder(bw, startAddr)
	if err := f(enc); err != nil {
		return errors.Trace(err)
	}
	if err := enc.Close(); err != nil {
		return errors.Trace(err)
	}
	return errors.Trace(bw.Flush())
}

// extAddr sends the extended address byte when the bank of word address
// changes. cur is -1 until the first call.
func (w *Worker) extAddr(c *chips.Chip, word uint32, cur *int) error {
	if c.FlashSize/2 <= extAddrWords {
		return nil
	}
	if bank := int(word >> 16); bank != *cur {
		if err := w.prog.SetExtendedAddress(byte(bank)); err != nil {
			return errors.Trace(err)
		}
		*cur = bank
	}
	return nil
}

func (w *Worker) dumpFlash(ctx context.Context, c *chips.Chip, fname string) error {
	glog.Infof("reading flash to %s", fname)
	chunk := uint32(c.PageSize)
	if chunk == 0 {
		chunk = ihex.MaxDataLen
	}
	buf := make([]byte, chunk)
	ext := -1
	err := createHex(fname, c.FlashOffset, func(enc *ihex.Encoder) error {
		end := c.FlashOffset + c.FlashSize
		for a := c.FlashOffset; a < end; a += chunk {
			if err := stopped(ctx); err != nil {
				return errors.Trace(err)
			}
			data := buf
			if n := end - a; n < chunk {
				data = buf[:n]
			}
			word := a / 2
			if err := w.extAddr(c, word, &ext); err != nil {
				return errors.Trace(err)
			}
			if err := w.prog.ReadPage(isp.Flash, word, data); err != nil {
				return errors.Annotatef(err, "@ 0x%x", a)
			}
			if _, err := enc.Write(data); err != nil {
				return errors.Trace(err)
			}
			setProgress(&w.progressFlash, float64(a+uint32(len(data))-c.FlashOffset)/float64(c.FlashSize))
		}
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	setProgress(&w.progressFlash, 1)
	return nil
}

func (w *Worker) dumpEEPROM(ctx context.Context, c *chips.Chip, fname string) error {
	glog.Infof("reading eeprom to %s", fname)
	chunk := uint32(eepromChunk)
	if c.EEPROMSize < chunk {
		chunk = c.EEPROMSize
	}
	buf := make([]byte, chunk)
	err := createHex(fname, c.EEPROMOffset, func(enc *ihex.Encoder) error {
		end := c.EEPROMOffset + c.EEPROMSize
		for a := c.EEPROMOffset; a < end; a += chunk {
			if err := stopped(ctx); err != nil {
				return errors.Trace(err)
			}
			data := buf
			if n := end - a; n < chunk {
				data = buf[:n]
			}
			if err := w.prog.ReadPage(isp.EEPROM, a, data); err != nil {
				return errors.Annotatef(err, "@ 0x%x", a)
			}
			if _, err := enc.Write(data); err != nil {
				return errors.Trace(err)
			}
			setProgress(&w.progressEEPROM, float64(a+uint32(len(data))-c.EEPROMOffset)/float64(c.EEPROMSize))
		}
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	setProgress(&w.progressEEPROM, 1)
	return nil
}
