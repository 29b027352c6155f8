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
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
	"github.com/mongoose-os/avrisp/common/ihex"
)

type hexFile struct {
	*os.File
	dec *ihex.Decoder
}

// openHex opens a HEX file and checks every record in it.
func openHex(fname string) (*hexFile, error) {
	f, err := os.Open(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to open %s", fname)
	}
	hf := &hexFile{File: f, dec: ihex.NewDecoder(f)}
	if err := hf.dec.Check(); err != nil {
		f.Close()
		return nil, errors.Annotatef(err, "%s", fname)
	}
	return hf, nil
}

// forEachData calls f for every data record until the end of file record.
func forEachData(ctx context.Context, dec *ihex.Decoder, f func(res *ihex.Result) error) error {
	for {
		if err := stopped(ctx); err != nil {
			return errors.Trace(err)
		}
		res, err := dec.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Trace(err)
		}
		switch res.Status {
		case ihex.StatusEOF:
			return nil
		case ihex.StatusData:
			if err := f(res); err != nil {
				return errors.Trace(err)
			}
		}
	}
}

// checkFits returns ErrOutOfRange if any data in HEX file fname falls outside
// of [offset, offset+size).
func checkFits(fname string, offset, size uint32) error {
	im, err := ihex.ReadImageFile(fname, 0xff, 0)
	if err != nil {
		return errors.Trace(err)
	}
	for _, s := range im.Segments {
		if s.Addr < offset || uint64(s.Addr)+uint64(len(s.Data)) > uint64(offset)+uint64(size) {
			return errors.Annotatef(isp.ErrOutOfRange, "%s: 0x%x bytes @ 0x%x, memory is 0x%x @ 0x%x",
				filepath.Base(fname), len(s.Data), s.Addr, size, offset)
		}
	}
	return nil
}

// WriteDump writes dump dir/name to the target. The dump must have been read
// from the same kind of part. Both HEX files are checked and the target is
// left alone if anything is wrong with them. The chip is erased before
// writing.
func (w *Worker) WriteDump(ctx context.Context, dir, name string) error {
	w.resetProgress()
	c, err := w.requireChip(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	w.setState(StateWriting)
	defer w.setState(StateIdle)
	m, err := w.loadManifest(dir, name)
	if err != nil {
		return errors.Trace(err)
	}
	flash, err := openHex(filepath.Join(dir, m.FlashFile))
	if err != nil {
		return errors.Trace(err)
	}
	defer flash.Close()
	if err := checkFits(flash.Name(), c.FlashOffset, c.FlashSize); err != nil {
		return errors.Trace(err)
	}
	var eeprom *hexFile
	if m.EEPROMFile != "" && c.EEPROMSize > 0 {
		eeprom, err = openHex(filepath.Join(dir, m.EEPROMFile))
		if err != nil {
			return errors.Trace(err)
		}
		defer eeprom.Close()
		if err := checkFits(eeprom.Name(), c.EEPROMOffset, c.EEPROMSize); err != nil {
			return errors.Trace(err)
		}
	}
	if err := stopped(ctx); err != nil {
		return errors.Trace(err)
	}
	glog.Infof("erasing %s", c.Name)
	if err := w.prog.EraseChip(); err != nil {
		return errors.Trace(err)
	}
	return w.prog.WithProgMode(func() error {
		glog.Infof("writing flash from %s", m.FlashFile)
		if err := w.writeFlash(ctx, c, flash.dec); err != nil {
			return errors.Annotatef(err, "flash")
		}
		if eeprom != nil {
			glog.Infof("writing eeprom from %s", m.EEPROMFile)
			if err := w.writeEEPROM(ctx, c, eeprom.dec); err != nil {
				return errors.Annotatef(err, "eeprom")
			}
		}
		return nil
	})
}

func (w *Worker) writeFlash(ctx context.Context, c *chips.Chip, dec *ihex.Decoder) error {
	r := flashRegion(c)
	ext := -1
	err := forEachData(ctx, dec, func(res *ihex.Result) error {
		word := res.Addr / 2
		if err := w.extAddr(c, word, &ext); err != nil {
			return errors.Trace(err)
		}
		if err := w.prog.WritePage(r, word, res.Data); err != nil {
			return errors.Annotatef(err, "line %d", dec.Line())
		}
		setProgress(&w.progressFlash, float64(res.Addr+uint32(len(res.Data))-c.FlashOffset)/float64(c.FlashSize))
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	setProgress(&w.progressFlash, 1)
	return nil
}

func (w *Worker) writeEEPROM(ctx context.Context, c *chips.Chip, dec *ihex.Decoder) error {
	r := eepromRegion(c)
	err := forEachData(ctx, dec, func(res *ihex.Result) error {
		if err := w.prog.WritePage(r, res.Addr, res.Data); err != nil {
			return errors.Annotatef(err, "line %d", dec.Line())
		}
		setProgress(&w.progressEEPROM, float64(res.Addr+uint32(len(res.Data))-c.EEPROMOffset)/float64(c.EEPROMSize))
		return nil
	})
	if err != nil {
		return errors.Trace(err)
	}
	setProgress(&w.progressEEPROM, 1)
	return nil
}
