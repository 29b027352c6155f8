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

	"github.com/golang/glog"
	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
)

// Detect identifies the target and reads its fuses. Absence of a target or
// an unknown part is not an error: Found is false and Name says what
// happened. The result is also passed to the detect callback.
func (w *Worker) Detect(ctx context.Context) (*DetectResult, error) {
	if err := stopped(ctx); err != nil {
		return nil, errors.Trace(err)
	}
	w.setState(StateDetecting)
	defer w.setState(StateIdle)
	res, err := w.detect()
	if err != nil {
		return nil, errors.Trace(err)
	}
	w.reportDetect(*res)
	return res, nil
}

func (w *Worker) detect() (*DetectResult, error) {
	w.chip = nil
	res := &DetectResult{Name: nameNoDetect}
	err := w.prog.WithProgMode(func() error {
		sig, err := w.prog.ReadSignature()
		if err != nil {
			return errors.Trace(err)
		}
		res.Signature = sig
		if sig.Vendor() != isp.VendorAtmel {
			glog.Infof("signature %s: not an AVR", sig)
			return nil
		}
		c, ok := w.db.Lookup(sig)
		if !ok {
			glog.Infof("signature %s: unknown part", sig)
			res.Name = nameUnknown
			return nil
		}
		glog.Infof("detected %s, signature %s", c.Name, sig)
		fuses, err := readFuses(w.prog, c)
		if err != nil {
			return errors.Annotatef(err, "%s", c.Name)
		}
		res.Found = true
		res.Name = c.Name
		res.FlashSize = c.FlashSize
		res.Chip = c
		res.Fuses = fuses
		return nil
	})
	switch {
	case errors.Cause(err) == isp.ErrNoTarget:
		glog.Errorf("%s", err)
		return res, nil
	case err != nil:
		return nil, errors.Trace(err)
	}
	if res.Found {
		w.chip = res.Chip
		w.signature = res.Signature
		w.fuses = res.Fuses
	}
	return res, nil
}

// readFuses reads as many fuse bytes as c has, in low, high, extended order,
// and the lock byte. An unstable read is logged and the last value kept.
func readFuses(p *isp.Programmer, c *chips.Chip) (FuseSet, error) {
	var fs FuseSet
	readers := []func() (byte, error){p.ReadFuseLow, p.ReadFuseHigh, p.ReadFuseExtended}
	for i := 0; i < c.NFuses && i < len(readers); i++ {
		v, err := readers[i]()
		if err != nil {
			if errors.Cause(err) != isp.ErrUnstableRead {
				return fs, errors.Trace(err)
			}
			glog.Warningf("%s", err)
		}
		fs.Fuses[i] = v
	}
	if c.NLocks == 1 {
		v, err := p.ReadLock()
		if err != nil {
			if errors.Cause(err) != isp.ErrUnstableRead {
				return fs, errors.Trace(err)
			}
			glog.Warningf("%s", err)
		}
		fs.Lock = v
	}
	glog.V(1).Infof("fuses % 02x, lock %02x", fs.Fuses[:c.NFuses], fs.Lock)
	return fs, nil
}

// requireChip returns the detected part, detecting it first if needed.
func (w *Worker) requireChip(ctx context.Context) (*chips.Chip, error) {
	res, err := w.Detect(ctx)
	if err != nil {
		return nil, errors.Trace(err)
	}
	if !res.Found {
		return nil, errors.Annotatef(ErrNotDetected, "%s", res.Name)
	}
	return res.Chip, nil
}
