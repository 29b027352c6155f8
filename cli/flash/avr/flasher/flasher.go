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

// Package flasher reads, writes and verifies whole-chip dumps: a manifest
// with the fuse and lock bytes plus Intel HEX files for flash and EEPROM.
package flasher

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
)

var (
	ErrNotDetected = errors.New("chip not detected")
	ErrWrongChip   = errors.New("dump is for a different chip")
	ErrMismatch    = errors.New("verification failed")
	ErrStopped     = errors.New("stopped")
	ErrBusy        = errors.New("another task is in progress")
	ErrNotRunning  = errors.New("worker is not running")
)

// State is what the worker is doing.
type State int32

const (
	StateIdle State = iota
	StateDetecting
	StateReading
	StateVerifying
	StateWriting
	StateWritingFuses
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDetecting:
		return "detecting"
	case StateReading:
		return "reading"
	case StateVerifying:
		return "verifying"
	case StateWriting:
		return "writing"
	case StateWritingFuses:
		return "writing fuses"
	}
	return "unknown"
}

// FuseSet holds low, high and extended fuses and the lock byte.
type FuseSet struct {
	Fuses [3]byte
	Lock  byte
}

// DetectResult is what Detect reports. Name is the part name, "No detect"
// if there is no answer from the target or "Unknown" if the signature is not
// in the table.
type DetectResult struct {
	Found     bool
	Name      string
	FlashSize uint32
	Chip      *chips.Chip
	Signature isp.Signature
	Fuses     FuseSet
}

const (
	nameNoDetect = "No detect"
	nameUnknown  = "Unknown"
)

type Worker struct {
	prog *isp.Programmer
	db   *chips.DB

	cbMu     sync.Mutex
	detectCb func(DetectResult)
	statusCb func(Status)

	reqs    chan request
	cancel  context.CancelFunc
	done    chan struct{}
	busy    atomic.Bool
	errMu   sync.Mutex
	lastErr error

	state          atomic.Int32
	progressFlash  atomic.Uint64
	progressEEPROM atomic.Uint64

	// Result of the last successful detection, owned by the task running.
	chip      *chips.Chip
	signature isp.Signature
	fuses     FuseSet
}

func New(prog *isp.Programmer, db *chips.DB) *Worker {
	return &Worker{prog: prog, db: db}
}

func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
}

// ProgressFlash returns completion of the current flash operation, 0 to 1.
func (w *Worker) ProgressFlash() float64 {
	return math.Float64frombits(w.progressFlash.Load())
}

func (w *Worker) ProgressEEPROM() float64 {
	return math.Float64frombits(w.progressEEPROM.Load())
}

func setProgress(p *atomic.Uint64, v float64) {
	if v > 1 {
		v = 1
	}
	p.Store(math.Float64bits(v))
}

func (w *Worker) resetProgress() {
	setProgress(&w.progressFlash, 0)
	setProgress(&w.progressEEPROM, 0)
}

func stopped(ctx context.Context) error {
	if ctx.Err() != nil {
		return errors.Trace(ErrStopped)
	}
	return nil
}

func flashRegion(c *chips.Chip) isp.Region {
	return isp.Region{Mem: isp.Flash, Offset: c.FlashOffset, Size: c.FlashSize, PageSize: c.PageSize}
}

func eepromRegion(c *chips.Chip) isp.Region {
	return isp.Region{Mem: isp.EEPROM, Offset: c.EEPROMOffset, Size: c.EEPROMSize, PageSize: c.EEPROMPageSize}
}

func manifestPath(dir, name string) string {
	return filepath.Join(dir, name+ManifestExt)
}

// loadManifest loads the manifest of a dump and checks it against the
// detected part.
func (w *Worker) loadManifest(dir, name string) (*Manifest, error) {
	m, err := LoadManifest(manifestPath(dir, name))
	if err != nil {
		return nil, errors.Trace(err)
	}
	if m.Signature != w.signature {
		return nil, errors.Annotatef(ErrWrongChip, "dump is for %s (%s), target is %s (%s)",
			m.ChipName, m.Signature, w.chip.Name, w.signature)
	}
	return m, nil
}
