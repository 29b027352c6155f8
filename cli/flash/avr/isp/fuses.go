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
package isp

import (
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
)

type fuseByte struct {
	name  string
	read  [3]byte
	write byte
}

var (
	lfuse = fuseByte{name: "lfuse", read: [3]byte{0x50, 0x00, 0x00}, write: 0xa0}
	hfuse = fuseByte{name: "hfuse", read: [3]byte{0x58, 0x08, 0x00}, write: 0xa8}
	efuse = fuseByte{name: "efuse", read: [3]byte{0x50, 0x08, 0x00}, write: 0xa4}
	lock  = fuseByte{name: "lock", read: [3]byte{0x58, 0x00, 0x00}, write: 0xe0}
)

func (p *Programmer) readFuse(f fuseByte) (byte, error) {
	if p.bus == nil {
		return 0, errors.Trace(ErrNotInProgMode)
	}
	deadline := time.Now().Add(fuseReadWindow)
	for {
		v := p.transaction(f.read[0], f.read[1], f.read[2], 0x00)
		if p.transaction(f.read[0], f.read[1], f.read[2], 0x00) == v {
			glog.V(3).Infof("%s = 0x%02x", f.name, v)
			return v, nil
		}
		if !time.Now().Before(deadline) {
			return v, errors.Annotatef(ErrUnstableRead, "%s (last 0x%02x)", f.name, v)
		}
	}
}

func (p *Programmer) writeFuse(f fuseByte, v byte) error {
	cur, err := p.readFuse(f)
	if err != nil {
		return errors.Trace(err)
	}
	if cur == v {
		glog.V(1).Infof("%s is already 0x%02x", f.name, v)
		return nil
	}
	p.transaction(0xac, f.write, 0x00, v)
	deadline := time.Now().Add(fuseWritePoll)
	for {
		got, err := p.readFuse(f)
		if err == nil && got == v {
			glog.V(1).Infof("%s: 0x%02x -> 0x%02x", f.name, cur, v)
			return nil
		}
		if !time.Now().Before(deadline) {
			return errors.Annotatef(ErrWriteFailed, "%s: wrote 0x%02x, read back 0x%02x", f.name, v, got)
		}
	}
}

func (p *Programmer) ReadFuseLow() (byte, error)      { return p.readFuse(lfuse) }
func (p *Programmer) ReadFuseHigh() (byte, error)     { return p.readFuse(hfuse) }
func (p *Programmer) ReadFuseExtended() (byte, error) { return p.readFuse(efuse) }
func (p *Programmer) ReadLock() (byte, error)         { return p.readFuse(lock) }

// Writes are skipped when the current value already matches.

func (p *Programmer) WriteFuseLow(v byte) error      { return p.writeFuse(lfuse, v) }
func (p *Programmer) WriteFuseHigh(v byte) error     { return p.writeFuse(hfuse, v) }
func (p *Programmer) WriteFuseExtended(v byte) error { return p.writeFuse(efuse, v) }
func (p *Programmer) WriteLock(v byte) error         { return p.writeFuse(lock, v) }
