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

	"github.com/mongoose-os/avrisp/common/multierror"
)

// WriteFuses programs the fuse and lock bytes saved in dump dir/name. Only
// the bytes that differ from the ones on the target are written. All of
// them are attempted even if some fail.
func (w *Worker) WriteFuses(ctx context.Context, dir, name string) error {
	c, err := w.requireChip(ctx)
	if err != nil {
		return errors.Trace(err)
	}
	w.setState(StateWritingFuses)
	defer w.setState(StateIdle)
	m, err := w.loadManifest(dir, name)
	if err != nil {
		return errors.Trace(err)
	}
	if err := m.CheckChip(c); err != nil {
		return errors.Trace(err)
	}
	type fuseWrite struct {
		name      string
		cur, want byte
		write     func(byte) error
	}
	var writes []fuseWrite
	writers := []func(byte) error{w.prog.WriteFuseLow, w.prog.WriteFuseHigh, w.prog.WriteFuseExtended}
	for i, v := range m.Fuses {
		writes = append(writes, fuseWrite{fuseKeys[i], w.fuses.Fuses[i], v, writers[i]})
	}
	for _, v := range m.Lock {
		writes = append(writes, fuseWrite{keyLock, w.fuses.Lock, v, w.prog.WriteLock})
	}
	return w.prog.WithProgMode(func() error {
		var errs error
		for _, fw := range writes {
			if err := stopped(ctx); err != nil {
				return multierror.Append(errs, err)
			}
			if fw.cur == fw.want {
				glog.V(1).Infof("%s = %02X, unchanged", fw.name, fw.cur)
				continue
			}
			glog.Infof("%s: %02X -> %02X", fw.name, fw.cur, fw.want)
			if err := fw.write(fw.want); err != nil {
				errs = multierror.Append(errs, errors.Annotatef(err, "%s", fw.name))
			}
		}
		return errs
	})
}
