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
package stk500

import (
	"context"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/juju/errors"
	"golang.org/x/sync/errgroup"
)

const (
	pumpChunk    = 64
	pumpInterval = 10 * time.Millisecond
)

// ServeConn runs the bridge over a byte stream, typically a serial port.
// It returns when ctx is done or the stream fails. Reads must not block
// indefinitely: the serial port is expected to be opened with an
// inter-character timeout. io.EOF from a read is treated as a timeout.
func (b *Bridge) ServeConn(ctx context.Context, rw io.ReadWriter) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)
	txReady := make(chan struct{}, 1)
	b.SetTxCallback(func() {
		select {
		case txReady <- struct{}{}:
		default:
		}
	})
	defer b.SetTxCallback(nil)

	eg.Go(func() error {
		defer cancel()
		b.Serve(ctx)
		return nil
	})

	eg.Go(func() error {
		buf := make([]byte, pumpChunk)
		for ctx.Err() == nil {
			n, err := rw.Read(buf)
			if err != nil && err != io.EOF {
				b.Exit()
				return errors.Annotatef(err, "read")
			}
			if n == 0 {
				continue
			}
			glog.V(4).Infof("stk500: rx % x", buf[:n])
			for !b.Rx(buf[:n]) {
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(time.Millisecond):
				}
			}
		}
		return nil
	})

	eg.Go(func() error {
		buf := make([]byte, pumpChunk)
		ticker := time.NewTicker(pumpInterval)
		defer ticker.Stop()
		for done := false; !done; {
			select {
			case <-ctx.Done():
				// Flush the last reply.
				done = true
			case <-txReady:
			case <-ticker.C:
			}
			for {
				n := b.Tx(buf)
				if n == 0 {
					break
				}
				glog.V(4).Infof("stk500: tx % x", buf[:n])
				if _, err := rw.Write(buf[:n]); err != nil {
					b.Exit()
					return errors.Annotatef(err, "write")
				}
			}
		}
		return nil
	})

	return errors.Trace(eg.Wait())
}
