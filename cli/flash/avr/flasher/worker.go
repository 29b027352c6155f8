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
)

type Task int

const (
	TaskDetect Task = iota
	TaskRead
	TaskWrite
	TaskVerify
	TaskWriteFuses
)

func (t Task) String() string {
	switch t {
	case TaskDetect:
		return "detect"
	case TaskRead:
		return "read"
	case TaskWrite:
		return "write"
	case TaskVerify:
		return "verify"
	case TaskWriteFuses:
		return "write fuses"
	}
	return "unknown"
}

// Status is the outcome of a background task, passed to the status callback.
type Status int

const (
	StatusEndReading Status = iota
	StatusEndVerification
	StatusEndWriting
	StatusEndWritingFuse
	StatusErrorReading
	StatusErrorVerification
	StatusErrorWriting
	StatusErrorWritingFuse
)

func (s Status) String() string {
	switch s {
	case StatusEndReading:
		return "read done"
	case StatusEndVerification:
		return "verification done"
	case StatusEndWriting:
		return "write done"
	case StatusEndWritingFuse:
		return "fuse write done"
	case StatusErrorReading:
		return "read failed"
	case StatusErrorVerification:
		return "verification failed"
	case StatusErrorWriting:
		return "write failed"
	case StatusErrorWritingFuse:
		return "fuse write failed"
	}
	return "unknown"
}

// IsError reports whether s is a failure status.
func (s Status) IsError() bool {
	return s >= StatusErrorReading
}

type request struct {
	task      Task
	dir, name string
}

// SetDetectCallback sets a function to be called with the result of every
// detection, including the ones done as part of other tasks.
func (w *Worker) SetDetectCallback(cb func(DetectResult)) {
	w.cbMu.Lock()
	w.detectCb = cb
	w.cbMu.Unlock()
}

// SetStatusCallback sets a function to be called when a background read,
// write, verify or fuse write task finishes.
func (w *Worker) SetStatusCallback(cb func(Status)) {
	w.cbMu.Lock()
	w.statusCb = cb
	w.cbMu.Unlock()
}

func (w *Worker) reportDetect(res DetectResult) {
	w.cbMu.Lock()
	cb := w.detectCb
	w.cbMu.Unlock()
	if cb != nil {
		cb(res)
	}
}

func (w *Worker) reportStatus(s Status) {
	w.cbMu.Lock()
	cb := w.statusCb
	w.cbMu.Unlock()
	if cb != nil {
		cb(s)
	}
}

// Start launches the goroutine that runs background tasks.
func (w *Worker) Start() {
	if w.IsRunning() {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	w.reqs = make(chan request, 1)
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, w.reqs, w.done)
}

// Stop cancels the task in progress, if any, and waits for the goroutine to
// exit. A page write in progress is completed first.
func (w *Worker) Stop() {
	if !w.IsRunning() {
		return
	}
	w.cancel()
	<-w.done
	w.cancel, w.done, w.reqs = nil, nil, nil
	w.busy.Store(false)
}

func (w *Worker) IsRunning() bool {
	return w.done != nil
}

// Busy reports whether a task is queued or running.
func (w *Worker) Busy() bool {
	return w.busy.Load()
}

// Err returns the error of the last finished background task.
func (w *Worker) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.lastErr
}

func (w *Worker) setErr(err error) {
	w.errMu.Lock()
	w.lastErr = err
	w.errMu.Unlock()
}

func (w *Worker) run(ctx context.Context, reqs <-chan request, done chan<- struct{}) {
	defer close(done)
	glog.V(1).Infof("worker started")
	for {
		select {
		case <-ctx.Done():
			glog.V(1).Infof("worker stopped")
			return
		case req := <-reqs:
			w.execute(ctx, req)
		}
	}
}

func (w *Worker) execute(ctx context.Context, req request) {
	glog.V(1).Infof("%s %s/%s", req.task, req.dir, req.name)
	var err error
	var ok, fail Status
	switch req.task {
	case TaskDetect:
		_, err = w.Detect(ctx)
		w.setErr(err)
		w.busy.Store(false)
		return
	case TaskRead:
		err = w.ReadDump(ctx, req.dir, req.name)
		ok, fail = StatusEndReading, StatusErrorReading
	case TaskWrite:
		err = w.WriteDump(ctx, req.dir, req.name)
		ok, fail = StatusEndWriting, StatusErrorWriting
	case TaskVerify:
		err = w.Verify(ctx, req.dir, req.name)
		ok, fail = StatusEndVerification, StatusErrorVerification
	case TaskWriteFuses:
		err = w.WriteFuses(ctx, req.dir, req.name)
		ok, fail = StatusEndWritingFuse, StatusErrorWritingFuse
	}
	w.setErr(err)
	// Callbacks may submit the next task.
	w.busy.Store(false)
	if err != nil {
		glog.Errorf("%s: %s", req.task, err)
		w.reportStatus(fail)
		return
	}
	w.reportStatus(ok)
}

func (w *Worker) submit(req request) error {
	if !w.IsRunning() {
		return errors.Trace(ErrNotRunning)
	}
	if !w.busy.CompareAndSwap(false, true) {
		return errors.Annotatef(ErrBusy, "%s", req.task)
	}
	w.reqs <- req
	return nil
}

// DetectStart runs Detect in the background. The result is delivered to the
// detect callback.
func (w *Worker) DetectStart() error {
	return w.submit(request{task: TaskDetect})
}

// ReadDumpStart runs ReadDump in the background.
func (w *Worker) ReadDumpStart(dir, name string) error {
	return w.submit(request{task: TaskRead, dir: dir, name: name})
}

func (w *Worker) WriteDumpStart(dir, name string) error {
	return w.submit(request{task: TaskWrite, dir: dir, name: name})
}

func (w *Worker) VerifyStart(dir, name string) error {
	return w.submit(request{task: TaskVerify, dir: dir, name: name})
}

func (w *Worker) WriteFusesStart(dir, name string) error {
	return w.submit(request{task: TaskWriteFuses, dir: dir, name: name})
}
