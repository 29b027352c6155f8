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
	goflag "flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/golang/glog"
	"github.com/juju/errors"
	flag "github.com/spf13/pflag"

	"github.com/mongoose-os/avrisp/cli/flags"
	"github.com/mongoose-os/avrisp/common/pflagenv"
	"github.com/mongoose-os/avrisp/version"
)

const (
	envPrefix = "AVRISP_"
)

var (
	versionFlag = flag.Bool("version", false, "Print version and exit")
	helpFull    = flag.Bool("helpfull", false, "Show full help, including advanced flags")
)

var targetFlags = []string{"target", "pin-sck", "pin-mosi", "pin-miso", "pin-rst", "sim-chip", "chips-file"}

var commands = []command{
	{"detect", detect, `Detect the target chip and print its fuses`, nil, targetFlags},
	{"read", readDump, `Read flash, EEPROM and fuses into a dump`, []string{"name"}, append([]string{"dir"}, targetFlags...)},
	{"write", writeDump, `Write a dump to the target and verify it`, []string{"name"}, append([]string{"dir", "no-verify"}, targetFlags...)},
	{"verify", verifyDump, `Compare the target with a dump`, []string{"name"}, append([]string{"dir"}, targetFlags...)},
	{"write-fuses", writeFuses, `Write fuse and lock bytes from a dump`, []string{"name"}, append([]string{"dir"}, targetFlags...)},
	{"bridge", bridge, `Serve STK500v1 on a serial port, for use with avrdude -c stk500v1`, nil, append([]string{"port", "baud-rate", "hw-flow-control"}, targetFlags...)},
	{"chips", listChips, `List known chips`, nil, []string{"chips-file"}},
	{"ports", listPorts, `List serial ports`, nil, nil},
}

type command struct {
	name     string
	handler  handler
	short    string
	required []string
	optional []string
}

type handler func(ctx context.Context) error

func run(ctx context.Context) error {
	for _, c := range commands {
		if c.name == flag.Arg(0) {
			if err := checkFlags(c.required); err != nil {
				return errors.Trace(err)
			}
			return errors.Trace(c.handler(ctx))
		}
	}
	usage()
	return nil
}

func main() {
	initFlags()
	flag.Parse()
	// glog wants the standard flag set parsed.
	goflag.CommandLine.Parse([]string{})
	if err := pflagenv.Parse(envPrefix); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
	if *flags.Verbose {
		goflag.Set("alsologtostderr", "true")
		goflag.Set("v", "1")
	}

	switch {
	case *helpFull:
		unhideFlags()
		usage()
		return
	case *versionFlag:
		fmt.Printf("%s\nVersion: %s\nBuild ID: %s\n", "AVR in-circuit programmer", version.Version, version.BuildId)
		if d := version.GetDistr(version.BuildId); d != "" {
			fmt.Printf("Packaged for: %s\n", d)
		}
		return
	}
	glog.V(1).Infof("%s", version.GetUserAgent())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx); err != nil {
		glog.Infof("Error: %+v", errors.ErrorStack(err))
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		stop()
		os.Exit(1)
	}
}
