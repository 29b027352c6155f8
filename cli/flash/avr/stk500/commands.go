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
	"encoding/binary"
	"fmt"
)

const (
	respOK       = 0x10
	respFailed   = 0x11
	respUnknown  = 0x12
	respNoDevice = 0x13
	respInSync   = 0x14
	respNoSync   = 0x15

	crcEOP = 0x20

	cmdGetSync       = 0x30
	cmdGetSignOn     = 0x31
	cmdSetParameter  = 0x40
	cmdGetParameter  = 0x41
	cmdSetDevice     = 0x42
	cmdSetDeviceExt  = 0x45
	cmdEnterProgMode = 0x50
	cmdLeaveProgMode = 0x51
	cmdLoadAddress   = 0x55
	cmdUniversal     = 0x56
	cmdProgFlash     = 0x60
	cmdProgData      = 0x61
	cmdProgPage      = 0x64
	cmdReadPage      = 0x74
	cmdReadSign      = 0x75

	parmHWVer       = 0x80
	parmSWMajor     = 0x81
	parmSWMinor     = 0x82
	parmConnectType = 0x93

	hwVersion   = 2
	swMajor     = 1
	swMinor     = 18
	connectType = 'S'

	signOnMessage = "AVR ISP"
)

// DeviceParams is the payload of the set device command.
type DeviceParams struct {
	DeviceCode uint8
	Revision   uint8
	ProgType   uint8
	ParMode    uint8
	Polling    uint8
	SelfTimed  uint8
	LockBytes  uint8
	FuseBytes  uint8
	FlashPoll  uint8
	EEPROMPoll uint16
	PageSize   uint16
	EEPROMSize uint16
	FlashSize  uint32
}

const deviceParamsLen = 20

func parseDeviceParams(b []byte) DeviceParams {
	return DeviceParams{
		DeviceCode: b[0],
		Revision:   b[1],
		ProgType:   b[2],
		ParMode:    b[3],
		Polling:    b[4],
		SelfTimed:  b[5],
		LockBytes:  b[6],
		FuseBytes:  b[7],
		FlashPoll:  b[8],
		// b[9] is the second flash poll byte, unused.
		EEPROMPoll: binary.BigEndian.Uint16(b[10:12]),
		PageSize:   binary.BigEndian.Uint16(b[12:14]),
		EEPROMSize: binary.BigEndian.Uint16(b[14:16]),
		FlashSize:  binary.BigEndian.Uint32(b[16:20]),
	}
}

// command is one decoded request. Parameters are read by decode, payloads
// of page writes are read during execution.
type command interface {
	name() string
}

type (
	getSync       struct{}
	getSignOn     struct{}
	setParameter  struct{ param, value byte }
	getParameter  struct{ param byte }
	setDevice     struct{ params DeviceParams }
	setDeviceExt  struct{ raw [5]byte }
	enterProgMode struct{}
	leaveProgMode struct{}
	loadAddress   struct{ addr uint16 }
	universal     struct{ frame [4]byte }
	progFlash     struct{ lo, hi byte }
	progData      struct{ data byte }
	progPage      struct {
		length uint16
		mem    byte
	}
	readPage struct {
		length uint16
		mem    byte
	}
	readSign struct{}
	bareEOP  struct{}
	unknown  struct{ op byte }
)

func (getSync) name() string       { return "STK_GET_SYNC" }
func (getSignOn) name() string     { return "STK_GET_SIGN_ON" }
func (setParameter) name() string  { return "STK_SET_PARAMETER" }
func (getParameter) name() string  { return "STK_GET_PARAMETER" }
func (setDevice) name() string     { return "STK_SET_DEVICE" }
func (setDeviceExt) name() string  { return "STK_SET_DEVICE_EXT" }
func (enterProgMode) name() string { return "STK_ENTER_PROGMODE" }
func (leaveProgMode) name() string { return "STK_LEAVE_PROGMODE" }
func (loadAddress) name() string   { return "STK_LOAD_ADDRESS" }
func (universal) name() string     { return "STK_UNIVERSAL" }
func (progFlash) name() string     { return "STK_PROG_FLASH" }
func (progData) name() string      { return "STK_PROG_DATA" }
func (progPage) name() string      { return "STK_PROG_PAGE" }
func (readPage) name() string      { return "STK_READ_PAGE" }
func (readSign) name() string      { return "STK_READ_SIGN" }
func (bareEOP) name() string       { return "CRC_EOP" }
func (c unknown) name() string     { return fmt.Sprintf("unknown (0x%02x)", c.op) }

// decode reads the fixed size parameters of the command starting with op.
func (b *Bridge) decode(op byte) command {
	switch op {
	case cmdGetSync:
		return getSync{}
	case cmdGetSignOn:
		return getSignOn{}
	case cmdSetParameter:
		return setParameter{param: b.getch(), value: b.getch()}
	case cmdGetParameter:
		return getParameter{param: b.getch()}
	case cmdSetDevice:
		return setDevice{params: parseDeviceParams(b.fill(deviceParamsLen))}
	case cmdSetDeviceExt:
		var c setDeviceExt
		copy(c.raw[:], b.fill(len(c.raw)))
		return c
	case cmdEnterProgMode:
		return enterProgMode{}
	case cmdLeaveProgMode:
		return leaveProgMode{}
	case cmdLoadAddress:
		lo := b.getch()
		hi := b.getch()
		return loadAddress{addr: uint16(hi)<<8 | uint16(lo)}
	case cmdUniversal:
		var c universal
		copy(c.frame[:], b.fill(len(c.frame)))
		return c
	case cmdProgFlash:
		return progFlash{lo: b.getch(), hi: b.getch()}
	case cmdProgData:
		return progData{data: b.getch()}
	case cmdProgPage:
		hdr := b.fill(3)
		return progPage{length: binary.BigEndian.Uint16(hdr[:2]), mem: hdr[2]}
	case cmdReadPage:
		hdr := b.fill(3)
		return readPage{length: binary.BigEndian.Uint16(hdr[:2]), mem: hdr[2]}
	case cmdReadSign:
		return readSign{}
	case crcEOP:
		return bareEOP{}
	}
	return unknown{op: op}
}
