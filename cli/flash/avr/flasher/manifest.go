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
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"github.com/juju/errors"

	"github.com/mongoose-os/avrisp/cli/flash/avr/chips"
	"github.com/mongoose-os/avrisp/cli/flash/avr/isp"
)

const (
	ManifestType    = "AVR ISP Dump"
	ManifestVersion = 1
	ManifestExt     = ".avr"

	keyFiletype   = "Filetype"
	keyVersion    = "Version"
	keyChipName   = "Chip_name"
	keySignature  = "Signature"
	keyLock       = "Lock"
	keyDumpFlash  = "Dump_flash"
	keyDumpEEPROM = "Dump_eeprom"
)

var fuseKeys = []string{"Lfuse", "Hfuse", "Efuse"}

var ErrBadManifest = errors.New("invalid dump manifest")

// Manifest describes a dump: the part it was taken from, its fuse and lock
// bytes and the names of the HEX files, relative to the manifest.
type Manifest struct {
	ChipName  string
	Signature isp.Signature
	// Low, high, extended, as many as the part has.
	Fuses []byte
	// Empty or one byte.
	Lock       []byte
	FlashFile  string
	EEPROMFile string
}

func FlashFileName(name string) string  { return name + "_flash.hex" }
func EEPROMFileName(name string) string { return name + "_eeprom.hex" }

// NewManifest builds the manifest for a dump of chip named name.
func NewManifest(c *chips.Chip, sig isp.Signature, fuses FuseSet, name string) *Manifest {
	m := &Manifest{
		ChipName:  c.Name,
		Signature: sig,
		FlashFile: FlashFileName(name),
	}
	m.Fuses = fuses.Fuses[:c.NFuses]
	if c.NLocks > 0 {
		m.Lock = []byte{fuses.Lock}
	}
	if c.EEPROMSize > 0 {
		m.EEPROMFile = EEPROMFileName(name)
	}
	return m
}

func hexByte(b byte) string {
	return fmt.Sprintf("%02X", b)
}

func (m *Manifest) Save(fname string) error {
	cf := ini.Empty()
	sec := cf.Section("")
	kvs := [][2]string{
		{keyFiletype, ManifestType},
		{keyVersion, strconv.Itoa(ManifestVersion)},
		{keyChipName, m.ChipName},
		{keySignature, m.Signature.String()},
	}
	for i, f := range m.Fuses {
		kvs = append(kvs, [2]string{fuseKeys[i], hexByte(f)})
	}
	for _, l := range m.Lock {
		kvs = append(kvs, [2]string{keyLock, hexByte(l)})
	}
	kvs = append(kvs, [2]string{keyDumpFlash, m.FlashFile})
	if m.EEPROMFile != "" {
		kvs = append(kvs, [2]string{keyDumpEEPROM, m.EEPROMFile})
	}
	for _, kv := range kvs {
		if _, err := sec.NewKey(kv[0], kv[1]); err != nil {
			return errors.Annotatef(err, "%s", kv[0])
		}
	}
	if err := cf.SaveTo(fname); err != nil {
		return errors.Annotatef(err, "failed to save %s", fname)
	}
	return nil
}

func parseHexByte(sec *ini.Section, key string) (byte, error) {
	v, err := strconv.ParseUint(sec.Key(key).String(), 16, 8)
	if err != nil {
		return 0, errors.Annotatef(ErrBadManifest, "%s: %q", key, sec.Key(key).String())
	}
	return byte(v), nil
}

func LoadManifest(fname string) (*Manifest, error) {
	cf, err := ini.Load(fname)
	if err != nil {
		return nil, errors.Annotatef(err, "failed to load %s", fname)
	}
	sec := cf.Section("")
	if sec.Key(keyFiletype).String() != ManifestType {
		return nil, errors.Annotatef(ErrBadManifest, "%s: file type %q", fname, sec.Key(keyFiletype).String())
	}
	if v, err := sec.Key(keyVersion).Int(); err != nil || v != ManifestVersion {
		return nil, errors.Annotatef(ErrBadManifest, "%s: version %q", fname, sec.Key(keyVersion).String())
	}
	m := &Manifest{ChipName: sec.Key(keyChipName).String()}
	if !sec.HasKey(keySignature) {
		return nil, errors.Annotatef(ErrBadManifest, "%s: no %s", fname, keySignature)
	}
	sig, err := chips.ParseSignature(sec.Key(keySignature).String())
	if err != nil {
		return nil, errors.Annotatef(ErrBadManifest, "%s: %s", fname, err)
	}
	m.Signature = sig
	missing := ""
	for _, k := range fuseKeys {
		if !sec.HasKey(k) {
			if missing == "" {
				missing = k
			}
			continue
		}
		if missing != "" {
			return nil, errors.Annotatef(ErrBadManifest, "%s: %s without %s", fname, k, missing)
		}
		v, err := parseHexByte(sec, k)
		if err != nil {
			return nil, errors.Annotatef(err, "%s", fname)
		}
		m.Fuses = append(m.Fuses, v)
	}
	if sec.HasKey(keyLock) {
		v, err := parseHexByte(sec, keyLock)
		if err != nil {
			return nil, errors.Annotatef(err, "%s", fname)
		}
		m.Lock = []byte{v}
	}
	m.FlashFile = sec.Key(keyDumpFlash).String()
	if m.FlashFile == "" {
		return nil, errors.Annotatef(ErrBadManifest, "%s: no %s", fname, keyDumpFlash)
	}
	m.EEPROMFile = sec.Key(keyDumpEEPROM).String()
	for _, f := range []string{m.FlashFile, m.EEPROMFile} {
		if f != "" && !plainFileName(f) {
			return nil, errors.Annotatef(ErrBadManifest, "%s: %q is not a file name", fname, f)
		}
	}
	return m, nil
}

// HEX files must sit next to the manifest.
func plainFileName(f string) bool {
	return f == filepath.Base(f) && !strings.ContainsAny(f, `/\`) && f != "." && f != ".."
}

// CheckChip returns ErrBadManifest unless the manifest has exactly the fuse
// and lock bytes that c has.
func (m *Manifest) CheckChip(c *chips.Chip) error {
	var missing []string
	for i := len(m.Fuses); i < c.NFuses && i < len(fuseKeys); i++ {
		missing = append(missing, fuseKeys[i])
	}
	if len(m.Lock) < c.NLocks {
		missing = append(missing, keyLock)
	}
	if len(missing) > 0 {
		return errors.Annotatef(ErrBadManifest, "no %s for %s", strings.Join(missing, ", "), c.Name)
	}
	if len(m.Fuses) > c.NFuses || len(m.Lock) > c.NLocks {
		return errors.Annotatef(ErrBadManifest, "%d fuses and %d locks for %s", len(m.Fuses), len(m.Lock), c.Name)
	}
	return nil
}
