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
package chips

import (
	"testing"
)

func TestLookupUnique(t *testing.T) {
	db := Default()
	for _, c := range db.All() {
		if c.Arch != ArchAVR8 {
			continue
		}
		got, ok := db.Lookup(c.Signature)
		if !ok {
			t.Errorf("%s: not found", c)
			continue
		}
		if got != c {
			t.Errorf("%s: got %s", c, got)
		}
	}
}

func TestLookupSkipsOtherArchs(t *testing.T) {
	db := Default()
	for _, c := range db.All() {
		if c.Arch == ArchAVR8 {
			continue
		}
		if got, ok := db.Lookup(c.Signature); ok {
			t.Errorf("%s: got %s", c, got)
		}
	}
}

func TestDescriptors(t *testing.T) {
	for _, c := range Default().All() {
		if c.NFuses < 0 || c.NFuses > 3 {
			t.Errorf("%s: %d fuses", c, c.NFuses)
		}
		if c.NLocks < 0 || c.NLocks > 1 {
			t.Errorf("%s: %d locks", c, c.NLocks)
		}
		if c.Arch == ArchAVR8 && c.Signature[0] != 0x1e {
			t.Errorf("%s: bad vendor", c)
		}
	}
	c, ok := Default().ByName("atmega328p")
	if !ok {
		t.Fatalf("ATmega328P not found")
	}
	if c.FlashSize != 32768 || c.PageSize != 128 || c.EEPROMSize != 1024 || c.NFuses != 3 {
		t.Errorf("unexpected descriptor: %+v", c)
	}
}

func TestParseSignature(t *testing.T) {
	for _, s := range []string{"1E 95 0F", "1e950f", "0x1E950F"} {
		sig, err := ParseSignature(s)
		if err != nil {
			t.Errorf("%q: %s", s, err)
			continue
		}
		if got, want := sig, [3]byte{0x1e, 0x95, 0x0f}; got != want {
			t.Errorf("%q: got %x, want %x", s, got, want)
		}
	}
	for _, s := range []string{"", "1E 95", "1E 95 0F 00", "zz zz zz"} {
		if _, err := ParseSignature(s); err == nil {
			t.Errorf("%q: expected an error", s)
		}
	}
}

func TestExtend(t *testing.T) {
	db := Default()
	ndb, err := db.Extend([]byte(`
- name: ATmega328PB
  signature: 1E 95 16
  flash_size: 32768
  page_size: 128
  eeprom_size: 1024
  eeprom_page_size: 4
  sram_size: 2048
  fuses: 3
  locks: 1
  interrupts: 45
- name: ATmega328P-custom
  arch: avr8
  signature: 1E 95 0F
  flash_size: 30720
  page_size: 128
`))
	if err != nil {
		t.Fatal(err)
	}
	c, ok := ndb.Lookup([3]byte{0x1e, 0x95, 0x16})
	if !ok || c.Name != "ATmega328PB" || c.NInterrupts != 45 {
		t.Errorf("got %+v", c)
	}
	c, ok = ndb.Lookup([3]byte{0x1e, 0x95, 0x0f})
	if !ok || c.Name != "ATmega328P-custom" {
		t.Errorf("extension did not take precedence: %+v", c)
	}
	// The base table is unchanged.
	if c, _ := db.Lookup([3]byte{0x1e, 0x95, 0x0f}); c.Name != "ATmega328P" {
		t.Errorf("got %s", c)
	}

	for i, bad := range []string{
		"- name: X\n  signature: 1E\n",
		"- signature: 1E 95 16\n",
		"- name: X\n  signature: 1E 95 16\n  arch: ARM\n",
		"- name: X\n  signature: 1E 95 16\n  fuses: 4\n",
		"name: X",
	} {
		if _, err := db.Extend([]byte(bad)); err == nil {
			t.Errorf("%d: expected an error", i)
		}
	}
}
