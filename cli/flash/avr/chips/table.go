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

func avr8(name string, sig [3]byte, flash uint32, page uint16, eeprom uint32, eepromPage uint16, sram uint32, fuses, locks, irqs int) *Chip {
	return &Chip{
		Name:           name,
		Arch:           ArchAVR8,
		Signature:      sig,
		FlashSize:      flash,
		PageSize:       page,
		EEPROMSize:     eeprom,
		EEPROMPageSize: eepromPage,
		SRAMSize:       sram,
		NFuses:         fuses,
		NLocks:         locks,
		NInterrupts:    irqs,
	}
}

var builtin = []*Chip{
	avr8("AT90S2313", [3]byte{0x1e, 0x91, 0x01}, 2048, 0, 128, 0, 128, 0, 1, 11),
	avr8("ATtiny13", [3]byte{0x1e, 0x90, 0x07}, 1024, 32, 64, 4, 64, 2, 1, 10),
	avr8("ATtiny25", [3]byte{0x1e, 0x91, 0x08}, 2048, 32, 128, 4, 128, 3, 1, 15),
	avr8("ATtiny45", [3]byte{0x1e, 0x92, 0x06}, 4096, 64, 256, 4, 256, 3, 1, 15),
	avr8("ATtiny85", [3]byte{0x1e, 0x93, 0x0b}, 8192, 64, 512, 4, 512, 3, 1, 15),
	avr8("ATtiny2313", [3]byte{0x1e, 0x91, 0x0a}, 2048, 32, 128, 4, 128, 3, 1, 19),
	avr8("ATtiny44", [3]byte{0x1e, 0x92, 0x07}, 4096, 64, 256, 4, 256, 3, 1, 20),
	avr8("ATtiny84", [3]byte{0x1e, 0x93, 0x0c}, 8192, 64, 512, 4, 512, 3, 1, 20),
	avr8("ATmega8", [3]byte{0x1e, 0x93, 0x07}, 8192, 64, 512, 4, 1024, 2, 1, 19),
	avr8("ATmega16", [3]byte{0x1e, 0x94, 0x03}, 16384, 128, 512, 4, 1024, 2, 1, 21),
	avr8("ATmega32", [3]byte{0x1e, 0x95, 0x02}, 32768, 128, 1024, 4, 2048, 2, 1, 21),
	avr8("ATmega48P", [3]byte{0x1e, 0x92, 0x0a}, 4096, 64, 256, 4, 512, 3, 1, 26),
	avr8("ATmega88P", [3]byte{0x1e, 0x93, 0x0f}, 8192, 64, 512, 4, 1024, 3, 1, 26),
	avr8("ATmega168P", [3]byte{0x1e, 0x94, 0x0b}, 16384, 128, 512, 4, 1024, 3, 1, 26),
	avr8("ATmega328", [3]byte{0x1e, 0x95, 0x14}, 32768, 128, 1024, 4, 2048, 3, 1, 26),
	avr8("ATmega328P", [3]byte{0x1e, 0x95, 0x0f}, 32768, 128, 1024, 4, 2048, 3, 1, 26),
	avr8("ATmega32U4", [3]byte{0x1e, 0x95, 0x87}, 32768, 128, 1024, 4, 2560, 3, 1, 43),
	avr8("ATmega644P", [3]byte{0x1e, 0x96, 0x0a}, 65536, 256, 2048, 8, 4096, 3, 1, 31),
	avr8("ATmega1284P", [3]byte{0x1e, 0x97, 0x05}, 131072, 256, 4096, 8, 16384, 3, 1, 35),
	avr8("ATmega1280", [3]byte{0x1e, 0x97, 0x03}, 131072, 256, 4096, 8, 8192, 3, 1, 57),
	avr8("ATmega2560", [3]byte{0x1e, 0x98, 0x01}, 262144, 256, 4096, 8, 8192, 3, 1, 57),

	// Not programmable over this interface, listed so that they are not
	// mistaken for AVR8 parts.
	{Name: "AT89S51", Arch: ArchMCS51, Signature: [3]byte{0x1e, 0x51, 0x06}, FlashSize: 4096, SRAMSize: 128, NLocks: 1},
	{Name: "ATxmega128A1", Arch: ArchXMEGA, Signature: [3]byte{0x1e, 0x97, 0x4c}, FlashSize: 139264, PageSize: 512, EEPROMSize: 2048, EEPROMPageSize: 32, SRAMSize: 8192},
	{Name: "ATmega4809", Arch: ArchAVR8X, Signature: [3]byte{0x1e, 0x96, 0x51}, FlashSize: 49152, PageSize: 128, EEPROMSize: 256, EEPROMPageSize: 64, SRAMSize: 6144},
}
