// Package acpi validates the ACPI RSDP checksum and walks a Multiple
// APIC Description Table (MADT) to discover each CPU's LAPIC ID — the
// SMP bring-up collaborator's input, named but left external by
// spec.md §1. Grounded on gopher-os's multiboot/ACPI-adjacent parsing
// style: manual, struct-tag-free field decode rather than a generic
// ACPI library, since this kernel only ever needs these two tables.
//
// Driving real hardware from this data is out of this repo's scope;
// the checksum walk and MADT entry decode are real and exercised by a
// unit test against a synthetic MADT blob.
package acpi

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// / ChecksumOK sums every byte in buf modulo 256 and reports whether the
// / result is zero, the checksum rule every ACPI table (RSDP included)
// / uses: a valid table's bytes always sum to zero mod 256.
func ChecksumOK(buf []byte) bool {
	var sum uint8
	for _, b := range buf {
		sum += b
	}
	return sum == 0
}

// sdtHeaderSize is every ACPI System Description Table's common header:
// Signature[4], Length(4), Revision(1), Checksum(1), OEMID[6],
// OEMTableID[8], OEMRevision(4), CreatorID(4), CreatorRevision(4).
const sdtHeaderSize = 36

// SDTHeader is the header every ACPI table (including the MADT) starts
// with.
type SDTHeader struct {
	Signature       [4]byte
	Length          uint32
	Revision        uint8
	Checksum        uint8
	OEMID           [6]byte
	OEMTableID      [8]byte
	OEMRevision     uint32
	CreatorID       uint32
	CreatorRevision uint32
}

// EntryType identifies a MADT interrupt-controller-structure entry.
type EntryType uint8

const (
	EntryLocalAPIC            EntryType = 0
	EntryIOAPIC               EntryType = 1
	EntryInterruptSrcOverride EntryType = 2
	EntryLocalAPICNMI         EntryType = 4
	EntryLocalX2APIC          EntryType = 9
)

// LocalAPICFlags bit 0: the CPU described is enabled and usable.
const LocalAPICEnabled uint32 = 1

// LocalAPIC describes one "Processor Local APIC" MADT entry
// (EntryLocalAPIC, fixed 8-byte body after the 2-byte entry header).
type LocalAPIC struct {
	ACPIProcessorID uint8
	APICID          uint8
	Flags           uint32
}

// MADT is a parsed Multiple APIC Description Table: its header, the
// LAPIC's own MMIO base address, and every Processor Local APIC entry
// found (SMP bring-up's input — one kernel stack/TSS per entry).
type MADT struct {
	Header        SDTHeader
	LocalAPICAddr uint32
	Flags         uint32
	LocalAPICs    []LocalAPIC
}

// / ParseMADT validates buf's SDT header (signature "APIC" and a
// / zero-sum checksum over the whole table, not just the header) and
// / walks its variable-length interrupt-controller-structure list,
// / collecting every Processor Local APIC entry. Unknown entry types
// / are skipped by their own declared length, matching how a real ACPI
// / consumer must tolerate table revisions it doesn't know every entry
// / kind for.
func ParseMADT(buf []byte) (*MADT, error) {
	if len(buf) < sdtHeaderSize+8 {
		return nil, fmt.Errorf("acpi: MADT buffer too short: %d bytes", len(buf))
	}
	var hdr SDTHeader
	if err := binary.Read(bytes.NewReader(buf[:sdtHeaderSize]), binary.LittleEndian, &hdr); err != nil {
		return nil, fmt.Errorf("acpi: decoding MADT header: %w", err)
	}
	if string(hdr.Signature[:]) != "APIC" {
		return nil, fmt.Errorf("acpi: bad MADT signature %q", hdr.Signature)
	}
	if int(hdr.Length) > len(buf) {
		return nil, fmt.Errorf("acpi: MADT header claims %d bytes, buffer has %d", hdr.Length, len(buf))
	}
	if !ChecksumOK(buf[:hdr.Length]) {
		return nil, fmt.Errorf("acpi: MADT checksum invalid")
	}

	m := &MADT{
		Header:        hdr,
		LocalAPICAddr: binary.LittleEndian.Uint32(buf[sdtHeaderSize:]),
		Flags:         binary.LittleEndian.Uint32(buf[sdtHeaderSize+4:]),
	}

	off := sdtHeaderSize + 8
	end := int(hdr.Length)
	for off+2 <= end {
		etype := EntryType(buf[off])
		elen := int(buf[off+1])
		if elen < 2 || off+elen > end {
			return nil, fmt.Errorf("acpi: MADT entry at offset %d has bad length %d", off, elen)
		}
		if etype == EntryLocalAPIC {
			if elen != 8 {
				return nil, fmt.Errorf("acpi: Local APIC entry has length %d, want 8", elen)
			}
			m.LocalAPICs = append(m.LocalAPICs, LocalAPIC{
				ACPIProcessorID: buf[off+2],
				APICID:          buf[off+3],
				Flags:           binary.LittleEndian.Uint32(buf[off+4:]),
			})
		}
		off += elen
	}
	return m, nil
}

// / UsableAPICIDs returns the APIC ID of every Local APIC entry with its
// / enabled flag set — the set of CPUs SMP bring-up should start.
func (m *MADT) UsableAPICIDs() []uint8 {
	var ids []uint8
	for _, l := range m.LocalAPICs {
		if l.Flags&LocalAPICEnabled != 0 {
			ids = append(ids, l.APICID)
		}
	}
	return ids
}
