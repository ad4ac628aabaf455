// Package loader implements spec.md §4.5's Loader: parse an ELF image
// and materialize its loadable segments into an AddrSpace, grounded on
// original_source/kern/env.c's load_icode and using debug/elf the same
// way kernel/chentry.go already does elsewhere in this tree.
package loader

import (
	"debug/elf"
	"io"

	"defs"
	"mem"
	"mlayout"
	"proc"
	"vm"
)

// / Load implements load_icode: it reads r as an ELF64 little-endian
// / executable, region_allocs and fills every PT_LOAD segment at its
// / recorded virtual address (zero-filling the tail beyond the
// / file-backed portion, per p_memsz >= p_filesz), maps the initial
// / user stack page below USTACKTOP, and returns the entry point the
// / caller should set the new environment's saved rip to.
// /
// / as's pmap lock must NOT already be held — Load takes it itself
// / around each region_alloc/copy, mirroring load_icode's real CR3
// / switch bracketing the whole operation (there is no separate
// / privilege level here to switch into, but the lock bracketing
// / serves the same "only this environment's page tables are being
// / touched" purpose).
func Load(as *vm.Vm_t, r io.ReaderAt) (uintptr, defs.Err_t) {
	ef, err := elf.NewFile(r)
	if err != nil {
		return 0, defs.Invalid
	}
	if ef.Class != elf.ELFCLASS64 || ef.Data != elf.ELFDATA2LSB {
		return 0, defs.Invalid
	}
	if ef.Type != elf.ET_EXEC || ef.Machine != elf.EM_X86_64 {
		return 0, defs.Invalid
	}

	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		va := uintptr(prog.Vaddr)
		memsz := int(prog.Memsz)
		filesz := int(prog.Filesz)
		if filesz > memsz {
			return 0, defs.Invalid
		}

		as.Lock_pmap()
		as.RegionAlloc(va, memsz, mem.PTE_U|mem.PTE_W)
		as.Unlock_pmap()

		buf := make([]uint8, filesz)
		if filesz > 0 {
			if _, err := prog.ReadAt(buf, 0); err != nil && err != io.EOF {
				return 0, defs.Invalid
			}
		}
		if err := as.K2user(buf, int(va)); err != 0 {
			return 0, err
		}
		// The tail beyond filesz (the .bss portion of the segment) is
		// already zero: RegionAlloc always hands out zeroed frames.
	}

	as.Lock_pmap()
	as.RegionAlloc(mlayout.USTACKTOP-uintptr(mem.PGSIZE), mem.PGSIZE, mem.PTE_U|mem.PTE_W)
	as.Unlock_pmap()

	return uintptr(ef.Entry), 0
}

// / LoadInto is Load plus the bookkeeping load_icode does right after
// / (original_source/kern/env.c:478-495): it loads r's segments into e's
// / address space and records the ELF entry point in e's saved trapframe,
// / so the first iret into e lands there.
func LoadInto(e *proc.Env_t, r io.ReaderAt) defs.Err_t {
	entry, err := Load(e.As, r)
	if err != 0 {
		return err
	}
	e.Tf.Rip = uint64(entry)
	return 0
}
