package mem

// The remaining x86-64 PTE flags from spec.md §3 that mem.go's existing
// PTE_P/PTE_W/PTE_U/PTE_G/PTE_PCD/PTE_PS/PTE_ADDR constants didn't already
// cover, plus the three software-available bits. One of the available bits
// (PTE_COW) is claimed by ufork's copy-on-write fork; the other two are
// left for a future upcall mechanism extension and are unused today.
const (
	/// PTE_PWT enables write-through caching for the mapping.
	PTE_PWT Pa_t = 1 << 3
	/// PTE_A is set by hardware when the mapping is accessed.
	PTE_A Pa_t = 1 << 5
	/// PTE_D is set by hardware when the mapping is written.
	PTE_D Pa_t = 1 << 6
	/// PTE_AVAIL1 is software-available bit 9.
	PTE_AVAIL1 Pa_t = 1 << 9
	/// PTE_COW marks a page shared copy-on-write between two address
	/// spaces; only ufork's page-fault upcall may clear it.
	PTE_COW Pa_t = PTE_AVAIL1
	/// PTE_AVAIL2 is software-available bit 10, unused.
	PTE_AVAIL2 Pa_t = 1 << 10
	/// PTE_AVAIL3 is software-available bit 11, unused.
	PTE_AVAIL3 Pa_t = 1 << 11

	/// PTE_SYSCALL is the permission mask syscalls accept from user mode
	/// (spec.md §4.8): {User,Present} required, nothing else but Writable
	/// and the software-available bits are allowed through.
	PTE_SYSCALL = PTE_U | PTE_P | PTE_W | PTE_AVAIL1 | PTE_AVAIL2 | PTE_AVAIL3
)
