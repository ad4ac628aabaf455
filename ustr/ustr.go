// Package ustr holds the immutable byte-string type vm.Vm_t.Userstr
// returns when copying a NUL-terminated string out of user space.
// Trimmed from biscuit's much larger Ustr (which also carried path
// manipulation — Isdot/Isdotdot/Extend/IsAbsolute and friends — for its
// filesystem's path resolver, a subsystem outside spec.md's scope).
package ustr

/// Ustr is an immutable byte string copied out of a process's address
/// space.
type Ustr []uint8

/// MkUstr creates an empty Ustr value.
func MkUstr() Ustr {
	return Ustr{}
}

/// String converts the Ustr to a Go string.
func (us Ustr) String() string {
	return string(us)
}
