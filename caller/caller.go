// Package caller prints Go call stacks for kernel diagnostics. Trimmed
// from biscuit's version, which also carried Distinct_caller_t, a
// dedup-and-whitelist tracker for rate-limiting a particular repeated
// warning site — nothing in this tree emits that kind of warning, so
// only the stack dump console.go's diagnostic paths call stays.
package caller

import (
	"fmt"
	"runtime"
)

// Callerdump prints the call stack starting at the given depth.
//
// Parameters:
//
//	start - stack frame to begin printing.
func Callerdump(start int) {
	i := start
	s := ""
	for {
		_, f, l, ok := runtime.Caller(i)
		if !ok {
			break
		}
		i++
		if s == "" {
			s = fmt.Sprintf("%s:%d\n", f, l)
		} else {
			s += fmt.Sprintf("\t<-%s:%d\n", f, l)
		}
	}
	fmt.Printf("%s", s)
}
