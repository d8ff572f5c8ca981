// Package goid exposes the identifier of the calling goroutine.
//
// The reactive core keys its tracking stacks by goroutine, and the loop
// package uses it to detect calls made from its own worker goroutine.
package goid

import "runtime"

// ID returns a unique identifier for the current goroutine.
// It parses the header line of the runtime stack, which starts with
// "goroutine <id> ".
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)

	var id uint64
	for i := len("goroutine "); i < n; i++ {
		if buf[i] == ' ' {
			break
		}
		id = id*10 + uint64(buf[i]-'0')
	}
	return id
}
