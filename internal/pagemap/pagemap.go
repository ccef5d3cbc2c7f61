// Package pagemap is the OS page layer: it obtains anonymous,
// read/write virtual-memory pages at a caller-chosen address, releases them
// on teardown, and reports the system page size. Everything above this
// package (internal/block, internal/heap) only ever sees byte addresses;
// pagemap is the sole place that talks to the operating system.
package pagemap

import "errors"

// ErrMapFailed is the sentinel returned when the OS cannot satisfy a
// mapping request — in particular when a non-zero hint address is already
// occupied. Implementations MUST NOT silently relocate the mapping in that
// case; they must fail instead.
var ErrMapFailed = errors.New("pagemap: unable to map pages at requested address")

// Mapper obtains and releases anonymous page-granular memory from the
// operating system.
type Mapper interface {
	// MapPages requests pageCount contiguous pages. If hint is non-zero the
	// implementation MUST honor that exact address or fail with
	// ErrMapFailed; hint == 0 lets the OS choose any address.
	MapPages(hint uintptr, pageCount int) (base uintptr, err error)
	// UnmapPages releases byteCount bytes starting at base.
	UnmapPages(base uintptr, byteCount uintptr) error
	// PageBytes reports the OS page size captured at construction.
	PageBytes() uintptr
}

// RoundUpPages rounds byteCount up to a whole number of pages.
func RoundUpPages(byteCount uintptr, pageBytes uintptr) int {
	if byteCount == 0 {
		return 1
	}

	pages := (byteCount + pageBytes - 1) / pageBytes

	return int(pages)
}
