//go:build linux

package pagemap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// OSMapper maps anonymous pages directly with the mmap(2)/munmap(2)
// syscalls, the same build-tagged-per-OS, raw-syscall style the rest of the
// pack uses for platform-specific I/O (e.g. sendfile/splice wrappers):
// one thin file per OS family, errors returned rather than panicked.
type OSMapper struct {
	pageBytes uintptr
}

// NewOSMapper captures the current system page size.
func NewOSMapper() *OSMapper {
	return &OSMapper{pageBytes: uintptr(unix.Getpagesize())}
}

func (m *OSMapper) PageBytes() uintptr { return m.pageBytes }

// MapPages requests pageCount*PageBytes() anonymous read/write bytes. When
// hint is non-zero, MAP_FIXED_NOREPLACE is passed so the kernel either
// places the mapping at exactly that address or the call fails outright
// when that range is already mapped — it never silently relocates and never
// replaces an existing mapping.
func (m *OSMapper) MapPages(hint uintptr, pageCount int) (uintptr, error) {
	if pageCount <= 0 {
		return 0, fmt.Errorf("pagemap: pageCount must be positive, got %d: %w", pageCount, ErrMapFailed)
	}

	length := uintptr(pageCount) * m.pageBytes

	flags := unix.MAP_PRIVATE | unix.MAP_ANONYMOUS
	if hint != 0 {
		flags |= unix.MAP_FIXED_NOREPLACE
	}

	base, _, errno := unix.Syscall6(
		unix.SYS_MMAP,
		hint,
		length,
		unix.PROT_READ|unix.PROT_WRITE,
		uintptr(flags),
		^uintptr(0), // fd = -1
		0,
	)
	if errno != 0 {
		return 0, fmt.Errorf("pagemap: mmap failed: %v: %w", errno, ErrMapFailed)
	}

	if hint != 0 && base != hint {
		_, _, _ = unix.Syscall(unix.SYS_MUNMAP, base, length, 0)

		return 0, fmt.Errorf("pagemap: mmap returned %x, wanted %x: %w", base, hint, ErrMapFailed)
	}

	return base, nil
}

// UnmapPages releases byteCount bytes starting at base.
func (m *OSMapper) UnmapPages(base uintptr, byteCount uintptr) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, base, byteCount, 0)
	if errno != 0 {
		return fmt.Errorf("pagemap: munmap failed: %v", errno)
	}

	return nil
}
