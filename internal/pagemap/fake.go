package pagemap

import (
	"fmt"
	"unsafe"
)

// FakeMapper is a hand-written test double standing in for a real OS
// mapping: it backs pages with a single Go byte slice (held in the arena
// field, so it stays alive as long as the FakeMapper does) and can be told
// to refuse a specific hint
// address, which is how the S6 "extension blocked by address conflict"
// scenario is exercised without requiring root or real mmap access in CI.
//
// A hand-written fake is deliberately used here instead of a generated
// mock: the Mapper interface is three methods wide and the behavior under
// test (fixed-address refusal) is most directly expressed as a field on
// the fake rather than as a recorded expectation.
type FakeMapper struct {
	pageBytes    uintptr
	arena        []byte
	base         uintptr
	used         uintptr
	refuseHint   uintptr
	refuseActive bool
}

// NewFakeMapper preallocates a large arena and reports base as its start
// address; MapPages carves pages out of it sequentially, and UnmapPages is a
// no-op that never returns pages to the arena.
func NewFakeMapper(pageBytes uintptr, totalPages int) *FakeMapper {
	arena := make([]byte, pageBytes*uintptr(totalPages))

	return &FakeMapper{
		pageBytes: pageBytes,
		arena:     arena,
		base:      uintptr(unsafe.Pointer(&arena[0])),
	}
}

func (m *FakeMapper) PageBytes() uintptr { return m.pageBytes }

// RefuseAt makes every later MapPages call targeting exactly this hint
// address fail, simulating a foreign mapping already occupying heap_end.
func (m *FakeMapper) RefuseAt(hint uintptr) {
	m.refuseHint = hint
	m.refuseActive = true
}

func (m *FakeMapper) MapPages(hint uintptr, pageCount int) (uintptr, error) {
	if pageCount <= 0 {
		return 0, fmt.Errorf("pagemap: pageCount must be positive, got %d: %w", pageCount, ErrMapFailed)
	}

	if m.refuseActive && hint != 0 && hint == m.refuseHint {
		return 0, fmt.Errorf("pagemap: fake refused hint %x: %w", hint, ErrMapFailed)
	}

	want := uintptr(pageCount) * m.pageBytes
	next := m.base + m.used

	if hint != 0 && hint != next {
		return 0, fmt.Errorf("pagemap: fake cannot honor hint %x, next free address is %x: %w", hint, next, ErrMapFailed)
	}

	if m.used+want > uintptr(len(m.arena)) {
		return 0, fmt.Errorf("pagemap: fake arena exhausted: %w", ErrMapFailed)
	}

	m.used += want

	return next, nil
}

func (m *FakeMapper) UnmapPages(base uintptr, byteCount uintptr) error {
	return nil
}
