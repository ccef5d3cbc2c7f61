// Package block defines the in-band boundary-tag layout shared by every
// block of a managed heap, and the pointer-arithmetic primitives that
// convert between a block's header, its footer, and its physical and
// logical neighbors.
//
// Every function here operates on raw byte addresses (Addr) into a region
// obtained from internal/pagemap, not on Go-heap memory, so the unsafe
// pointer conversions never cross a GC-relocation boundary.
package block

import "unsafe"

// Addr is a byte address inside a managed heap region.
type Addr uintptr

// State is the lifecycle state of a block.
type State uint8

const (
	Available State = iota
	Used
)

func (s State) String() string {
	if s == Used {
		return "used"
	}

	return "available"
}

// Header sits at the low address of every block. Size is the payload
// capacity in bytes, excluding header/footer overhead. Prev/Next are the
// addresses of this block's neighbors in whichever logical list (available
// or used) it currently belongs to; zero means "no neighbor" (list head or
// tail).
type Header struct {
	Size  uintptr
	Prev  Addr
	Next  Addr
	State State
}

// Footer sits at the high address of every block and repeats Size so the
// block physically above any given header can be located in O(1).
type Footer struct {
	Size  uintptr
	State State
}

const (
	// HeaderBytes is sizeof(Header), part of the public block_overhead
	// constant clients reason about when sizing tests.
	HeaderBytes = unsafe.Sizeof(Header{})
	// FooterBytes is sizeof(Footer).
	FooterBytes = unsafe.Sizeof(Footer{})
	// Overhead is the total metadata bytes bracketing every block.
	Overhead = HeaderBytes + FooterBytes
)

// HeaderAt reinterprets the bytes at addr as a Header. The caller is
// responsible for addr lying within the managed heap.
func HeaderAt(addr Addr) *Header {
	return (*Header)(unsafe.Pointer(addr)) //nolint:govet
}

// FooterAt reinterprets the bytes at addr as a Footer.
func FooterAt(addr Addr) *Footer {
	return (*Footer)(unsafe.Pointer(addr)) //nolint:govet
}

// FooterOf returns the address of header's footer: header + header_bytes + size.
func FooterOf(header Addr, size uintptr) Addr {
	return header + Addr(HeaderBytes) + Addr(size)
}

// PayloadOf returns the address of header's payload region.
func PayloadOf(header Addr) Addr {
	return header + Addr(HeaderBytes)
}

// HeaderOfPayload returns the header address owning payload pointer p.
func HeaderOfPayload(p Addr) Addr {
	return p - Addr(HeaderBytes)
}

// AboveOf returns the header address of the block physically immediately
// before header, located via the footer sitting just below header's own
// address. Returns ok=false if that would fall outside [heapBase, header).
func AboveOf(header, heapBase Addr) (above Addr, ok bool) {
	footerAddr := header - Addr(FooterBytes)
	if footerAddr < heapBase {
		return 0, false
	}

	foot := FooterAt(footerAddr)
	aboveHeader := footerAddr - Addr(HeaderBytes) - Addr(foot.Size)

	if aboveHeader < heapBase {
		return 0, false
	}

	return aboveHeader, true
}

// BelowOf returns the header address of the block physically immediately
// after header. Returns ok=false if that would be at or past heapEnd.
func BelowOf(header Addr, size uintptr, heapEnd Addr) (below Addr, ok bool) {
	candidate := FooterOf(header, size) + Addr(FooterBytes)
	if candidate >= heapEnd {
		return 0, false
	}

	return candidate, true
}

// WriteBoundaryTags writes a header and matching footer for a block of the
// given size and state at headerAddr.
func WriteBoundaryTags(headerAddr Addr, size uintptr, state State) {
	h := HeaderAt(headerAddr)
	h.Size = size
	h.State = state

	f := FooterAt(FooterOf(headerAddr, size))
	f.Size = size
	f.State = state
}

// List is a doubly-linked list of block header addresses, ordered by where
// AddFront/AddBack/AddAfter placed each one. A zero Addr in Head/Tail, or in a Header's Prev/Next,
// denotes "no neighbor" — the Go-native stand-in for the sentinel begin/end
// records described for pointer-based hosts: Head plays the role of
// begin.next and Tail the role of end.prev, without needing real dummy
// block records in the managed arena.
type List struct {
	Head Addr
	Tail Addr
	Len  int
}

// AddFront inserts block at the head of the list. O(1).
func (l *List) AddFront(block Addr) {
	h := HeaderAt(block)
	h.Prev = 0
	h.Next = l.Head

	if l.Head != 0 {
		HeaderAt(l.Head).Prev = block
	} else {
		l.Tail = block
	}

	l.Head = block
	l.Len++
}

// AddBack inserts block at the tail of the list. O(1).
func (l *List) AddBack(block Addr) {
	h := HeaderAt(block)
	h.Next = 0
	h.Prev = l.Tail

	if l.Tail != 0 {
		HeaderAt(l.Tail).Next = block
	} else {
		l.Head = block
	}

	l.Tail = block
	l.Len++
}

// AddAfter inserts block immediately after anchor. If anchor is zero, block
// becomes the new head (equivalent to AddFront on an empty list).
func (l *List) AddAfter(anchor, block Addr) {
	if anchor == 0 {
		l.AddFront(block)

		return
	}

	anchorHeader := HeaderAt(anchor)
	next := anchorHeader.Next

	h := HeaderAt(block)
	h.Prev = anchor
	h.Next = next

	anchorHeader.Next = block

	if next != 0 {
		HeaderAt(next).Prev = block
	} else {
		l.Tail = block
	}

	l.Len++
}

// Remove unlinks block from the list. O(1).
func (l *List) Remove(block Addr) {
	h := HeaderAt(block)

	if h.Prev != 0 {
		HeaderAt(h.Prev).Next = h.Next
	} else {
		l.Head = h.Next
	}

	if h.Next != 0 {
		HeaderAt(h.Next).Prev = h.Prev
	} else {
		l.Tail = h.Prev
	}

	h.Prev, h.Next = 0, 0
	l.Len--
}

// ReplaceAt rewires the list so newAddr occupies the exact slot oldAddr
// held (same Prev/Next neighbors), without touching Len. It lets a caller
// swap in a differently-addressed block at a known position in O(1)
// instead of removing one and re-walking to reinsert another — used when
// free() absorbs a physically-following available block into a
// lower-addressed block that was not itself on the list yet.
func (l *List) ReplaceAt(oldAddr, newAddr Addr) {
	old := HeaderAt(oldAddr)
	prev, next := old.Prev, old.Next

	replacement := HeaderAt(newAddr)
	replacement.Prev = prev
	replacement.Next = next

	if prev != 0 {
		HeaderAt(prev).Next = newAddr
	} else {
		l.Head = newAddr
	}

	if next != 0 {
		HeaderAt(next).Prev = newAddr
	} else {
		l.Tail = newAddr
	}
}

// Walk visits every block in address-independent list order, head to tail.
func (l *List) Walk(visit func(addr Addr, h *Header)) {
	for cur := l.Head; cur != 0; {
		h := HeaderAt(cur)
		next := h.Next
		visit(cur, h)
		cur = next
	}
}
