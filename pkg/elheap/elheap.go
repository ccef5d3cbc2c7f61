// Package elheap is the public surface of the allocator: init, malloc,
// free, append_pages, print_stats, cleanup. It follows the process-wide
// convenience-layer pattern common to allocator packages — a process-wide
// Global handle plus package-level functions that delegate to it — while
// also exposing New/*Heap for callers who want an explicit, non-global
// handle for introspection or testing.
package elheap

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/elheap/elheap/internal/block"
	"github.com/elheap/elheap/internal/heap"
	"github.com/elheap/elheap/internal/pagemap"
)

// Option configures a Heap at construction time.
type Option = heap.Option

var (
	WithInitialSize     = heap.WithInitialSize
	WithMinimumPayload  = heap.WithMinimumPayload
	WithAlignment       = heap.WithAlignment
	WithIntegrityChecks = heap.WithIntegrityChecks
)

const (
	// BlockOverhead is the constant header+footer byte cost of every block.
	BlockOverhead = block.Overhead
)

// PageBytes reports the OS page size elheap will request pages in units of.
func PageBytes() uintptr {
	return defaultMapper().PageBytes()
}

// Report is the read-only stats shape returned by Stats/PrintStats.
type Report = heap.Report

// Heap is an explicit, non-global handle to a managed heap. Multiple Heaps
// may coexist in one process, each independently single-threaded; see
// Global/Initialize below for sugar over exactly one such Heap.
type Heap struct {
	ctl *heap.Controller
}

// New performs the init operation on a fresh Heap backed by mapper (pass
// nil to use the platform's real OSMapper).
func New(mapper pagemap.Mapper, opts ...Option) (*Heap, error) {
	if mapper == nil {
		mapper = defaultMapper()
	}

	ctl, err := heap.New(mapper, opts...)
	if err != nil {
		return nil, err
	}

	return &Heap{ctl: ctl}, nil
}

func defaultMapper() pagemap.Mapper {
	return pagemap.NewOSMapper()
}

// Malloc returns a payload pointer of at least n bytes, or nil with an
// error describing why (typically that no block is large enough).
func (h *Heap) Malloc(n uintptr) (unsafe.Pointer, error) {
	return h.ctl.Malloc(n)
}

// Free returns p (previously returned by Malloc, or nil) to the heap.
func (h *Heap) Free(p unsafe.Pointer) {
	h.ctl.Free(p)
}

// AppendPages grows the heap by k pages.
func (h *Heap) AppendPages(k int) error {
	return h.ctl.AppendPages(k)
}

// PrintStats writes a diagnostic dump to w.
func (h *Heap) PrintStats(w io.Writer) {
	h.ctl.PrintStats(w)
}

// Stats returns a structured snapshot instead of formatted text.
func (h *Heap) Stats() Report {
	return h.ctl.Stats()
}

// Cleanup releases all pages.
func (h *Heap) Cleanup() error {
	return h.ctl.Cleanup()
}

// HeapBase, HeapEnd, AvailableHead and UsedHead expose the controller's
// introspection surface.
func (h *Heap) HeapBase() uintptr      { return h.ctl.HeapBase() }
func (h *Heap) HeapEnd() uintptr       { return h.ctl.HeapEnd() }
func (h *Heap) AvailableHead() uintptr { return h.ctl.AvailableHead() }
func (h *Heap) UsedHead() uintptr      { return h.ctl.UsedHead() }

// Global is the process-wide default Heap that the package-level
// convenience functions below operate on.
var Global *Heap

// Initialize sets up Global. A second Initialize without an intervening
// Cleanup is a programming error and returns an error rather than
// silently leaking the previous mapping.
func Initialize(opts ...Option) error {
	if Global != nil {
		return fmt.Errorf("elheap: Initialize called twice without Cleanup")
	}

	h, err := New(nil, opts...)
	if err != nil {
		return err
	}

	Global = h

	return nil
}

// Malloc allocates from Global. Panics if Initialize was never called.
func Malloc(n uintptr) (unsafe.Pointer, error) {
	mustInit()

	return Global.Malloc(n)
}

// Free frees to Global.
func Free(p unsafe.Pointer) {
	mustInit()
	Global.Free(p)
}

// AppendPages grows Global.
func AppendPages(k int) error {
	mustInit()

	return Global.AppendPages(k)
}

// PrintStats dumps Global's stats.
func PrintStats(w io.Writer) {
	mustInit()
	Global.PrintStats(w)
}

// Stats returns Global's stats.
func Stats() Report {
	mustInit()

	return Global.Stats()
}

// Cleanup tears down Global, allowing a subsequent Initialize to start
// fresh.
func Cleanup() error {
	mustInit()

	err := Global.Cleanup()
	Global = nil

	return err
}

func mustInit() {
	if Global == nil {
		panic("elheap: Initialize not called")
	}
}
