// Package heap is the heap controller: it owns the available/used block
// lists, the heap extent, and implements allocation, release, page
// extension, stats reporting and teardown on top of internal/block's
// navigation primitives and internal/pagemap's OS page layer.
//
// The Config/Option shape here follows the functional-options pattern
// elsewhere in this module: a struct of tunables folded by option funcs
// passed to the constructor.
package heap

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/elheap/elheap/internal/abi"
	"github.com/elheap/elheap/internal/block"
	"github.com/elheap/elheap/internal/errors"
	"github.com/elheap/elheap/internal/integrity"
	"github.com/elheap/elheap/internal/pagemap"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Config holds the tunables for a Controller.
type Config struct {
	// InitialSizeHint is the requested initial heap size in bytes; rounded
	// up to whole pages. Zero means "one page", so a caller that just wants
	// a working heap never has to compute a size up front, while a caller
	// that needs a specific starting extent still can.
	InitialSizeHint uintptr
	// MinimumPayload is the smallest payload size malloc will ever record,
	// and the smallest leftover split is allowed to produce.
	MinimumPayload uintptr
	// Alignment is the payload alignment in bytes; must be a power of two.
	Alignment uintptr
	// EnableIntegrityChecks turns on the blake2b boundary-tag checksum
	// from internal/integrity. Off by default: a release build should not
	// pay for corruption detection it doesn't need.
	EnableIntegrityChecks bool
}

// Option mutates a Config.
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		InitialSizeHint:       0,
		MinimumPayload:        8,
		Alignment:             8,
		EnableIntegrityChecks: false,
	}
}

func WithInitialSize(bytes uintptr) Option {
	return func(c *Config) { c.InitialSizeHint = bytes }
}

func WithMinimumPayload(bytes uintptr) Option {
	return func(c *Config) { c.MinimumPayload = bytes }
}

func WithAlignment(bytes uintptr) Option {
	return func(c *Config) { c.Alignment = bytes }
}

func WithIntegrityChecks(enabled bool) Option {
	return func(c *Config) { c.EnableIntegrityChecks = enabled }
}

// BlockInfo is a read-only snapshot of one block, used by Stats/PrintStats.
type BlockInfo struct {
	Addr  uintptr
	Size  uintptr
	State string
}

// Report is the read-only output of Stats/PrintStats.
type Report struct {
	ABI             string
	HeapBase        uintptr
	HeapEnd         uintptr
	AvailableCount  int
	UsedCount       int
	AvailableBytes  uintptr
	UsedBytes       uintptr
	AvailableBlocks []BlockInfo
	UsedBlocks      []BlockInfo
}

// Controller owns a single managed heap extent: its page mapping, its
// available/used block lists, and the optional integrity checker.
type Controller struct {
	mapper    pagemap.Mapper
	config    *Config
	abi       abi.Tag
	integrity *integrity.Checker

	heapBase block.Addr
	heapEnd  block.Addr

	available block.List
	used      block.List

	digests map[block.Addr]integrity.Digest
}

// New obtains an initial span of pages from mapper and installs one giant
// available block covering it.
func New(mapper pagemap.Mapper, opts ...Option) (*Controller, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	pageBytes := mapper.PageBytes()

	sizeHint := cfg.InitialSizeHint
	if sizeHint == 0 {
		sizeHint = pageBytes
	}

	pageCount := pagemap.RoundUpPages(sizeHint, pageBytes)

	base, err := mapper.MapPages(0, pageCount)
	if err != nil {
		return nil, fmt.Errorf("heap: init failed: %w", err)
	}

	c := &Controller{
		mapper:   mapper,
		config:   cfg,
		abi:      abi.Current(),
		heapBase: block.Addr(base),
		heapEnd:  block.Addr(base) + block.Addr(uintptr(pageCount)*pageBytes),
	}

	if cfg.EnableIntegrityChecks {
		c.integrity = integrity.NewChecker()
		c.digests = make(map[block.Addr]integrity.Digest)
	}

	initialSize := uintptr(c.heapEnd-c.heapBase) - uintptr(block.Overhead)
	c.writeTags(c.heapBase, initialSize, block.Available)
	c.available.AddBack(c.heapBase)

	return c, nil
}

func (c *Controller) writeTags(addr block.Addr, size uintptr, state block.State) {
	block.WriteBoundaryTags(addr, size, state)

	if c.integrity != nil {
		c.digests[addr] = c.integrity.Sum(size, uint8(state))
	}
}

// verifyNeighbor checks a neighbor's recorded digest against its current
// header/footer, when integrity checks are enabled. A mismatch means the
// boundary tag was corrupted since it was last written.
func (c *Controller) verifyNeighbor(addr block.Addr) error {
	if c.integrity == nil {
		return nil
	}

	h := block.HeaderAt(addr)

	want, known := c.digests[addr]
	if !known {
		return nil
	}

	if !c.integrity.Verify(h.Size, uint8(h.State), want) {
		return errors.PointerArithmetic(fmt.Sprintf("boundary tag at %#x failed integrity check", uintptr(addr)))
	}

	return nil
}

func (c *Controller) forgetDigest(addr block.Addr) {
	if c.digests != nil {
		delete(c.digests, addr)
	}
}

// normalize rounds n up to the configured minimum payload and alignment.
func (c *Controller) normalize(n uintptr) uintptr {
	if n < c.config.MinimumPayload {
		n = c.config.MinimumPayload
	}

	return alignUp(n, c.config.Alignment)
}

func alignUp(size, alignment uintptr) uintptr {
	if alignment == 0 {
		return size
	}

	return (size + alignment - 1) &^ (alignment - 1)
}

// Malloc performs a first-fit search over the available list and, when the
// chosen block has enough leftover room, splits it instead of handing out
// the whole thing.
func (c *Controller) Malloc(n uintptr) (unsafe.Pointer, error) {
	need := c.normalize(n)

	var found block.Addr

	c.available.Walk(func(addr block.Addr, h *block.Header) {
		if found == 0 && h.Size >= need {
			found = addr
		}
	})

	if found == 0 {
		return nil, errors.OutOfHeap(need)
	}

	if err := c.verifyNeighbor(found); err != nil {
		return nil, err
	}

	b := found
	bHeader := block.HeaderAt(b)
	prevSlot := bHeader.Prev

	c.available.Remove(b)

	leftover := bHeader.Size - need
	if leftover >= uintptr(block.Overhead)+c.config.MinimumPayload {
		// Split: shrink b to exactly `need`, carve a new available block
		// B' out of the remainder, and reinsert B' where B used to sit so
		// the available list stays in address order.
		c.writeTags(b, need, block.Used)

		bPrimeAddr := block.FooterOf(b, need) + block.Addr(block.FooterBytes)
		bPrimeSize := leftover - uintptr(block.Overhead)
		c.writeTags(bPrimeAddr, bPrimeSize, block.Available)
		c.available.AddAfter(prevSlot, bPrimeAddr)
	} else {
		c.writeTags(b, bHeader.Size, block.Used)
	}

	c.used.AddFront(b)

	return unsafe.Pointer(uintptr(block.PayloadOf(b))), nil //nolint:govet
}

// Free removes header from the used list, then merges it with whichever
// physical neighbors are currently available, checking above before below.
func (c *Controller) Free(p unsafe.Pointer) {
	if p == nil {
		return
	}

	header := block.HeaderOfPayload(block.Addr(uintptr(p)))

	c.used.Remove(header)
	c.forgetDigest(header)

	h := block.HeaderAt(header)
	h.State = block.Available

	merged := false

	if above, ok := block.AboveOf(header, c.heapBase); ok {
		if block.HeaderAt(above).State == block.Available {
			if err := c.verifyNeighbor(above); err == nil {
				c.absorb(above, header, false)
				header = above
				merged = true
			}
		}
	}

	hSize := block.HeaderAt(header).Size
	if below, ok := block.BelowOf(header, hSize, c.heapEnd); ok {
		if block.HeaderAt(below).State == block.Available {
			if err := c.verifyNeighbor(below); err == nil {
				if merged {
					// header already occupies a list slot (it's `above`);
					// just absorb below and drop its list node.
					c.absorb(header, below, true)
				} else {
					// header was never in the available list: take over
					// below's list slot, then grow to cover it.
					c.available.ReplaceAt(below, header)
					c.growInPlace(header, below)
					c.forgetDigest(below)
				}

				merged = true
			}
		}
	}

	if !merged {
		c.writeTags(header, h.Size, block.Available)
		insertAddressOrdered(&c.available, header)
	} else {
		c.writeTags(header, block.HeaderAt(header).Size, block.Available)
	}
}

// absorb combines victim into keep, which MUST already occupy its correct
// slot in the available list. If victimInList, victim is unlinked first.
func (c *Controller) absorb(keep, victim block.Addr, victimInList bool) {
	keepHeader := block.HeaderAt(keep)
	victimHeader := block.HeaderAt(victim)

	newSize := keepHeader.Size + uintptr(block.Overhead) + victimHeader.Size

	if victimInList {
		c.available.Remove(victim)
	}

	c.forgetDigest(victim)
	keepHeader.Size = newSize
}

// growInPlace absorbs victim's bytes into keep's size without touching the
// list (used right after ReplaceAt already repositioned keep).
func (c *Controller) growInPlace(keep, victim block.Addr) {
	keepHeader := block.HeaderAt(keep)
	victimHeader := block.HeaderAt(victim)
	keepHeader.Size += uintptr(block.Overhead) + victimHeader.Size
}

// insertAddressOrdered walks the available list to find where addr belongs
// and inserts it there. Only reached when both physical neighbors are used,
// which keeps this the rare path rather than the common one.
func insertAddressOrdered(list *block.List, addr block.Addr) {
	var prev block.Addr

	for cur := list.Head; cur != 0; {
		h := block.HeaderAt(cur)
		if cur > addr {
			break
		}

		prev = cur
		cur = h.Next
	}

	list.AddAfter(prev, addr)
}

// AppendPages grows the heap by mapping pageCount additional pages right
// after the current end, merging the new span with the last block if it
// happens to be available.
func (c *Controller) AppendPages(pageCount int) error {
	if pageCount <= 0 {
		return errors.InvalidArgument("pageCount", pageCount)
	}

	base, err := c.mapper.MapPages(uintptr(c.heapEnd), pageCount)
	if err != nil {
		return errors.ExtensionRefused(pageCount, err.Error())
	}

	newBlock := block.Addr(base)
	size := uintptr(pageCount)*c.mapper.PageBytes() - uintptr(block.Overhead)

	c.heapEnd += block.Addr(uintptr(pageCount) * c.mapper.PageBytes())

	c.writeTags(newBlock, size, block.Available)

	if above, ok := block.AboveOf(newBlock, c.heapBase); ok {
		if block.HeaderAt(above).State == block.Available {
			c.absorb(above, newBlock, false)
			c.writeTags(above, block.HeaderAt(above).Size, block.Available)

			return nil
		}
	}

	c.available.AddBack(newBlock)

	return nil
}

// Cleanup releases every mapped page and resets the controller to a
// zero state.
func (c *Controller) Cleanup() error {
	if c.heapBase == 0 && c.heapEnd == 0 {
		return nil
	}

	if err := c.mapper.UnmapPages(uintptr(c.heapBase), uintptr(c.heapEnd-c.heapBase)); err != nil {
		return fmt.Errorf("heap: cleanup failed: %w", err)
	}

	c.heapBase, c.heapEnd = 0, 0
	c.available = block.List{}
	c.used = block.List{}
	c.digests = nil

	return nil
}

// HeapBase and HeapEnd expose the managed extent for tests/introspection.
func (c *Controller) HeapBase() uintptr { return uintptr(c.heapBase) }
func (c *Controller) HeapEnd() uintptr  { return uintptr(c.heapEnd) }

// AvailableHead and UsedHead expose each list's head address for
// tests/introspection (see internal/block's List doc comment for why a
// zero Addr is used as the empty-list/no-neighbor sentinel).
func (c *Controller) AvailableHead() uintptr { return uintptr(c.available.Head) }
func (c *Controller) UsedHead() uintptr      { return uintptr(c.used.Head) }

// Stats performs a read-only traversal of both lists; it never mutates
// controller state.
func (c *Controller) Stats() Report {
	r := Report{
		ABI:      c.abi.String(),
		HeapBase: uintptr(c.heapBase),
		HeapEnd:  uintptr(c.heapEnd),
	}

	c.available.Walk(func(addr block.Addr, h *block.Header) {
		r.AvailableCount++
		r.AvailableBytes += h.Size
		r.AvailableBlocks = append(r.AvailableBlocks, BlockInfo{
			Addr: uintptr(addr), Size: h.Size, State: h.State.String(),
		})
	})

	c.used.Walk(func(addr block.Addr, h *block.Header) {
		r.UsedCount++
		r.UsedBytes += h.Size
		r.UsedBlocks = append(r.UsedBlocks, BlockInfo{
			Addr: uintptr(addr), Size: h.Size, State: h.State.String(),
		})
	})

	return r
}

// PrintStats writes a human-readable diagnostic dump of both lists to w.
// Byte counts are thousands-separated via golang.org/x/text/message the
// way a long-lived CLI would format them for an operator.
func (c *Controller) PrintStats(w io.Writer) {
	p := message.NewPrinter(language.English)
	r := c.Stats()

	p.Fprintf(w, "elheap %s  base=%#x end=%#x\n", r.ABI, r.HeapBase, r.HeapEnd)
	p.Fprintf(w, "available: %d blocks, %d bytes\n", r.AvailableCount, r.AvailableBytes)

	for _, b := range r.AvailableBlocks {
		p.Fprintf(w, "  %#x  size=%d  %s\n", b.Addr, b.Size, b.State)
	}

	p.Fprintf(w, "used: %d blocks, %d bytes\n", r.UsedCount, r.UsedBytes)

	for _, b := range r.UsedBlocks {
		p.Fprintf(w, "  %#x  size=%d  %s\n", b.Addr, b.Size, b.State)
	}
}
