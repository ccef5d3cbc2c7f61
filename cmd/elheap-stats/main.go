// Command elheap-stats is a minimal read-only reporter: since the heap
// has no persisted state, it builds a small demo heap, allocates a
// handful of blocks, and prints the resulting stats.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/elheap/elheap/pkg/elheap"
)

func main() {
	allocs := flag.Int("allocs", 3, "number of demo allocations to make before printing stats")
	size := flag.Uint64("size", 128, "payload size in bytes for each demo allocation")
	flag.Parse()

	h, err := elheap.New(nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init failed:", err)
		os.Exit(1)
	}
	defer h.Cleanup() //nolint:errcheck

	for i := 0; i < *allocs; i++ {
		if _, err := h.Malloc(uintptr(*size)); err != nil {
			fmt.Fprintf(os.Stderr, "malloc %d failed: %v\n", i, err)

			break
		}
	}

	h.PrintStats(os.Stdout)
}
