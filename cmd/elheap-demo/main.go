// Command elheap-demo drives named allocator scenarios via a
// string-dispatch switch, a command-line driver deliberately kept outside
// internal/heap and pkg/elheap rather than folded into the core package.
package main

import (
	"flag"
	"fmt"
	"os"
	"unsafe"

	"github.com/elheap/elheap/internal/watchconfig"
	"github.com/elheap/elheap/pkg/elheap"
)

func main() {
	watch := flag.String("watch", "", "path to a JSON {\"initial_pages\":N} file to hot-reload heap size from")
	flag.Parse()

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: %s [-watch file] <scenario>\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "scenarios: single-allocation, three-allocs, middle-free, coalesce-both, exhaustion-then-extend")
		os.Exit(1)
	}

	scenario := flag.Arg(0)

	if *watch != "" {
		runWatched(*watch)

		return
	}

	if err := runScenario(scenario); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runScenario(name string) error {
	if err := elheap.Initialize(); err != nil {
		return err
	}
	defer elheap.Cleanup() //nolint:errcheck

	switch name {
	case "single-allocation":
		// Tests that an allocation correctly splits the first single block
		// into two blocks, one used and one available.
		fmt.Println("BEFORE MALLOC 0")
		elheap.PrintStats(os.Stdout)

		p0, err := elheap.Malloc(128)
		if err != nil {
			return err
		}

		fmt.Println("AFTER MALLOC 0")
		elheap.PrintStats(os.Stdout)
		printPtr("p0", p0)

	case "three-allocs":
		// Tests that 3 allocations in a row correctly split off the main
		// block, leaving 4 blocks: used x3 + available x1.
		ptrs := make([]unsafe.Pointer, 0, 3)

		for _, n := range []uintptr{128, 200, 64} {
			p, err := elheap.Malloc(n)
			if err != nil {
				return err
			}

			ptrs = append(ptrs, p)
			fmt.Printf("\nMALLOC %d\n", len(ptrs)-1)
			elheap.PrintStats(os.Stdout)
		}

	case "middle-free":
		a, _ := elheap.Malloc(128)
		b, err := elheap.Malloc(200)
		if err != nil {
			return err
		}

		c, _ := elheap.Malloc(64)

		elheap.Free(b)
		fmt.Println("AFTER FREE(b) — a and c remain used, b does not merge across c")
		elheap.PrintStats(os.Stdout)
		printPtr("a", a)
		printPtr("c", c)

	case "coalesce-both":
		a, _ := elheap.Malloc(128)
		b, _ := elheap.Malloc(200)
		c, _ := elheap.Malloc(64)

		elheap.Free(b)
		elheap.Free(a)
		elheap.Free(c)
		fmt.Println("AFTER FREE(a), FREE(c) — single merged available block")
		elheap.PrintStats(os.Stdout)

	case "exhaustion-then-extend":
		for {
			if _, err := elheap.Malloc(elheap.PageBytes()); err != nil {
				break
			}
		}

		fmt.Println("OUT OF HEAP")
		elheap.PrintStats(os.Stdout)

		if err := elheap.AppendPages(3); err != nil {
			return err
		}

		if _, err := elheap.Malloc(elheap.PageBytes()); err != nil {
			return fmt.Errorf("still out of heap after extension: %w", err)
		}

		fmt.Println("EXTENDED AND ALLOCATED")
		elheap.PrintStats(os.Stdout)

	default:
		return fmt.Errorf("unknown scenario %q", name)
	}

	return nil
}

func runWatched(path string) {
	if err := elheap.Initialize(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer elheap.Cleanup() //nolint:errcheck

	w, err := watchconfig.NewHeapSizeWatcher(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer w.Close() //nolint:errcheck

	fmt.Printf("watching %s for initial_pages changes (ctrl-c to quit)\n", path)

	for {
		select {
		case pages := <-w.Pages():
			fmt.Printf("config changed: appending %d pages\n", pages)

			if err := elheap.AppendPages(pages); err != nil {
				fmt.Fprintln(os.Stderr, "append_pages failed:", err)
			}

			elheap.PrintStats(os.Stdout)
		case err := <-w.Errors():
			fmt.Fprintln(os.Stderr, "watch error:", err)
		}
	}
}

func printPtr(label string, p unsafe.Pointer) {
	if p == nil {
		fmt.Printf("%s: (nil)\n", label)

		return
	}

	fmt.Printf("%s: %p\n", label, p)
}
