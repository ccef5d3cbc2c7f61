package bench

import (
	"context"
	"errors"
	"testing"

	"github.com/elheap/elheap/pkg/elheap"
)

func TestRunConcurrentSucceeds(t *testing.T) {
	err := RunConcurrent(context.Background(), 4, nil, func(h *elheap.Heap) error {
		p, err := h.Malloc(64)
		if err != nil {
			return err
		}

		h.Free(p)

		return nil
	})
	if err != nil {
		t.Fatalf("RunConcurrent: %v", err)
	}
}

func TestRunConcurrentPropagatesFirstError(t *testing.T) {
	boom := errors.New("boom")

	err := RunConcurrent(context.Background(), 4, nil, func(h *elheap.Heap) error {
		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("RunConcurrent error = %v, want wrapping %v", err, boom)
	}
}

func TestRunConcurrentHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunConcurrent(ctx, 2, nil, func(h *elheap.Heap) error {
		return nil
	})
	if err == nil {
		t.Fatal("expected RunConcurrent to report the pre-cancelled context")
	}
}
