package integrity

import "testing"

func TestVerifyAcceptsMatchingDigest(t *testing.T) {
	c := NewChecker()

	d := c.Sum(128, 0)

	if !c.Verify(128, 0, d) {
		t.Fatal("Verify should accept a digest computed from the same inputs")
	}
}

func TestVerifyRejectsChangedSize(t *testing.T) {
	c := NewChecker()

	d := c.Sum(128, 0)

	if c.Verify(129, 0, d) {
		t.Fatal("Verify should reject a digest recomputed with a different size")
	}
}

func TestVerifyRejectsChangedState(t *testing.T) {
	c := NewChecker()

	d := c.Sum(128, 0)

	if c.Verify(128, 1, d) {
		t.Fatal("Verify should reject a digest recomputed with a different state")
	}
}

func TestSumIsDeterministic(t *testing.T) {
	c := NewChecker()

	a := c.Sum(4096, 1)
	b := c.Sum(4096, 1)

	if a != b {
		t.Fatalf("Sum(4096, 1) returned different digests across calls: %v != %v", a, b)
	}
}
