package seq

import (
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestAsStructure(t *testing.T) {
	t.Run("Flat token slice", func(t *testing.T) {
		s, err := AsStructure([]string{"the", "cat"})
		if err != nil {
			t.Fatalf("failed to coerce token slice: %v", err)
		}
		words := s.Words()
		if len(words) != 2 || words[0] != "the" || words[1] != "cat" {
			t.Errorf("unexpected words: %v", words)
		}
	})

	t.Run("Existing structure passes through", func(t *testing.T) {
		in := Tokens{"a"}
		s, err := AsStructure(in)
		if err != nil {
			t.Fatalf("failed to coerce Tokens: %v", err)
		}
		if s.Words()[0] != "a" {
			t.Errorf("unexpected words: %v", s.Words())
		}
	})

	t.Run("Unsupported value is a configuration error", func(t *testing.T) {
		if _, err := AsStructure(42); err == nil {
			t.Error("expected error for non-sequence input")
		}
		if _, err := AsStructure(nil); err == nil {
			t.Error("expected error for nil input")
		}
	})
}

func TestBatch(t *testing.T) {
	ex := func(rows int, fill float64) *mat.Dense {
		m := mat.NewDense(rows, 2, nil)
		for t := 0; t < rows; t++ {
			m.Set(t, 0, fill)
			m.Set(t, 1, fill+0.5)
		}
		return m
	}

	t.Run("Padding geometry", func(t *testing.T) {
		b, err := NewBatch([]*mat.Dense{ex(3, 1), ex(5, 2), ex(2, 3)}, []int{3, 5, 2})
		if err != nil {
			t.Fatalf("failed to build batch: %v", err)
		}
		if b.MaxLen != 5 || b.Size != 3 || b.Dim != 2 {
			t.Fatalf("unexpected geometry: maxLen=%d size=%d dim=%d", b.MaxLen, b.Size, b.Dim)
		}
		// Example 2 ends at t=2; its padded rows must be zero.
		for step := 2; step < 5; step++ {
			if got := b.Steps[step].At(2, 0); got != 0 {
				t.Errorf("expected zero padding at t=%d, got %g", step, got)
			}
		}
		// Real positions carry the example values.
		if got := b.Steps[4].At(1, 1); got != 2.5 {
			t.Errorf("expected 2.5 at last step of example 1, got %g", got)
		}
	})

	t.Run("Example round trip", func(t *testing.T) {
		src := ex(4, 7)
		b, err := NewBatch([]*mat.Dense{ex(2, 1), src}, []int{2, 4})
		if err != nil {
			t.Fatalf("failed to build batch: %v", err)
		}
		got := b.Example(1)
		if !mat.Equal(got, src) {
			t.Errorf("example round trip mismatch:\ngot %v\nwant %v", mat.Formatted(got), mat.Formatted(src))
		}
	})

	t.Run("Dim mismatch rejected", func(t *testing.T) {
		bad := mat.NewDense(2, 3, nil)
		if _, err := NewBatch([]*mat.Dense{ex(2, 1), bad}, nil); err == nil {
			t.Error("expected error for mismatched dims")
		}
	})

	t.Run("MaskPadding zeroes only padded rows", func(t *testing.T) {
		b, err := NewBatch([]*mat.Dense{ex(1, 9), ex(3, 4)}, []int{1, 3})
		if err != nil {
			t.Fatalf("failed to build batch: %v", err)
		}
		// Dirty a padded row, then mask.
		b.Steps[2].Set(0, 0, 99)
		b.MaskPadding()
		if got := b.Steps[2].At(0, 0); got != 0 {
			t.Errorf("expected masked padding, got %g", got)
		}
		if got := b.Steps[2].At(1, 0); got != 4 {
			t.Errorf("mask clobbered a real row: got %g", got)
		}
	})
}
