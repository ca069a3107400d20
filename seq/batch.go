package seq

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Batch is a padded, time-major view of a batch of embedded sequences.
// Steps[t] holds the t-th timestep of every example as a (size × dim)
// matrix; examples shorter than MaxLen are zero-padded. Lengths records the
// true (unpadded) length of every example. A Batch is immutable once formed.
type Batch struct {
	Steps   []*mat.Dense // MaxLen entries of shape (Size × Dim)
	Lengths []int
	Size    int // number of examples
	Dim     int // vector dimensionality per timestep
	MaxLen  int
}

// NewBatch assembles per-example matrices (each lengths[i] × dim, rows are
// timesteps) into a padded time-major batch. When lengths is nil all
// examples must already share a common length.
func NewBatch(examples []*mat.Dense, lengths []int) (*Batch, error) {
	if len(examples) == 0 {
		return nil, fmt.Errorf("failed to build batch: no examples")
	}
	if lengths == nil {
		lengths = make([]int, len(examples))
		for i, ex := range examples {
			r, _ := ex.Dims()
			lengths[i] = r
		}
	}
	if len(lengths) != len(examples) {
		return nil, fmt.Errorf("failed to build batch: %d examples but %d lengths", len(examples), len(lengths))
	}

	_, dim := examples[0].Dims()
	maxLen := 0
	for i, ex := range examples {
		r, c := ex.Dims()
		if c != dim {
			return nil, fmt.Errorf("failed to build batch: example %d has dim %d, expected %d", i, c, dim)
		}
		if lengths[i] <= 0 || lengths[i] > r {
			return nil, fmt.Errorf("failed to build batch: example %d has invalid length %d for %d timesteps", i, lengths[i], r)
		}
		if lengths[i] > maxLen {
			maxLen = lengths[i]
		}
	}

	b := &Batch{
		Steps:   make([]*mat.Dense, maxLen),
		Lengths: lengths,
		Size:    len(examples),
		Dim:     dim,
		MaxLen:  maxLen,
	}
	for t := 0; t < maxLen; t++ {
		step := mat.NewDense(b.Size, dim, nil)
		for i, ex := range examples {
			if t < lengths[i] {
				step.SetRow(i, ex.RawRowView(t))
			}
		}
		b.Steps[t] = step
	}
	return b, nil
}

// ZerosLike returns a batch of the same geometry with all-zero steps,
// sharing the lengths slice. Used for gradient accumulation.
func (b *Batch) ZerosLike() *Batch {
	out := &Batch{
		Steps:   make([]*mat.Dense, b.MaxLen),
		Lengths: b.Lengths,
		Size:    b.Size,
		Dim:     b.Dim,
		MaxLen:  b.MaxLen,
	}
	for t := range out.Steps {
		out.Steps[t] = mat.NewDense(b.Size, b.Dim, nil)
	}
	return out
}

// Example extracts example i as a (Lengths[i] × Dim) matrix, dropping
// padding.
func (b *Batch) Example(i int) *mat.Dense {
	n := b.Lengths[i]
	out := mat.NewDense(n, b.Dim, nil)
	for t := 0; t < n; t++ {
		out.SetRow(t, b.Steps[t].RawRowView(i))
	}
	return out
}

// SetExample writes a (Lengths[i] × Dim) matrix back into example i's rows.
func (b *Batch) SetExample(i int, ex *mat.Dense) {
	n := b.Lengths[i]
	for t := 0; t < n; t++ {
		b.Steps[t].SetRow(i, ex.RawRowView(t))
	}
}

// MaskPadding zeroes every row of Steps[t] belonging to an example whose
// true length is at most t. Encoders call this so padded positions never
// leak into reported outputs or gradients.
func (b *Batch) MaskPadding() {
	for t, step := range b.Steps {
		for i, n := range b.Lengths {
			if t >= n {
				row := step.RawRowView(i)
				for j := range row {
					row[j] = 0
				}
			}
		}
	}
}
