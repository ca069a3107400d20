package nnet

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-seqreg/seq"
)

// LastTimestep is the no-attention summary: for every example it gathers
// the vector at index length−1, the last non-padded timestep.
type LastTimestep struct {
	in *seq.Batch
}

// Forward gathers each example's final valid timestep into a
// (batch × dim) summary matrix.
func (s *LastTimestep) Forward(in *seq.Batch) (*mat.Dense, error) {
	s.in = in
	out := mat.NewDense(in.Size, in.Dim, nil)
	for b, n := range in.Lengths {
		if n <= 0 || n > in.MaxLen {
			return nil, fmt.Errorf("timestep selector: example %d has invalid length %d", b, n)
		}
		out.SetRow(b, in.Steps[n-1].RawRowView(b))
	}
	return out, nil
}

// Backward scatters the summary gradient back to each example's selected
// timestep.
func (s *LastTimestep) Backward(dSummary *mat.Dense) (*seq.Batch, error) {
	if s.in == nil {
		return nil, fmt.Errorf("timestep selector: Backward called before Forward")
	}
	dIn := s.in.ZerosLike()
	for b, n := range s.in.Lengths {
		dIn.Steps[n-1].SetRow(b, dSummary.RawRowView(b))
	}
	return dIn, nil
}
