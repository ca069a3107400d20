package encoder

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-seqreg/optimizer"
	"github.com/tsawler/go-seqreg/seq"
)

// TreeEncoder is the external collaborator a Tree cascade stage delegates
// to. The structure, not token position, determines composition order; the
// recursion itself is the collaborator's concern.
type TreeEncoder interface {
	// Encode runs the collaborator over one example. inputs is the
	// (length × dim) input sequence for the example; structure carries
	// whatever tree interface the collaborator requires.
	Encode(inputs *mat.Dense, structure seq.Structure) (TreeComputation, error)

	// Parameters returns the collaborator's trainable parameters.
	Parameters() []*optimizer.Parameter

	// OutputSize returns the per-node output dimensionality.
	OutputSize() int
}

// TreeComputation is the handle for one example's tree encoding, keeping
// whatever intermediate state the collaborator needs for backpropagation.
type TreeComputation interface {
	// Outputs returns the per-timestep outputs, one row per input token.
	Outputs() *mat.Dense

	// Summary returns the root (final-state) vector.
	Summary() []float64

	// Backward propagates gradients for the outputs and summary, returning
	// the gradient with respect to the inputs and accumulating parameter
	// gradients inside the collaborator.
	Backward(dOutputs *mat.Dense, dSummary []float64) (*mat.Dense, error)
}

// treeStage adapts a TreeEncoder collaborator to the Stage interface by
// feeding it one example at a time and reassembling the batch.
type treeStage struct {
	enc   TreeEncoder
	comps []TreeComputation // per example, retained for Backward
	in    *seq.Batch
}

func newTreeStage(enc TreeEncoder) *treeStage {
	return &treeStage{enc: enc}
}

func (s *treeStage) Forward(in *seq.Batch, structures []seq.Structure) (*seq.Batch, *mat.Dense, error) {
	if len(structures) != in.Size {
		return nil, nil, fmt.Errorf("tree stage: %d structures for batch of %d", len(structures), in.Size)
	}

	s.in = in
	s.comps = make([]TreeComputation, in.Size)
	examples := make([]*mat.Dense, in.Size)
	summary := mat.NewDense(in.Size, s.enc.OutputSize(), nil)

	for i := 0; i < in.Size; i++ {
		comp, err := s.enc.Encode(in.Example(i), structures[i])
		if err != nil {
			return nil, nil, fmt.Errorf("tree stage: example %d: %v", i, err)
		}
		s.comps[i] = comp
		examples[i] = comp.Outputs()
		summary.SetRow(i, comp.Summary())
	}

	out, err := seq.NewBatch(examples, in.Lengths)
	if err != nil {
		return nil, nil, fmt.Errorf("tree stage: %v", err)
	}
	return out, summary, nil
}

func (s *treeStage) Backward(dOut *seq.Batch, dLast *mat.Dense) (*seq.Batch, error) {
	if s.comps == nil {
		return nil, fmt.Errorf("tree stage: Backward called before Forward")
	}

	dIn := s.in.ZerosLike()
	for i := range s.comps {
		var dSummary []float64
		if dLast != nil {
			dSummary = dLast.RawRowView(i)
		}
		dInputs, err := s.comps[i].Backward(dOut.Example(i), dSummary)
		if err != nil {
			return nil, fmt.Errorf("tree stage: example %d: %v", i, err)
		}
		dIn.SetExample(i, dInputs)
	}
	return dIn, nil
}

func (s *treeStage) Parameters() []*optimizer.Parameter {
	return s.enc.Parameters()
}

func (s *treeStage) OutputSize() int {
	return s.enc.OutputSize()
}
