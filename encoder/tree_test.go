package encoder

import (
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-seqreg/optimizer"
	"github.com/tsawler/go-seqreg/seq"
)

// stubTreeEncoder doubles its inputs and summarizes with the first row.
// Backward records what it was handed.
type stubTreeEncoder struct {
	size     int
	lastDOut *mat.Dense
}

type stubTreeComputation struct {
	enc     *stubTreeEncoder
	outputs *mat.Dense
}

func (e *stubTreeEncoder) Encode(inputs *mat.Dense, _ seq.Structure) (TreeComputation, error) {
	r, c := inputs.Dims()
	out := mat.NewDense(r, c, nil)
	out.Scale(2, inputs)
	return &stubTreeComputation{enc: e, outputs: out}, nil
}

func (e *stubTreeEncoder) Parameters() []*optimizer.Parameter { return nil }

func (e *stubTreeEncoder) OutputSize() int { return e.size }

func (c *stubTreeComputation) Outputs() *mat.Dense { return c.outputs }

func (c *stubTreeComputation) Summary() []float64 { return c.outputs.RawRowView(0) }

func (c *stubTreeComputation) Backward(dOutputs *mat.Dense, _ []float64) (*mat.Dense, error) {
	c.enc.lastDOut = dOutputs
	r, cols := dOutputs.Dims()
	dIn := mat.NewDense(r, cols, nil)
	dIn.Scale(2, dOutputs)
	return dIn, nil
}

func TestTreeStage(t *testing.T) {
	enc := &stubTreeEncoder{size: 2}
	stage := newTreeStage(enc)

	examples := []*mat.Dense{
		mat.NewDense(3, 2, []float64{1, 2, 3, 4, 5, 6}),
		mat.NewDense(1, 2, []float64{7, 8}),
	}
	in, err := seq.NewBatch(examples, nil)
	if err != nil {
		t.Fatalf("failed to build batch: %v", err)
	}
	structures := []seq.Structure{seq.Tokens{"a", "b", "c"}, seq.Tokens{"d"}}

	out, summary, err := stage.Forward(in, structures)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	t.Run("outputs reassembled per example", func(t *testing.T) {
		if out.Size != 2 || out.MaxLen != 3 || out.Dim != 2 {
			t.Fatalf("unexpected output geometry: %+v", out)
		}
		if got := out.Steps[1].At(0, 0); got != 6 {
			t.Errorf("expected doubled value 6, got %f", got)
		}
		// padded rows of the shorter example stay zero
		if got := out.Steps[1].At(1, 0); got != 0 {
			t.Errorf("expected zero at padded position, got %f", got)
		}
	})

	t.Run("summary is the collaborator's root vector", func(t *testing.T) {
		if got := summary.At(1, 1); got != 16 {
			t.Errorf("expected summary value 16, got %f", got)
		}
	})

	t.Run("structure count mismatch", func(t *testing.T) {
		if _, _, err := stage.Forward(in, structures[:1]); err == nil {
			t.Error("expected error for structure count mismatch")
		}
	})

	t.Run("backward feeds per-example gradients", func(t *testing.T) {
		out, _, err := stage.Forward(in, structures)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		dOut := out.ZerosLike()
		dOut.Steps[0].Set(0, 0, 1)
		dOut.Steps[0].Set(1, 1, 1)

		dIn, err := stage.Backward(dOut, nil)
		if err != nil {
			t.Fatalf("backward failed: %v", err)
		}
		if got := dIn.Steps[0].At(0, 0); got != 2 {
			t.Errorf("expected gradient 2, got %f", got)
		}
		if r, _ := enc.lastDOut.Dims(); r != 1 {
			t.Errorf("expected last example's gradient to have 1 row, got %d", r)
		}
	})
}
