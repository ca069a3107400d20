package encoder

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-seqreg/seq"
)

func testBatch(t *testing.T, dim int, lengths []int) *seq.Batch {
	t.Helper()
	examples := make([]*mat.Dense, len(lengths))
	for i, n := range lengths {
		ex := mat.NewDense(n, dim, nil)
		for r := 0; r < n; r++ {
			for c := 0; c < dim; c++ {
				ex.Set(r, c, 0.1*float64(i+1)+0.01*float64(r)-0.005*float64(c))
			}
		}
		examples[i] = ex
	}
	b, err := seq.NewBatch(examples, lengths)
	if err != nil {
		t.Fatalf("failed to build batch: %v", err)
	}
	return b
}

func TestLSTMForward(t *testing.T) {
	t.Run("Output geometry", func(t *testing.T) {
		spec := StageSpec{Kind: Chain, HiddenSize: 7, NumLayers: 2, Bidirectional: true}
		lstm, err := NewLSTM(spec, 4, "test")
		if err != nil {
			t.Fatalf("failed to create LSTM: %v", err)
		}
		if lstm.OutputSize() != 14 {
			t.Fatalf("expected output size 14, got %d", lstm.OutputSize())
		}

		in := testBatch(t, 4, []int{3, 5, 2})
		out, last, err := lstm.Forward(in, nil)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		if out.MaxLen != 5 || out.Dim != 14 || out.Size != 3 {
			t.Errorf("unexpected output geometry: %+v", out)
		}
		r, c := last.Dims()
		if r != 3 || c != 14 {
			t.Errorf("unexpected summary shape (%d,%d)", r, c)
		}
	})

	t.Run("Padded rows reported as zero", func(t *testing.T) {
		spec := StageSpec{Kind: Chain, HiddenSize: 5, NumLayers: 1}
		lstm, err := NewLSTM(spec, 3, "test")
		if err != nil {
			t.Fatalf("failed to create LSTM: %v", err)
		}
		in := testBatch(t, 3, []int{2, 4})
		out, _, err := lstm.Forward(in, nil)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		for tstep := 2; tstep < 4; tstep++ {
			row := out.Steps[tstep].RawRowView(0)
			for j, v := range row {
				if v != 0 {
					t.Errorf("expected zero at padded step %d col %d, got %g", tstep, j, v)
				}
			}
		}
	})

	t.Run("Zero weights give zero outputs", func(t *testing.T) {
		// With all weights and biases zero the candidate gate is zero, so
		// cell and hidden state stay exactly zero at every step.
		spec := StageSpec{Kind: Chain, HiddenSize: 4, NumLayers: 1}
		lstm, err := NewLSTM(spec, 3, "test")
		if err != nil {
			t.Fatalf("failed to create LSTM: %v", err)
		}
		for _, p := range lstm.Parameters() {
			p.Value.Zero()
		}

		in := testBatch(t, 3, []int{3, 3})
		out, last, err := lstm.Forward(in, nil)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		for tstep := range out.Steps {
			for _, v := range out.Steps[tstep].RawMatrix().Data {
				if v != 0 {
					t.Fatalf("expected zero output at step %d, got %g", tstep, v)
				}
			}
		}
		for _, v := range last.RawMatrix().Data {
			if v != 0 {
				t.Fatalf("expected zero summary, got %g", v)
			}
		}
	})

	t.Run("Padding does not change a sequence's outputs", func(t *testing.T) {
		// The same sequence must encode identically whether batched alone
		// or padded alongside a longer one.
		spec := StageSpec{Kind: Chain, HiddenSize: 6, NumLayers: 1, Bidirectional: true}
		lstm, err := NewLSTM(spec, 2, "test")
		if err != nil {
			t.Fatalf("failed to create LSTM: %v", err)
		}

		short := mat.NewDense(2, 2, []float64{0.1, 0.2, 0.3, 0.4})
		long := mat.NewDense(5, 2, []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})

		alone, err := seq.NewBatch([]*mat.Dense{short}, []int{2})
		if err != nil {
			t.Fatalf("failed to build batch: %v", err)
		}
		outAlone, _, err := lstm.Forward(alone, nil)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		ref := outAlone.Example(0)

		padded, err := seq.NewBatch([]*mat.Dense{short, long}, []int{2, 5})
		if err != nil {
			t.Fatalf("failed to build batch: %v", err)
		}
		outPadded, _, err := lstm.Forward(padded, nil)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		got := outPadded.Example(0)

		if !mat.EqualApprox(ref, got, 1e-10) {
			t.Errorf("padded encoding differs from standalone encoding:\n%v\nvs\n%v",
				mat.Formatted(ref), mat.Formatted(got))
		}
	})
}

func TestLSTMBackward(t *testing.T) {
	t.Run("Gradient shapes and accumulation", func(t *testing.T) {
		spec := StageSpec{Kind: Chain, HiddenSize: 4, NumLayers: 2, Bidirectional: true}
		lstm, err := NewLSTM(spec, 3, "test")
		if err != nil {
			t.Fatalf("failed to create LSTM: %v", err)
		}
		in := testBatch(t, 3, []int{3, 5})
		out, _, err := lstm.Forward(in, nil)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}

		dOut := out.ZerosLike()
		for tstep := range dOut.Steps {
			for i := range in.Lengths {
				if tstep < in.Lengths[i] {
					dOut.Steps[tstep].Set(i, 0, 1.0)
				}
			}
		}

		dIn, err := lstm.Backward(dOut, nil)
		if err != nil {
			t.Fatalf("backward failed: %v", err)
		}
		if dIn.Dim != 3 || dIn.MaxLen != 5 {
			t.Errorf("unexpected input gradient geometry: dim=%d maxLen=%d", dIn.Dim, dIn.MaxLen)
		}

		var total float64
		for _, p := range lstm.Parameters() {
			for _, v := range p.Grad.RawMatrix().Data {
				total += math.Abs(v)
			}
		}
		if total == 0 {
			t.Error("expected nonzero weight gradients after backward")
		}
	})

	t.Run("Numeric gradient check on a weight", func(t *testing.T) {
		spec := StageSpec{Kind: Chain, HiddenSize: 3, NumLayers: 1}
		lstm, err := NewLSTM(spec, 2, "test")
		if err != nil {
			t.Fatalf("failed to create LSTM: %v", err)
		}

		build := func() *seq.Batch {
			ex := mat.NewDense(3, 2, []float64{0.5, -0.2, 0.1, 0.3, -0.4, 0.2})
			b, err := seq.NewBatch([]*mat.Dense{ex}, []int{3})
			if err != nil {
				t.Fatalf("failed to build batch: %v", err)
			}
			return b
		}

		// Loss = sum of all reported outputs.
		forwardLoss := func() float64 {
			out, _, err := lstm.Forward(build(), nil)
			if err != nil {
				t.Fatalf("forward failed: %v", err)
			}
			var sum float64
			for _, step := range out.Steps {
				for _, v := range step.RawMatrix().Data {
					sum += v
				}
			}
			return sum
		}

		out, _, err := lstm.Forward(build(), nil)
		if err != nil {
			t.Fatalf("forward failed: %v", err)
		}
		dOut := out.ZerosLike()
		for tstep := range dOut.Steps {
			for _, row := range [][]float64{dOut.Steps[tstep].RawMatrix().Data} {
				for j := range row {
					row[j] = 1.0
				}
			}
		}
		for _, p := range lstm.Parameters() {
			p.ZeroGrad()
		}
		if _, err := lstm.Backward(dOut, nil); err != nil {
			t.Fatalf("backward failed: %v", err)
		}

		wx := lstm.Parameters()[0]
		analytic := wx.Grad.At(1, 0)

		const eps = 1e-5
		orig := wx.Value.At(1, 0)
		wx.Value.Set(1, 0, orig+eps)
		plus := forwardLoss()
		wx.Value.Set(1, 0, orig-eps)
		minus := forwardLoss()
		wx.Value.Set(1, 0, orig)

		numeric := (plus - minus) / (2 * eps)
		if math.Abs(numeric-analytic) > 1e-4*(1+math.Abs(numeric)) {
			t.Errorf("gradient mismatch: numeric %.8f vs analytic %.8f", numeric, analytic)
		}
	})
}
