package nnet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tsawler/go-seqreg/optimizer"
	"github.com/tsawler/go-seqreg/seq"
)

// Attention reduces a sequence of per-timestep vectors to a single vector
// via a learned weighting: raw scores are the inner product between each
// timestep's output and a learned weight vector, normalized to a
// probability distribution over valid timesteps by softmax.
type Attention struct {
	weight *optimizer.Parameter // (1 × size)
	size   int

	in      *seq.Batch
	weights *mat.Dense // (batch × maxLen) normalized attention weights
}

// NewAttention creates the module for per-timestep vectors of the given
// dimensionality.
func NewAttention(size int) (*Attention, error) {
	if size <= 0 {
		return nil, fmt.Errorf("failed to create attention module: size must be positive, got %d", size)
	}
	normal := distuv.Normal{Mu: 0, Sigma: 1.0 / math.Sqrt(float64(size))}
	w := mat.NewDense(1, size, nil)
	for j := 0; j < size; j++ {
		w.Set(0, j, normal.Rand())
	}
	return &Attention{
		weight: optimizer.NewParameter("attention.weight", w),
		size:   size,
	}, nil
}

// Size returns the expected per-timestep dimensionality.
func (a *Attention) Size() int { return a.size }

// Parameters returns the learned weight vector.
func (a *Attention) Parameters() []*optimizer.Parameter {
	return []*optimizer.Parameter{a.weight}
}

// Reduce computes the attention-weighted sum of per-timestep outputs for a
// batch, masking padded positions out of the softmax. This is the
// prediction path.
func (a *Attention) Reduce(in *seq.Batch) (*mat.Dense, error) {
	if in.Dim != a.size {
		return nil, fmt.Errorf("attention: input dim %d, expected %d", in.Dim, a.size)
	}
	a.in = in

	w := a.weight.Value.RawRowView(0)
	scores := mat.NewDense(in.Size, in.MaxLen, nil)
	for t, step := range in.Steps {
		for b := 0; b < in.Size; b++ {
			if t >= in.Lengths[b] {
				scores.Set(b, t, math.Inf(-1))
				continue
			}
			row := step.RawRowView(b)
			var s float64
			for j := range row {
				s += row[j] * w[j]
			}
			scores.Set(b, t, s)
		}
	}

	a.weights = softmaxRows(scores)

	summary := mat.NewDense(in.Size, in.Dim, nil)
	for t, step := range in.Steps {
		for b := 0; b < in.Size; b++ {
			wt := a.weights.At(b, t)
			if wt == 0 {
				continue
			}
			dst := summary.RawRowView(b)
			src := step.RawRowView(b)
			for j := range dst {
				dst[j] += wt * src[j]
			}
		}
	}
	return summary, nil
}

// Weights scores a single unbatched example (timesteps × size) and returns
// its normalized per-timestep attention weights. This is the diagnostic
// path; the scoring here is a plain (not batched) matrix product.
func (a *Attention) Weights(h *mat.Dense) ([]float64, error) {
	rows, c := h.Dims()
	if c != a.size {
		return nil, fmt.Errorf("attention: input dim %d, expected %d", c, a.size)
	}
	var raw mat.Dense
	raw.Mul(h, a.weight.Value.T())

	scores := make([]float64, rows)
	for t := 0; t < rows; t++ {
		scores[t] = raw.At(t, 0)
	}
	return softmaxVec(scores), nil
}

// Backward propagates the summary gradient to the per-timestep outputs and
// the learned weight.
func (a *Attention) Backward(dSummary *mat.Dense) (*seq.Batch, error) {
	if a.in == nil {
		return nil, fmt.Errorf("attention: Backward called before Reduce")
	}
	in := a.in
	w := a.weight.Value.RawRowView(0)
	dw := a.weight.Grad.RawRowView(0)

	dIn := in.ZerosLike()

	// dA[b,t] = dSummary[b]·H_t[b]; dH_t[b] += A[b,t]·dSummary[b]
	dA := mat.NewDense(in.Size, in.MaxLen, nil)
	for t, step := range in.Steps {
		for b := 0; b < in.Size; b++ {
			if t >= in.Lengths[b] {
				continue
			}
			ds := dSummary.RawRowView(b)
			src := step.RawRowView(b)
			wt := a.weights.At(b, t)
			var dot float64
			dst := dIn.Steps[t].RawRowView(b)
			for j := range ds {
				dot += ds[j] * src[j]
				dst[j] += wt * ds[j]
			}
			dA.Set(b, t, dot)
		}
	}

	// softmax backward per row: dS = A ⊙ (dA − Σ A⊙dA)
	for b := 0; b < in.Size; b++ {
		var inner float64
		for t := 0; t < in.MaxLen; t++ {
			inner += a.weights.At(b, t) * dA.At(b, t)
		}
		for t := 0; t < in.Lengths[b]; t++ {
			dS := a.weights.At(b, t) * (dA.At(b, t) - inner)
			if dS == 0 {
				continue
			}
			src := in.Steps[t].RawRowView(b)
			dst := dIn.Steps[t].RawRowView(b)
			for j := range dst {
				dst[j] += dS * w[j]
				dw[j] += dS * src[j]
			}
		}
	}
	return dIn, nil
}

func softmaxRows(scores *mat.Dense) *mat.Dense {
	r, c := scores.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		copy(out.RawRowView(i), softmaxVec(scores.RawRowView(i)))
	}
	return out
}

func softmaxVec(scores []float64) []float64 {
	max := math.Inf(-1)
	for _, s := range scores {
		if s > max {
			max = s
		}
	}
	out := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		if math.IsInf(s, -1) {
			continue
		}
		e := math.Exp(s - max)
		out[i] = e
		sum += e
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}
