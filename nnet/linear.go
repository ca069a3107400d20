// Package nnet provides the feed-forward pieces that sit on top of the
// encoder cascade: affine layers, per-attribute regression heads, the
// attention module, and the last-timestep selector.
package nnet

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tsawler/go-seqreg/optimizer"
)

// Linear is an affine map y = x·Wᵀ + b with manual backpropagation.
type Linear struct {
	weight *optimizer.Parameter // (out × in)
	bias   *optimizer.Parameter // (1 × out)
	in     int
	out    int

	x *mat.Dense // last input, kept for Backward
}

// NewLinear creates an affine layer with uniform initialization scaled by
// the input size.
func NewLinear(in, out int, name string) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("failed to create linear layer %s: sizes must be positive, got (%d,%d)", name, in, out)
	}
	k := 1.0 / math.Sqrt(float64(in))
	uniform := distuv.Uniform{Min: -k, Max: k}

	w := mat.NewDense(out, in, nil)
	for i := 0; i < out; i++ {
		for j := 0; j < in; j++ {
			w.Set(i, j, uniform.Rand())
		}
	}
	b := mat.NewDense(1, out, nil)
	for j := 0; j < out; j++ {
		b.Set(0, j, uniform.Rand())
	}

	return &Linear{
		weight: optimizer.NewParameter(name+".weight", w),
		bias:   optimizer.NewParameter(name+".bias", b),
		in:     in,
		out:    out,
	}, nil
}

// InputSize returns the expected input dimensionality.
func (l *Linear) InputSize() int { return l.in }

// OutputSize returns the output dimensionality.
func (l *Linear) OutputSize() int { return l.out }

// Parameters returns the weight and bias.
func (l *Linear) Parameters() []*optimizer.Parameter {
	return []*optimizer.Parameter{l.weight, l.bias}
}

// Forward computes the affine map over a (batch × in) matrix.
func (l *Linear) Forward(x *mat.Dense) (*mat.Dense, error) {
	_, c := x.Dims()
	if c != l.in {
		return nil, fmt.Errorf("linear layer: input dim %d, expected %d", c, l.in)
	}
	l.x = x

	r, _ := x.Dims()
	y := mat.NewDense(r, l.out, nil)
	y.Mul(x, l.weight.Value.T())
	bias := l.bias.Value.RawRowView(0)
	for i := 0; i < r; i++ {
		row := y.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	return y, nil
}

// Backward accumulates the parameter gradients for the last Forward call
// and returns the gradient with respect to its input.
func (l *Linear) Backward(dy *mat.Dense) (*mat.Dense, error) {
	if l.x == nil {
		return nil, fmt.Errorf("linear layer: Backward called before Forward")
	}
	var dw mat.Dense
	dw.Mul(dy.T(), l.x)
	l.weight.Grad.Add(l.weight.Grad, &dw)

	r, _ := dy.Dims()
	db := l.bias.Grad.RawRowView(0)
	for i := 0; i < r; i++ {
		row := dy.RawRowView(i)
		for j := range row {
			db[j] += row[j]
		}
	}

	dx := mat.NewDense(r, l.in, nil)
	dx.Mul(dy, l.weight.Value)
	return dx, nil
}
