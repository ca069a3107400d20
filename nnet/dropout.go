package nnet

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Dropout randomly zeroes summary-vector components during training,
// rescaling the survivors by 1/(1-rate). A rate of zero makes it an
// identity, which is the default configuration.
type Dropout struct {
	rate float64
	mask []float64
}

// NewDropout creates a dropout layer with the given drop probability.
func NewDropout(rate float64) (*Dropout, error) {
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("failed to create dropout: rate must be in [0, 1), got %g", rate)
	}
	return &Dropout{rate: rate}, nil
}

// Rate returns the configured drop probability.
func (d *Dropout) Rate() float64 { return d.rate }

// Forward applies inverted dropout when train is set and the rate is
// nonzero; otherwise it passes the input through untouched.
func (d *Dropout) Forward(x *mat.Dense, train bool) *mat.Dense {
	if !train || d.rate == 0 {
		d.mask = nil
		return x
	}
	r, c := x.Dims()
	scale := 1.0 / (1.0 - d.rate)
	out := mat.NewDense(r, c, nil)
	d.mask = make([]float64, r*c)
	src := x.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i := range src {
		if rand.Float64() >= d.rate {
			d.mask[i] = scale
			dst[i] = src[i] * scale
		}
	}
	return out
}

// Backward applies the mask recorded by the last training-mode Forward.
func (d *Dropout) Backward(dy *mat.Dense) *mat.Dense {
	if d.mask == nil {
		return dy
	}
	r, c := dy.Dims()
	out := mat.NewDense(r, c, nil)
	src := dy.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i := range src {
		dst[i] = src[i] * d.mask[i]
	}
	return out
}
