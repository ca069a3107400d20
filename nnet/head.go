package nnet

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-seqreg/optimizer"
)

// Head is one attribute's regression network: an ordered stack of affine
// layers with a rectified-linear nonlinearity strictly between consecutive
// layers. The first layer consumes the shared summary vector; the last
// produces the attribute's output dimensionality. Heads never share
// weights.
type Head struct {
	attribute string
	layers    []*Linear

	preActs []*mat.Dense // pre-ReLU inputs per interior boundary
}

// NewHead builds the stack: one layer per entry of hiddenSizes, then a
// final layer mapping the last hidden size to outputSize.
func NewHead(attribute string, inputSize int, hiddenSizes []int, outputSize int) (*Head, error) {
	if outputSize <= 0 {
		return nil, fmt.Errorf("failed to create regression head %q: output size must be positive, got %d", attribute, outputSize)
	}
	h := &Head{attribute: attribute}
	last := inputSize
	for i, size := range hiddenSizes {
		layer, err := NewLinear(last, size, fmt.Sprintf("head.%s.%d", attribute, i))
		if err != nil {
			return nil, fmt.Errorf("failed to create regression head %q: %v", attribute, err)
		}
		h.layers = append(h.layers, layer)
		last = size
	}
	final, err := NewLinear(last, outputSize, fmt.Sprintf("head.%s.%d", attribute, len(hiddenSizes)))
	if err != nil {
		return nil, fmt.Errorf("failed to create regression head %q: %v", attribute, err)
	}
	h.layers = append(h.layers, final)
	return h, nil
}

// Attribute returns the attribute this head predicts.
func (h *Head) Attribute() string { return h.attribute }

// Layers exposes the affine stack in order.
func (h *Head) Layers() []*Linear { return h.layers }

// Parameters returns all layer parameters in order.
func (h *Head) Parameters() []*optimizer.Parameter {
	var params []*optimizer.Parameter
	for _, l := range h.layers {
		params = append(params, l.Parameters()...)
	}
	return params
}

// Forward maps the summary vectors to raw predictions. ReLU is applied
// before every layer except the first, never after the last.
func (h *Head) Forward(x *mat.Dense) (*mat.Dense, error) {
	h.preActs = h.preActs[:0]
	var err error
	for i, layer := range h.layers {
		if i > 0 {
			h.preActs = append(h.preActs, x)
			x = relu(x)
		}
		x, err = layer.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("regression head %q: %v", h.attribute, err)
		}
	}
	return x, nil
}

// Backward propagates the prediction gradient back to the summary vector.
func (h *Head) Backward(dy *mat.Dense) (*mat.Dense, error) {
	var err error
	for i := len(h.layers) - 1; i >= 0; i-- {
		dy, err = h.layers[i].Backward(dy)
		if err != nil {
			return nil, fmt.Errorf("regression head %q: %v", h.attribute, err)
		}
		if i > 0 {
			dy = reluBackward(dy, h.preActs[i-1])
		}
	}
	return dy, nil
}

func relu(x *mat.Dense) *mat.Dense {
	r, c := x.Dims()
	out := mat.NewDense(r, c, nil)
	src := x.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i, v := range src {
		if v > 0 {
			dst[i] = v
		}
	}
	return out
}

func reluBackward(dy, preAct *mat.Dense) *mat.Dense {
	r, c := dy.Dims()
	out := mat.NewDense(r, c, nil)
	src := dy.RawMatrix().Data
	pre := preAct.RawMatrix().Data
	dst := out.RawMatrix().Data
	for i := range src {
		if pre[i] > 0 {
			dst[i] = src[i]
		}
	}
	return out
}
