package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Parameter is a single trainable weight matrix together with its
// accumulated gradient. Components that own parameters hand them to an
// Optimizer once, at construction time; the optimizer is the only thing
// that mutates Value afterwards.
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter creates a named parameter with a zeroed gradient buffer of
// the same shape as value.
func NewParameter(name string, value *mat.Dense) *Parameter {
	r, c := value.Dims()
	return &Parameter{
		Name:  name,
		Value: value,
		Grad:  mat.NewDense(r, c, nil),
	}
}

// Dims returns the parameter's shape.
func (p *Parameter) Dims() (int, int) {
	return p.Value.Dims()
}

// ZeroGrad resets the accumulated gradient to zero.
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Optimizer defines the common interface for all gradient-based optimizers.
// An optimizer is constructed from the full set of trainable parameters plus
// algorithm hyperparameters and then driven by the training loop: ZeroGrad
// before each batch, Step after gradients have been accumulated.
type Optimizer interface {
	// Step applies one update to every parameter from its current gradient.
	Step() error

	// ZeroGrad clears the gradients of all managed parameters.
	ZeroGrad()

	// UpdateLearningRate changes the learning rate for subsequent steps.
	UpdateLearningRate(lr float64)
}

// Config holds the hyperparameters shared by the optimizer implementations.
// Zero values are replaced by per-algorithm defaults at construction.
type Config struct {
	LearningRate float64 `json:"learning_rate"`

	// Adam-specific parameters (ignored for SGD)
	Beta1   float64 `json:"beta1"`   // first-moment decay (default: 0.9)
	Beta2   float64 `json:"beta2"`   // second-moment decay (default: 0.999)
	Epsilon float64 `json:"epsilon"` // numerical stability (default: 1e-8)

	// SGD-specific parameter (ignored for Adam)
	Momentum float64 `json:"momentum"`

	WeightDecay float64 `json:"weight_decay"` // L2 regularization (default: 0.0)
}

func validateParams(params []*Parameter) error {
	if len(params) == 0 {
		return fmt.Errorf("optimizer requires at least one parameter")
	}
	for i, p := range params {
		if p == nil || p.Value == nil || p.Grad == nil {
			return fmt.Errorf("parameter %d is not fully initialized", i)
		}
		vr, vc := p.Value.Dims()
		gr, gc := p.Grad.Dims()
		if vr != gr || vc != gc {
			return fmt.Errorf("parameter %q: gradient shape (%d,%d) does not match value shape (%d,%d)",
				p.Name, gr, gc, vr, vc)
		}
	}
	return nil
}
