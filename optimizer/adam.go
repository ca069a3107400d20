package optimizer

import (
	"fmt"
	"math"
)

// Adam implements the Adam optimizer with bias correction and optional
// decoupled L2 weight decay.
type Adam struct {
	params       []*Parameter
	learningRate float64
	beta1        float64
	beta2        float64
	epsilon      float64
	weightDecay  float64

	stepCount int
	m         [][]float64 // first-moment estimate per parameter
	v         [][]float64 // second-moment estimate per parameter
}

// NewAdam creates an Adam optimizer over the given parameters. Zero-valued
// hyperparameters are replaced with the conventional defaults
// (beta1=0.9, beta2=0.999, epsilon=1e-8).
func NewAdam(params []*Parameter, config Config) (*Adam, error) {
	if err := validateParams(params); err != nil {
		return nil, fmt.Errorf("failed to create Adam optimizer: %v", err)
	}
	if config.LearningRate == 0 {
		config.LearningRate = 0.001
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("failed to create Adam optimizer: learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Beta1 == 0 {
		config.Beta1 = 0.9
	}
	if config.Beta2 == 0 {
		config.Beta2 = 0.999
	}
	if config.Epsilon == 0 {
		config.Epsilon = 1e-8
	}
	if config.Beta1 < 0 || config.Beta1 >= 1 || config.Beta2 < 0 || config.Beta2 >= 1 {
		return nil, fmt.Errorf("failed to create Adam optimizer: betas must be in [0, 1), got beta1=%g beta2=%g",
			config.Beta1, config.Beta2)
	}

	a := &Adam{
		params:       params,
		learningRate: config.LearningRate,
		beta1:        config.Beta1,
		beta2:        config.Beta2,
		epsilon:      config.Epsilon,
		weightDecay:  config.WeightDecay,
		m:            make([][]float64, len(params)),
		v:            make([][]float64, len(params)),
	}
	for i, p := range params {
		r, c := p.Dims()
		a.m[i] = make([]float64, r*c)
		a.v[i] = make([]float64, r*c)
	}
	return a, nil
}

// Step applies one Adam update to every parameter from its current gradient.
// The moment estimates are updated in place and bias-corrected by the global
// step count.
func (a *Adam) Step() error {
	a.stepCount++
	c1 := 1.0 / (1.0 - math.Pow(a.beta1, float64(a.stepCount)))
	c2 := 1.0 / (1.0 - math.Pow(a.beta2, float64(a.stepCount)))

	for i, p := range a.params {
		value := p.Value.RawMatrix()
		grad := p.Grad.RawMatrix()
		if len(value.Data) != len(a.m[i]) {
			return fmt.Errorf("Adam step failed: parameter %q changed shape", p.Name)
		}

		for j := range value.Data {
			g := grad.Data[j]
			mj := a.beta1*a.m[i][j] + (1.0-a.beta1)*g
			vj := a.beta2*a.v[i][j] + (1.0-a.beta2)*g*g
			a.m[i][j] = mj
			a.v[i][j] = vj

			update := (mj * c1) / (math.Sqrt(vj*c2) + a.epsilon)
			if a.weightDecay > 0 {
				update += a.weightDecay * value.Data[j]
			}
			value.Data[j] -= a.learningRate * update
		}
	}
	return nil
}

// ZeroGrad clears the gradients of all managed parameters.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

// UpdateLearningRate changes the learning rate for subsequent steps.
func (a *Adam) UpdateLearningRate(lr float64) {
	a.learningRate = lr
}

// StepCount returns the number of optimization steps taken so far.
func (a *Adam) StepCount() int {
	return a.stepCount
}
