package optimizer

import "fmt"

// SGD implements stochastic gradient descent with optional momentum and
// L2 weight decay.
type SGD struct {
	params       []*Parameter
	learningRate float64
	momentum     float64
	weightDecay  float64

	velocity [][]float64 // one flat buffer per parameter, allocated lazily
}

// NewSGD creates an SGD optimizer over the given parameters.
func NewSGD(params []*Parameter, config Config) (*SGD, error) {
	if err := validateParams(params); err != nil {
		return nil, fmt.Errorf("failed to create SGD optimizer: %v", err)
	}
	if config.LearningRate == 0 {
		config.LearningRate = 0.01
	}
	if config.LearningRate < 0 {
		return nil, fmt.Errorf("failed to create SGD optimizer: learning rate must be positive, got %g", config.LearningRate)
	}
	if config.Momentum < 0 || config.Momentum >= 1 {
		return nil, fmt.Errorf("failed to create SGD optimizer: momentum must be in [0, 1), got %g", config.Momentum)
	}

	return &SGD{
		params:       params,
		learningRate: config.LearningRate,
		momentum:     config.Momentum,
		weightDecay:  config.WeightDecay,
		velocity:     make([][]float64, len(params)),
	}, nil
}

// Step applies one SGD update to every parameter.
func (s *SGD) Step() error {
	for i, p := range s.params {
		value := p.Value.RawMatrix()
		grad := p.Grad.RawMatrix()
		if len(value.Data) != len(grad.Data) {
			return fmt.Errorf("SGD step failed: parameter %q gradient size changed", p.Name)
		}

		if s.momentum > 0 && s.velocity[i] == nil {
			s.velocity[i] = make([]float64, len(value.Data))
		}

		for j := range value.Data {
			g := grad.Data[j]
			if s.weightDecay > 0 {
				g += s.weightDecay * value.Data[j]
			}
			if s.momentum > 0 {
				v := s.momentum*s.velocity[i][j] + g
				s.velocity[i][j] = v
				g = v
			}
			value.Data[j] -= s.learningRate * g
		}
	}
	return nil
}

// ZeroGrad clears the gradients of all managed parameters.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

// UpdateLearningRate changes the learning rate for subsequent steps.
func (s *SGD) UpdateLearningRate(lr float64) {
	s.learningRate = lr
}
