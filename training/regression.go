package training

import "fmt"

// RegressionType selects the loss family and the metric block reported
// during training.
type RegressionType int

const (
	// Linear is continuous regression under squared error.
	Linear RegressionType = iota
	// Robust is continuous regression under absolute error.
	Robust
	// RobustSmooth is continuous regression under Huber-smoothed absolute error.
	RobustSmooth
	// Multinomial is categorical prediction under cross-entropy.
	Multinomial
)

func (r RegressionType) String() string {
	switch r {
	case Linear:
		return "linear"
	case Robust:
		return "robust"
	case RobustSmooth:
		return "robust_smooth"
	case Multinomial:
		return "multinomial"
	default:
		return fmt.Sprintf("RegressionType(%d)", int(r))
	}
}

// Continuous reports whether the type models a continuous target.
func (r RegressionType) Continuous() bool { return r != Multinomial }

// Loss returns the loss function fixed to the regression type.
func (r RegressionType) Loss() (Loss, error) {
	switch r {
	case Linear:
		return NewMSELoss(), nil
	case Robust:
		return NewMAELoss(), nil
	case RobustSmooth:
		return NewHuberLoss(1.0), nil
	case Multinomial:
		return NewCrossEntropyLoss(), nil
	default:
		return nil, fmt.Errorf("unsupported regression type: %d", int(r))
	}
}

// ParseRegressionType converts a configuration string to a RegressionType.
func ParseRegressionType(s string) (RegressionType, error) {
	switch s {
	case "linear", "":
		return Linear, nil
	case "robust":
		return Robust, nil
	case "robust_smooth":
		return RobustSmooth, nil
	case "multinomial":
		return Multinomial, nil
	default:
		return 0, fmt.Errorf("unsupported regression type: %q", s)
	}
}
