package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns the mean loss over the batch; Backward returns the
// gradient of that mean with respect to the raw predictions.
type Loss interface {
	Forward(predicted *mat.Dense, targets []float64) (float64, error)
	Backward(predicted *mat.Dense, targets []float64) (*mat.Dense, error)
}

func checkLossShapes(predicted *mat.Dense, targets []float64) (int, int, error) {
	if predicted == nil {
		return 0, 0, fmt.Errorf("predicted matrix is nil")
	}
	rows, cols := predicted.Dims()
	if rows != len(targets) {
		return 0, 0, fmt.Errorf("predicted rows (%d) must match target count (%d)", rows, len(targets))
	}
	return rows, cols, nil
}

// MSELoss implements Mean Squared Error loss: L = (1/N) * sum((y_pred - y_true)^2)
type MSELoss struct{}

// NewMSELoss creates a new Mean Squared Error loss function
func NewMSELoss() *MSELoss { return &MSELoss{} }

func (mse *MSELoss) Forward(predicted *mat.Dense, targets []float64) (float64, error) {
	rows, _, err := checkLossShapes(predicted, targets)
	if err != nil {
		return 0, fmt.Errorf("mse loss failed: %v", err)
	}
	var sum float64
	for r := 0; r < rows; r++ {
		diff := predicted.At(r, 0) - targets[r]
		sum += diff * diff
	}
	return sum / float64(rows), nil
}

func (mse *MSELoss) Backward(predicted *mat.Dense, targets []float64) (*mat.Dense, error) {
	rows, cols, err := checkLossShapes(predicted, targets)
	if err != nil {
		return nil, fmt.Errorf("mse loss failed: %v", err)
	}
	grad := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		grad.Set(r, 0, 2.0*(predicted.At(r, 0)-targets[r])/float64(rows))
	}
	return grad, nil
}

// MAELoss implements Mean Absolute Error loss: L = (1/N) * sum(|y_pred - y_true|)
type MAELoss struct{}

// NewMAELoss creates a new Mean Absolute Error loss function
func NewMAELoss() *MAELoss { return &MAELoss{} }

func (mae *MAELoss) Forward(predicted *mat.Dense, targets []float64) (float64, error) {
	rows, _, err := checkLossShapes(predicted, targets)
	if err != nil {
		return 0, fmt.Errorf("mae loss failed: %v", err)
	}
	var sum float64
	for r := 0; r < rows; r++ {
		sum += math.Abs(predicted.At(r, 0) - targets[r])
	}
	return sum / float64(rows), nil
}

func (mae *MAELoss) Backward(predicted *mat.Dense, targets []float64) (*mat.Dense, error) {
	rows, cols, err := checkLossShapes(predicted, targets)
	if err != nil {
		return nil, fmt.Errorf("mae loss failed: %v", err)
	}
	grad := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		diff := predicted.At(r, 0) - targets[r]
		switch {
		case diff > 0:
			grad.Set(r, 0, 1.0/float64(rows))
		case diff < 0:
			grad.Set(r, 0, -1.0/float64(rows))
		}
	}
	return grad, nil
}

// HuberLoss implements the smooth absolute-error loss: quadratic within
// delta of the target, linear beyond it.
type HuberLoss struct {
	delta float64
}

// NewHuberLoss creates a new Huber loss function. A non-positive delta
// selects the standard transition point of 1.
func NewHuberLoss(delta float64) *HuberLoss {
	if delta <= 0 {
		delta = 1.0
	}
	return &HuberLoss{delta: delta}
}

func (h *HuberLoss) Forward(predicted *mat.Dense, targets []float64) (float64, error) {
	rows, _, err := checkLossShapes(predicted, targets)
	if err != nil {
		return 0, fmt.Errorf("huber loss failed: %v", err)
	}
	var sum float64
	for r := 0; r < rows; r++ {
		sum += huber(h.delta, predicted.At(r, 0)-targets[r])
	}
	return sum / float64(rows), nil
}

func (h *HuberLoss) Backward(predicted *mat.Dense, targets []float64) (*mat.Dense, error) {
	rows, cols, err := checkLossShapes(predicted, targets)
	if err != nil {
		return nil, fmt.Errorf("huber loss failed: %v", err)
	}
	grad := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		diff := predicted.At(r, 0) - targets[r]
		switch {
		case diff > h.delta:
			grad.Set(r, 0, h.delta/float64(rows))
		case diff < -h.delta:
			grad.Set(r, 0, -h.delta/float64(rows))
		default:
			grad.Set(r, 0, diff/float64(rows))
		}
	}
	return grad, nil
}

// CrossEntropyLoss implements softmax cross-entropy over raw logits.
// Targets are class indices.
type CrossEntropyLoss struct{}

// NewCrossEntropyLoss creates a new softmax cross-entropy loss function
func NewCrossEntropyLoss() *CrossEntropyLoss { return &CrossEntropyLoss{} }

func (ce *CrossEntropyLoss) Forward(predicted *mat.Dense, targets []float64) (float64, error) {
	rows, cols, err := checkLossShapes(predicted, targets)
	if err != nil {
		return 0, fmt.Errorf("cross entropy loss failed: %v", err)
	}
	var sum float64
	for r := 0; r < rows; r++ {
		class := int(targets[r])
		if class < 0 || class >= cols {
			return 0, fmt.Errorf("cross entropy loss failed: class %d out of range [0, %d)", class, cols)
		}
		probs := softmaxRow(predicted, r, cols)
		sum += -math.Log(probs[class])
	}
	return sum / float64(rows), nil
}

func (ce *CrossEntropyLoss) Backward(predicted *mat.Dense, targets []float64) (*mat.Dense, error) {
	rows, cols, err := checkLossShapes(predicted, targets)
	if err != nil {
		return nil, fmt.Errorf("cross entropy loss failed: %v", err)
	}
	grad := mat.NewDense(rows, cols, nil)
	for r := 0; r < rows; r++ {
		class := int(targets[r])
		if class < 0 || class >= cols {
			return nil, fmt.Errorf("cross entropy loss failed: class %d out of range [0, %d)", class, cols)
		}
		probs := softmaxRow(predicted, r, cols)
		for c := 0; c < cols; c++ {
			g := probs[c]
			if c == class {
				g -= 1.0
			}
			grad.Set(r, c, g/float64(rows))
		}
	}
	return grad, nil
}

func softmaxRow(m *mat.Dense, r, cols int) []float64 {
	max := math.Inf(-1)
	for c := 0; c < cols; c++ {
		if v := m.At(r, c); v > max {
			max = v
		}
	}
	probs := make([]float64, cols)
	var sum float64
	for c := 0; c < cols; c++ {
		probs[c] = math.Exp(m.At(r, c) - max)
		sum += probs[c]
	}
	for c := range probs {
		probs[c] /= sum
	}
	return probs
}

// huber is the standard Huber penalty with transition point delta.
func huber(delta, x float64) float64 {
	ax := math.Abs(x)
	if ax <= delta {
		return 0.5 * x * x
	}
	return delta * (ax - 0.5*delta)
}
