// Package training owns the optimization loop: loss functions fixed to a
// regression type, batch iteration, periodic metric reporting, and
// correlation-based early stopping against a held-out validation set.
package training

import (
	"fmt"
	"io"
	"math"
	"os"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/tsawler/go-seqreg/embedding"
	"github.com/tsawler/go-seqreg/model"
	"github.com/tsawler/go-seqreg/optimizer"
	"github.com/tsawler/go-seqreg/seq"
)

// OptimizerType selects the gradient-based optimizer used by the trainer.
type OptimizerType int

const (
	// Adam is the adaptive moment estimation optimizer (default).
	Adam OptimizerType = iota
	// SGD is stochastic gradient descent with optional momentum.
	SGD
)

func (o OptimizerType) String() string {
	switch o {
	case Adam:
		return "adam"
	case SGD:
		return "sgd"
	default:
		return fmt.Sprintf("OptimizerType(%d)", int(o))
	}
}

// Batch is one pre-formed training or evaluation batch: the input
// structures, their true lengths, and per-attribute targets. Targets may
// be nil for prediction-only batches. For categorical attributes the
// target values are class indices.
type Batch struct {
	Structures []seq.Structure
	Lengths    []int
	Targets    map[string][]float64
}

// Config holds the trainer's hyperparameters.
type Config struct {
	// Regression selects the loss family (default: Linear).
	Regression RegressionType

	// Epochs is the maximum number of passes over the training batches
	// (default: 10). Early stopping may end training sooner.
	Epochs int

	// Verbosity is the reporting interval in batches; 0 disables batch
	// reports (default: 1).
	Verbosity int

	// Attributes names the target attributes (default: ["acceptability"]).
	Attributes []string

	// ReportAttributes restricts batch metric reports and prediction
	// output to a subset of Attributes (default: all of them).
	ReportAttributes []string

	// Optimizer selects the parameter update rule (default: Adam).
	Optimizer OptimizerType

	// OptimizerConfig carries the optimizer hyperparameters; zero values
	// select each optimizer's defaults.
	OptimizerConfig optimizer.Config

	// Output receives progress and metric lines (default: os.Stdout).
	Output io.Writer
}

func (c *Config) validate() error {
	if c.Epochs == 0 {
		c.Epochs = 10
	}
	if c.Epochs < 0 {
		return fmt.Errorf("epochs must be positive, got %d", c.Epochs)
	}
	if c.Verbosity < 0 {
		return fmt.Errorf("verbosity must be non-negative, got %d", c.Verbosity)
	}
	if len(c.Attributes) == 0 {
		c.Attributes = []string{"acceptability"}
	}
	if len(c.ReportAttributes) == 0 {
		c.ReportAttributes = c.Attributes
	}
	known := make(map[string]bool, len(c.Attributes))
	for _, attr := range c.Attributes {
		known[attr] = true
	}
	for _, attr := range c.ReportAttributes {
		if !known[attr] {
			return fmt.Errorf("report attribute %q is not a trained attribute", attr)
		}
	}
	if c.Output == nil {
		c.Output = os.Stdout
	}
	return nil
}

// Trainer owns the fit/predict/evaluate lifecycle over one model. The
// model itself is rebuilt at the start of each Fit call so repeated fits
// start from fresh parameters.
type Trainer struct {
	modelConfig model.Config
	config      Config

	model   *model.Model
	loss    Loss
	opt     optimizer.Optimizer
	logProb map[string][]float64
}

// NewTrainer creates a trainer from a model configuration and training
// hyperparameters. Configuration errors surface here, before any data is
// touched.
func NewTrainer(modelConfig model.Config, config Config) (*Trainer, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid trainer configuration: %v", err)
	}
	modelConfig.Attributes = config.Attributes
	return &Trainer{modelConfig: modelConfig, config: config}, nil
}

// Model returns the model built by the most recent Fit call, or nil
// before the first fit.
func (t *Trainer) Model() *model.Model { return t.model }

func (t *Trainer) initialize(train []Batch) error {
	modelConfig := t.modelConfig
	if t.config.Regression == Multinomial && modelConfig.OutputSize == 0 {
		modelConfig.OutputSize = classCount(train, t.config.Attributes)
	}

	m, err := model.New(modelConfig)
	if err != nil {
		return err
	}
	t.model = m

	t.loss, err = t.config.Regression.Loss()
	if err != nil {
		return err
	}

	params := m.Parameters()
	switch t.config.Optimizer {
	case Adam:
		t.opt, err = optimizer.NewAdam(params, t.config.OptimizerConfig)
	case SGD:
		t.opt, err = optimizer.NewSGD(params, t.config.OptimizerConfig)
	default:
		err = fmt.Errorf("unsupported optimizer type: %d", int(t.config.Optimizer))
	}
	if err != nil {
		return err
	}

	for _, p := range params {
		rows, cols := p.Value.Dims()
		fmt.Fprintf(t.config.Output, "%s [%d %d]\n", p.Name, rows, cols)
	}

	// empirical class log-probabilities, reported as the categorical
	// baseline
	t.logProb = nil
	if t.config.Regression == Multinomial {
		classes := classCount(train, t.config.Attributes)
		t.logProb = make(map[string][]float64, len(t.config.Attributes))
		for _, attr := range t.config.Attributes {
			counts := make([]float64, classes)
			var total float64
			for _, batch := range train {
				for _, y := range batch.Targets[attr] {
					counts[int(y)]++
					total++
				}
			}
			logs := make([]float64, classes)
			for i, c := range counts {
				logs[i] = math.Log(c) - math.Log(total)
			}
			t.logProb[attr] = logs
		}
	}
	return nil
}

// Fit trains the model over the pre-formed training batches, validating
// against dev at each epoch boundary. Training halts at the configured
// epoch count, or earlier the first time the mean validation correlation
// across attributes drops below the previous epoch's.
func (t *Trainer) Fit(train, dev []Batch) error {
	if len(train) == 0 {
		return fmt.Errorf("training failed: no training batches")
	}
	for i, batch := range train {
		for _, attr := range t.config.Attributes {
			if batch.Targets[attr] == nil {
				return fmt.Errorf("training failed: batch %d has no targets for %q", i, attr)
			}
		}
	}
	if err := t.initialize(train); err != nil {
		return fmt.Errorf("training failed: %v", err)
	}

	out := t.config.Output
	allTargets := flattenTargets(train, t.config.Attributes)
	devTargets := flattenTargets(dev, t.config.Attributes)

	tr := newTraces(t.config.Attributes)
	earlyStop := []float64{0.0}
	total := len(train)

	for epoch := 1; epoch <= t.config.Epochs; epoch++ {
		fmt.Fprintf(out, "Epoch: %d \n\n", epoch)
		fmt.Fprintln(out, "Progress\t Metrics")

		for i, batch := range train {
			t.opt.ZeroGrad()

			preds, err := t.model.Forward(batch.Structures, batch.Lengths, true)
			if err != nil {
				return fmt.Errorf("training failed: %v", err)
			}

			var lossSum float64
			grads := make(map[string]*mat.Dense, len(t.config.Attributes))
			for _, attr := range t.config.Attributes {
				targs := batch.Targets[attr]
				tr.targs[attr] = append(tr.targs[attr], targs...)

				lossVal, err := t.loss.Forward(preds[attr], targs)
				if err != nil {
					return fmt.Errorf("training failed: %v", err)
				}
				lossSum += lossVal

				grad, err := t.loss.Backward(preds[attr], targs)
				if err != nil {
					return fmt.Errorf("training failed: %v", err)
				}
				grad.Scale(1.0/float64(len(t.config.Attributes)), grad)
				grads[attr] = grad

				tr.preds[attr] = append(tr.preds[attr], flattenPredictions(preds[attr], t.config.Regression)...)
			}
			tr.loss = append(tr.loss, lossSum/float64(len(t.config.Attributes)))

			if err := t.model.Backward(grads); err != nil {
				return fmt.Errorf("training failed: %v", err)
			}
			if err := t.opt.Step(); err != nil {
				return fmt.Errorf("training failed: %v", err)
			}

			if t.config.Verbosity > 0 && (i+1)%t.config.Verbosity == 0 {
				progress := fmt.Sprintf("%.0f", float64(i)/float64(total)*100)
				printMetrics(out, progress, t.config.Regression, tr,
					t.config.ReportAttributes, allTargets, t.logProb)
				tr.reset()
			}
		}

		fmt.Fprintln(out, "VALIDATION")
		predictions, err := t.Predict(dev)
		if err != nil {
			return fmt.Errorf("training failed: %v", err)
		}

		var corrs []float64
		for _, attr := range t.config.ReportAttributes {
			corr := stat.Correlation(predictions[attr], devTargets[attr], nil)
			fmt.Fprintln(out, attr)
			fmt.Fprintln(out, "Correlation:", corr)
			corrs = append(corrs, corr)
		}
		earlyStop = append(earlyStop, mean(corrs))

		fmt.Fprintln(out, "Difference in mean corr:", corrDiff(earlyStop))
		if corrDiff(earlyStop) < 0 {
			break
		}
	}
	return nil
}

// Predict runs the model in evaluation mode over each batch, returning
// per-attribute flat prediction lists for the reporting attributes.
// Continuous predictions are the raw outputs; categorical predictions are
// the most probable class index.
func (t *Trainer) Predict(batches []Batch) (map[string][]float64, error) {
	if t.model == nil {
		return nil, fmt.Errorf("prediction failed: model has not been fit")
	}

	predictions := make(map[string][]float64, len(t.config.ReportAttributes))
	for _, attr := range t.config.ReportAttributes {
		predictions[attr] = []float64{}
	}
	for _, batch := range batches {
		preds, err := t.model.Forward(batch.Structures, batch.Lengths, false)
		if err != nil {
			return nil, fmt.Errorf("prediction failed: %v", err)
		}
		for _, attr := range t.config.ReportAttributes {
			predictions[attr] = append(predictions[attr], flattenPredictions(preds[attr], t.config.Regression)...)
		}
	}
	return predictions, nil
}

// AttentionWeights returns the diagnostic per-timestep attention weights
// for each structure. It fails when the model was built without attention
// or before the first fit.
func (t *Trainer) AttentionWeights(structures []seq.Structure) ([][]float64, error) {
	if t.model == nil {
		return nil, fmt.Errorf("failed to compute attention weights: model has not been fit")
	}
	weights := make([][]float64, len(structures))
	for i, s := range structures {
		w, err := t.model.AttentionWeights(s)
		if err != nil {
			return nil, err
		}
		weights[i] = w
	}
	return weights, nil
}

// WordEmbeddings passes through to the model's embedding table.
func (t *Trainer) WordEmbeddings(words []string) (*embedding.WordMatrix, error) {
	if t.model == nil {
		return nil, fmt.Errorf("failed to fetch embeddings: model has not been fit")
	}
	return t.model.WordEmbeddings(words)
}

// corrDiff is the change in mean validation correlation between the two
// most recent epochs. Training halts the first time it goes negative.
func corrDiff(history []float64) float64 {
	return history[len(history)-1] - history[len(history)-2]
}

// flattenPredictions squeezes a prediction matrix to one value per
// example: the single output column for continuous regression, the argmax
// class for categorical.
func flattenPredictions(pred *mat.Dense, regType RegressionType) []float64 {
	rows, cols := pred.Dims()
	out := make([]float64, rows)
	for r := 0; r < rows; r++ {
		if regType.Continuous() || cols == 1 {
			out[r] = pred.At(r, 0)
			continue
		}
		best, bestVal := 0, pred.At(r, 0)
		for c := 1; c < cols; c++ {
			if v := pred.At(r, c); v > bestVal {
				best, bestVal = c, v
			}
		}
		out[r] = float64(best)
	}
	return out
}

func flattenTargets(batches []Batch, attributes []string) map[string][]float64 {
	flat := make(map[string][]float64, len(attributes))
	for _, attr := range attributes {
		flat[attr] = []float64{}
		for _, batch := range batches {
			flat[attr] = append(flat[attr], batch.Targets[attr]...)
		}
	}
	return flat
}

func classCount(batches []Batch, attributes []string) int {
	max := -1
	for _, batch := range batches {
		for _, attr := range attributes {
			for _, y := range batch.Targets[attr] {
				if int(y) > max {
					max = int(y)
				}
			}
		}
	}
	return max + 1
}
