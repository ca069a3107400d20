package encoder

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-seqreg/optimizer"
	"github.com/tsawler/go-seqreg/seq"
)

// Stage is one encoder in a cascade. Forward consumes a batch and produces
// both the full per-timestep output sequence and a summary (final-state)
// vector per example; Backward mirrors it. A nil dLast means no gradient
// flows into the summary.
type Stage interface {
	Forward(in *seq.Batch, structures []seq.Structure) (*seq.Batch, *mat.Dense, error)
	Backward(dOut *seq.Batch, dLast *mat.Dense) (*seq.Batch, error)
	Parameters() []*optimizer.Parameter
	OutputSize() int
}

// Cascade applies stages in order, feeding stage i's output sequence to
// stage i+1.
type Cascade struct {
	stages []Stage
	specs  []StageSpec
}

// NewCascade resolves the configuration and builds the stages. inputSize is
// the dimensionality of the raw input vectors (the embedding size); tree
// encoders supplies one collaborator per Tree stage, consumed in cascade
// order.
func NewCascade(config CascadeConfig, inputSize int, treeEncoders []TreeEncoder) (*Cascade, error) {
	specs, err := config.Specs()
	if err != nil {
		return nil, fmt.Errorf("failed to create cascade: %v", err)
	}

	c := &Cascade{specs: specs}
	size := inputSize
	treeIdx := 0
	for i, spec := range specs {
		switch spec.Kind {
		case Chain:
			stage, err := NewLSTM(spec, size, fmt.Sprintf("cascade.%d", i))
			if err != nil {
				return nil, fmt.Errorf("failed to create cascade stage %d: %v", i, err)
			}
			c.stages = append(c.stages, stage)
			size = stage.OutputSize()
		case Tree:
			if treeIdx >= len(treeEncoders) {
				return nil, fmt.Errorf("failed to create cascade: stage %d is a tree stage but only %d tree encoders were supplied", i, len(treeEncoders))
			}
			stage := newTreeStage(treeEncoders[treeIdx])
			treeIdx++
			c.stages = append(c.stages, stage)
			size = stage.OutputSize()
		default:
			return nil, fmt.Errorf("failed to create cascade: stage %d has unknown kind %v", i, spec.Kind)
		}
	}
	if treeIdx < len(treeEncoders) {
		return nil, fmt.Errorf("failed to create cascade: %d tree encoders supplied but only %d tree stages configured", len(treeEncoders), treeIdx)
	}
	return c, nil
}

// Len returns the number of stages.
func (c *Cascade) Len() int { return len(c.stages) }

// Specs returns the resolved per-stage configuration.
func (c *Cascade) Specs() []StageSpec { return c.specs }

// OutputSize returns the per-timestep output dimensionality of the final
// stage.
func (c *Cascade) OutputSize() int {
	return c.stages[len(c.stages)-1].OutputSize()
}

// Parameters returns every stage's trainable parameters in order.
func (c *Cascade) Parameters() []*optimizer.Parameter {
	var params []*optimizer.Parameter
	for _, s := range c.stages {
		params = append(params, s.Parameters()...)
	}
	return params
}

// Forward runs the cascade, returning the final stage's full output
// sequence and its summary vector.
func (c *Cascade) Forward(in *seq.Batch, structures []seq.Structure) (*seq.Batch, *mat.Dense, error) {
	var (
		summary *mat.Dense
		err     error
	)
	out := in
	for i, s := range c.stages {
		out, summary, err = s.Forward(out, structures)
		if err != nil {
			return nil, nil, fmt.Errorf("cascade stage %d forward failed: %v", i, err)
		}
	}
	return out, summary, nil
}

// Backward propagates gradients through the stages in reverse order.
// dLast applies to the final stage's summary vector only.
func (c *Cascade) Backward(dOut *seq.Batch, dLast *mat.Dense) (*seq.Batch, error) {
	var err error
	d := dOut
	for i := len(c.stages) - 1; i >= 0; i-- {
		var dl *mat.Dense
		if i == len(c.stages)-1 {
			dl = dLast
		}
		d, err = c.stages[i].Backward(d, dl)
		if err != nil {
			return nil, fmt.Errorf("cascade stage %d backward failed: %v", i, err)
		}
	}
	return d, nil
}
