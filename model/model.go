// Package model wires the embedding table, encoder cascade, summary
// mechanism (attention or last-timestep selection), and per-attribute
// regression heads into a single prediction pipeline.
package model

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-seqreg/embedding"
	"github.com/tsawler/go-seqreg/encoder"
	"github.com/tsawler/go-seqreg/nnet"
	"github.com/tsawler/go-seqreg/optimizer"
	"github.com/tsawler/go-seqreg/seq"
)

// Config assembles a full model. Validation happens at construction time,
// before any forward computation.
type Config struct {
	// Embedding configures the token embedding table.
	Embedding embedding.Config

	// Cascade configures the encoder stages.
	Cascade encoder.CascadeConfig

	// TreeEncoders supplies one collaborator per Tree stage in the
	// cascade, in cascade order.
	TreeEncoders []encoder.TreeEncoder

	// Attention enables the learned attention summary; when false the
	// summary is the last valid timestep.
	Attention bool

	// RegressionHiddenSizes lists the hidden layer sizes of every
	// attribute's regression head; empty means a single affine layer.
	RegressionHiddenSizes []int

	// OutputSize is the per-attribute output dimensionality: 1 for
	// continuous attributes, the class count for categorical ones
	// (default: 1).
	OutputSize int

	// Attributes names the target attributes. Each gets an independent
	// regression head over the shared summary vector.
	Attributes []string

	// DropoutRate optionally applies dropout to the summary vector during
	// training (default: 0, disabled).
	DropoutRate float64
}

func validateConfig(config *Config) error {
	if len(config.Attributes) == 0 {
		return fmt.Errorf("at least one attribute is required")
	}
	seen := make(map[string]bool, len(config.Attributes))
	for _, attr := range config.Attributes {
		if attr == "" {
			return fmt.Errorf("attribute names must be non-empty")
		}
		if seen[attr] {
			return fmt.Errorf("duplicate attribute %q", attr)
		}
		seen[attr] = true
	}
	if config.OutputSize == 0 {
		config.OutputSize = 1
	}
	if config.OutputSize < 0 {
		return fmt.Errorf("output size must be positive, got %d", config.OutputSize)
	}
	return nil
}

// Model is the composition root. Forward passes are pure functions of
// (structures, lengths, mode) given fixed parameters; only the optimizer
// mutates parameters, and only between passes.
type Model struct {
	table    *embedding.Table
	cascade  *encoder.Cascade
	attn     *nnet.Attention // nil when attention is disabled
	selector *nnet.LastTimestep
	dropout  *nnet.Dropout
	heads    []*nnet.Head // ordered as Attributes
	headFor  map[string]*nnet.Head
	attrs    []string

	// Preprocess, when set, is applied to each embedded timestep matrix
	// before encoding. Defaults to identity.
	Preprocess func(*mat.Dense) *mat.Dense

	// forward cache
	words   [][]string
	inBatch *seq.Batch
}

// New builds a model from the configuration, failing with a configuration
// error before any forward computation if the pieces disagree.
func New(config Config) (*Model, error) {
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid model configuration: %v", err)
	}

	table, err := embedding.New(config.Embedding)
	if err != nil {
		return nil, fmt.Errorf("invalid model configuration: %v", err)
	}

	cascade, err := encoder.NewCascade(config.Cascade, table.Dim(), config.TreeEncoders)
	if err != nil {
		return nil, fmt.Errorf("invalid model configuration: %v", err)
	}

	dropout, err := nnet.NewDropout(config.DropoutRate)
	if err != nil {
		return nil, fmt.Errorf("invalid model configuration: %v", err)
	}

	m := &Model{
		table:    table,
		cascade:  cascade,
		selector: &nnet.LastTimestep{},
		dropout:  dropout,
		headFor:  make(map[string]*nnet.Head, len(config.Attributes)),
		attrs:    config.Attributes,
	}

	if config.Attention {
		m.attn, err = nnet.NewAttention(cascade.OutputSize())
		if err != nil {
			return nil, fmt.Errorf("invalid model configuration: %v", err)
		}
	}

	for _, attr := range config.Attributes {
		head, err := nnet.NewHead(attr, cascade.OutputSize(), config.RegressionHiddenSizes, config.OutputSize)
		if err != nil {
			return nil, fmt.Errorf("invalid model configuration: %v", err)
		}
		m.heads = append(m.heads, head)
		m.headFor[attr] = head
	}
	return m, nil
}

// Attributes returns the configured attribute names in order.
func (m *Model) Attributes() []string { return m.attrs }

// Embeddings exposes the model's embedding table.
func (m *Model) Embeddings() *embedding.Table { return m.table }

// SummarySize returns the dimensionality of the summary vector.
func (m *Model) SummarySize() int { return m.cascade.OutputSize() }

// Parameters collects every trainable parameter: embedding table (when
// trainable), each cascade stage, the attention vector (when enabled), and
// each head's layers. Heads are iterated in attribute order; no name
// synthesis is involved in ownership.
func (m *Model) Parameters() []*optimizer.Parameter {
	var params []*optimizer.Parameter
	params = append(params, m.table.Parameters()...)
	params = append(params, m.cascade.Parameters()...)
	if m.attn != nil {
		params = append(params, m.attn.Parameters()...)
	}
	for _, head := range m.heads {
		params = append(params, head.Parameters()...)
	}
	return params
}

// Forward runs the full pipeline over a batch of structures and returns one
// raw prediction matrix (batch × outputSize) per attribute. lengths may be
// nil when all sequences share a length. train selects training-time
// behavior (dropout).
func (m *Model) Forward(structures []seq.Structure, lengths []int, train bool) (map[string]*mat.Dense, error) {
	if len(structures) == 0 {
		return nil, fmt.Errorf("model forward failed: empty batch")
	}

	// resolve words and embed each example
	m.words = make([][]string, len(structures))
	examples := make([]*mat.Dense, len(structures))
	for i, s := range structures {
		if s == nil {
			return nil, fmt.Errorf("model forward failed: structure %d is nil", i)
		}
		m.words[i] = s.Words()
		ex, err := m.table.Lookup(m.words[i])
		if err != nil {
			return nil, fmt.Errorf("model forward failed: example %d: %v", i, err)
		}
		examples[i] = ex
	}

	batch, err := seq.NewBatch(examples, lengths)
	if err != nil {
		return nil, fmt.Errorf("model forward failed: %v", err)
	}
	if m.Preprocess != nil {
		for t := range batch.Steps {
			batch.Steps[t] = m.Preprocess(batch.Steps[t])
		}
		batch.MaskPadding()
	}
	m.inBatch = batch

	encoded, _, err := m.cascade.Forward(batch, structures)
	if err != nil {
		return nil, fmt.Errorf("model forward failed: %v", err)
	}

	var summary *mat.Dense
	if m.attn != nil {
		summary, err = m.attn.Reduce(encoded)
	} else {
		summary, err = m.selector.Forward(encoded)
	}
	if err != nil {
		return nil, fmt.Errorf("model forward failed: %v", err)
	}

	summary = m.dropout.Forward(summary, train)

	predictions := make(map[string]*mat.Dense, len(m.heads))
	for _, head := range m.heads {
		predictions[head.Attribute()], err = head.Forward(summary)
		if err != nil {
			return nil, fmt.Errorf("model forward failed: %v", err)
		}
	}
	return predictions, nil
}

// Backward propagates per-attribute prediction gradients through the whole
// pipeline, accumulating parameter gradients. It must follow a Forward call
// over the same batch.
func (m *Model) Backward(dPredictions map[string]*mat.Dense) error {
	if m.inBatch == nil {
		return fmt.Errorf("model backward failed: no cached forward pass")
	}

	var dSummary *mat.Dense
	for _, head := range m.heads {
		dPred, ok := dPredictions[head.Attribute()]
		if !ok {
			continue
		}
		dPart, err := head.Backward(dPred)
		if err != nil {
			return fmt.Errorf("model backward failed: %v", err)
		}
		if dSummary == nil {
			dSummary = dPart
		} else {
			dSummary.Add(dSummary, dPart)
		}
	}
	if dSummary == nil {
		return fmt.Errorf("model backward failed: no attribute gradients supplied")
	}

	dSummary = m.dropout.Backward(dSummary)

	var (
		dEncoded *seq.Batch
		err      error
	)
	if m.attn != nil {
		dEncoded, err = m.attn.Backward(dSummary)
	} else {
		dEncoded, err = m.selector.Backward(dSummary)
	}
	if err != nil {
		return fmt.Errorf("model backward failed: %v", err)
	}

	dInput, err := m.cascade.Backward(dEncoded, nil)
	if err != nil {
		return fmt.Errorf("model backward failed: %v", err)
	}

	if !m.table.Frozen() {
		for i := range m.words {
			// Lengths may truncate the word sequence; padded positions get
			// no gradient.
			words := m.words[i]
			if n := dInput.Lengths[i]; n < len(words) {
				words = words[:n]
			}
			if err := m.table.Accumulate(words, dInput.Example(i)); err != nil {
				return fmt.Errorf("model backward failed: %v", err)
			}
		}
	}
	return nil
}

// AttentionWeights computes the diagnostic per-timestep attention weights
// for a single structure. It fails when attention was not enabled at
// construction.
func (m *Model) AttentionWeights(structure seq.Structure) ([]float64, error) {
	if m.attn == nil {
		return nil, fmt.Errorf("attention not used")
	}
	if structure == nil {
		return nil, fmt.Errorf("failed to compute attention weights: structure is nil")
	}

	words := structure.Words()
	ex, err := m.table.Lookup(words)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention weights: %v", err)
	}
	batch, err := seq.NewBatch([]*mat.Dense{ex}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention weights: %v", err)
	}

	encoded, _, err := m.cascade.Forward(batch, []seq.Structure{structure})
	if err != nil {
		return nil, fmt.Errorf("failed to compute attention weights: %v", err)
	}
	return m.attn.Weights(encoded.Example(0))
}

// WordEmbeddings passes through to the embedding table: the requested
// words' vectors, or the full vocabulary when words is empty.
func (m *Model) WordEmbeddings(words []string) (*embedding.WordMatrix, error) {
	return m.table.WordEmbeddings(words)
}
