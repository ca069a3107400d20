// Package embedding provides the token embedding table: a bidirectional
// vocabulary mapping plus a dense weight matrix, either frozen (copied from
// a pre-trained source) or trainable (randomly initialized).
package embedding

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tsawler/go-seqreg/optimizer"
)

// Config selects how the table is built. Exactly one of the two modes must
// be supplied: a pre-trained Matrix (vocabulary and dimensionality are
// inferred from it and the weights are frozen), or an explicit Vocab plus
// Dim (weights are randomly initialized and trainable).
type Config struct {
	// Vocab is the ordered set of distinct tokens. Required in both modes.
	Vocab []string

	// Matrix is an optional pre-trained (len(Vocab) × dim) weight matrix.
	// When set, the table is frozen.
	Matrix *mat.Dense

	// Dim is the embedding dimensionality when no Matrix is given.
	Dim int

	// InitStd is the standard deviation of the Gaussian used to initialize
	// trainable weights (default: 1.0).
	InitStd float64
}

// Table maps vocabulary tokens to dense vectors. The token→index hash is
// built once at construction and reused for every lookup.
type Table struct {
	vocab   []string
	index   map[string]int
	weights *optimizer.Parameter
	dim     int
	frozen  bool
}

// New builds a Table from the given configuration. It fails with a
// configuration error when neither a pre-trained matrix nor an explicit
// vocabulary and dimensionality are supplied.
func New(config Config) (*Table, error) {
	if len(config.Vocab) == 0 {
		return nil, fmt.Errorf("failed to create embedding table: vocabulary is empty")
	}
	if config.Matrix == nil && config.Dim <= 0 {
		return nil, fmt.Errorf("failed to create embedding table: either a pre-trained matrix or an explicit embedding dimensionality is required")
	}

	index := make(map[string]int, len(config.Vocab))
	for i, w := range config.Vocab {
		if _, dup := index[w]; dup {
			return nil, fmt.Errorf("failed to create embedding table: duplicate token %q", w)
		}
		index[w] = i
	}

	t := &Table{
		vocab: config.Vocab,
		index: index,
	}

	if config.Matrix != nil {
		rows, dim := config.Matrix.Dims()
		if rows != len(config.Vocab) {
			return nil, fmt.Errorf("failed to create embedding table: matrix has %d rows for %d vocabulary tokens", rows, len(config.Vocab))
		}
		weights := mat.NewDense(rows, dim, nil)
		weights.Copy(config.Matrix)
		t.weights = optimizer.NewParameter("embeddings", weights)
		t.dim = dim
		t.frozen = true
		return t, nil
	}

	std := config.InitStd
	if std == 0 {
		std = 1.0
	}
	normal := distuv.Normal{Mu: 0, Sigma: std}
	weights := mat.NewDense(len(config.Vocab), config.Dim, nil)
	for i := 0; i < len(config.Vocab); i++ {
		for j := 0; j < config.Dim; j++ {
			weights.Set(i, j, normal.Rand())
		}
	}
	t.weights = optimizer.NewParameter("embeddings", weights)
	t.dim = config.Dim
	return t, nil
}

// Len returns the vocabulary size.
func (t *Table) Len() int { return len(t.vocab) }

// Dim returns the embedding dimensionality.
func (t *Table) Dim() int { return t.dim }

// Frozen reports whether the weights are excluded from training.
func (t *Table) Frozen() bool { return t.frozen }

// Vocab returns the ordered vocabulary.
func (t *Table) Vocab() []string { return t.vocab }

// Index returns the vocabulary index of a token. An unknown token is a
// key-lookup failure surfaced to the caller.
func (t *Table) Index(token string) (int, error) {
	i, ok := t.index[token]
	if !ok {
		return 0, fmt.Errorf("token %q not in vocabulary", token)
	}
	return i, nil
}

// Lookup maps an ordered token sequence to a (len(words) × Dim) matrix
// whose rows are the corresponding embedding vectors.
func (t *Table) Lookup(words []string) (*mat.Dense, error) {
	if len(words) == 0 {
		return nil, fmt.Errorf("failed to look up embeddings: empty word sequence")
	}
	out := mat.NewDense(len(words), t.dim, nil)
	for r, w := range words {
		i, err := t.Index(w)
		if err != nil {
			return nil, fmt.Errorf("failed to look up embeddings: %v", err)
		}
		out.SetRow(r, t.weights.Value.RawRowView(i))
	}
	return out, nil
}

// Accumulate adds per-timestep gradients into the rows used by words.
// It is a no-op for frozen tables.
func (t *Table) Accumulate(words []string, grad *mat.Dense) error {
	if t.frozen {
		return nil
	}
	rows, cols := grad.Dims()
	if rows != len(words) || cols != t.dim {
		return fmt.Errorf("failed to accumulate embedding gradient: shape (%d,%d) for %d words of dim %d", rows, cols, len(words), t.dim)
	}
	for r, w := range words {
		i, err := t.Index(w)
		if err != nil {
			return fmt.Errorf("failed to accumulate embedding gradient: %v", err)
		}
		dst := t.weights.Grad.RawRowView(i)
		src := grad.RawRowView(r)
		for j := range dst {
			dst[j] += src[j]
		}
	}
	return nil
}

// Parameters returns the trainable parameters of the table: the weight
// matrix when trainable, nothing when frozen.
func (t *Table) Parameters() []*optimizer.Parameter {
	if t.frozen {
		return nil
	}
	return []*optimizer.Parameter{t.weights}
}

// WordMatrix is a labeled table of embedding vectors: row i of Vectors is
// the embedding of Words[i].
type WordMatrix struct {
	Words   []string
	Vectors *mat.Dense
}

// WordEmbeddings extracts the current embeddings for the requested words,
// or for the whole vocabulary when words is empty.
func (t *Table) WordEmbeddings(words []string) (*WordMatrix, error) {
	if len(words) == 0 {
		words = t.vocab
	}
	vectors, err := t.Lookup(words)
	if err != nil {
		return nil, err
	}
	return &WordMatrix{Words: words, Vectors: vectors}, nil
}
