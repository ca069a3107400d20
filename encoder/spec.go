// Package encoder implements the recurrent encoder cascade: an ordered
// pipeline of linear-chain or tree-structured stages where each stage's
// per-timestep outputs are the next stage's inputs.
package encoder

import "fmt"

// StageKind identifies the kind of recurrent encoder in a cascade stage.
type StageKind int

const (
	Chain StageKind = iota // linear-chain recurrence over token order
	Tree                   // recursion driven by an external tree encoder
)

func (k StageKind) String() string {
	switch k {
	case Chain:
		return "Chain"
	case Tree:
		return "Tree"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// StageSpec is the resolved configuration of one cascade stage.
type StageSpec struct {
	Kind          StageKind `json:"kind"`
	HiddenSize    int       `json:"hidden_size"`
	NumLayers     int       `json:"num_layers"`
	Bidirectional bool      `json:"bidirectional"`
}

// OutputSize returns the per-timestep output dimensionality of a chain
// stage with this spec: hidden size doubled when bidirectional.
func (s StageSpec) OutputSize() int {
	if s.Bidirectional {
		return s.HiddenSize * 2
	}
	return s.HiddenSize
}

// CascadeConfig configures a cascade pointwise: entry i of every list
// describes stage i. A nil list takes its default; a singleton list
// broadcasts to the cascade length. Lists of length greater than one must
// all have equal length.
type CascadeConfig struct {
	Kinds         []StageKind `json:"kinds"`          // default: Chain
	HiddenSizes   []int       `json:"hidden_sizes"`   // default: 300
	NumLayers     []int       `json:"num_layers"`     // default: 1
	Bidirectional []bool      `json:"bidirectional"`  // default: false
}

// Specs resolves the configuration into one StageSpec per stage, applying
// defaults and broadcasting singletons. It fails with a configuration error
// when the lists disagree on the cascade length.
func (c CascadeConfig) Specs() ([]StageSpec, error) {
	kinds := c.Kinds
	if len(kinds) == 0 {
		kinds = []StageKind{Chain}
	}
	hidden := c.HiddenSizes
	if len(hidden) == 0 {
		hidden = []int{300}
	}
	layers := c.NumLayers
	if len(layers) == 0 {
		layers = []int{1}
	}
	bidi := c.Bidirectional
	if len(bidi) == 0 {
		bidi = []bool{false}
	}

	n := 1
	for _, l := range []int{len(kinds), len(hidden), len(layers), len(bidi)} {
		if l > n {
			n = l
		}
	}
	for name, l := range map[string]int{
		"kinds":         len(kinds),
		"hidden sizes":  len(hidden),
		"layer counts":  len(layers),
		"bidirectional": len(bidi),
	} {
		if l != 1 && l != n {
			return nil, fmt.Errorf("cascade %s list has length %d; lists must be singular or share length %d", name, l, n)
		}
	}

	specs := make([]StageSpec, n)
	for i := range specs {
		specs[i] = StageSpec{
			Kind:          kinds[broadcastIndex(i, len(kinds))],
			HiddenSize:    hidden[broadcastIndex(i, len(hidden))],
			NumLayers:     layers[broadcastIndex(i, len(layers))],
			Bidirectional: bidi[broadcastIndex(i, len(bidi))],
		}
		if specs[i].HiddenSize <= 0 {
			return nil, fmt.Errorf("cascade stage %d: hidden size must be positive, got %d", i, specs[i].HiddenSize)
		}
		if specs[i].NumLayers <= 0 {
			return nil, fmt.Errorf("cascade stage %d: layer count must be positive, got %d", i, specs[i].NumLayers)
		}
	}
	return specs, nil
}

func broadcastIndex(i, n int) int {
	if n == 1 {
		return 0
	}
	return i
}
