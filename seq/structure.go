// Package seq defines the input side of the library: structures (single
// training or inference examples over token sequences) and padded,
// time-major batches of embedded sequences.
package seq

import "fmt"

// Structure is one example's input. Anything that can produce its tokens in
// order satisfies it; tree-shaped inputs additionally implement whatever
// composition interface their encoder collaborator requires.
type Structure interface {
	Words() []string
}

// Tokens adapts a flat ordered token sequence to the Structure interface.
type Tokens []string

// Words returns the token sequence itself.
func (t Tokens) Words() []string { return t }

// AsStructure coerces a raw input value into a Structure. It accepts values
// that already implement Structure, plain []string token slices, and
// Tokens. Anything else is a configuration error.
func AsStructure(v interface{}) (Structure, error) {
	switch s := v.(type) {
	case Structure:
		return s, nil
	case []string:
		return Tokens(s), nil
	case nil:
		return nil, fmt.Errorf("structure is nil")
	default:
		return nil, fmt.Errorf("structure must implement Words() or itself be a sequence of words, got %T", v)
	}
}

// AsStructures coerces a slice of raw inputs, failing on the first value
// that is neither a Structure nor a flat token sequence.
func AsStructures(vs []interface{}) ([]Structure, error) {
	out := make([]Structure, len(vs))
	for i, v := range vs {
		s, err := AsStructure(v)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve structure %d: %v", i, err)
		}
		out[i] = s
	}
	return out, nil
}
