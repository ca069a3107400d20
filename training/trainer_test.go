package training

import (
	"bytes"
	"strings"
	"testing"

	"github.com/tsawler/go-seqreg/embedding"
	"github.com/tsawler/go-seqreg/encoder"
	"github.com/tsawler/go-seqreg/model"
	"github.com/tsawler/go-seqreg/seq"
)

func testModelConfig() model.Config {
	return model.Config{
		Embedding: embedding.Config{
			Vocab: []string{"the", "dog", "ran", "fast", "home"},
			Dim:   4,
		},
		Cascade: encoder.CascadeConfig{
			Kinds:       []encoder.StageKind{encoder.Chain},
			HiddenSizes: []int{3},
		},
	}
}

func testBatches() ([]Batch, []Batch) {
	train := []Batch{
		{
			Structures: []seq.Structure{
				seq.Tokens{"the", "dog", "ran"},
				seq.Tokens{"ran", "fast"},
			},
			Lengths: []int{3, 2},
			Targets: map[string][]float64{"acceptability": {1.0, -0.5}},
		},
		{
			Structures: []seq.Structure{
				seq.Tokens{"the", "dog"},
				seq.Tokens{"home"},
			},
			Lengths: []int{2, 1},
			Targets: map[string][]float64{"acceptability": {0.25, 0.75}},
		},
	}
	dev := []Batch{
		{
			Structures: []seq.Structure{
				seq.Tokens{"the", "dog", "ran", "fast"},
				seq.Tokens{"dog", "ran"},
				seq.Tokens{"fast", "home"},
			},
			Lengths: []int{4, 2, 2},
			Targets: map[string][]float64{"acceptability": {0.9, -0.1, 0.4}},
		},
	}
	return train, dev
}

func TestConfigValidation(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		config := Config{}
		if err := config.validate(); err != nil {
			t.Fatalf("validation failed: %v", err)
		}
		if config.Epochs != 10 {
			t.Errorf("expected default epochs 10, got %d", config.Epochs)
		}
		if len(config.Attributes) != 1 || config.Attributes[0] != "acceptability" {
			t.Errorf("expected default attribute acceptability, got %v", config.Attributes)
		}
		if len(config.ReportAttributes) != 1 || config.ReportAttributes[0] != "acceptability" {
			t.Errorf("expected report attributes to default to all attributes, got %v", config.ReportAttributes)
		}
	})

	t.Run("negative epochs", func(t *testing.T) {
		config := Config{Epochs: -3}
		if err := config.validate(); err == nil {
			t.Error("expected error for negative epochs")
		}
	})

	t.Run("unknown report attribute", func(t *testing.T) {
		config := Config{
			Attributes:       []string{"arousal"},
			ReportAttributes: []string{"valence"},
		}
		if err := config.validate(); err == nil {
			t.Error("expected error for report attribute outside the trained set")
		}
	})
}

func TestEarlyStopDecision(t *testing.T) {
	// The history is seeded with 0.0 before the first epoch, so any
	// positive first correlation continues training, and the first drop
	// in mean correlation halts it.
	history := []float64{0.0}

	for _, step := range []struct {
		corr float64
		stop bool
	}{
		{0.5, false},
		{0.7, false},
		{0.6, true},
	} {
		history = append(history, step.corr)
		if got := corrDiff(history) < 0; got != step.stop {
			t.Errorf("after correlation %f: expected stop=%v, got %v", step.corr, step.stop, got)
		}
	}
	if len(history)-1 != 3 {
		t.Errorf("expected exactly 3 epochs recorded, got %d", len(history)-1)
	}
}

func TestFit(t *testing.T) {
	train, dev := testBatches()

	var buf bytes.Buffer
	trainer, err := NewTrainer(testModelConfig(), Config{
		Regression: Linear,
		Epochs:     2,
		Verbosity:  2,
		Output:     &buf,
	})
	if err != nil {
		t.Fatalf("failed to build trainer: %v", err)
	}

	if err := trainer.Fit(train, dev); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Epoch: 1", "Progress", "VALIDATION", "acceptability", "Correlation:", "Difference in mean corr:"} {
		if !strings.Contains(out, want) {
			t.Errorf("training output missing %q", want)
		}
	}
	// parameter dump precedes the first epoch
	if !strings.Contains(out, "embeddings [5 4]") {
		t.Errorf("expected parameter shape dump in output:\n%s", out)
	}

	t.Run("predict after fit", func(t *testing.T) {
		preds, err := trainer.Predict(dev)
		if err != nil {
			t.Fatalf("predict failed: %v", err)
		}
		if got := len(preds["acceptability"]); got != 3 {
			t.Errorf("expected 3 predictions, got %d", got)
		}
	})

	t.Run("missing targets", func(t *testing.T) {
		bad := []Batch{{Structures: train[0].Structures, Lengths: train[0].Lengths}}
		if err := trainer.Fit(bad, dev); err == nil {
			t.Error("expected error for batch without targets")
		}
	})
}

func TestFitMultinomial(t *testing.T) {
	train, dev := testBatches()
	for i := range train {
		train[i].Targets = map[string][]float64{"acceptability": {float64(i % 2), float64((i + 1) % 2)}}
	}
	dev[0].Targets = map[string][]float64{"acceptability": {0, 1, 0}}

	var buf bytes.Buffer
	trainer, err := NewTrainer(testModelConfig(), Config{
		Regression: Multinomial,
		Epochs:     1,
		Verbosity:  0,
		Output:     &buf,
	})
	if err != nil {
		t.Fatalf("failed to build trainer: %v", err)
	}
	if err := trainer.Fit(train, dev); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	// the class count is inferred from the training targets
	preds, err := trainer.Model().Forward(dev[0].Structures, dev[0].Lengths, false)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if _, cols := preds["acceptability"].Dims(); cols != 2 {
		t.Errorf("expected 2 output classes, got %d", cols)
	}

	flat, err := trainer.Predict(dev)
	if err != nil {
		t.Fatalf("predict failed: %v", err)
	}
	for _, p := range flat["acceptability"] {
		if p != 0 && p != 1 {
			t.Errorf("categorical prediction must be a class index, got %f", p)
		}
	}
}

func TestPredictBeforeFit(t *testing.T) {
	trainer, err := NewTrainer(testModelConfig(), Config{})
	if err != nil {
		t.Fatalf("failed to build trainer: %v", err)
	}
	if _, err := trainer.Predict(nil); err == nil {
		t.Error("expected error for predict before fit")
	}
	if _, err := trainer.WordEmbeddings(nil); err == nil {
		t.Error("expected error for embedding query before fit")
	}
}

func TestTrainerWordEmbeddings(t *testing.T) {
	train, dev := testBatches()
	trainer, err := NewTrainer(testModelConfig(), Config{
		Epochs:    1,
		Verbosity: 0,
		Output:    &bytes.Buffer{},
	})
	if err != nil {
		t.Fatalf("failed to build trainer: %v", err)
	}
	if err := trainer.Fit(train, dev); err != nil {
		t.Fatalf("fit failed: %v", err)
	}

	t.Run("requested words", func(t *testing.T) {
		wm, err := trainer.WordEmbeddings([]string{"dog", "home"})
		if err != nil {
			t.Fatalf("embedding query failed: %v", err)
		}
		if len(wm.Words) != 2 {
			t.Errorf("expected 2 rows, got %d", len(wm.Words))
		}
	})

	t.Run("full vocabulary", func(t *testing.T) {
		wm, err := trainer.WordEmbeddings(nil)
		if err != nil {
			t.Fatalf("embedding query failed: %v", err)
		}
		if rows, _ := wm.Vectors.Dims(); rows != 5 {
			t.Errorf("expected all 5 vocabulary rows, got %d", rows)
		}
	})
}

func TestClassCount(t *testing.T) {
	batches := []Batch{
		{Targets: map[string][]float64{"a": {0, 2, 1}}},
		{Targets: map[string][]float64{"a": {3, 0}}},
	}
	if got := classCount(batches, []string{"a"}); got != 4 {
		t.Errorf("expected 4 classes, got %d", got)
	}
}
