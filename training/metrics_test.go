package training

import (
	"bytes"
	"math"
	"strings"
	"testing"
)

func TestStatHelpers(t *testing.T) {
	t.Run("mean", func(t *testing.T) {
		if got := mean([]float64{1, 2, 3, 4}); got != 2.5 {
			t.Errorf("expected mean 2.5, got %f", got)
		}
		if !math.IsNaN(mean(nil)) {
			t.Error("expected NaN mean of empty slice")
		}
	})

	t.Run("median odd", func(t *testing.T) {
		if got := median([]float64{3, 1, 2}); got != 2 {
			t.Errorf("expected median 2, got %f", got)
		}
	})

	t.Run("median even", func(t *testing.T) {
		if got := median([]float64{4, 1, 3, 2}); got != 2.5 {
			t.Errorf("expected median 2.5, got %f", got)
		}
	})

	t.Run("median leaves input unsorted", func(t *testing.T) {
		xs := []float64{3, 1, 2}
		median(xs)
		if xs[0] != 3 {
			t.Error("median must not mutate its input")
		}
	})

	t.Run("deviation around fixed center", func(t *testing.T) {
		xs := []float64{1, 3}
		if got := meanSquaredDeviation(xs, 2); got != 1 {
			t.Errorf("expected variance 1, got %f", got)
		}
		if got := meanAbsoluteDeviation(xs, 0); got != 2 {
			t.Errorf("expected absolute deviation 2, got %f", got)
		}
	})

	t.Run("round3", func(t *testing.T) {
		if got := round3(0.12345); got != 0.123 {
			t.Errorf("expected 0.123, got %f", got)
		}
		if got := round3(2.5678); got != 2.568 {
			t.Errorf("expected 2.568, got %f", got)
		}
	})
}

func TestHuberPenalty(t *testing.T) {
	if got := huber(1.0, 0.5); got != 0.125 {
		t.Errorf("expected 0.125 inside delta, got %f", got)
	}
	if got := huber(1.0, -3.0); got != 2.5 {
		t.Errorf("expected 2.5 beyond delta, got %f", got)
	}
}

func TestPrintMetrics(t *testing.T) {
	attrs := []string{"acceptability"}
	allTargets := map[string][]float64{"acceptability": {0, 1, 2, 3}}

	t.Run("linear block", func(t *testing.T) {
		tr := newTraces(attrs)
		tr.loss = []float64{0.5}
		tr.targs["acceptability"] = []float64{0, 1, 2, 3}
		tr.preds["acceptability"] = []float64{0.1, 0.9, 2.2, 2.8}

		var buf bytes.Buffer
		printMetrics(&buf, "50", Linear, tr, attrs, allTargets, nil)

		out := buf.String()
		for _, want := range []string{"residual variance:", "total variance:", "r-squared:", "correlation:", "50%"} {
			if !strings.Contains(out, want) {
				t.Errorf("linear metric block missing %q:\n%s", want, out)
			}
		}
		// targets are 0..3 around their own mean 1.5: variance 1.25
		if !strings.Contains(out, "1.25") {
			t.Errorf("expected total variance 1.25 in output:\n%s", out)
		}
	})

	t.Run("robust block", func(t *testing.T) {
		tr := newTraces(attrs)
		tr.loss = []float64{0.4}
		tr.targs["acceptability"] = []float64{0, 3}

		var buf bytes.Buffer
		printMetrics(&buf, "25", Robust, tr, attrs, allTargets, nil)

		out := buf.String()
		for _, want := range []string{"residual absolute error:", "total absolute error:", "proportion absolute error:"} {
			if !strings.Contains(out, want) {
				t.Errorf("robust metric block missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("categorical block", func(t *testing.T) {
		tr := newTraces(attrs)
		tr.loss = []float64{0.7}
		tr.targs["acceptability"] = []float64{0, 1, 1}
		logProb := map[string][]float64{
			"acceptability": {math.Log(0.25), math.Log(0.75)},
		}

		var buf bytes.Buffer
		printMetrics(&buf, "75", Multinomial, tr, attrs, allTargets, logProb)

		out := buf.String()
		for _, want := range []string{"residual mean cross entropy:", "total mean cross entropy:", "proportion entropy explained:"} {
			if !strings.Contains(out, want) {
				t.Errorf("categorical metric block missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("empty traces print nothing", func(t *testing.T) {
		tr := newTraces(attrs)
		var buf bytes.Buffer
		printMetrics(&buf, "0", Linear, tr, attrs, allTargets, nil)
		if buf.Len() != 0 {
			t.Errorf("expected no output for empty traces, got %q", buf.String())
		}
	})
}
