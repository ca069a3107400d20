package training

import (
	"fmt"
	"io"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// traces accumulates per-batch losses, targets, and predictions between
// metric reports. Target and prediction traces are per attribute.
type traces struct {
	loss  []float64
	targs map[string][]float64
	preds map[string][]float64
}

func newTraces(attributes []string) *traces {
	tr := &traces{
		targs: make(map[string][]float64, len(attributes)),
		preds: make(map[string][]float64, len(attributes)),
	}
	for _, attr := range attributes {
		tr.targs[attr] = []float64{}
		tr.preds[attr] = []float64{}
	}
	return tr
}

func (tr *traces) reset() {
	tr.loss = tr.loss[:0]
	for attr := range tr.targs {
		tr.targs[attr] = tr.targs[attr][:0]
	}
	for attr := range tr.preds {
		tr.preds[attr] = tr.preds[attr][:0]
	}
}

// printMetrics writes one metric block per reporting attribute, derived
// from the traces accumulated since the last report. The block layout
// depends on the regression type: explained variance for squared error,
// explained absolute error for the robust types, and explained entropy
// for the categorical case. allTargets holds the full training targets
// per attribute, the baseline the residuals are compared against.
func printMetrics(w io.Writer, progress string, regType RegressionType, tr *traces,
	attributes []string, allTargets map[string][]float64, logProb map[string][]float64) {

	residMean := mean(tr.loss)

	for _, attr := range attributes {
		targs := tr.targs[attr]
		if len(targs) == 0 {
			continue
		}
		switch regType {
		case Linear:
			grandMean := mean(allTargets[attr])
			targVar := meanSquaredDeviation(targs, grandMean)
			r2 := 1.0 - residMean/targVar
			corr := stat.Correlation(targs, tr.preds[attr], nil)
			fmt.Fprintf(w, "%s%%\t\t residual variance:\t %v\n", progress, round3(residMean))
			fmt.Fprintf(w, " \t\t total variance:\t %v\n", round3(targVar))
			fmt.Fprintf(w, " \t\t r-squared:\t\t %v\n", round3(r2))
			fmt.Fprintf(w, " \t\t correlation:\t\t %v\n\n", round3(corr))
		case Robust:
			med := median(allTargets[attr])
			mae := meanAbsoluteDeviation(targs, med)
			pmae := 1.0 - residMean/mae
			printRobustBlock(w, progress, residMean, mae, pmae)
		case RobustSmooth:
			med := median(allTargets[attr])
			var sum float64
			for _, t := range targs {
				sum += huber(1.0, t-med)
			}
			mae := sum / float64(len(targs))
			pmae := 1.0 - residMean/mae
			printRobustBlock(w, progress, residMean, mae, pmae)
		case Multinomial:
			var sum float64
			for _, t := range targs {
				sum += -logProb[attr][int(t)]
			}
			targNLP := sum / float64(len(targs))
			pnlp := 1.0 - residMean/targNLP
			fmt.Fprintf(w, "%s%%\t\t residual mean cross entropy:\t %v\n", progress, round3(residMean))
			fmt.Fprintf(w, " \t\t total mean cross entropy:\t %v\n", round3(targNLP))
			fmt.Fprintf(w, " \t\t proportion entropy explained:\t %v\n\n", round3(pnlp))
		}
	}
}

func printRobustBlock(w io.Writer, progress string, residMean, mae, pmae float64) {
	fmt.Fprintf(w, "%s%%\t\t residual absolute error:\t %v\n", progress, round3(residMean))
	fmt.Fprintf(w, " \t\t total absolute error:\t\t %v\n", round3(mae))
	fmt.Fprintf(w, " \t\t proportion absolute error:\t %v\n\n", round3(pmae))
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return floats.Sum(xs) / float64(len(xs))
}

// meanSquaredDeviation is the population variance of xs around a fixed
// center rather than the sample mean.
func meanSquaredDeviation(xs []float64, center float64) float64 {
	var sum float64
	for _, x := range xs {
		d := x - center
		sum += d * d
	}
	return sum / float64(len(xs))
}

func meanAbsoluteDeviation(xs []float64, center float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += math.Abs(x - center)
	}
	return sum / float64(len(xs))
}

func median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), xs...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2.0
}

// round3 rounds to 3 decimal digits for display.
func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
