package encoder

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/tsawler/go-seqreg/optimizer"
	"github.com/tsawler/go-seqreg/seq"
)

// LSTM is a linear-chain cascade stage: a (possibly multi-layer, possibly
// bidirectional) LSTM run over a padded batch. True sequence lengths drive
// masking: state is carried across padded steps internally, while padded
// rows are zeroed in the reported output sequence and contribute no
// gradient.
type LSTM struct {
	spec      StageSpec
	inputSize int
	cells     [][]*lstmCell // [layer][direction]

	in *seq.Batch
}

// NewLSTM creates a chain stage for the given spec consuming inputSize-
// dimensional vectors.
func NewLSTM(spec StageSpec, inputSize int, name string) (*LSTM, error) {
	if inputSize <= 0 {
		return nil, fmt.Errorf("failed to create LSTM stage: input size must be positive, got %d", inputSize)
	}
	if spec.HiddenSize <= 0 || spec.NumLayers <= 0 {
		return nil, fmt.Errorf("failed to create LSTM stage: invalid spec %+v", spec)
	}

	dirs := 1
	if spec.Bidirectional {
		dirs = 2
	}
	l := &LSTM{spec: spec, inputSize: inputSize}
	for layer := 0; layer < spec.NumLayers; layer++ {
		in := inputSize
		if layer > 0 {
			in = spec.HiddenSize * dirs
		}
		row := make([]*lstmCell, dirs)
		for d := 0; d < dirs; d++ {
			row[d] = newLSTMCell(in, spec.HiddenSize, fmt.Sprintf("%s.l%d.d%d", name, layer, d))
		}
		l.cells = append(l.cells, row)
	}
	return l, nil
}

// OutputSize returns the per-timestep output dimensionality: hidden size,
// doubled when bidirectional.
func (l *LSTM) OutputSize() int {
	return l.spec.OutputSize()
}

// Parameters returns every cell's weights in layer then direction order.
func (l *LSTM) Parameters() []*optimizer.Parameter {
	var params []*optimizer.Parameter
	for _, row := range l.cells {
		for _, cell := range row {
			params = append(params, cell.wx, cell.wh, cell.bias)
		}
	}
	return params
}

// Forward runs the stage over a batch. Structures are ignored for chain
// stages; composition order is token order.
func (l *LSTM) Forward(in *seq.Batch, _ []seq.Structure) (*seq.Batch, *mat.Dense, error) {
	if in.Dim != l.inputSize {
		return nil, nil, fmt.Errorf("LSTM stage: input dim %d, expected %d", in.Dim, l.inputSize)
	}

	l.in = in

	steps := in.Steps
	var last *mat.Dense
	for _, row := range l.cells {
		fwdOuts, fwdLast := row[0].run(steps, in.Lengths, false)
		if len(row) == 2 {
			revOuts, revLast := row[1].run(steps, in.Lengths, true)
			steps = hstackSteps(fwdOuts, revOuts)
			last = hstack(fwdLast, revLast)
		} else {
			steps = fwdOuts
			last = fwdLast
		}
	}

	out := &seq.Batch{
		Steps:   steps,
		Lengths: in.Lengths,
		Size:    in.Size,
		Dim:     l.OutputSize(),
		MaxLen:  in.MaxLen,
	}
	return out, last, nil
}

// Backward propagates gradients from the output sequence (and optionally
// the summary vector) back to the stage inputs, accumulating weight
// gradients along the way.
func (l *LSTM) Backward(dOut *seq.Batch, dLast *mat.Dense) (*seq.Batch, error) {
	if l.in == nil {
		return nil, fmt.Errorf("LSTM stage: Backward called before Forward")
	}

	h := l.spec.HiddenSize
	dSteps := dOut.Steps
	for layer := len(l.cells) - 1; layer >= 0; layer-- {
		row := l.cells[layer]

		// Only the top layer receives gradient for the summary vector.
		var dLastHere *mat.Dense
		if layer == len(l.cells)-1 {
			dLastHere = dLast
		}

		if len(row) == 2 {
			dFwd, dRev := splitSteps(dSteps, h)
			var dLastFwd, dLastRev *mat.Dense
			if dLastHere != nil {
				dLastFwd, dLastRev = splitCols(dLastHere, h)
			}
			dInFwd := row[0].backprop(dFwd, dLastFwd, l.in.Lengths, false)
			dInRev := row[1].backprop(dRev, dLastRev, l.in.Lengths, true)
			dSteps = addSteps(dInFwd, dInRev)
		} else {
			dSteps = row[0].backprop(dSteps, dLastHere, l.in.Lengths, false)
		}
	}

	dIn := &seq.Batch{
		Steps:   dSteps,
		Lengths: l.in.Lengths,
		Size:    l.in.Size,
		Dim:     l.inputSize,
		MaxLen:  l.in.MaxLen,
	}
	return dIn, nil
}

// lstmCell is one direction of one layer. Gate order is input, forget,
// cell, output.
type lstmCell struct {
	inputSize  int
	hiddenSize int

	wx   *optimizer.Parameter // (4H × in)
	wh   *optimizer.Parameter // (4H × H)
	bias *optimizer.Parameter // (1 × 4H)

	cache []*cellStep // indexed by time
}

// cellStep holds what one timestep's backward pass needs.
type cellStep struct {
	x     *mat.Dense // input at this step (reference)
	hPrev *mat.Dense
	cPrev *mat.Dense
	i     *mat.Dense
	f     *mat.Dense
	g     *mat.Dense
	o     *mat.Dense
	c     *mat.Dense // carried cell state after masking
	tc    *mat.Dense // tanh of the active cell state
	h     *mat.Dense // carried hidden state after masking
}

func newLSTMCell(inputSize, hiddenSize int, name string) *lstmCell {
	k := 1.0 / math.Sqrt(float64(hiddenSize))
	uniform := distuv.Uniform{Min: -k, Max: k}

	randomized := func(r, c int) *mat.Dense {
		m := mat.NewDense(r, c, nil)
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				m.Set(i, j, uniform.Rand())
			}
		}
		return m
	}

	return &lstmCell{
		inputSize:  inputSize,
		hiddenSize: hiddenSize,
		wx:         optimizer.NewParameter(name+".weight_ih", randomized(4*hiddenSize, inputSize)),
		wh:         optimizer.NewParameter(name+".weight_hh", randomized(4*hiddenSize, hiddenSize)),
		bias:       optimizer.NewParameter(name+".bias", randomized(1, 4*hiddenSize)),
	}
}

// run executes the cell over the steps, in reverse time order when reverse
// is set. The returned outputs have padded rows zeroed; the carried state
// (which skips padded steps) lives only in the cache and the returned final
// state.
func (c *lstmCell) run(steps []*mat.Dense, lengths []int, reverse bool) ([]*mat.Dense, *mat.Dense) {
	T := len(steps)
	batch, _ := steps[0].Dims()
	H := c.hiddenSize

	c.cache = make([]*cellStep, T)
	outs := make([]*mat.Dense, T)

	h := mat.NewDense(batch, H, nil)
	cs := mat.NewDense(batch, H, nil)

	for step := 0; step < T; step++ {
		t := step
		if reverse {
			t = T - 1 - step
		}
		x := steps[t]

		// z = x·Wxᵀ + h·Whᵀ + bias, one row of four gate blocks per example
		z := mat.NewDense(batch, 4*H, nil)
		z.Mul(x, c.wx.Value.T())
		var zh mat.Dense
		zh.Mul(h, c.wh.Value.T())
		z.Add(z, &zh)
		addRowVector(z, c.bias.Value.RawRowView(0))

		st := &cellStep{
			x:     x,
			hPrev: h,
			cPrev: cs,
			i:     sigmoidCols(z, 0, H),
			f:     sigmoidCols(z, H, 2*H),
			g:     tanhCols(z, 2*H, 3*H),
			o:     sigmoidCols(z, 3*H, 4*H),
		}

		next := mat.NewDense(batch, H, nil)
		nextC := mat.NewDense(batch, H, nil)
		tc := mat.NewDense(batch, H, nil)
		for b := 0; b < batch; b++ {
			if t >= lengths[b] {
				// padded position: carry state through unchanged
				copy(nextC.RawRowView(b), cs.RawRowView(b))
				copy(next.RawRowView(b), h.RawRowView(b))
				continue
			}
			ci := st.i.RawRowView(b)
			cf := st.f.RawRowView(b)
			cg := st.g.RawRowView(b)
			co := st.o.RawRowView(b)
			cp := cs.RawRowView(b)
			nc := nextC.RawRowView(b)
			nt := tc.RawRowView(b)
			nh := next.RawRowView(b)
			for j := 0; j < H; j++ {
				nc[j] = cf[j]*cp[j] + ci[j]*cg[j]
				nt[j] = math.Tanh(nc[j])
				nh[j] = co[j] * nt[j]
			}
		}
		st.c = nextC
		st.tc = tc
		st.h = next
		c.cache[t] = st

		// reported output masks padded rows to zero
		out := mat.NewDense(batch, H, nil)
		for b := 0; b < batch; b++ {
			if t < lengths[b] {
				copy(out.RawRowView(b), next.RawRowView(b))
			}
		}
		outs[t] = out

		h = next
		cs = nextC
	}

	return outs, h
}

// backprop runs BPTT over the cached forward pass. dOuts carries the
// gradient for the reported per-timestep outputs; dLast (may be nil) the
// gradient for the final state.
func (c *lstmCell) backprop(dOuts []*mat.Dense, dLast *mat.Dense, lengths []int, reverse bool) []*mat.Dense {
	T := len(dOuts)
	batch, _ := dOuts[0].Dims()
	H := c.hiddenSize

	dIns := make([]*mat.Dense, T)

	dh := mat.NewDense(batch, H, nil)
	if dLast != nil {
		dh.Copy(dLast)
	}
	dc := mat.NewDense(batch, H, nil)

	for step := T - 1; step >= 0; step-- {
		t := step
		if reverse {
			t = T - 1 - step
		}
		st := c.cache[t]

		dz := mat.NewDense(batch, 4*H, nil)
		dhPrev := mat.NewDense(batch, H, nil)
		dcPrev := mat.NewDense(batch, H, nil)

		for b := 0; b < batch; b++ {
			if t >= lengths[b] {
				// padded position: gradient passes straight through the carry
				copy(dhPrev.RawRowView(b), dh.RawRowView(b))
				copy(dcPrev.RawRowView(b), dc.RawRowView(b))
				continue
			}
			gi := st.i.RawRowView(b)
			gf := st.f.RawRowView(b)
			gg := st.g.RawRowView(b)
			og := st.o.RawRowView(b)
			tc := st.tc.RawRowView(b)
			cp := st.cPrev.RawRowView(b)
			dhRow := dh.RawRowView(b)
			doutRow := dOuts[t].RawRowView(b)
			dcRow := dc.RawRowView(b)
			dzRow := dz.RawRowView(b)
			dcpRow := dcPrev.RawRowView(b)

			for j := 0; j < H; j++ {
				dhTot := dhRow[j] + doutRow[j]
				dcTot := dcRow[j] + dhTot*og[j]*(1-tc[j]*tc[j])

				di := dcTot * gg[j]
				df := dcTot * cp[j]
				dg := dcTot * gi[j]
				do := dhTot * tc[j]

				dzRow[j] = di * gi[j] * (1 - gi[j])
				dzRow[H+j] = df * gf[j] * (1 - gf[j])
				dzRow[2*H+j] = dg * (1 - gg[j]*gg[j])
				dzRow[3*H+j] = do * og[j] * (1 - og[j])

				dcpRow[j] = dcTot * gf[j]
			}
		}

		// accumulate weight gradients: dWx += dzᵀ·x, dWh += dzᵀ·hPrev
		var tmp mat.Dense
		tmp.Mul(dz.T(), st.x)
		c.wx.Grad.Add(c.wx.Grad, &tmp)
		var tmpH mat.Dense
		tmpH.Mul(dz.T(), st.hPrev)
		c.wh.Grad.Add(c.wh.Grad, &tmpH)
		addColSums(c.bias.Grad, dz)

		dIn := mat.NewDense(batch, c.inputSize, nil)
		dIn.Mul(dz, c.wx.Value)
		dIns[t] = dIn

		var dhFromZ mat.Dense
		dhFromZ.Mul(dz, c.wh.Value)
		for b := 0; b < batch; b++ {
			if t < lengths[b] {
				copy(dhPrev.RawRowView(b), dhFromZ.RawRowView(b))
			}
		}

		dh = dhPrev
		dc = dcPrev
	}

	return dIns
}

func sigmoidCols(z *mat.Dense, from, to int) *mat.Dense {
	r, _ := z.Dims()
	out := mat.NewDense(r, to-from, nil)
	for i := 0; i < r; i++ {
		row := z.RawRowView(i)
		dst := out.RawRowView(i)
		for j := from; j < to; j++ {
			dst[j-from] = 1.0 / (1.0 + math.Exp(-row[j]))
		}
	}
	return out
}

func tanhCols(z *mat.Dense, from, to int) *mat.Dense {
	r, _ := z.Dims()
	out := mat.NewDense(r, to-from, nil)
	for i := 0; i < r; i++ {
		row := z.RawRowView(i)
		dst := out.RawRowView(i)
		for j := from; j < to; j++ {
			dst[j-from] = math.Tanh(row[j])
		}
	}
	return out
}

func addRowVector(m *mat.Dense, v []float64) {
	r, _ := m.Dims()
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			row[j] += v[j]
		}
	}
}

func addColSums(dst *mat.Dense, m *mat.Dense) {
	r, _ := m.Dims()
	out := dst.RawRowView(0)
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		for j := range row {
			out[j] += row[j]
		}
	}
}

func hstack(a, b *mat.Dense) *mat.Dense {
	r, ca := a.Dims()
	_, cb := b.Dims()
	out := mat.NewDense(r, ca+cb, nil)
	for i := 0; i < r; i++ {
		row := out.RawRowView(i)
		copy(row[:ca], a.RawRowView(i))
		copy(row[ca:], b.RawRowView(i))
	}
	return out
}

func hstackSteps(a, b []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(a))
	for t := range a {
		out[t] = hstack(a[t], b[t])
	}
	return out
}

func splitCols(m *mat.Dense, h int) (*mat.Dense, *mat.Dense) {
	r, c := m.Dims()
	left := mat.NewDense(r, h, nil)
	right := mat.NewDense(r, c-h, nil)
	for i := 0; i < r; i++ {
		row := m.RawRowView(i)
		copy(left.RawRowView(i), row[:h])
		copy(right.RawRowView(i), row[h:])
	}
	return left, right
}

func splitSteps(steps []*mat.Dense, h int) ([]*mat.Dense, []*mat.Dense) {
	left := make([]*mat.Dense, len(steps))
	right := make([]*mat.Dense, len(steps))
	for t := range steps {
		left[t], right[t] = splitCols(steps[t], h)
	}
	return left, right
}

func addSteps(a, b []*mat.Dense) []*mat.Dense {
	out := make([]*mat.Dense, len(a))
	for t := range a {
		m := mat.NewDense(a[t].RawMatrix().Rows, a[t].RawMatrix().Cols, nil)
		m.Add(a[t], b[t])
		out[t] = m
	}
	return out
}
