package forecast

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// param is one trainable tensor with its gradient accumulator and Adam
// moment estimates. Gradients accumulate across a batch and are zeroed
// by the optimizer step.
type param struct {
	val  *mat.Dense
	grad *mat.Dense
	m    *mat.Dense
	v    *mat.Dense
}

func newParam(r, c int, init func() float64) *param {
	p := &param{
		val:  mat.NewDense(r, c, nil),
		grad: mat.NewDense(r, c, nil),
		m:    mat.NewDense(r, c, nil),
		v:    mat.NewDense(r, c, nil),
	}
	if init != nil {
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				p.val.Set(i, j, init())
			}
		}
	}
	return p
}

// glorot returns a Glorot-uniform initializer for the given fan sizes.
func glorot(rng *rand.Rand, fanIn, fanOut int) func() float64 {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	return func() float64 {
		return (rng.Float64()*2 - 1) * limit
	}
}

// layer is one differentiable stage. forward caches whatever backward
// needs; backward accumulates parameter gradients and returns the
// gradient with respect to its input. Layers process one sample at a
// time (rows are timesteps, columns are channels; fully-connected
// stages use a single 1xN row).
type layer interface {
	forward(x *mat.Dense, train bool) *mat.Dense
	backward(grad *mat.Dense) *mat.Dense
	params() []*param
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// reverseRows returns a copy of m with its rows in reverse order.
func reverseRows(m *mat.Dense) *mat.Dense {
	r, c := m.Dims()
	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			out.Set(r-1-i, j, m.At(i, j))
		}
	}
	return out
}

// --- 1D convolution ---

// conv1d is a valid-padding 1D convolution with ReLU activation. Input
// is T x in; output is (T-kernel+1) x out.
type conv1d struct {
	kernel, in, out int
	w               *param // (kernel*in) x out
	b               *param // 1 x out
	x               *mat.Dense
	pre             *mat.Dense
}

func newConv1D(kernel, in, out int, rng *rand.Rand) *conv1d {
	return &conv1d{
		kernel: kernel,
		in:     in,
		out:    out,
		w:      newParam(kernel*in, out, glorot(rng, kernel*in, out)),
		b:      newParam(1, out, nil),
	}
}

func (l *conv1d) params() []*param { return []*param{l.w, l.b} }

func (l *conv1d) forward(x *mat.Dense, _ bool) *mat.Dense {
	T, _ := x.Dims()
	outT := T - l.kernel + 1
	l.x = x
	l.pre = mat.NewDense(outT, l.out, nil)
	act := mat.NewDense(outT, l.out, nil)
	for t := 0; t < outT; t++ {
		for o := 0; o < l.out; o++ {
			z := l.b.val.At(0, o)
			for d := 0; d < l.kernel; d++ {
				for c := 0; c < l.in; c++ {
					z += x.At(t+d, c) * l.w.val.At(d*l.in+c, o)
				}
			}
			l.pre.Set(t, o, z)
			if z > 0 {
				act.Set(t, o, z)
			}
		}
	}
	return act
}

func (l *conv1d) backward(grad *mat.Dense) *mat.Dense {
	T, _ := l.x.Dims()
	outT, _ := grad.Dims()
	dx := mat.NewDense(T, l.in, nil)
	for t := 0; t < outT; t++ {
		for o := 0; o < l.out; o++ {
			if l.pre.At(t, o) <= 0 {
				continue
			}
			dz := grad.At(t, o)
			l.b.grad.Set(0, o, l.b.grad.At(0, o)+dz)
			for d := 0; d < l.kernel; d++ {
				for c := 0; c < l.in; c++ {
					k := d*l.in + c
					l.w.grad.Set(k, o, l.w.grad.At(k, o)+l.x.At(t+d, c)*dz)
					dx.Set(t+d, c, dx.At(t+d, c)+l.w.val.At(k, o)*dz)
				}
			}
		}
	}
	return dx
}

// --- 1D max pooling ---

// maxPool1d downsamples along time with non-overlapping windows;
// trailing rows that do not fill a window are discarded.
type maxPool1d struct {
	size    int
	inT, ch int
	argmax  []int // flattened (outT x ch) -> input row index
}

func newMaxPool1D(size int) *maxPool1d {
	return &maxPool1d{size: size}
}

func (l *maxPool1d) params() []*param { return nil }

func (l *maxPool1d) forward(x *mat.Dense, _ bool) *mat.Dense {
	T, ch := x.Dims()
	outT := T / l.size
	l.inT, l.ch = T, ch
	l.argmax = make([]int, outT*ch)
	out := mat.NewDense(outT, ch, nil)
	for t := 0; t < outT; t++ {
		for c := 0; c < ch; c++ {
			best := t * l.size
			for d := 1; d < l.size; d++ {
				if x.At(t*l.size+d, c) > x.At(best, c) {
					best = t*l.size + d
				}
			}
			l.argmax[t*ch+c] = best
			out.Set(t, c, x.At(best, c))
		}
	}
	return out
}

func (l *maxPool1d) backward(grad *mat.Dense) *mat.Dense {
	outT, ch := grad.Dims()
	dx := mat.NewDense(l.inT, l.ch, nil)
	for t := 0; t < outT; t++ {
		for c := 0; c < ch; c++ {
			src := l.argmax[t*ch+c]
			dx.Set(src, c, dx.At(src, c)+grad.At(t, c))
		}
	}
	return dx
}

// --- dropout ---

// dropout is inverted dropout: kept activations are scaled by 1/(1-rate)
// during training so evaluation is a plain pass-through.
type dropout struct {
	rate float64
	rng  *rand.Rand
	mask *mat.Dense
}

func newDropout(rate float64, rng *rand.Rand) *dropout {
	return &dropout{rate: rate, rng: rng}
}

func (l *dropout) params() []*param { return nil }

func (l *dropout) forward(x *mat.Dense, train bool) *mat.Dense {
	if !train || l.rate <= 0 {
		l.mask = nil
		return x
	}
	r, c := x.Dims()
	l.mask = mat.NewDense(r, c, nil)
	out := mat.NewDense(r, c, nil)
	keep := 1 - l.rate
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if l.rng.Float64() < keep {
				l.mask.Set(i, j, 1/keep)
				out.Set(i, j, x.At(i, j)/keep)
			}
		}
	}
	return out
}

func (l *dropout) backward(grad *mat.Dense) *mat.Dense {
	if l.mask == nil {
		return grad
	}
	r, c := grad.Dims()
	dx := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			dx.Set(i, j, grad.At(i, j)*l.mask.At(i, j))
		}
	}
	return dx
}

// --- LSTM ---

// lstmCell is a single-direction LSTM over a full sequence. Gate
// pre-activations are laid out in column blocks [i | f | g | o], each
// hidden wide.
type lstmCell struct {
	in, hidden int
	wx         *param // in x 4h
	wh         *param // hidden x 4h
	b          *param // 1 x 4h

	// per-timestep caches for BPTT
	xs                     *mat.Dense // T x in
	is, fs, gs, os, cs, hs *mat.Dense // T x hidden
}

func newLSTMCell(in, hidden int, rng *rand.Rand) *lstmCell {
	return &lstmCell{
		in:     in,
		hidden: hidden,
		wx:     newParam(in, 4*hidden, glorot(rng, in, 4*hidden)),
		wh:     newParam(hidden, 4*hidden, glorot(rng, hidden, 4*hidden)),
		b:      newParam(1, 4*hidden, nil),
	}
}

func (l *lstmCell) params() []*param { return []*param{l.wx, l.wh, l.b} }

// forward consumes a T x in sequence and returns the T x hidden state
// sequence, caching all gate activations.
func (l *lstmCell) forward(x *mat.Dense) *mat.Dense {
	T, _ := x.Dims()
	h := l.hidden
	l.xs = x
	l.is = mat.NewDense(T, h, nil)
	l.fs = mat.NewDense(T, h, nil)
	l.gs = mat.NewDense(T, h, nil)
	l.os = mat.NewDense(T, h, nil)
	l.cs = mat.NewDense(T, h, nil)
	l.hs = mat.NewDense(T, h, nil)

	for t := 0; t < T; t++ {
		for j := 0; j < h; j++ {
			zi := l.b.val.At(0, j)
			zf := l.b.val.At(0, h+j)
			zg := l.b.val.At(0, 2*h+j)
			zo := l.b.val.At(0, 3*h+j)
			for c := 0; c < l.in; c++ {
				xv := x.At(t, c)
				zi += xv * l.wx.val.At(c, j)
				zf += xv * l.wx.val.At(c, h+j)
				zg += xv * l.wx.val.At(c, 2*h+j)
				zo += xv * l.wx.val.At(c, 3*h+j)
			}
			if t > 0 {
				for k := 0; k < h; k++ {
					hv := l.hs.At(t-1, k)
					zi += hv * l.wh.val.At(k, j)
					zf += hv * l.wh.val.At(k, h+j)
					zg += hv * l.wh.val.At(k, 2*h+j)
					zo += hv * l.wh.val.At(k, 3*h+j)
				}
			}
			iv := sigmoid(zi)
			fv := sigmoid(zf)
			gv := math.Tanh(zg)
			ov := sigmoid(zo)
			cPrev := 0.0
			if t > 0 {
				cPrev = l.cs.At(t-1, j)
			}
			cv := fv*cPrev + iv*gv
			l.is.Set(t, j, iv)
			l.fs.Set(t, j, fv)
			l.gs.Set(t, j, gv)
			l.os.Set(t, j, ov)
			l.cs.Set(t, j, cv)
			l.hs.Set(t, j, ov*math.Tanh(cv))
		}
	}
	return l.hs
}

// backward runs full BPTT over the cached sequence given the
// gradient of the loss with respect to every hidden state, and returns
// the gradient with respect to the input sequence.
func (l *lstmCell) backward(dH *mat.Dense) *mat.Dense {
	T, _ := l.xs.Dims()
	h := l.hidden
	dx := mat.NewDense(T, l.in, nil)
	dhNext := make([]float64, h)
	dcNext := make([]float64, h)
	dz := make([]float64, 4*h)

	for t := T - 1; t >= 0; t-- {
		for j := 0; j < h; j++ {
			dh := dH.At(t, j) + dhNext[j]
			iv := l.is.At(t, j)
			fv := l.fs.At(t, j)
			gv := l.gs.At(t, j)
			ov := l.os.At(t, j)
			tc := math.Tanh(l.cs.At(t, j))

			dc := dh*ov*(1-tc*tc) + dcNext[j]
			cPrev := 0.0
			if t > 0 {
				cPrev = l.cs.At(t-1, j)
			}

			// Gate pre-activation gradients, in [i | f | g | o] order.
			dz[j] = dc * gv * iv * (1 - iv)
			dz[h+j] = dc * cPrev * fv * (1 - fv)
			dz[2*h+j] = dc * iv * (1 - gv*gv)
			dz[3*h+j] = dh * tc * ov * (1 - ov)
			dcNext[j] = dc * fv
		}

		// Accumulate parameter gradients and propagate to x and h_{t-1}.
		for k := 0; k < 4*h; k++ {
			dzk := dz[k]
			if dzk == 0 {
				continue
			}
			l.b.grad.Set(0, k, l.b.grad.At(0, k)+dzk)
			for c := 0; c < l.in; c++ {
				l.wx.grad.Set(c, k, l.wx.grad.At(c, k)+l.xs.At(t, c)*dzk)
				dx.Set(t, c, dx.At(t, c)+l.wx.val.At(c, k)*dzk)
			}
		}
		for j := 0; j < h; j++ {
			dhNext[j] = 0
		}
		if t > 0 {
			for k := 0; k < 4*h; k++ {
				dzk := dz[k]
				if dzk == 0 {
					continue
				}
				for j := 0; j < h; j++ {
					l.wh.grad.Set(j, k, l.wh.grad.At(j, k)+l.hs.At(t-1, j)*dzk)
					dhNext[j] += l.wh.val.At(j, k) * dzk
				}
			}
		}
	}
	return dx
}

// --- bidirectional LSTM ---

// biLSTM runs two LSTM cells over the sequence, one forward and one on
// the reversed sequence, and concatenates their outputs channel-wise.
// With returnSequences it emits a T x 2h sequence; without, a single
// 1 x 2h summary row built from both cells' final states.
type biLSTM struct {
	fw, bw          *lstmCell
	hidden          int
	returnSequences bool
	inT             int
}

func newBiLSTM(in, hidden int, returnSequences bool, rng *rand.Rand) *biLSTM {
	return &biLSTM{
		fw:              newLSTMCell(in, hidden, rng),
		bw:              newLSTMCell(in, hidden, rng),
		hidden:          hidden,
		returnSequences: returnSequences,
	}
}

func (l *biLSTM) params() []*param {
	return append(l.fw.params(), l.bw.params()...)
}

func (l *biLSTM) forward(x *mat.Dense, _ bool) *mat.Dense {
	T, _ := x.Dims()
	l.inT = T
	h := l.hidden
	hf := l.fw.forward(x)
	hb := l.bw.forward(reverseRows(x))

	if l.returnSequences {
		out := mat.NewDense(T, 2*h, nil)
		for t := 0; t < T; t++ {
			for j := 0; j < h; j++ {
				out.Set(t, j, hf.At(t, j))
				// hb is in reversed time; row T-1-t corresponds to t.
				out.Set(t, h+j, hb.At(T-1-t, j))
			}
		}
		return out
	}

	out := mat.NewDense(1, 2*h, nil)
	for j := 0; j < h; j++ {
		out.Set(0, j, hf.At(T-1, j))
		out.Set(0, h+j, hb.At(T-1, j))
	}
	return out
}

func (l *biLSTM) backward(grad *mat.Dense) *mat.Dense {
	T := l.inT
	h := l.hidden
	dHf := mat.NewDense(T, h, nil)
	dHb := mat.NewDense(T, h, nil) // in the backward cell's reversed time

	if l.returnSequences {
		for t := 0; t < T; t++ {
			for j := 0; j < h; j++ {
				dHf.Set(t, j, grad.At(t, j))
				dHb.Set(T-1-t, j, grad.At(t, h+j))
			}
		}
	} else {
		for j := 0; j < h; j++ {
			dHf.Set(T-1, j, grad.At(0, j))
			dHb.Set(T-1, j, grad.At(0, h+j))
		}
	}

	dxf := l.fw.backward(dHf)
	dxbRev := l.bw.backward(dHb)
	dxb := reverseRows(dxbRev)

	dx := mat.NewDense(T, l.fw.in, nil)
	dx.Add(dxf, dxb)
	return dx
}

// --- fully connected ---

type denseLayer struct {
	in, out int
	relu    bool
	w       *param // in x out
	b       *param // 1 x out
	x, pre  *mat.Dense
}

func newDense(in, out int, relu bool, rng *rand.Rand) *denseLayer {
	return &denseLayer{
		in:   in,
		out:  out,
		relu: relu,
		w:    newParam(in, out, glorot(rng, in, out)),
		b:    newParam(1, out, nil),
	}
}

func (l *denseLayer) params() []*param { return []*param{l.w, l.b} }

func (l *denseLayer) forward(x *mat.Dense, _ bool) *mat.Dense {
	l.x = x
	l.pre = mat.NewDense(1, l.out, nil)
	out := mat.NewDense(1, l.out, nil)
	for o := 0; o < l.out; o++ {
		z := l.b.val.At(0, o)
		for c := 0; c < l.in; c++ {
			z += x.At(0, c) * l.w.val.At(c, o)
		}
		l.pre.Set(0, o, z)
		if !l.relu || z > 0 {
			out.Set(0, o, z)
		}
	}
	return out
}

func (l *denseLayer) backward(grad *mat.Dense) *mat.Dense {
	dx := mat.NewDense(1, l.in, nil)
	for o := 0; o < l.out; o++ {
		dz := grad.At(0, o)
		if l.relu && l.pre.At(0, o) <= 0 {
			continue
		}
		l.b.grad.Set(0, o, l.b.grad.At(0, o)+dz)
		for c := 0; c < l.in; c++ {
			l.w.grad.Set(c, o, l.w.grad.At(c, o)+l.x.At(0, c)*dz)
			dx.Set(0, c, dx.At(0, c)+l.w.val.At(c, o)*dz)
		}
	}
	return dx
}
