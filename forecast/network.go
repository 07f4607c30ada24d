package forecast

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Architecture hyperparameters. These are a policy choice, not part of
// the pipeline contract; the binding contract is the (windowSize,
// featureCount) input shape and the scalar output.
const (
	convKernel  = 2
	convFilters = 32
	poolSize    = 2
	lstmHidden1 = 64
	lstmHidden2 = 32
	denseHidden = 16
)

// network is the layer stack: convolutional local-pattern extraction,
// downsampling, dropout, two stacked bidirectional LSTM encoders (the
// first emits a per-timestep sequence, the second a single summary
// vector), dropout, and a two-stage dense head producing one scalar.
type network struct {
	layers []layer
	ps     []*param
}

// adam is the Adam optimizer over the network's parameter set.
type adam struct {
	lr    float64
	beta1 float64
	beta2 float64
	eps   float64
	t     int
}

func newAdam(lr float64) *adam {
	return &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-8}
}

// step applies one Adam update using the accumulated gradients divided
// by batchSize, then zeroes the accumulators.
func (a *adam) step(ps []*param, batchSize int) {
	a.t++
	c1 := 1 - math.Pow(a.beta1, float64(a.t))
	c2 := 1 - math.Pow(a.beta2, float64(a.t))
	for _, p := range ps {
		r, c := p.val.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				g := p.grad.At(i, j) / float64(batchSize)
				m := a.beta1*p.m.At(i, j) + (1-a.beta1)*g
				v := a.beta2*p.v.At(i, j) + (1-a.beta2)*g*g
				p.m.Set(i, j, m)
				p.v.Set(i, j, v)
				mHat := m / c1
				vHat := v / c2
				p.val.Set(i, j, p.val.At(i, j)-a.lr*mHat/(math.Sqrt(vHat)+a.eps))
				p.grad.Set(i, j, 0)
			}
		}
	}
}

func buildNetwork(featureCount int, dropoutRate float64, rng *rand.Rand) *network {
	n := &network{
		layers: []layer{
			newConv1D(convKernel, featureCount, convFilters, rng),
			newMaxPool1D(poolSize),
			newDropout(dropoutRate, rng),
			newBiLSTM(convFilters, lstmHidden1, true, rng),
			newBiLSTM(2*lstmHidden1, lstmHidden2, false, rng),
			newDropout(dropoutRate, rng),
			newDense(2*lstmHidden2, denseHidden, true, rng),
			newDense(denseHidden, 1, false, rng),
		},
	}
	for _, l := range n.layers {
		n.ps = append(n.ps, l.params()...)
	}
	return n
}

// forward runs one window through the stack and returns the scalar
// prediction. train enables dropout.
func (n *network) forward(x *mat.Dense, train bool) float64 {
	out := x
	for _, l := range n.layers {
		out = l.forward(out, train)
	}
	return out.At(0, 0)
}

// backward propagates the loss gradient for the most recent forward
// pass, accumulating parameter gradients.
func (n *network) backward(dLoss float64) {
	grad := mat.NewDense(1, 1, []float64{dLoss})
	for i := len(n.layers) - 1; i >= 0; i-- {
		grad = n.layers[i].backward(grad)
	}
}

// snapshot copies every parameter value, for best-epoch weight restore.
func (n *network) snapshot() []*mat.Dense {
	out := make([]*mat.Dense, len(n.ps))
	for i, p := range n.ps {
		out[i] = mat.DenseCopyOf(p.val)
	}
	return out
}

// restore copies a snapshot back into the parameters.
func (n *network) restore(snap []*mat.Dense) {
	for i, p := range n.ps {
		p.val.Copy(snap[i])
	}
}
