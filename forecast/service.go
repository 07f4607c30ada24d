// Package forecast trains a sequence-to-one neural regressor over
// fixed-length windows of the global feature series.
package forecast

import (
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"example.com/epiforecast/windowing"
)

// ErrNoTrainingData indicates Fit was called with an empty partition.
var ErrNoTrainingData = errors.New("no training data")

// Config controls the training run. Zero values for the shape and
// schedule fields are replaced by DefaultConfig's. DropoutRate and Seed
// are taken as given: a zero rate disables dropout, and zero is a valid
// seed.
type Config struct {
	WindowSize    int     `json:"window_size"`
	BatchSize     int     `json:"batch_size"`
	MaxEpochs     int     `json:"max_epochs"`
	Patience      int     `json:"patience"`
	LearningRate  float64 `json:"learning_rate"`
	LRDecayAfter  int     `json:"lr_decay_after"`
	LRDecayFactor float64 `json:"lr_decay_factor"`
	DropoutRate   float64 `json:"dropout_rate"`
	Seed          int64   `json:"seed"`
}

// DefaultConfig is the training protocol: Adam at 1e-3 with the rate
// multiplied by 0.9 every epoch after epoch 10, early stopping with
// patience 10 on validation loss, at most 50 epochs.
func DefaultConfig() Config {
	return Config{
		WindowSize:    windowing.WindowSize,
		BatchSize:     16,
		MaxEpochs:     50,
		Patience:      10,
		LearningRate:  1e-3,
		LRDecayAfter:  10,
		LRDecayFactor: 0.9,
		DropoutRate:   0.2,
		Seed:          42,
	}
}

// epochState labels where the training state machine is after an epoch.
type epochState string

const (
	stateImproving epochState = "improving"
	stateStagnant  epochState = "stagnant"
	stateStopped   epochState = "stopped"
)

// EpochStats records one epoch of the training loop.
type EpochStats struct {
	Epoch        int     `json:"epoch"`
	TrainLoss    float64 `json:"train_loss"`
	TrainMAE     float64 `json:"train_mae"`
	ValLoss      float64 `json:"val_loss"`
	ValMAE       float64 `json:"val_mae"`
	LearningRate float64 `json:"learning_rate"`
	State        string  `json:"state"`
}

// History is the full record of a training run.
type History struct {
	Epochs       []EpochStats `json:"epochs"`
	BestEpoch    int          `json:"best_epoch"`
	BestValLoss  float64      `json:"best_val_loss"`
	StoppedEarly bool         `json:"stopped_early"`
}

// Model is the forecast regressor. It consumes (windowSize x
// featureCount) windows and produces one scalar per window. The internal
// weights and layer choice are opaque to the rest of the pipeline.
type Model struct {
	cfg Config
	net *network
	rng *rand.Rand
}

// New creates an untrained model for the configured window shape.
func New(cfg Config) *Model {
	def := DefaultConfig()
	if cfg.WindowSize == 0 {
		cfg.WindowSize = def.WindowSize
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.MaxEpochs == 0 {
		cfg.MaxEpochs = def.MaxEpochs
	}
	if cfg.Patience == 0 {
		cfg.Patience = def.Patience
	}
	if cfg.LearningRate == 0 {
		cfg.LearningRate = def.LearningRate
	}
	if cfg.LRDecayAfter == 0 {
		cfg.LRDecayAfter = def.LRDecayAfter
	}
	if cfg.LRDecayFactor == 0 {
		cfg.LRDecayFactor = def.LRDecayFactor
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	return &Model{
		cfg: cfg,
		net: buildNetwork(windowing.FeatureCount, cfg.DropoutRate, rng),
		rng: rng,
	}
}

// Config returns the model's effective training configuration.
func (m *Model) Config() Config {
	return m.cfg
}

// Fit trains on the (already scaled) training partition, minimizing
// mean-squared error with mean-absolute error tracked alongside.
//
// The validation signal for early stopping is the held-out test
// partition. That couples model selection to the evaluation set; it is
// the modeled behavior and is kept as-is. A separate validation
// partition would change observable results.
//
// Epoch state machine: each epoch either improves on the best
// validation loss seen (improving) or does not (stagnant). After
// Patience consecutive stagnant epochs training transitions to stopped
// and the best-seen weights are restored. Training otherwise runs to
// MaxEpochs. The learning rate decays by LRDecayFactor every epoch
// after LRDecayAfter, independent of validation performance.
//
// Training batches are shuffled within the training partition each
// epoch; the chronological sample order itself is produced upstream
// and never reordered there.
func (m *Model) Fit(train, val []windowing.WindowSample) (*History, error) {
	if len(train) == 0 || len(val) == 0 {
		return nil, ErrNoTrainingData
	}
	for i, s := range train {
		if err := windowing.CheckShape(s.Features, m.cfg.WindowSize); err != nil {
			return nil, fmt.Errorf("train sample %d: %w", i, err)
		}
	}
	for i, s := range val {
		if err := windowing.CheckShape(s.Features, m.cfg.WindowSize); err != nil {
			return nil, fmt.Errorf("validation sample %d: %w", i, err)
		}
	}

	opt := newAdam(m.cfg.LearningRate)
	hist := &History{BestValLoss: math.Inf(1)}
	var bestWeights []*mat.Dense
	stagnant := 0

	perm := make([]int, len(train))
	for i := range perm {
		perm[i] = i
	}

	for epoch := 1; epoch <= m.cfg.MaxEpochs; epoch++ {
		if epoch > m.cfg.LRDecayAfter {
			opt.lr *= m.cfg.LRDecayFactor
		}

		m.rng.Shuffle(len(perm), func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })

		trainLoss, trainMAE := 0.0, 0.0
		for start := 0; start < len(perm); start += m.cfg.BatchSize {
			end := start + m.cfg.BatchSize
			if end > len(perm) {
				end = len(perm)
			}
			for _, idx := range perm[start:end] {
				sample := train[idx]
				pred := m.net.forward(sample.Features, true)
				diff := pred - sample.Target
				trainLoss += diff * diff
				trainMAE += math.Abs(diff)
				m.net.backward(2 * diff)
			}
			opt.step(m.net.ps, end-start)
		}
		trainLoss /= float64(len(train))
		trainMAE /= float64(len(train))

		valLoss, valMAE := m.evaluate(val)

		state := stateStagnant
		if valLoss < hist.BestValLoss {
			state = stateImproving
			hist.BestValLoss = valLoss
			hist.BestEpoch = epoch
			bestWeights = m.net.snapshot()
			stagnant = 0
		} else {
			stagnant++
		}

		stopped := stagnant >= m.cfg.Patience
		if stopped {
			state = stateStopped
		}
		hist.Epochs = append(hist.Epochs, EpochStats{
			Epoch:        epoch,
			TrainLoss:    trainLoss,
			TrainMAE:     trainMAE,
			ValLoss:      valLoss,
			ValMAE:       valMAE,
			LearningRate: opt.lr,
			State:        string(state),
		})
		log.Printf("epoch %d/%d: train_loss=%.6f train_mae=%.6f val_loss=%.6f val_mae=%.6f lr=%.6f state=%s",
			epoch, m.cfg.MaxEpochs, trainLoss, trainMAE, valLoss, valMAE, opt.lr, state)

		if stopped {
			hist.StoppedEarly = true
			m.net.restore(bestWeights)
			log.Printf("early stop at epoch %d, restored weights from epoch %d (val_loss=%.6f)",
				epoch, hist.BestEpoch, hist.BestValLoss)
			break
		}
	}
	return hist, nil
}

// evaluate computes MSE loss and MAE over a partition without dropout.
func (m *Model) evaluate(samples []windowing.WindowSample) (loss, mae float64) {
	for _, sample := range samples {
		pred := m.net.forward(sample.Features, false)
		diff := pred - sample.Target
		loss += diff * diff
		mae += math.Abs(diff)
	}
	n := float64(len(samples))
	return loss / n, mae / n
}

// Predict returns the scalar forecast for one (already scaled) window.
func (m *Model) Predict(features *mat.Dense) (float64, error) {
	if err := windowing.CheckShape(features, m.cfg.WindowSize); err != nil {
		return 0, err
	}
	return m.net.forward(features, false), nil
}

// PredictBatch predicts every sample in order.
func (m *Model) PredictBatch(samples []windowing.WindowSample) ([]float64, error) {
	out := make([]float64, len(samples))
	for i, sample := range samples {
		pred, err := m.Predict(sample.Features)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = pred
	}
	return out, nil
}
