package pkg

import (
	"fmt"
	"log"
	"math"
	mrand "math/rand"
	"sort"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd"
	"github.com/nlpodyssey/spago/pkg/ml/optimizers/gd/adam"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/io"
	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"
)

// TrainingParameters control one optimization run.
type TrainingParameters struct {
	BatchSize    int
	NumEpochs    int
	LearningRate float64
	// WarmupSteps ramp the learning rate linearly from zero; DecaySteps
	// stretch the decay that follows and default to WarmupSteps.
	WarmupSteps int
	DecaySteps  int
	// GradientClipValue bounds each gradient component. Values at or below
	// zero fall back to the default.
	GradientClipValue  float64
	ValidationFraction float64
	ReportInterval     int
	RndSeed            uint64
}

// FineTuneParameters extend the base controls with the fine-tuning specific
// choices. One model is trained per seed. The masking knobs replace their
// pretraining counterparts, since fine-tuning corrupts inputs only to
// augment them.
type FineTuneParameters struct {
	TrainingParameters
	Seeds         []uint64
	FreezeEncoder bool
	Dropout       float64
	AugNoise      float64
	AugMask       float64
	Fusion        model.FusionMethod
}

const defaultGradientClip = 1.0

// topSnapshots is the number of per-epoch states, ranked by validation
// average precision, that fine-tuning averages into the final model.
const topSnapshots = 5

type trainer struct {
	params    TrainingParameters
	config    model.Config
	model     *model.DuETT
	updater   *adam.Adam
	optimizer *gd.GradientDescent
	schedule  *warmupSchedule
	graphRand *rand.LockedRand
}

func newTrainer(m *model.DuETT, config model.Config, params TrainingParameters, paramsIterator nn.ParamsGetter) *trainer {
	if params.GradientClipValue <= 0 {
		params.GradientClipValue = defaultGradientClip
	}
	updaterConfig := adam.NewDefaultConfig()
	updaterConfig.StepSize = params.LearningRate
	updater := adam.New(updaterConfig)
	return &trainer{
		params:    params,
		config:    config,
		model:     m,
		updater:   updater,
		optimizer: gd.NewOptimizer(updater, paramsIterator, gd.ClipGradByValue(params.GradientClipValue)),
		schedule:  newWarmupSchedule(params.LearningRate, params.WarmupSteps, params.DecaySteps),
		graphRand: rand.NewLockedRand(params.RndSeed),
	}
}

// newGraph shares one random generator across all graphs of the run, so
// dropout draws differ from batch to batch.
func (t *trainer) newGraph() *ag.Graph {
	return ag.NewGraph(ag.Rand(t.graphRand))
}

// Pretrain learns the self-supervised reconstruction objectives from scratch
// and writes the checkpoint with the best validation loss to outputFileName.
// The state of the final epoch is kept next to it with a ".last" suffix.
func Pretrain(dataParams io.DataParameters, outputFileName string, config model.Config, trainingParams TrainingParameters) error {
	metaData, data, dataErrors, err := io.LoadData(dataParams, nil)
	if err != nil {
		return err
	}
	printDataErrors(dataErrors)
	if len(data) == 0 {
		return fmt.Errorf("train: no usable records in %s", dataParams.DataFile)
	}

	config.NumBins = dataParams.NumBins
	config.NumVariables = metaData.NumVariables()
	config.NumStatic = metaData.NumStatic()
	config.PositiveFraction = metaData.PositiveFraction

	m, err := model.New(config)
	if err != nil {
		return err
	}
	m.Init(rand.NewLockedRand(trainingParams.RndSeed))

	dataset := io.NewDataSet(data, trainingParams.BatchSize)
	dataset.Rand = mrand.New(mrand.NewSource(int64(trainingParams.RndSeed)))
	trainSet, validationSet := splitForValidation(dataset, trainingParams.ValidationFraction)

	t := newTrainer(m, config, trainingParams, nn.NewDefaultParamsIterator(m))
	policy := model.NewMaskingPolicy(config, trainingParams.RndSeed+1)

	runID := io.NewRunID()
	log.Printf("Pretraining run %s on %d records (%d held out for validation)",
		runID, trainSet.Size(), validationSet.Size())

	bestLoss := math.Inf(1)
	var bestState []model.ParamEntry
	for epoch := 0; epoch < trainingParams.NumEpochs; epoch++ {
		trainLoss := t.runEpoch(epoch, trainSet, func(batch io.DataBatch) float64 {
			return t.pretrainBatch(policy, batch)
		})
		validationLoss := trainLoss
		if validationSet.Size() > 0 {
			validationLoss = t.validationPretrainLoss(validationSet)
		}
		log.Printf("Epoch %d train loss %.5f validation loss %.5f", epoch, trainLoss, validationLoss)
		if validationLoss < bestLoss {
			bestLoss = validationLoss
			bestState = m.StateDict()
		}
	}

	checkpoint := io.NewCheckpoint(runID, m, metaData)
	if err := io.WriteCheckpointFile(checkpoint, outputFileName+".last"); err != nil {
		return err
	}
	if bestState != nil {
		checkpoint.Params = bestState
	}
	return io.WriteCheckpointFile(checkpoint, outputFileName)
}

// FineTune restores a pretrained checkpoint and trains the supervised head
// on labeled records, once per seed. Each run snapshots the model after
// every epoch, keeps the snapshots with the highest validation average
// precision and writes their elementwise mean as the final checkpoint. With
// a single seed the output file name is used as given, otherwise a ".seed<n>"
// suffix distinguishes the runs.
func FineTune(checkpointFileName, outputFileName string, dataParams io.DataParameters, params FineTuneParameters) error {
	pretrained, err := io.ReadCheckpointFile(checkpointFileName)
	if err != nil {
		return err
	}
	if dataParams.NumBins != pretrained.Config.NumBins {
		return fmt.Errorf("train: %d bins requested but the checkpoint was pretrained with %d",
			dataParams.NumBins, pretrained.Config.NumBins)
	}

	metaData, data, dataErrors, err := io.LoadData(dataParams, pretrained.Metadata)
	if err != nil {
		return err
	}
	printDataErrors(dataErrors)
	if len(data) == 0 {
		return fmt.Errorf("train: no usable records in %s", dataParams.DataFile)
	}

	config := pretrained.Config
	config.TransformerDropout = params.Dropout
	config.AugNoise = params.AugNoise
	config.AugMask = params.AugMask
	if params.Fusion != "" {
		config.Fusion = params.Fusion
	}

	seeds := params.Seeds
	if len(seeds) == 0 {
		seeds = []uint64{params.RndSeed}
	}
	for _, seed := range seeds {
		runParams := params.TrainingParameters
		runParams.RndSeed = seed
		fileName := outputFileName
		if len(seeds) > 1 {
			fileName = fmt.Sprintf("%s.seed%d", outputFileName, seed)
		}
		if err := fineTuneRun(pretrained, fileName, data, metaData, config, runParams, params.FreezeEncoder); err != nil {
			return err
		}
	}
	return nil
}

func fineTuneRun(pretrained *io.Checkpoint, outputFileName string, data []*model.Instance,
	metaData *model.Metadata, config model.Config, params TrainingParameters, freezeEncoder bool) error {
	m, err := model.New(config)
	if err != nil {
		return err
	}
	m.Init(rand.NewLockedRand(params.RndSeed))
	adjustments, err := m.LoadStateDict(pretrained.Params)
	if err != nil {
		return err
	}
	for _, a := range adjustments {
		log.Printf("Checkpoint parameter %s: %s", a.Key, a.Reason)
	}

	dataset := io.NewDataSet(data, params.BatchSize)
	dataset.Rand = mrand.New(mrand.NewSource(int64(params.RndSeed)))
	trainSet, validationSet := splitForValidation(dataset, params.ValidationFraction)
	positiveFraction := trainSet.PositiveFraction()
	config.PositiveFraction = positiveFraction

	paramsIterator := nn.ParamsGetter(nn.NewDefaultParamsIterator(m))
	if freezeEncoder {
		paramsIterator = model.NewHeadParamsIterator(m)
	}
	t := newTrainer(m, config, params, paramsIterator)
	policy := model.NewMaskingPolicy(config, params.RndSeed+1)

	runID := io.NewRunID()
	log.Printf("Fine-tuning run %s seed %d on %d records (%d held out, positive fraction %.4f)",
		runID, params.RndSeed, trainSet.Size(), validationSet.Size(), positiveFraction)

	var snapshots []scoredState
	for epoch := 0; epoch < params.NumEpochs; epoch++ {
		trainLoss := t.runEpoch(epoch, trainSet, func(batch io.DataBatch) float64 {
			return t.fineTuneBatch(policy, positiveFraction, batch)
		})
		score := -trainLoss
		if validationSet.Size() > 0 {
			logits, targets := collectPredictions(m, validationSet, t.graphRand)
			score = averagePrecision(logits, targets)
			log.Printf("Epoch %d train loss %.5f validation AP %.5f AUROC %.5f",
				epoch, trainLoss, score, auroc(logits, targets))
		} else {
			log.Printf("Epoch %d train loss %.5f", epoch, trainLoss)
		}
		snapshots = insertSnapshot(snapshots, scoredState{score: score, state: m.StateDict()}, topSnapshots)
	}

	states := make([][]model.ParamEntry, len(snapshots))
	for i, s := range snapshots {
		states[i] = s.state
	}
	averaged, err := model.AverageStates(states)
	if err != nil {
		return err
	}
	if _, err := m.LoadStateDict(averaged); err != nil {
		return err
	}
	if validationSet.Size() > 0 {
		logits, targets := collectPredictions(m, validationSet, t.graphRand)
		log.Printf("Averaged %d snapshots: validation AP %.5f AUROC %.5f",
			len(states), averagePrecision(logits, targets), auroc(logits, targets))
	}

	checkpoint := io.NewCheckpoint(runID, m, metaData)
	return io.WriteCheckpointFile(checkpoint, outputFileName)
}

func splitForValidation(dataset *io.DataSet, fraction float64) (trainSet, validationSet *io.DataSet) {
	validationSize := int(fraction * float64(dataset.Size()))
	splits := dataset.RandomSplit(dataset.Size()-validationSize, validationSize)
	return splits[0], splits[1]
}

func (t *trainer) runEpoch(epoch int, ds *io.DataSet, step func(batch io.DataBatch) float64) float64 {
	t.optimizer.IncEpoch()
	ds.ResetOrder(io.RandomOrder)
	var totalLoss float64
	records := 0
	batches := 0
	for batch := ds.Next(); len(batch) > 0; batch = ds.Next() {
		loss := step(batch)
		t.optimizer.Optimize()
		totalLoss += loss * float64(len(batch))
		records += len(batch)
		batches++
		if t.params.ReportInterval > 0 && batches%t.params.ReportInterval == 0 {
			log.Printf("Epoch %d batch %d loss %.5f lr %.6f", epoch, batches, loss, t.updater.StepSize)
		}
	}
	if records == 0 {
		return 0
	}
	return totalLoss / float64(records)
}

func (t *trainer) pretrainBatch(policy *model.MaskingPolicy, batch io.DataBatch) float64 {
	t.optimizer.IncBatch()
	t.updater.StepSize = t.schedule.next()
	g := t.newGraph()
	defer g.Clear()
	corrupted := make([]*model.Instance, len(batch))
	targets := make([]*model.PretrainTarget, len(batch))
	for i, instance := range batch {
		corrupted[i], targets[i] = policy.Corrupt(instance)
	}
	proc := t.model.NewProc(nn.Context{Graph: g, Mode: nn.Training}).(*model.Processor)
	loss := pretrainLoss(g, t.config, proc.Pretrain(corrupted), targets)
	g.Backward(loss)
	return loss.ScalarValue()
}

func (t *trainer) fineTuneBatch(policy *model.MaskingPolicy, positiveFraction float64, batch io.DataBatch) float64 {
	t.optimizer.IncBatch()
	t.updater.StepSize = t.schedule.next()
	g := t.newGraph()
	defer g.Clear()
	augmented := make([]*model.Instance, len(batch))
	for i, instance := range batch {
		augmented[i] = policy.Augment(instance)
	}
	proc := t.model.NewProc(nn.Context{Graph: g, Mode: nn.Training}).(*model.Processor)
	var loss ag.Node
	for i, logit := range proc.Predict(augmented) {
		loss = g.Add(loss, supervisedLoss(g, logit, batch[i].Target, positiveFraction))
	}
	loss = g.Div(loss, g.NewScalar(float64(len(batch))))
	g.Backward(loss)
	return loss.ScalarValue()
}

// validationPretrainLoss corrupts the held-out records with a policy reset
// to a fixed seed, so every epoch reconstructs the same masks and the losses
// stay comparable.
func (t *trainer) validationPretrainLoss(ds *io.DataSet) float64 {
	policy := model.NewMaskingPolicy(t.config, t.params.RndSeed)
	ds.ResetOrder(io.OriginalOrder)
	var totalLoss float64
	records := 0
	for batch := ds.Next(); len(batch) > 0; batch = ds.Next() {
		g := t.newGraph()
		corrupted := make([]*model.Instance, len(batch))
		targets := make([]*model.PretrainTarget, len(batch))
		for i, instance := range batch {
			corrupted[i], targets[i] = policy.Corrupt(instance)
		}
		proc := t.model.NewProc(nn.Context{Graph: g, Mode: nn.Inference}).(*model.Processor)
		loss := pretrainLoss(g, t.config, proc.Pretrain(corrupted), targets)
		totalLoss += loss.ScalarValue() * float64(len(batch))
		records += len(batch)
		g.Clear()
	}
	if records == 0 {
		return 0
	}
	return totalLoss / float64(records)
}

type scoredState struct {
	score float64
	state []model.ParamEntry
}

// insertSnapshot keeps the snapshots sorted by descending score, capped at
// the given limit.
func insertSnapshot(snapshots []scoredState, s scoredState, limit int) []scoredState {
	i := sort.Search(len(snapshots), func(i int) bool { return snapshots[i].score < s.score })
	snapshots = append(snapshots, scoredState{})
	copy(snapshots[i+1:], snapshots[i:])
	snapshots[i] = s
	if len(snapshots) > limit {
		snapshots = snapshots[:limit]
	}
	return snapshots
}
