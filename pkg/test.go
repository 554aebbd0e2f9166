package pkg

import (
	"fmt"
	gio "io"
	"math"
	"os"
	"sort"

	"github.com/nlpodyssey/spago/pkg/mat/rand"
	"github.com/nlpodyssey/spago/pkg/ml/ag"
	"github.com/nlpodyssey/spago/pkg/ml/nn"
	"github.com/nlpodyssey/spago/pkg/ml/stats"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/stat"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/io"
	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"
)

type NoopWriter struct{}

func (x NoopWriter) Write(p []byte) (n int, err error) {
	return len(p), nil
}

const (
	positiveClass = "positive"
	negativeClass = "negative"
)

// TestParameters control one evaluation run. OutputFileName receives the
// per-record predictions as CSV when set. RepresentationFileName appends the
// pooled encoding of every record for probing models downstream.
type TestParameters struct {
	BatchSize              int
	OutputFileName         string
	RepresentationFileName string
}

// Test restores a checkpoint and evaluates it on the records of
// inputFileName, standardized with the statistics frozen at training time.
func Test(modelFileName, inputFileName string, params TestParameters) error {
	checkpoint, err := io.ReadCheckpointFile(modelFileName)
	if err != nil {
		return err
	}
	m, err := io.NewModelFromCheckpoint(checkpoint)
	if err != nil {
		return err
	}
	_, data, dataErrors, err := io.LoadData(io.DataParameters{
		DataFile: inputFileName,
		NumBins:  checkpoint.Config.NumBins,
	}, checkpoint.Metadata)
	if err != nil {
		return fmt.Errorf("error loading data from %s: %w", inputFileName, err)
	}
	printDataErrors(dataErrors)
	if len(data) == 0 {
		return fmt.Errorf("test: no usable records in %s", inputFileName)
	}
	return testInternal(m, checkpoint.Config, data, params)
}

type binaryEvaluator struct {
	predictionCount  int
	loss             float64
	logits           []float64
	targets          []float64
	metrics          map[string]*stats.ClassMetrics
	positiveFraction float64
	outputWriter     gio.Writer
}

// EvaluatePrediction accumulates the loss and the confusion counters for one
// record and writes its prediction line. A record counts as positive when
// its logit is above zero.
func (e *binaryEvaluator) EvaluatePrediction(g *ag.Graph, logit ag.Node, target float64) {
	value := logit.ScalarValue()
	probability := 1 / (1 + math.Exp(-value))
	e.loss += supervisedLoss(g, logit, target, e.positiveFraction).ScalarValue()
	e.predictionCount++
	e.logits = append(e.logits, value)
	e.targets = append(e.targets, target)

	label := className(target == 1)
	predicted := className(value > 0)
	fmt.Fprintf(e.outputWriter, "%s,%s,%.5f\n", label, predicted, probability)

	labelMetrics := e.classMetrics(label)
	predictedMetrics := e.classMetrics(predicted)
	if label == predicted {
		labelMetrics.IncTruePos()
	} else {
		labelMetrics.IncFalseNeg()
		predictedMetrics.IncFalsePos()
	}
}

func (e *binaryEvaluator) classMetrics(class string) *stats.ClassMetrics {
	m, ok := e.metrics[class]
	if !ok {
		m = stats.NewMetricCounter()
		e.metrics[class] = m
	}
	return m
}

func className(positive bool) string {
	if positive {
		return positiveClass
	}
	return negativeClass
}

func (e *binaryEvaluator) LogMetrics() {
	// Sort class names for deterministic output
	for _, class := range sortClasses(e.metrics) {
		result := e.metrics[class]
		log.Info().Str("Class", class).
			Int("TP", result.TruePos).
			Int("FP", result.FalsePos).
			Int("TN", result.TrueNeg).
			Int("FN", result.FalseNeg).
			Float64("Precision", result.Precision()).
			Float64("Recall", result.Recall()).
			Float64("F1", result.F1Score()).
			Msg("")
	}

	macroF1, microF1 := computeOverallF1(e.metrics)
	log.Info().
		Float64("AUROC", auroc(e.logits, e.targets)).
		Float64("AP", averagePrecision(e.logits, e.targets)).
		Float64("MacroF1", macroF1).
		Float64("MicroF1", microF1).
		Float64("MeanLogit", stat.Mean(e.logits, nil)).
		Float64("StdDevLogit", stat.StdDev(e.logits, nil)).
		Msg("")
}

func (e *binaryEvaluator) Loss() float64 {
	if e.predictionCount == 0 {
		return 0
	}
	return e.loss / float64(e.predictionCount)
}

func testInternal(m *model.DuETT, config model.Config, data []*model.Instance, params TestParameters) error {
	var outputWriter gio.Writer
	if params.OutputFileName != "" {
		outputFile, err := os.Create(params.OutputFileName)
		if err != nil {
			return fmt.Errorf("error opening output file %s: %w", params.OutputFileName, err)
		}
		defer outputFile.Close()
		outputWriter = outputFile
	} else {
		outputWriter = NoopWriter{}
	}

	var repWriter *io.RepresentationWriter
	if params.RepresentationFileName != "" {
		var err error
		repWriter, err = io.NewRepresentationWriter(params.RepresentationFileName)
		if err != nil {
			return err
		}
		defer repWriter.Close()
	}

	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 1
	}
	ds := io.NewDataSet(data, batchSize)
	evaluator := &binaryEvaluator{
		metrics:          map[string]*stats.ClassMetrics{},
		positiveFraction: config.PositiveFraction,
		outputWriter:     outputWriter,
	}

	graphRand := rand.NewLockedRand(42)
	ds.ResetOrder(io.OriginalOrder)
	for batch := ds.Next(); len(batch) > 0; batch = ds.Next() {
		g := ag.NewGraph(ag.Rand(graphRand))
		proc := m.NewProc(nn.Context{Graph: g, Mode: nn.Inference}).(*model.Processor)
		for i, logit := range proc.Predict(batch) {
			evaluator.EvaluatePrediction(g, logit, batch[i].Target)
		}
		if repWriter != nil {
			for i, representation := range proc.Represent(batch) {
				if err := repWriter.Write(representation.Value().Data(), batch[i].Target); err != nil {
					return err
				}
			}
		}
		g.Clear()
	}
	evaluator.LogMetrics()
	log.Info().Float64("Loss", evaluator.Loss()).Msg("")
	return nil
}

// collectPredictions runs the model over the records in inference mode and
// returns the raw logits alongside the targets.
func collectPredictions(m *model.DuETT, ds *io.DataSet, graphRand *rand.LockedRand) (logits, targets []float64) {
	ds.ResetOrder(io.OriginalOrder)
	for batch := ds.Next(); len(batch) > 0; batch = ds.Next() {
		g := ag.NewGraph(ag.Rand(graphRand))
		proc := m.NewProc(nn.Context{Graph: g, Mode: nn.Inference}).(*model.Processor)
		for i, logit := range proc.Predict(batch) {
			logits = append(logits, logit.ScalarValue())
			targets = append(targets, batch[i].Target)
		}
		g.Clear()
	}
	return logits, targets
}

func computeOverallF1(metrics map[string]*stats.ClassMetrics) (float64, float64) {
	macroF1 := 0.0
	for _, metric := range metrics {
		macroF1 += metric.F1Score()
	}
	macroF1 /= float64(len(metrics))

	micro := stats.NewMetricCounter()
	for _, result := range metrics {
		micro.TruePos += result.TruePos
		micro.FalsePos += result.FalsePos
		micro.FalseNeg += result.FalseNeg
		micro.TrueNeg += result.TrueNeg
	}
	return macroF1, micro.F1Score()
}

func sortClasses(metrics map[string]*stats.ClassMetrics) []string {
	result := make([]string, 0, len(metrics))
	for class := range metrics {
		result = append(result, class)
	}
	sort.Strings(result)
	return result
}
