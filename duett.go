package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ABusyProgrammer/CS598-DLH/pkg"
	"github.com/ABusyProgrammer/CS598-DLH/pkg/io"
	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"

	"github.com/spf13/cobra"
)

func PretrainCommand() *cobra.Command {

	var trainFile string
	var outputFile string
	var dataParams io.DataParameters
	var trainingParameters pkg.TrainingParameters
	modelParameters := model.Config{
		TargetDimension:      1,
		EmbedHiddenLayers:    1,
		TabHiddenLayers:      1,
		HeadHiddenLayers:     1,
		PretrainHiddenLayers: 1,
		Fusion:               model.FusionRepToken,
	}

	var cmd = &cobra.Command{
		Use:   "pretrain -i trainData -o outputFile",
		Short: "Pretrains a new model on event records with the self-supervised objectives and saves the checkpoint",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataParams.DataFile = trainFile
			return pkg.Pretrain(dataParams, outputFile, modelParameters, trainingParameters)
		},
	}

	cmd.Flags().StringVarP(&trainFile, "train-file", "i", "", "name of train file")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "name of the file to save the checkpoint to")
	cmd.Flags().StringVarP(&dataParams.GroupColumn, "group-column", "g", "", "column identifying the record a row belongs to")
	cmd.Flags().StringVarP(&dataParams.TimeColumn, "time-column", "", "", "column holding the observation time")
	cmd.Flags().StringVarP(&dataParams.TargetColumn, "target-column", "t", "", "target column")
	cmd.Flags().StringSliceVarP(&dataParams.StaticColumns, "static-columns", "", nil, "list of columns holding static features")
	cmd.Flags().IntVarP(&dataParams.NumBins, "num-bins", "", 32, "number of time bins per record")

	cmd.Flags().IntVarP(&trainingParameters.BatchSize, "batch-size", "b", 64, "batch size")
	cmd.Flags().Float64VarP(&trainingParameters.LearningRate, "learning-rate", "l", 3e-4, "learning rate")
	cmd.Flags().IntVarP(&trainingParameters.WarmupSteps, "warmup-steps", "", 2000, "learning rate warmup steps")
	cmd.Flags().IntVarP(&trainingParameters.DecaySteps, "decay-steps", "", 0, "learning rate decay steps, defaults to the warmup steps")
	cmd.Flags().Float64VarP(&trainingParameters.GradientClipValue, "gradient-clip", "", 1.0, "gradient clipping value")
	cmd.Flags().Float64VarP(&trainingParameters.ValidationFraction, "validation-fraction", "", 0.1, "fraction of records held out for validation")
	cmd.Flags().IntVarP(&trainingParameters.ReportInterval, "report-interval", "r", 10, "loss report interval")
	cmd.Flags().IntVarP(&trainingParameters.NumEpochs, "num-epochs", "n", 50, "number of epochs to train")
	cmd.Flags().Uint64VarP(&trainingParameters.RndSeed, "random-seed", "x", 2020, "random seed")

	cmd.Flags().IntVarP(&modelParameters.EmbeddingDim, "embedding-dimension", "d", 24, "dimension of one cell embedding")
	cmd.Flags().IntVarP(&modelParameters.NumHeads, "num-heads", "", 2, "number of attention heads")
	cmd.Flags().IntVarP(&modelParameters.NumLayers, "num-layers", "", 2, "number of dual attention layers")
	cmd.Flags().IntVarP(&modelParameters.FFDim, "feed-forward-dimension", "f", 512, "dimension of the transformer feed forward layers")
	cmd.Flags().IntVarP(&modelParameters.EmbedHiddenDim, "embed-hidden-dimension", "", 64, "hidden dimension of the per-variable embedders")
	cmd.Flags().IntVarP(&modelParameters.TabHiddenDim, "tab-hidden-dimension", "", 128, "hidden dimension of the static feature encoder")
	cmd.Flags().IntVarP(&modelParameters.HeadHiddenDim, "head-hidden-dimension", "", 64, "hidden dimension of the prediction head")
	cmd.Flags().IntVarP(&modelParameters.PretrainHiddenDim, "pretrain-hidden-dimension", "", 64, "hidden dimension of the reconstruction heads")
	cmd.Flags().IntVarP(&modelParameters.PretrainMaskedSteps, "masked-steps", "s", 8, "number of time bins masked per record")
	cmd.Flags().Float64VarP(&modelParameters.PretrainDropout, "variable-dropout", "", 0.0, "probability of dropping an observed variable column")
	cmd.Flags().BoolVarP(&modelParameters.PretrainValue, "pretrain-values", "", true, "reconstruct the values of masked observations")
	cmd.Flags().BoolVarP(&modelParameters.PretrainPresence, "pretrain-presence", "", true, "predict the presence of masked observations")
	cmd.Flags().Float64VarP(&modelParameters.PretrainPresenceWeight, "presence-loss-weight", "", 0.2, "weight of the presence loss in total loss")
	cmd.Flags().BoolVarP(&modelParameters.PredictEvents, "predict-events", "", true, "add the masked variable reconstruction objectives")
	cmd.Flags().Float64VarP(&modelParameters.TransformerDropout, "transformer-dropout", "", 0.0, "dropout inside the attention layers")
	cmd.Flags().Float64VarP(&modelParameters.BatchMomentum, "batch-momentum", "", 0.01, "batch momentum")

	_ = cmd.MarkFlagRequired("train-file")
	_ = cmd.MarkFlagRequired("output-file")
	_ = cmd.MarkFlagRequired("group-column")
	_ = cmd.MarkFlagRequired("time-column")
	_ = cmd.MarkFlagRequired("target-column")

	return cmd
}

func FineTuneCommand() *cobra.Command {
	var modelFile string
	var trainFile string
	var outputFile string
	var fusion string
	var seeds []int
	var dataParams io.DataParameters
	var params pkg.FineTuneParameters

	var cmd = &cobra.Command{
		Use:   "finetune -m pretrainedCheckpoint -i trainData -o outputFile",
		Short: "Fine-tunes a pretrained checkpoint on the labeled outcome and saves the resulting model",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			dataParams.DataFile = trainFile
			params.Fusion = model.FusionMethod(fusion)
			params.Seeds = make([]uint64, len(seeds))
			for i, s := range seeds {
				params.Seeds[i] = uint64(s)
			}
			return pkg.FineTune(modelFile, outputFile, dataParams, params)
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of the pretrained checkpoint")
	cmd.Flags().StringVarP(&trainFile, "train-file", "i", "", "name of train file")
	cmd.Flags().StringVarP(&outputFile, "output-file", "o", "", "name of the file to save the fine-tuned model to")
	cmd.Flags().IntVarP(&dataParams.NumBins, "num-bins", "", 32, "number of time bins per record, must match the checkpoint")

	cmd.Flags().IntVarP(&params.BatchSize, "batch-size", "b", 64, "batch size")
	cmd.Flags().Float64VarP(&params.LearningRate, "learning-rate", "l", 1e-4, "learning rate")
	cmd.Flags().IntVarP(&params.WarmupSteps, "warmup-steps", "", 1000, "learning rate warmup steps")
	cmd.Flags().IntVarP(&params.DecaySteps, "decay-steps", "", 0, "learning rate decay steps, defaults to the warmup steps")
	cmd.Flags().Float64VarP(&params.GradientClipValue, "gradient-clip", "", 1.0, "gradient clipping value")
	cmd.Flags().Float64VarP(&params.ValidationFraction, "validation-fraction", "", 0.1, "fraction of records held out for validation")
	cmd.Flags().IntVarP(&params.ReportInterval, "report-interval", "r", 10, "loss report interval")
	cmd.Flags().IntVarP(&params.NumEpochs, "num-epochs", "n", 20, "number of epochs to train")
	cmd.Flags().Uint64VarP(&params.RndSeed, "random-seed", "x", 2020, "random seed")
	cmd.Flags().IntSliceVarP(&seeds, "seeds", "", nil, "list of seeds, one fine-tuned model is trained per seed")
	cmd.Flags().BoolVarP(&params.FreezeEncoder, "freeze-encoder", "", false, "train only the prediction head")
	cmd.Flags().Float64VarP(&params.Dropout, "transformer-dropout", "", 0.5, "dropout inside the attention layers")
	cmd.Flags().Float64VarP(&params.AugNoise, "aug-noise", "", 0.0, "scale of the gaussian noise augmentation")
	cmd.Flags().Float64VarP(&params.AugMask, "aug-mask", "", 0.5, "expected number of time bins blanked per record during augmentation")
	cmd.Flags().StringVarP(&fusion, "fusion", "", "rep_token", "fusion method: rep_token, averaging or masked_embed")

	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("train-file")
	_ = cmd.MarkFlagRequired("output-file")

	return cmd
}

func TestCommand() *cobra.Command {
	var modelFile string
	var inputFile string
	var params pkg.TestParameters

	var cmd = &cobra.Command{
		Use:   "test -m modelFile -i inputFile [-o outputFile] [-e representationFile]",
		Short: "Runs the provided model on the specified data input and optionally writes the predictions and record representations",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return pkg.Test(modelFile, inputFile, params)
		},
	}

	cmd.Flags().StringVarP(&modelFile, "model", "m", "", "name of model to test")
	cmd.Flags().StringVarP(&inputFile, "input", "i", "", "name of data input file")
	cmd.Flags().StringVarP(&params.OutputFileName, "output", "o", "", "name of output file (optional)")
	cmd.Flags().StringVarP(&params.RepresentationFileName, "representations", "e", "", "name of representation dump file (optional)")
	cmd.Flags().IntVarP(&params.BatchSize, "batch-size", "b", 64, "batch size")

	_ = cmd.MarkFlagRequired("model")
	_ = cmd.MarkFlagRequired("input")

	return cmd

}

var logLevel string
var logFormat string

func main() {

	Main := &cobra.Command{Use: "duett", PersistentPreRun: setupLogging}

	Main.PersistentFlags().StringVarP(&logLevel, "log-level", "", "info", "Logging level: info error or debug")
	Main.PersistentFlags().StringVarP(&logFormat, "log-format", "", "pretty", "Logging format: pretty or json")

	Main.AddCommand(PretrainCommand())
	Main.AddCommand(FineTuneCommand())
	Main.AddCommand(TestCommand())

	if err := Main.Execute(); err != nil {
		panic(err)
	}
}

func setupLogging(cmd *cobra.Command, args []string) {

	switch logLevel {
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	default:
		panic("Invalid logging level specified")
	}

	switch logFormat {
	case "pretty":
		setupPrettyLogging()
	case "json":
	default:
		panic("Invalid log format specified")

	}

}

func setupPrettyLogging() {
	writer := zerolog.ConsoleWriter{Out: os.Stderr}
	writer.FormatFieldValue = func(i interface{}) string {
		switch v := i.(type) {
		case json.Number:
			val, _ := v.Float64()
			return fmt.Sprintf("%.3f", val)
		default:
			return fmt.Sprintf("%s", i)
		}

	}
	log.Logger = log.Output(writer)

}
