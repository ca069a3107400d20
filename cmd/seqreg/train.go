package main

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gonuts/commander"
	"github.com/gonuts/flag"
	"gonum.org/v1/gonum/mat"

	"github.com/tsawler/go-seqreg/embedding"
	"github.com/tsawler/go-seqreg/encoder"
	"github.com/tsawler/go-seqreg/model"
	"github.com/tsawler/go-seqreg/seq"
	"github.com/tsawler/go-seqreg/training"
)

var (
	trainFile      string
	devFile        string
	embeddingsFile string
	attrList       string
	regressionName string
	optimizerName  string
	embeddingDim   int
	hiddenList     string
	layerList      string
	bidirectional  bool
	useAttention   bool
	headHiddenList string
	dropoutRate    float64
	epochs         int
	batchSize      int
	verbosity      int
	learningRate   float64
	predictionsOut string
)

func trainCmd() *commander.Command {
	cmd := &commander.Command{
		Run:       runTrain,
		UsageLine: "train -data <train csv> -dev <dev csv> [options]",
		Short:     "trains an RNN regression over token sequences",
		Long: `
trains an RNN regression over token sequences

	$ ./seqreg train -data train.csv -dev dev.csv [-embeddings vectors.txt] [options]

The CSV files carry one example per row: a space-separated token sequence
in the first column, then one numeric target column per attribute.
`,
		Flag: *flag.NewFlagSet("train", flag.ExitOnError),
	}
	cmd.Flag.StringVar(&trainFile, "data", "", "Training CSV file")
	cmd.Flag.StringVar(&devFile, "dev", "", "Validation CSV file")
	cmd.Flag.StringVar(&embeddingsFile, "embeddings", "", "Optional pretrained embedding file (token f1 f2 ... per line); frozen when given")
	cmd.Flag.StringVar(&attrList, "attrs", "acceptability", "Comma-separated target attribute names, in CSV column order")
	cmd.Flag.StringVar(&regressionName, "regression", "linear", "Regression type: linear, robust, robust_smooth, multinomial")
	cmd.Flag.StringVar(&optimizerName, "optimizer", "adam", "Optimizer: adam or sgd")
	cmd.Flag.IntVar(&embeddingDim, "dim", 300, "Embedding dimensionality (trainable table only)")
	cmd.Flag.StringVar(&hiddenList, "hidden", "300", "Comma-separated hidden size per encoder stage")
	cmd.Flag.StringVar(&layerList, "layers", "1", "Comma-separated layer count per encoder stage")
	cmd.Flag.BoolVar(&bidirectional, "bidirectional", false, "Bidirectional encoder stages")
	cmd.Flag.BoolVar(&useAttention, "attention", false, "Summarize with learned attention instead of the last timestep")
	cmd.Flag.StringVar(&headHiddenList, "rhidden", "", "Comma-separated regression head hidden sizes")
	cmd.Flag.Float64Var(&dropoutRate, "dropout", 0, "Dropout rate on the summary vector")
	cmd.Flag.IntVar(&epochs, "epochs", 10, "Maximum training epochs")
	cmd.Flag.IntVar(&batchSize, "batch", 100, "Batch size")
	cmd.Flag.IntVar(&verbosity, "verbosity", 1, "Report metrics every N batches; 0 disables")
	cmd.Flag.Float64Var(&learningRate, "lr", 0, "Learning rate; 0 selects the optimizer default")
	cmd.Flag.StringVar(&predictionsOut, "out", "", "Optional CSV file for validation-set predictions after training")
	return cmd
}

func runTrain(cmd *commander.Command, args []string) error {
	if trainFile == "" || devFile == "" {
		return fmt.Errorf("both -data and -dev are required")
	}

	attrs := splitList(attrList)
	regType, err := training.ParseRegressionType(regressionName)
	if err != nil {
		return err
	}

	trainSet, err := loadDataset(trainFile, attrs)
	if err != nil {
		return fmt.Errorf("failed to load training data: %v", err)
	}
	devSet, err := loadDataset(devFile, attrs)
	if err != nil {
		return fmt.Errorf("failed to load validation data: %v", err)
	}

	embConfig, err := buildEmbeddingConfig(trainSet, devSet)
	if err != nil {
		return err
	}

	hidden, err := intList(hiddenList)
	if err != nil {
		return fmt.Errorf("invalid -hidden: %v", err)
	}
	layers, err := intList(layerList)
	if err != nil {
		return fmt.Errorf("invalid -layers: %v", err)
	}
	headHidden, err := intList(headHiddenList)
	if err != nil {
		return fmt.Errorf("invalid -rhidden: %v", err)
	}

	kinds := make([]encoder.StageKind, len(hidden))
	bidi := make([]bool, len(hidden))
	for i := range bidi {
		bidi[i] = bidirectional
	}

	modelConfig := model.Config{
		Embedding: embConfig,
		Cascade: encoder.CascadeConfig{
			Kinds:         kinds,
			HiddenSizes:   hidden,
			NumLayers:     layers,
			Bidirectional: bidi,
		},
		Attention:             useAttention,
		RegressionHiddenSizes: headHidden,
		DropoutRate:           dropoutRate,
	}

	var optType training.OptimizerType
	switch optimizerName {
	case "adam":
		optType = training.Adam
	case "sgd":
		optType = training.SGD
	default:
		return fmt.Errorf("unsupported optimizer: %q", optimizerName)
	}

	trainerConfig := training.Config{
		Regression: regType,
		Epochs:     epochs,
		Verbosity:  verbosity,
		Attributes: attrs,
		Optimizer:  optType,
	}
	trainerConfig.OptimizerConfig.LearningRate = learningRate

	trainer, err := training.NewTrainer(modelConfig, trainerConfig)
	if err != nil {
		return err
	}

	devBatches := makeBatches(devSet, attrs, batchSize)
	if err := trainer.Fit(makeBatches(trainSet, attrs, batchSize), devBatches); err != nil {
		return err
	}

	if predictionsOut == "" {
		return nil
	}
	predictions, err := trainer.Predict(devBatches)
	if err != nil {
		return err
	}
	return writePredictions(predictionsOut, devSet, attrs, predictions)
}

// writePredictions dumps the validation-set predictions next to the token
// sequences, one CSV row per example.
func writePredictions(path string, examples []example, attrs []string, predictions map[string][]float64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to write predictions: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	for i, ex := range examples {
		record := make([]string, 0, 1+len(attrs))
		record = append(record, strings.Join(ex.tokens, " "))
		for _, attr := range attrs {
			record = append(record, strconv.FormatFloat(predictions[attr][i], 'g', -1, 64))
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("failed to write predictions: %v", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("failed to write predictions: %v", err)
	}
	return nil
}

func versionCmd() *commander.Command {
	return &commander.Command{
		Run: func(cmd *commander.Command, args []string) error {
			fmt.Println("seqreg", version)
			return nil
		},
		UsageLine: "version",
		Short:     "prints the seqreg version",
		Flag:      *flag.NewFlagSet("version", flag.ExitOnError),
	}
}

const version = "0.1.0"

// example is one CSV row: a token sequence plus one target per attribute.
type example struct {
	tokens  []string
	targets []float64
}

func loadDataset(path string, attrs []string) ([]example, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 1 + len(attrs)
	records, err := reader.ReadAll()
	if err != nil {
		return nil, err
	}

	examples := make([]example, 0, len(records))
	for i, record := range records {
		tokens := strings.Fields(record[0])
		if len(tokens) == 0 {
			return nil, fmt.Errorf("row %d has no tokens", i+1)
		}
		targets := make([]float64, len(attrs))
		for j := range attrs {
			targets[j], err = strconv.ParseFloat(strings.TrimSpace(record[j+1]), 64)
			if err != nil {
				return nil, fmt.Errorf("row %d: bad target for %s: %v", i+1, attrs[j], err)
			}
		}
		examples = append(examples, example{tokens: tokens, targets: targets})
	}
	if len(examples) == 0 {
		return nil, fmt.Errorf("no examples in %s", path)
	}
	return examples, nil
}

// buildEmbeddingConfig reads the pretrained embedding file when one was
// given, restricted to no vocabulary beyond the file's own. Otherwise it
// builds a trainable table over the vocabulary observed in the data.
func buildEmbeddingConfig(sets ...[]example) (embedding.Config, error) {
	if embeddingsFile != "" {
		return loadEmbeddings(embeddingsFile)
	}

	seen := map[string]bool{}
	var vocab []string
	for _, set := range sets {
		for _, ex := range set {
			for _, tok := range ex.tokens {
				if !seen[tok] {
					seen[tok] = true
					vocab = append(vocab, tok)
				}
			}
		}
	}
	return embedding.Config{Vocab: vocab, Dim: embeddingDim}, nil
}

// loadEmbeddings parses a word2vec-style text file: one token per line
// followed by its vector components, space separated.
func loadEmbeddings(path string) (embedding.Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return embedding.Config{}, fmt.Errorf("failed to open embedding file: %v", err)
	}
	defer f.Close()

	var (
		vocab []string
		rows  [][]float64
		dim   int
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 2 {
			continue
		}
		vec := make([]float64, len(fields)-1)
		for i, field := range fields[1:] {
			vec[i], err = strconv.ParseFloat(field, 64)
			if err != nil {
				return embedding.Config{}, fmt.Errorf("bad embedding for %q: %v", fields[0], err)
			}
		}
		if dim == 0 {
			dim = len(vec)
		} else if len(vec) != dim {
			return embedding.Config{}, fmt.Errorf("embedding for %q has %d components, want %d", fields[0], len(vec), dim)
		}
		vocab = append(vocab, fields[0])
		rows = append(rows, vec)
	}
	if err := scanner.Err(); err != nil {
		return embedding.Config{}, fmt.Errorf("failed to read embedding file: %v", err)
	}
	if len(vocab) == 0 {
		return embedding.Config{}, fmt.Errorf("no embeddings in %s", path)
	}

	matrix := mat.NewDense(len(vocab), dim, nil)
	for i, vec := range rows {
		matrix.SetRow(i, vec)
	}
	return embedding.Config{Vocab: vocab, Matrix: matrix}, nil
}

func makeBatches(examples []example, attrs []string, size int) []training.Batch {
	if size <= 0 {
		size = 100
	}
	var batches []training.Batch
	for start := 0; start < len(examples); start += size {
		end := start + size
		if end > len(examples) {
			end = len(examples)
		}
		batch := training.Batch{Targets: make(map[string][]float64, len(attrs))}
		for _, ex := range examples[start:end] {
			batch.Structures = append(batch.Structures, seq.Tokens(ex.tokens))
			batch.Lengths = append(batch.Lengths, len(ex.tokens))
			for j, attr := range attrs {
				batch.Targets[attr] = append(batch.Targets[attr], ex.targets[j])
			}
		}
		batches = append(batches, batch)
	}
	return batches
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intList(s string) ([]int, error) {
	var out []int
	for _, part := range splitList(s) {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}
