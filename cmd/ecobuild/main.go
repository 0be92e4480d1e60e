// ecobuild: builds an ECO-style network from a YAML model definition
//
// Usage:
//
//	ecobuild --model=eco_lite.yaml --segments=16 --dataset=ucf101 --weights=pretrained.json
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"eco_lib/core/ckkswrapper"
	"eco_lib/nn"
	"eco_lib/nn/model"
	"eco_lib/tensor"
	"eco_lib/utils"
)

var (
	modelPath   = flag.String("model", "", "Model definition (YAML)")
	channels    = flag.Int("channels", model.DefaultInputChannels, "Input channels (3 for RGB, 2 for flow)")
	segments    = flag.Int("segments", 4, "Number of temporal segments")
	convBias    = flag.Bool("bias", false, "Add a bias term to convolutions")
	dataset     = flag.String("dataset", "", "Dataset whose class count sizes the classifier: ucf101, hmdb51, kinetics, something")
	encrypted   = flag.Bool("encrypted", false, "Run InnerProduct and ReLU layers under CKKS")
	logN        = flag.Int("logN", ckkswrapper.DefaultLogN, "Ring dimension log2 (12-16)")
	weightsPath = flag.String("weights", "", "Pretrained weights file (JSON)")
	pretrained  = flag.String("pretrained", model.PartFinetune, "Part of -weights to load: scratch, 2D, 3D, finetune, both")
	savePath    = flag.String("save", "", "Output weights file (JSON)")
	inputShape  = flag.String("forward", "", "Run one forward pass on random input of this shape, e.g. 4,3,224,224")
	verbose     = flag.Bool("verbose", false, "Verbose output")
	seed        = flag.Int64("seed", 42, "Random seed for the forward input")
)

func main() {
	flag.Parse()
	utils.Verbose = *verbose

	cfg := &utils.Config{
		ModelPath:     *modelPath,
		InputChannels: *channels,
		NumSegments:   *segments,
		ConvBias:      *convBias,
		Dataset:       *dataset,
		Encrypted:     *encrypted,
		LogN:          *logN,
		WeightsPath:   *weightsPath,
		Pretrained:    *pretrained,
		SavePath:      *savePath,
	}
	if *inputShape != "" {
		shape, err := utils.ParseShape(*inputShape)
		if err != nil {
			fatalf("invalid -forward shape: %v", err)
		}
		cfg.InputShape = shape
	}
	if err := utils.ValidateConfig(cfg); err != nil {
		flag.Usage()
		fatalf("%v", err)
	}

	if err := run(cfg); err != nil {
		fatalf("%v", err)
	}
}

func run(cfg *utils.Config) error {
	def, err := model.Load(cfg.ModelPath)
	if err != nil {
		return err
	}
	if cfg.Dataset != "" {
		numClass, _ := utils.NumClasses(cfg.Dataset)
		if err := def.SetNumClasses(numClass); err != nil {
			return err
		}
		fmt.Printf("Dataset %s: %d classes\n", cfg.Dataset, numClass)
	}

	var heCtx *ckkswrapper.HeContext
	if cfg.Encrypted {
		fmt.Println("Initializing HE context...")
		start := time.Now()
		heCtx = ckkswrapper.NewHeContextWithLogN(cfg.LogN)
		fmt.Printf("HE initialization: %.2fs\n", time.Since(start).Seconds())
	}

	stats := utils.NewBuildStats()
	net, err := model.Build(def, model.BuildOptions{
		InputChannels: cfg.InputChannels,
		NumSegments:   cfg.NumSegments,
		ConvBias:      cfg.ConvBias,
		Encrypted:     cfg.Encrypted,
		HeCtx:         heCtx,
		Stats:         stats,
	})
	if err != nil {
		return err
	}

	sd := map[string]*tensor.Tensor{}
	if cfg.WeightsPath != "" {
		mw, err := utils.LoadWeights(cfg.WeightsPath)
		if err != nil {
			return err
		}
		if sd, err = net.SelectPretrained(mw.StateDict(), cfg.Pretrained); err != nil {
			return err
		}
		fmt.Printf("Loaded %d tensors (%s) from %s\n", len(sd), cfg.Pretrained, cfg.WeightsPath)
	}
	missing, err := net.LoadStateDict(sd)
	if err != nil {
		return err
	}
	if _, err := net.InitUninitialized(missing); err != nil {
		return err
	}
	fmt.Printf("%d parameters initialised from scratch\n", len(missing))

	fmt.Printf("\nModel %s: %d layers\n", net.Name, len(net.Nodes))
	for _, node := range net.Nodes {
		tag := node.Op
		if node.Module != nil {
			tag = node.Module.Tag()
		}
		fmt.Printf("  %-28s %-40s %5d\n", node.ID, tag, node.OutChannels)
	}
	utils.PrintBuildStats(stats)

	if len(cfg.InputShape) > 0 {
		if err := forward(net, cfg.InputShape, *seed); err != nil {
			return err
		}
	}

	if cfg.SavePath != "" {
		mw, err := utils.FromStateDict(net.Name, net.StateDict())
		if err != nil {
			return err
		}
		if err := utils.SaveWeights(cfg.SavePath, mw); err != nil {
			return err
		}
		fmt.Printf("Saved %d tensors to %s\n", len(mw.Keys()), cfg.SavePath)
	}
	return nil
}

func forward(net *model.Net, shape []int, seed int64) error {
	rng := rand.New(rand.NewSource(seed))
	x := tensor.New(shape...)
	for i := range x.Data {
		x.Data[i] = rng.Float64()
	}

	start := time.Now()
	out, err := net.Forward(x)
	if err != nil {
		return fmt.Errorf("forward: %w", err)
	}
	elapsed := time.Since(start)
	y, err := net.Plaintext(net.Output(), out)
	if err != nil {
		return err
	}
	fmt.Printf("\nForward %v -> %v in %v\n", shape, y.Shape, elapsed)

	probs, err := nn.Softmax(y)
	if err != nil {
		// not class scores
		return nil
	}
	best, err := nn.Argmax(probs)
	if err != nil {
		return err
	}
	k := probs.Shape[len(probs.Shape)-1]
	for i, c := range best {
		fmt.Printf("  sample %d: class %d (p=%.4f)\n", i, c, probs.Data[i*k+c])
	}
	return nil
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
