package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"vderm-backend/cmd"
	"vderm-backend/internal/config"
	"vderm-backend/internal/core"
	"vderm-backend/internal/core/utils"

	"github.com/caarlos0/env/v11"
)

func main() {
	imagePath := flag.String("image", "", "path of the image to classify, further images may be passed as arguments")
	workers := flag.Int("workers", 1, "number of images classified concurrently")
	listTargets := flag.Bool("targets", false, "list the known classifier targets and exit")

	cmd.LoadEnvFile()

	if *listTargets {
		targets, err := config.Targets()
		if err != nil {
			log.Fatalf("error loading classifier targets: %v", err)
		}
		fmt.Println(strings.Join(targets, "\n"))
		return
	}

	paths := flag.Args()
	if *imagePath != "" {
		paths = append([]string{*imagePath}, paths...)
	}
	if len(paths) == 0 {
		log.Fatalf("-image or at least one image argument must be specified")
	}

	var cfg config.ClassifierConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	classifier, err := cfg.NewClassifier()
	if err != nil {
		log.Fatalf("error creating classifier: %v", err)
	}

	classify := func(path string) (result, error) {
		image, err := os.ReadFile(path)
		if err != nil {
			return result{}, fmt.Errorf("error reading image: %w", err)
		}

		pred, err := classifier.Infer(context.Background(), image)
		if err != nil {
			return result{}, fmt.Errorf("classification failed: %w", err)
		}

		return result{
			Image:      path,
			Prediction: &pred,
			Confidence: pred.ConfidencePercent(),
			Classes:    pred.ClassBreakdown(cfg.ClassLabels),
		}, nil
	}

	failed := false
	results := make([]result, 0, len(paths))
	for _, task := range utils.RunInPool(classify, paths, *workers) {
		if task.Error != nil {
			failed = true
			results = append(results, result{Image: task.Input, Error: task.Error.Error()})
			continue
		}
		results = append(results, task.Result)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	var out any = results
	if len(results) == 1 {
		out = results[0]
	}
	if err := enc.Encode(out); err != nil {
		log.Fatalf("error writing result: %v", err)
	}

	if failed {
		os.Exit(1)
	}
}

type result struct {
	Image      string                  `json:"image"`
	Prediction *core.Prediction        `json:"prediction,omitempty"`
	Confidence string                  `json:"confidence,omitempty"`
	Classes    []core.ClassProbability `json:"classes,omitempty"`
	Error      string                  `json:"error,omitempty"`
}
