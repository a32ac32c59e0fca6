package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hako/durafmt"
	"github.com/richinsley/comfypanel/client"
	"github.com/richinsley/comfypanel/generation"
	"github.com/richinsley/comfypanel/graphapi"
	"github.com/richinsley/comfypanel/history"
	"github.com/richinsley/comfypanel/logger"
	"github.com/richinsley/comfypanel/settings"
	"github.com/schollz/progressbar/v3"
)

func loadWorkflowFile(path string) (*graphapi.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if graphapi.IsPNG(data) {
		return graphapi.NewGraphFromPNGReader(bytes.NewReader(data))
	}
	return graphapi.NewGraphFromJsonBytes(data)
}

// runOnce submits one generation built from the workflow file and the prompt flags,
// shows polling progress and saves the resulting images.
func runOnce(ctx context.Context, opts cliOptions, config *settings.Config, session *client.Session, submitter *generation.Submitter, recent *history.History) error {
	log := logger.Service("oneshot")

	if err := session.Reconfigure(config.Backend.Url); err != nil {
		return err
	}
	c := session.Client()

	graph, err := loadWorkflowFile(opts.workflow)
	if err != nil {
		return fmt.Errorf("loading %s: %w", opts.workflow, err)
	}

	mapping := graphapi.AutoMap(graph)
	values := graphapi.DefaultControlValues()
	values.Merge(graphapi.ExtractDefaults(graph, mapping))
	if opts.prompt != "" {
		values[graphapi.ControlPositivePrompt] = opts.prompt
	}
	if opts.negative != "" {
		values[graphapi.ControlNegativePrompt] = opts.negative
	}
	values[graphapi.ControlSeed] = opts.seed
	if err := values.Validate(); err != nil {
		return err
	}
	for _, ctl := range mapping.Stale(graph) {
		log.Warn("Mapping points at a missing node", "control", ctl)
	}

	// we'll provide a progress bar over the poll attempts
	var bar *progressbar.ProgressBar = nil
	handlers := generation.DefaultHandlers(log).
		WithStartedHandler(func(msg *generation.EventStartedData) {
			log.Info("Submitting prompt", "seed", msg.Seed, "client_id", msg.ClientID)
		}).
		WithPollingHandler(func(msg *generation.EventPollingData) {
			if bar == nil {
				bar = progressbar.Default(int64(msg.MaxAttempts), "waiting for "+msg.PromptID)
			}
			bar.Set(msg.Attempt)
		}).
		WithCompleteHandler(func() {
			if bar != nil {
				bar.Finish()
			}
		})

	res, err := submitter.Run(ctx, c, generation.Request{
		Graph:   graph,
		Mapping: mapping,
		Values:  values,
	}, handlers)
	if err != nil {
		if errors.Is(err, generation.ErrTimeout) {
			return fmt.Errorf("%w (%d attempts)", err, submitter.Config().MaxAttempts)
		}
		return err
	}

	if err := os.MkdirAll(opts.outDir, 0o755); err != nil {
		return err
	}
	for _, img := range res.Images {
		output, err := client.ParseImageURL(img.URL)
		if err != nil {
			return err
		}
		data, err := c.GetImage(ctx, output)
		if err != nil {
			return fmt.Errorf("failed to get image: %w", err)
		}
		path := filepath.Join(opts.outDir, filepath.Base(output.Filename))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return fmt.Errorf("failed to write image: %w", err)
		}
		log.Info("Got image", "file", path, "primary", img.ID == res.Primary.ID)
	}

	if err := recent.PrependBatch(res.Images); err != nil {
		log.Warn("Could not record history", "error", err)
	}
	fmt.Printf("Generated %d image(s) in %s\n", len(res.Images), durafmt.Parse(res.Duration).LimitFirstN(2))
	return nil
}
