// Package cli implements the skymosaic command line interface.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"skymosaic/internal/cache"
	"skymosaic/internal/config"
	"skymosaic/internal/fetch"
	"skymosaic/internal/pipeline"
	"skymosaic/internal/storage"
)

// pipelineClient is the slice of the pipeline the CLI needs. Tests
// substitute a stub.
type pipelineClient interface {
	Submit(job pipeline.Job) error
	Subscribe() (<-chan pipeline.Result, func())
}

// Root carries shared dependencies into the subcommands.
type Root struct {
	pipeline pipelineClient
	cfg      *config.Config
	log      *slog.Logger
	store    *storage.Store
	cache    *cache.Cache
	surveys  *fetch.SurveySet
	fetcher  *fetch.Fetcher
}

// NewRoot constructs the CLI root.
func NewRoot(pl *pipeline.Pipeline, cfg *config.Config, logger *slog.Logger, store *storage.Store, c *cache.Cache, surveys *fetch.SurveySet, fetcher *fetch.Fetcher) *Root {
	return &Root{
		pipeline: pl,
		cfg:      cfg,
		log:      logger,
		store:    store,
		cache:    c,
		surveys:  surveys,
		fetcher:  fetcher,
	}
}

// enqueueAndWait submits a job and blocks until its result comes back on
// the broadcast channel.
func (r *Root) enqueueAndWait(ctx context.Context, job pipeline.Job) error {
	resCh, unsubscribe := r.pipeline.Subscribe()
	defer unsubscribe()
	if err := r.enqueue(ctx, job); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case res, ok := <-resCh:
			if !ok {
				return fmt.Errorf("pipeline stopped before completion")
			}
			if res.Job.ID == job.ID {
				if res.Error != nil {
					return res.Error
				}
				if out, ok := res.Meta["output"]; ok {
					fmt.Printf("mosaic written: %v\n", out)
				}
				return nil
			}
		}
	}
}

func (r *Root) enqueue(ctx context.Context, job pipeline.Job) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.pipeline.Submit(job); err != nil {
		return err
	}

	r.log.Info("job queued", "id", job.ID, "target", job.Target.Name, "survey", job.Survey)
	return nil
}

func newID(prefix string) string {
	return prefix + "-" + uuid.NewString()[:8]
}
