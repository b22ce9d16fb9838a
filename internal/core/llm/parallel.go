package llm

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/ieltslab/feedback-engine/internal/core/domain"
)

// CompleteParallel fans the spec's prompts out concurrently, bounded by the
// configured maximum of simultaneous requests. The result order matches the
// prompt order regardless of completion order; the first failing sub-call
// cancels the rest and fails the whole batch.
func (r *Registry) CompleteParallel(ctx context.Context, spec domain.CallSpec) ([]Response, error) {
	if _, err := r.backend(spec.Provider); err != nil {
		return nil, err
	}

	results := make([]Response, len(spec.Prompts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)

	for i, prompt := range spec.Prompts {
		single := spec
		single.Prompt = prompt
		single.Prompts = nil

		g.Go(func() error {
			resp, err := r.Complete(ctx, single)
			if err != nil {
				return err
			}

			results[i] = *resp

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// TranscribeBatch transcribes the given audio references concurrently with
// the same bounds and ordering guarantees as CompleteParallel.
func (r *Registry) TranscribeBatch(ctx context.Context, specs []TranscribeSpec) ([]Transcription, error) {
	results := make([]Transcription, len(specs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.maxConcurrent)

	for i, spec := range specs {
		g.Go(func() error {
			resp, err := r.Transcribe(ctx, spec)
			if err != nil {
				return err
			}

			results[i] = *resp

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}
