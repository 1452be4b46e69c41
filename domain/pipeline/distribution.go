package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
)

// Sink is one external distribution target invoked by stage 6. Concrete
// sinks (webhooks, topic-based subscribers) live in domain/distribution;
// the orchestrator only needs the name + callback shape.
type Sink struct {
	Name string
	Send func(ctx context.Context, doc Document, decision MintDecision) error
}

// DistributionResult collects per-sink outcomes; like enrichment, failures
// are tolerated rather than aborting the run.
type DistributionResult struct {
	Delivered []string
	Errors    *multierror.Error
}

// RunDistribution fans the document out to every configured sink in
// parallel, tolerating individual sink failures.
func RunDistribution(ctx context.Context, execCtx *ExecutionContext, doc Document, decision MintDecision, sinks []Sink) DistributionResult {
	started := time.Now()

	type slot struct {
		name string
		err  error
	}
	slots := make([]slot, len(sinks))

	g, gctx := errgroup.WithContext(ctx)
	for i, s := range sinks {
		i, s := i, s
		g.Go(func() error {
			err := s.Send(gctx, doc, decision)
			slots[i] = slot{name: s.Name, err: err}
			return nil
		})
	}
	_ = g.Wait()

	result := DistributionResult{}
	for _, s := range slots {
		if s.name == "" {
			continue
		}
		if s.err != nil {
			result.Errors = multierror.Append(result.Errors, fmt.Errorf("%s: %w", s.name, s.err))
			continue
		}
		result.Delivered = append(result.Delivered, s.name)
	}

	var resultErr error
	if result.Errors != nil {
		resultErr = result.Errors
	}
	execCtx.SetStageResult(StageResult{Stage: StageDistribution, Value: result, Err: resultErr, StartedAt: started, FinishedAt: time.Now()})
	return result
}
