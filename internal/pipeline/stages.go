package pipeline

import (
	"context"
	"fmt"

	"github.com/reviewlens/api/internal/model"
)

// Enricher is the external enrichment capability the stages call. The batch
// methods must return exactly one label per input text, in order. Themes is
// the corpus-level analysis used by the finalizer, not by the per-batch
// stages.
type Enricher interface {
	Sentiment(ctx context.Context, texts []string) ([]string, error)
	Topics(ctx context.Context, texts []string, labels []string) ([]string, error)
	Aspects(ctx context.Context, texts []string, labels []string, threshold float64) ([]string, error)
	Themes(ctx context.Context, texts []string) ([]int, []model.Theme, error)
}

// Stages builds the fixed three-stage pipeline over the given enricher.
func Stages(e Enricher) []Stage {
	return []Stage{
		{Name: "sentiment", State: StateSentiment, Run: sentimentStage(e)},
		{Name: "topics", State: StateTopics, Run: topicsStage(e)},
		{Name: "aspects", State: StateAspects, Run: aspectsStage(e)},
	}
}

func sentimentStage(e Enricher) func(ctx context.Context, p *model.BatchPayload) error {
	return func(ctx context.Context, p *model.BatchPayload) error {
		labels, err := e.Sentiment(ctx, texts(p))
		if err != nil {
			return err
		}
		if err := checkCount(p, len(labels)); err != nil {
			return err
		}
		for i := range p.Reviews {
			p.Reviews[i].Sentiment = labels[i]
		}
		return nil
	}
}

func topicsStage(e Enricher) func(ctx context.Context, p *model.BatchPayload) error {
	return func(ctx context.Context, p *model.BatchPayload) error {
		candidates := p.Config.TopicLabels
		if len(candidates) == 0 {
			candidates = model.DefaultTopicLabels
		}
		labels, err := e.Topics(ctx, texts(p), candidates)
		if err != nil {
			return err
		}
		if err := checkCount(p, len(labels)); err != nil {
			return err
		}
		for i := range p.Reviews {
			p.Reviews[i].Topic = labels[i]
		}
		return nil
	}
}

func aspectsStage(e Enricher) func(ctx context.Context, p *model.BatchPayload) error {
	return func(ctx context.Context, p *model.BatchPayload) error {
		candidates := p.Config.AspectLabels
		if len(candidates) == 0 {
			candidates = model.DefaultAspectLabels
		}
		aspects, err := e.Aspects(ctx, texts(p), candidates, p.Config.AspectThreshold)
		if err != nil {
			return err
		}
		if err := checkCount(p, len(aspects)); err != nil {
			return err
		}
		for i := range p.Reviews {
			p.Reviews[i].Aspects = aspects[i]
		}
		return nil
	}
}

func texts(p *model.BatchPayload) []string {
	out := make([]string, len(p.Reviews))
	for i, r := range p.Reviews {
		out[i] = r.Text
	}
	return out
}

func checkCount(p *model.BatchPayload, got int) error {
	if got != len(p.Reviews) {
		return fmt.Errorf("enricher returned %d labels for %d rows", got, len(p.Reviews))
	}
	return nil
}
