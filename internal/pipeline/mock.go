package pipeline

import (
	"context"
	"hash/fnv"
	"sort"
	"strings"

	"github.com/reviewlens/api/internal/model"
)

// MockEnricher is the fallback used when the enrichment service is not
// configured, so the whole pipeline runs end to end in development and tests.
// Outputs are deterministic functions of the input text.
type MockEnricher struct{}

func NewMockEnricher() *MockEnricher {
	return &MockEnricher{}
}

var positiveWords = []string{"good", "great", "love", "excellent", "perfect", "best"}

func (m *MockEnricher) Sentiment(_ context.Context, texts []string) ([]string, error) {
	labels := make([]string, len(texts))
	for i, text := range texts {
		labels[i] = "NEGATIVE"
		lower := strings.ToLower(text)
		for _, word := range positiveWords {
			if strings.Contains(lower, word) {
				labels[i] = "POSITIVE"
				break
			}
		}
	}
	return labels, nil
}

func (m *MockEnricher) Topics(_ context.Context, texts []string, labels []string) ([]string, error) {
	out := make([]string, len(texts))
	for i, text := range texts {
		if len(labels) == 0 || strings.TrimSpace(text) == "" {
			out[i] = "N/A"
			continue
		}
		out[i] = labels[bucket(text, len(labels))]
	}
	return out, nil
}

func (m *MockEnricher) Aspects(_ context.Context, texts []string, labels []string, _ float64) ([]string, error) {
	out := make([]string, len(texts))
	for i, text := range texts {
		if len(labels) == 0 || strings.TrimSpace(text) == "" {
			out[i] = "N/A"
			continue
		}
		out[i] = labels[bucket(text, len(labels))]
	}
	return out, nil
}

const mockThemeCount = 4

func (m *MockEnricher) Themes(_ context.Context, texts []string) ([]int, []model.Theme, error) {
	ids := make([]int, len(texts))
	counts := make(map[int]int)
	for i, text := range texts {
		ids[i] = bucket(text, mockThemeCount)
		counts[ids[i]]++
	}

	themes := make([]model.Theme, 0, len(counts))
	for id, count := range counts {
		themes = append(themes, model.Theme{
			ID:    id,
			Label: "theme-" + string(rune('a'+id)),
			Count: count,
		})
	}
	sort.Slice(themes, func(i, j int) bool { return themes[i].ID < themes[j].ID })
	return ids, themes, nil
}

func bucket(text string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(text))
	return int(h.Sum32() % uint32(n))
}
