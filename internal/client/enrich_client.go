package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/reviewlens/api/internal/config"
	"github.com/reviewlens/api/internal/model"
)

// EnrichClient calls the external enrichment service that hosts the models.
// It implements pipeline.Enricher.
type EnrichClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
}

// NewEnrichClient creates a new enrichment service client
func NewEnrichClient(cfg *config.EnrichConfig) *EnrichClient {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &EnrichClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.ServiceURL,
		apiKey:     cfg.APIKey,
	}
}

type labelRequest struct {
	Texts     []string `json:"texts"`
	Labels    []string `json:"labels,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
}

type labelResponse struct {
	Labels []string `json:"labels"`
}

type themesResponse struct {
	ThemeIDs []int         `json:"themeIds"`
	Themes   []model.Theme `json:"themes"`
}

// Sentiment returns one sentiment label per input text.
func (c *EnrichClient) Sentiment(ctx context.Context, texts []string) ([]string, error) {
	var result labelResponse
	if err := c.post(ctx, "/v1/sentiment", &labelRequest{Texts: texts}, &result); err != nil {
		return nil, err
	}
	return result.Labels, nil
}

// Topics classifies each text against the candidate labels.
func (c *EnrichClient) Topics(ctx context.Context, texts []string, labels []string) ([]string, error) {
	var result labelResponse
	if err := c.post(ctx, "/v1/topics", &labelRequest{Texts: texts, Labels: labels}, &result); err != nil {
		return nil, err
	}
	return result.Labels, nil
}

// Aspects extracts aspect-sentiment matches above the score threshold.
func (c *EnrichClient) Aspects(ctx context.Context, texts []string, labels []string, threshold float64) ([]string, error) {
	var result labelResponse
	if err := c.post(ctx, "/v1/aspects", &labelRequest{Texts: texts, Labels: labels, Threshold: threshold}, &result); err != nil {
		return nil, err
	}
	return result.Labels, nil
}

// Themes runs corpus-level theme discovery over the whole dataset and returns
// a theme id per text plus the theme summary.
func (c *EnrichClient) Themes(ctx context.Context, texts []string) ([]int, []model.Theme, error) {
	var result themesResponse
	if err := c.post(ctx, "/v1/themes", &labelRequest{Texts: texts}, &result); err != nil {
		return nil, nil, err
	}
	return result.ThemeIDs, result.Themes, nil
}

// post sends a POST request with JSON body and parses the JSON response
func (c *EnrichClient) post(ctx context.Context, endpoint string, body interface{}, result interface{}) error {
	bodyBytes, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	log.Printf("[Enrich API] → POST %s", req.URL.String())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		log.Printf("[Enrich API] ✗ POST %s — request failed: %v", req.URL.String(), err)
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	log.Printf("[Enrich API] ← %d POST %s", resp.StatusCode, req.URL.String())

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("enrich API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// IsConfigured returns true if the client has valid configuration
func (c *EnrichClient) IsConfigured() bool {
	return c.baseURL != ""
}
