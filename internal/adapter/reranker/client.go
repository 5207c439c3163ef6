package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	ProviderJina   = "jina"
	ProviderCohere = "cohere"
)

var ErrUnknownProvider = errors.New("unknown rerank provider")

type endpoint struct {
	url   string
	model string
}

var endpoints = map[string]endpoint{
	ProviderJina:   {url: "https://api.jina.ai/v1/rerank", model: "jina-reranker-v2-base-multilingual"},
	ProviderCohere: {url: "https://api.cohere.ai/v1/rerank", model: "rerank-english-v3.0"},
}

// Client scores documents against a query with a hosted cross-encoder.
type Client struct {
	apiKey   string
	provider string
	client   *http.Client
	baseURL  string
}

func NewClient(provider, apiKey string) (*Client, error) {
	if _, ok := endpoints[provider]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, provider)
	}
	return &Client{
		provider: provider,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}, nil
}

func (c *Client) SetBaseURL(url string) {
	c.baseURL = url
}

type rerankRequest struct {
	Model           string   `json:"model"`
	Query           string   `json:"query"`
	Documents       []string `json:"documents"`
	TopN            int      `json:"top_n"`
	ReturnDocuments bool     `json:"return_documents"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank returns one relevance score per doc, aligned with docs by index.
func (c *Client) Rerank(ctx context.Context, query string, docs []string) ([]float64, error) {
	ep := endpoints[c.provider]
	url := ep.url
	if c.baseURL != "" {
		url = c.baseURL
	}

	jsonBody, err := json.Marshal(rerankRequest{Model: ep.model, Query: query, Documents: docs, TopN: len(docs)})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%s api error: %d %s", c.provider, resp.StatusCode, bytes.TrimSpace(body))
	}

	var result rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", c.provider, err)
	}

	scores := make([]float64, len(docs))
	seen := make([]bool, len(docs))
	for _, r := range result.Results {
		if r.Index < 0 || r.Index >= len(docs) {
			return nil, fmt.Errorf("%s returned out-of-range index %d", c.provider, r.Index)
		}
		scores[r.Index] = r.Score
		seen[r.Index] = true
	}
	for i, ok := range seen {
		if !ok {
			return nil, fmt.Errorf("%s returned no score for document %d", c.provider, i)
		}
	}
	return scores, nil
}
