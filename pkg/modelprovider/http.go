package modelprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

func init() {
	Register("http", newHTTPProvider)
}

// httpProvider is a generic chat-completion-style provider: it POSTs a
// structured analyze request to apiBase+"/analyze" and an embed request to
// apiBase+"/embeddings", expecting JSON bodies matching AnalyzeRequest and a
// simple {"text": "..."} embed request respectively. Concrete hosted
// providers (OpenAI-, Anthropic-, or Gemini-shaped transports) register
// under their own name and reuse this client for the underlying HTTP calls.
type httpProvider struct {
	client    *http.Client
	apiBase   string
	apiKey    string
	modelName string
}

func newHTTPProvider(apiBase, apiKey, modelName string) (Provider, error) {
	return &httpProvider{
		client:    &http.Client{Timeout: 60 * time.Second}, //nolint:mnd // generous default request timeout
		apiBase:   apiBase,
		apiKey:    apiKey,
		modelName: modelName,
	}, nil
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (p *httpProvider) Analyze(ctx context.Context, req AnalyzeRequest) (AnalyzeResponse, error) {
	var resp AnalyzeResponse

	err := p.postJSON(ctx, "/analyze", struct {
		AnalyzeRequest

		Model string `json:"model"`
	}{AnalyzeRequest: req, Model: p.modelName}, &resp)
	if err != nil {
		return AnalyzeResponse{}, err
	}

	return resp, nil
}

func (p *httpProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp embedResponse

	err := p.postJSON(ctx, "/embeddings", embedRequest{Model: p.modelName, Input: text}, &resp)
	if err != nil {
		return nil, err
	}

	return resp.Embedding, nil
}

func (p *httpProvider) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("modelprovider: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("modelprovider: build request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")

	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("modelprovider: request failed: %w", err)
	}

	defer httpResp.Body.Close()

	if httpResp.StatusCode >= http.StatusBadRequest {
		return fmt.Errorf("%w: status %d", ErrTransport, httpResp.StatusCode)
	}

	if err := json.NewDecoder(httpResp.Body).Decode(out); err != nil {
		return fmt.Errorf("modelprovider: decode response: %w", err)
	}

	return nil
}
