package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eleven-am/sentinel-backend/internal/frame"
	"github.com/eleven-am/sentinel-backend/internal/shared"
)

const defaultPrompt = `You are a security monitor reviewing surveillance frames.
Decide whether the frames show a security incident (intrusion, violence, theft, fire, someone in distress).
Answer with a single JSON object and nothing else:
{"has_incident": bool, "risk_level": "LOW"|"MEDIUM"|"HIGH", "confidence": 0.0-1.0, "explanation": "one sentence"}`

// Client talks to an Ollama-compatible vision endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	model      string
}

func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    cfg.BaseURL,
		model:      cfg.Model,
	}
}

type ollamaRequest struct {
	Model  string   `json:"model"`
	Prompt string   `json:"prompt"`
	Images []string `json:"images,omitempty"`
	Stream bool     `json:"stream"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func (c *Client) ClassifyFrame(ctx context.Context, f *frame.Frame) (*Verdict, error) {
	if f == nil || len(f.Data) == 0 {
		return nil, fmt.Errorf("no frame data provided")
	}
	return c.classify(ctx, []frame.Frame{*f})
}

func (c *Client) ClassifyFrames(ctx context.Context, frames []frame.Frame) (*Verdict, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames provided")
	}
	return c.classify(ctx, frames)
}

func (c *Client) classify(ctx context.Context, frames []frame.Frame) (*Verdict, error) {
	images := make([]string, 0, len(frames))
	for _, f := range frames {
		images = append(images, base64.StdEncoding.EncodeToString(f.Data))
	}

	body, err := json.Marshal(ollamaRequest{
		Model:  c.model,
		Prompt: defaultPrompt,
		Images: images,
		Stream: false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrClassifierUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", shared.ErrClassifierUnavailable, resp.StatusCode)
	}

	var ollamaResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&ollamaResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	verdict, err := parseVerdict(ollamaResp.Response)
	if err != nil {
		return nil, fmt.Errorf("parse verdict: %w", err)
	}
	return verdict, nil
}

// parseVerdict pulls the verdict JSON out of the model's answer, tolerating
// surrounding prose and code fences.
func parseVerdict(text string) (*Verdict, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in response")
	}

	var v Verdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return nil, err
	}

	v.Risk = RiskLevel(strings.ToUpper(string(v.Risk)))
	if v.Risk.Rank() == 0 {
		v.Risk = RiskLow
	}
	return &v, nil
}

func (c *Client) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK
}
