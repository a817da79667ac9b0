package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// Config locates one upstream HTTP service
type Config struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

const maxErrorBody = 4 << 10

// StatusError is a non-2xx upstream response. 4xx other than 408 and 429 wrap ErrRejected.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	if e.StatusCode >= 400 && e.StatusCode < 500 &&
		e.StatusCode != http.StatusTooManyRequests && e.StatusCode != http.StatusRequestTimeout {
		return ErrRejected
	}
	return nil
}

type client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  *slog.Logger
}

func newClient(cfg Config, logger *slog.Logger) *client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// do sends in as JSON (when non-nil) and decodes the response into out.
// A 404 returns found=false without an error.
func (c *client) do(ctx context.Context, method, path string, query url.Values, in, out any) (bool, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return false, fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return false, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to call %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("Provider call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode == http.StatusNotFound {
		io.Copy(io.Discard, resp.Body)
		return false, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return false, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return false, fmt.Errorf("failed to decode %s response: %w", path, err)
		}
	}
	return true, nil
}

// MusicClient generates audio through the music generation API
type MusicClient struct {
	c *client
}

var _ AudioGenerator = (*MusicClient)(nil)

func NewMusicClient(cfg Config, logger *slog.Logger) *MusicClient {
	return &MusicClient{c: newClient(cfg, logger)}
}

func (m *MusicClient) GenerateAudio(ctx context.Context, req AudioRequest) (*AudioResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty audio prompt", ErrRejected)
	}
	if len(req.Instruments) == 0 {
		req.Instruments = InstrumentsFor(req.Genre)
	}

	var res AudioResult
	found, err := m.c.do(ctx, http.MethodPost, "/v1/audio/generations", nil, req, &res)
	if err != nil {
		return nil, fmt.Errorf("failed to generate audio: %w", err)
	}
	if !found || res.AudioURL == "" {
		return nil, fmt.Errorf("failed to generate audio: empty response")
	}
	return &res, nil
}

// ImageClient generates cover art through the image generation API
type ImageClient struct {
	c *client
}

var _ ImageGenerator = (*ImageClient)(nil)

func NewImageClient(cfg Config, logger *slog.Logger) *ImageClient {
	return &ImageClient{c: newClient(cfg, logger)}
}

func (i *ImageClient) GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, fmt.Errorf("%w: empty image prompt", ErrRejected)
	}
	applyImageDefaults(&req)

	var res ImageResult
	found, err := i.c.do(ctx, http.MethodPost, "/v1/images/generations", nil, req, &res)
	if err != nil {
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}
	if !found || res.ImageURL == "" {
		return nil, fmt.Errorf("failed to generate image: empty response")
	}
	return &res, nil
}

func applyImageDefaults(req *ImageRequest) {
	if req.Style == "" {
		req.Style = "artistic"
	}
	if req.AspectRatio == "" {
		req.AspectRatio = "1:1"
	}
	if req.Quality == "" {
		req.Quality = "hd"
	}
	if req.Size == "" {
		req.Size = "medium"
	}
}

// TrendClient reads trends from the social platform API
type TrendClient struct {
	c *client
}

var _ TrendProvider = (*TrendClient)(nil)

func NewTrendClient(cfg Config, logger *slog.Logger) *TrendClient {
	return &TrendClient{c: newClient(cfg, logger)}
}

func (t *TrendClient) GetTrendingHashtags(ctx context.Context, region string, count int) ([]TrendData, error) {
	if region == "" {
		region = "global"
	}
	if count <= 0 {
		count = 20
	}
	query := url.Values{"region": {region}, "count": {strconv.Itoa(count)}}

	var res struct {
		Trends []TrendData `json:"trends"`
	}
	if _, err := t.c.do(ctx, http.MethodGet, "/v1/trends", query, nil, &res); err != nil {
		return nil, fmt.Errorf("failed to get trending hashtags: %w", err)
	}
	if len(res.Trends) > count {
		res.Trends = res.Trends[:count]
	}
	return res.Trends, nil
}

func (t *TrendClient) GetHashtagData(ctx context.Context, hashtag, region string) (*TrendData, error) {
	tag := strings.TrimPrefix(strings.TrimSpace(hashtag), "#")
	query := url.Values{}
	if region != "" {
		query.Set("region", region)
	}

	var res TrendData
	found, err := t.c.do(ctx, http.MethodGet, "/v1/hashtags/"+url.PathEscape(tag), query, nil, &res)
	if err != nil {
		return nil, fmt.Errorf("failed to get hashtag %s: %w", tag, err)
	}
	if !found {
		return nil, nil
	}
	return &res, nil
}

func (t *TrendClient) AnalyzeHashtagEngagement(ctx context.Context, hashtag string) (*Engagement, error) {
	tag := strings.TrimPrefix(strings.TrimSpace(hashtag), "#")

	var res Engagement
	found, err := t.c.do(ctx, http.MethodGet, "/v1/hashtags/"+url.PathEscape(tag)+"/engagement", nil, nil, &res)
	if err != nil {
		return nil, fmt.Errorf("failed to analyze hashtag %s: %w", tag, err)
	}
	if !found {
		return &Engagement{}, nil
	}
	return &res, nil
}
