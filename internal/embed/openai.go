package embed

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	rerrors "github.com/Aman-CERP/recall/internal/errors"
	"github.com/Aman-CERP/recall/pkg/version"
)

var errMalformedResponse = errors.New("malformed embedding response")

// OpenAIConfig configures the OpenAI embedder.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string // empty uses the SDK default or OPENAI_BASE_URL
	Model      string
	Dimensions int
	BatchSize  int
	Retry      RetryConfig
}

// OpenAIEmbedder calls the OpenAI embeddings API. Inputs are split into
// batches of BatchSize; a batch is retried with exponential backoff on rate
// limits, server errors and transport failures.
type OpenAIEmbedder struct {
	client    openai.Client
	model     string
	dims      int
	batchSize int
	retry     RetryConfig

	mu     sync.RWMutex
	closed bool
}

// NewOpenAIEmbedder creates an embedder. An empty APIKey is rejected so that
// misconfiguration shows up at startup rather than on the first query.
func NewOpenAIEmbedder(cfg OpenAIConfig) (*OpenAIEmbedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, rerrors.ConfigError("OPENAI_API_KEY is not set", nil).
			WithSuggestion("Export OPENAI_API_KEY or set embeddings.provider: static")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultOpenAIDimensions
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}

	// Retries are owned by the backoff policy, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
		option.WithHeader("User-Agent", version.UserAgent()),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAIEmbedder{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		dims:      cfg.Dimensions,
		batchSize: clampBatchSize(cfg.BatchSize),
		retry:     cfg.Retry,
	}, nil
}

// Embed generates embedding for a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for texts, batch by batch.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	all := make([][]float32, 0, len(texts))
	for i := 0; i < len(texts); i += e.batchSize {
		end := min(i+e.batchSize, len(texts))
		vecs, err := e.embedBatchWithRetry(ctx, texts[i:end])
		if err != nil {
			return nil, classifyError(err).
				WithDetail("batch", fmt.Sprintf("%d-%d", i, end)).
				WithDetail("model", e.model)
		}
		all = append(all, vecs...)
	}
	return all, nil
}

func (e *OpenAIEmbedder) embedBatchWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	// The API rejects empty strings.
	inputs := make([]string, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			t = " "
		}
		inputs[i] = t
	}

	var out [][]float32
	err := withRetry(ctx, e.retry, isRetryable, func() error {
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Input: openai.EmbeddingNewParamsInputUnion{
				OfArrayOfStrings: inputs,
			},
			Model:      openai.EmbeddingModel(e.model),
			Dimensions: param.NewOpt(int64(e.dims)),
		})
		if err != nil {
			return err
		}
		if len(resp.Data) != len(inputs) {
			return fmt.Errorf("%w: %d embeddings for %d inputs", errMalformedResponse, len(resp.Data), len(inputs))
		}

		data := resp.Data
		sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
		vecs := make([][]float32, len(data))
		for i, d := range data {
			if len(d.Embedding) != e.dims {
				return fmt.Errorf("%w: %d dimensions, want %d", errMalformedResponse, len(d.Embedding), e.dims)
			}
			vecs[i] = normalizeVector(toFloat32(d.Embedding))
		}
		out = vecs
		return nil
	})
	return out, err
}

// isRetryable reports whether an API error is transient: HTTP 429, any
// 5xx, or a failure that never produced an HTTP response.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return !errors.Is(err, errMalformedResponse)
}

// classifyError maps a final provider failure onto a recall error code.
func classifyError(err error) *rerrors.RecallError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			return rerrors.New(rerrors.ErrCodeRateLimited, "embedding provider rate limit exceeded", err)
		case apiErr.StatusCode >= 500:
			return rerrors.New(rerrors.ErrCodeCapabilityUnavailable, "embedding provider unavailable", err)
		}
		return rerrors.New(rerrors.ErrCodeEmbeddingFailed, fmt.Sprintf("embedding request rejected (HTTP %d)", apiErr.StatusCode), err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return rerrors.New(rerrors.ErrCodeCapabilityUnavailable, "embedding request cancelled", err)
	}
	if errors.Is(err, errMalformedResponse) {
		return rerrors.New(rerrors.ErrCodeEmbeddingFailed, "embedding response malformed", err)
	}
	return rerrors.New(rerrors.ErrCodeCapabilityUnavailable, "embedding provider unreachable", err)
}

func (e *OpenAIEmbedder) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return fmt.Errorf("embedder is closed")
	}
	return nil
}

// Dimensions returns the embedding dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.dims
}

// ModelName returns the model identifier.
func (e *OpenAIEmbedder) ModelName() string {
	return e.model
}

// Available reports whether the embedder is open. It does not probe the API.
func (e *OpenAIEmbedder) Available(_ context.Context) bool {
	return e.checkOpen() == nil
}

// Close releases resources.
func (e *OpenAIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
