package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"

	cerrors "github.com/Aman-CERP/cgrep/internal/errors"
)

// outputSchema accepts a bare matrix or an object carrying the matrix under
// "embeddings", "vectors" or "data".
const outputSchema = `{
  "definitions": {
    "matrix": {
      "type": "array",
      "items": {"type": "array", "minItems": 1, "items": {"type": "number"}}
    }
  },
  "anyOf": [
    {"$ref": "#/definitions/matrix"},
    {"type": "object", "required": ["embeddings"], "properties": {"embeddings": {"$ref": "#/definitions/matrix"}}},
    {"type": "object", "required": ["vectors"], "properties": {"vectors": {"$ref": "#/definitions/matrix"}}},
    {"type": "object", "required": ["data"], "properties": {"data": {"$ref": "#/definitions/matrix"}}}
  ]
}`

var (
	schemaOnce     sync.Once
	compiledSchema *gojsonschema.Schema
	schemaErr      error
)

func commandSchema() (*gojsonschema.Schema, error) {
	schemaOnce.Do(func() {
		compiledSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(outputSchema))
	})
	return compiledSchema, schemaErr
}

// CommandConfig configures CommandProvider.
type CommandConfig struct {
	Command    string
	Model      string
	Dimensions int // 0 learns the width from the first response
	BatchSize  int
	MaxChars   int
	Timeout    time.Duration
	Retry      cerrors.RetryConfig
}

// CommandProvider runs an external command per batch. The command gets
// {"model": ..., "texts": [...]} on stdin and prints vectors on stdout.
type CommandProvider struct {
	cfg     CommandConfig
	breaker *cerrors.CircuitBreaker

	mu   sync.Mutex
	dims int
}

type commandRequest struct {
	Model string   `json:"model"`
	Texts []string `json:"texts"`
}

// NewCommandProvider validates cfg and returns the provider.
func NewCommandProvider(cfg CommandConfig) (*CommandProvider, error) {
	if strings.TrimSpace(cfg.Command) == "" {
		return nil, cerrors.ConfigError("embeddings.command is required for the command provider", nil)
	}
	if cfg.Model == "" {
		cfg.Model = "default"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retry == (cerrors.RetryConfig{}) {
		cfg.Retry = cerrors.DefaultRetryConfig()
	}
	cfg.BatchSize = clampBatch(cfg.BatchSize)
	return &CommandProvider{
		cfg:     cfg,
		breaker: cerrors.NewCircuitBreaker(ProviderCommand),
		dims:    cfg.Dimensions,
	}, nil
}

// Embed sends texts in batches of BatchSize. A failed batch is retried per
// the retry policy; repeated failures open the circuit breaker.
func (p *CommandProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		end := min(start+p.cfg.BatchSize, len(texts))
		batch := make([]string, end-start)
		for i, t := range texts[start:end] {
			batch[i] = truncateChars(t, p.cfg.MaxChars)
		}

		vecs, err := cerrors.RetryWithResult(ctx, p.cfg.Retry, func() ([][]float32, error) {
			var res [][]float32
			err := p.breaker.Execute(func() error {
				var runErr error
				res, runErr = p.run(ctx, batch)
				return runErr
			})
			return res, err
		})
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *CommandProvider) run(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.Timeout)
	defer cancel()

	payload, err := json.Marshal(commandRequest{Model: p.cfg.Model, Texts: texts})
	if err != nil {
		return nil, cerrors.ProviderError(ProviderCommand, err)
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", p.cfg.Command)
	cmd.Stdin = bytes.NewReader(payload)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		return nil, cerrors.ProviderError(ProviderCommand, fmt.Errorf("embedding command failed: %w: %s", err, msg)).
			WithDetail("stage", "exec")
	}

	vecs, err := parseCommandOutput(stdout.Bytes())
	if err != nil {
		return nil, cerrors.ProviderError(ProviderCommand, err).WithDetail("stage", "output")
	}
	if len(vecs) != len(texts) {
		return nil, cerrors.ProviderError(ProviderCommand,
			fmt.Errorf("embedding command returned %d vectors for %d texts", len(vecs), len(texts))).
			WithDetail("stage", "output")
	}
	if err := p.checkDims(vecs); err != nil {
		return nil, err
	}
	return vecs, nil
}

func (p *CommandProvider) checkDims(vecs [][]float32) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, v := range vecs {
		if p.dims == 0 {
			p.dims = len(v)
		}
		if len(v) != p.dims {
			return cerrors.ProviderError(ProviderCommand,
				cerrors.New(cerrors.ErrCodeDimensionMismatch,
					fmt.Sprintf("vector has %d dimensions, expected %d", len(v), p.dims), nil)).
				WithDetail("stage", "output")
		}
	}
	return nil
}

// parseCommandOutput validates stdout against outputSchema and extracts
// the vector matrix.
func parseCommandOutput(raw []byte) ([][]float32, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("embedding command produced no output")
	}

	schema, err := commandSchema()
	if err != nil {
		return nil, fmt.Errorf("output schema: %w", err)
	}
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, fmt.Errorf("embedding output is not JSON: %w", err)
	}
	if !result.Valid() {
		var msgs []string
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("embedding output rejected: %s", strings.Join(msgs, "; "))
	}

	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("embedding output is not JSON: %w", err)
	}
	matrix, ok := doc.([]any)
	if obj, isObj := doc.(map[string]any); isObj {
		for _, key := range []string{"embeddings", "vectors", "data"} {
			if m, found := obj[key].([]any); found {
				matrix, ok = m, true
				break
			}
		}
	}
	if !ok {
		return nil, fmt.Errorf("embedding output has no vector array")
	}

	out := make([][]float32, len(matrix))
	for i, row := range matrix {
		values := row.([]any)
		vec := make([]float32, len(values))
		for j, v := range values {
			vec[j] = float32(v.(float64))
		}
		out[i] = vec
	}
	return out, nil
}

func (p *CommandProvider) ID() string    { return ProviderCommand }
func (p *CommandProvider) Model() string { return p.cfg.Model }

func (p *CommandProvider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dims
}

func (p *CommandProvider) BatchSize() int { return p.cfg.BatchSize }
func (p *CommandProvider) Close() error   { return nil }

// Breaker exposes the circuit state for status reporting.
func (p *CommandProvider) Breaker() *cerrors.CircuitBreaker { return p.breaker }
