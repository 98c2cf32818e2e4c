// Package llm wraps the Gemini API as a text generator for the extraction and
// response providers.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/hackgods/voice-reservations/internal/apperr"
	"github.com/hackgods/voice-reservations/internal/config"
)

var (
	ErrNoAPIKey      = errors.New("gemini api key not configured")
	ErrEmptyResponse = errors.New("gemini returned no text")
)

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string) (string, error)
}

type Gemini struct {
	client    *genai.Client
	text      *genai.GenerativeModel
	json      *genai.GenerativeModel
	limiter   *rate.Limiter
	modelName string
}

func NewGemini(ctx context.Context, cfg config.LLM) (*Gemini, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, ErrNoAPIKey
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.GeminiAPIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	text := client.GenerativeModel(cfg.GeminiModel)
	text.SetTemperature(0.7)
	text.SetMaxOutputTokens(200)

	jsonModel := client.GenerativeModel(cfg.GeminiModel)
	jsonModel.SetTemperature(0.1)
	jsonModel.ResponseMIMEType = "application/json"

	perMinute := cfg.RatePerMinute
	if perMinute <= 0 {
		perMinute = 60
	}

	return &Gemini{
		client:    client,
		text:      text,
		json:      jsonModel,
		limiter:   rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute),
		modelName: cfg.GeminiModel,
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Close() error { return g.client.Close() }

func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, g.text, prompt)
}

// GenerateJSON asks for an application/json response.
func (g *Gemini) GenerateJSON(ctx context.Context, prompt string) (string, error) {
	return g.generate(ctx, g.json, prompt)
}

func (g *Gemini) generate(ctx context.Context, model *genai.GenerativeModel, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", apperr.Transient("gemini rate limit", err)
	}

	resp, err := model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", Classify("gemini "+g.modelName, err)
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", apperr.Transient("gemini "+g.modelName, ErrEmptyResponse)
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if textPart, ok := part.(genai.Text); ok {
			sb.WriteString(string(textPart))
		}
	}

	out := strings.TrimSpace(sb.String())
	if out == "" {
		return "", apperr.Transient("gemini "+g.modelName, ErrEmptyResponse)
	}
	return out, nil
}

// Classify maps provider errors to the error taxonomy. Rate limits, server
// errors and timeouts are transient; authentication and bad requests are not
// worth retrying.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}

	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusTooManyRequests, gerr.Code >= 500:
			return apperr.Transient(op, err)
		case gerr.Code >= 400:
			return apperr.Dependency(op, err)
		}
	}

	if st, ok := status.FromError(err); ok {
		switch st.Code() {
		case codes.Unavailable, codes.ResourceExhausted, codes.DeadlineExceeded, codes.Aborted, codes.Internal:
			return apperr.Transient(op, err)
		case codes.Unauthenticated, codes.PermissionDenied, codes.InvalidArgument, codes.NotFound, codes.FailedPrecondition:
			return apperr.Dependency(op, err)
		}
	}

	return apperr.Transient(op, err)
}
