package ticsai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

var (
	// ErrGeminiRemote indicates the completion call itself failed: a
	// transport error or a non-2xx response.
	ErrGeminiRemote = errors.New("gemini request failed")

	// ErrGeminiMalformedResponse indicates a 2xx response that didn't
	// contain at least one well-formed candidate with text content.
	ErrGeminiMalformedResponse = errors.New("gemini returned an unexpected response")
)

// geminiSafetyCategories are the harm categories the configured safety
// threshold is applied to.
var geminiSafetyCategories = []string{
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
	"HARM_CATEGORY_DANGEROUS_CONTENT",
}

// Gemini manages completion calls against the Gemini generateContent API.
type Gemini struct {
	config     *GeminiConfig
	httpClient *http.Client
	logger     *slog.Logger
}

func newGemini(config *GeminiConfig, httpClient *http.Client) *Gemini {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Gemini{
		config:     config,
		httpClient: httpClient,
		logger: slog.New(
			newLogHandler(config.LogLevel),
		).With(loggerNameKey, "gemini"),
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	TopP            float64 `json:"topP"`
	TopK            int     `json:"topK"`
	MaxOutputTokens int     `json:"maxOutputTokens"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents         []geminiContent        `json:"contents"`
	GenerationConfig geminiGenerationConfig `json:"generationConfig"`
	SafetySettings   []geminiSafetySetting  `json:"safetySettings,omitempty"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

// newRequest builds the generateContent payload for a single prompt.
func (g *Gemini) newRequest(prompt string) geminiRequest {
	req := geminiRequest{
		Contents: []geminiContent{
			{Parts: []geminiPart{{Text: prompt}}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     g.config.Temperature,
			TopP:            g.config.TopP,
			TopK:            g.config.TopK,
			MaxOutputTokens: g.config.MaxOutputTokens,
		},
	}
	if g.config.SafetyThreshold != "" {
		for _, category := range geminiSafetyCategories {
			req.SafetySettings = append(
				req.SafetySettings, geminiSafetySetting{
					Category:  category,
					Threshold: g.config.SafetyThreshold,
				},
			)
		}
	}
	return req
}

// Complete sends one completion call for the given prompt and returns the
// first candidate's text, trimmed. Failures are ErrGeminiRemote (transport
// or non-2xx status) or ErrGeminiMalformedResponse (2xx without a
// well-formed candidate). There is no retry and no cancellation beyond the
// configured request timeout; once issued, the call runs to settlement.
func (g *Gemini) Complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(g.newRequest(prompt))
	if err != nil {
		return "", fmt.Errorf("error encoding request: %w", err)
	}

	endpoint := fmt.Sprintf(
		"%s/models/%s:generateContent?key=%s",
		strings.TrimSuffix(g.config.BaseURL, "/"),
		g.config.Model,
		g.config.APIKey,
	)

	if g.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.config.RequestTimeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return "", fmt.Errorf("error creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	started := time.Now()
	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		g.logger.ErrorContext(ctx, "completion call failed", tint.Err(err))
		return "", fmt.Errorf("%w: %w", ErrGeminiRemote, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: reading response: %w", ErrGeminiRemote, err)
	}

	g.logger.DebugContext(
		ctx,
		"completion call finished",
		"status", resp.StatusCode,
		"elapsed", time.Since(started),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		g.logger.ErrorContext(
			ctx,
			"completion call returned error status",
			"status", resp.StatusCode,
			"body", truncate(string(respBody), 500),
		)
		return "", fmt.Errorf(
			"%w: status %d", ErrGeminiRemote, resp.StatusCode,
		)
	}

	var parsed geminiResponse
	if err = json.Unmarshal(respBody, &parsed); err != nil {
		g.logger.ErrorContext(ctx, "error decoding response", tint.Err(err))
		return "", fmt.Errorf("%w: %w", ErrGeminiMalformedResponse, err)
	}

	text := candidateText(parsed)
	if text == "" {
		g.logger.ErrorContext(
			ctx,
			"response contained no usable candidate",
			"body", truncate(string(respBody), 500),
		)
		return "", ErrGeminiMalformedResponse
	}
	return text, nil
}

// candidateText returns the trimmed text of the first candidate that has
// any, or "" if no candidate does.
func candidateText(resp geminiResponse) string {
	for _, candidate := range resp.Candidates {
		var sb strings.Builder
		for _, part := range candidate.Content.Parts {
			sb.WriteString(part.Text)
		}
		if text := strings.TrimSpace(sb.String()); text != "" {
			return text
		}
	}
	return ""
}
