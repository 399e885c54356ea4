package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"audio-transcriber/internal/domain"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// TranscriptionError is a failure of the external transcription operation
// with a message suitable for end users.
type TranscriptionError struct {
	Message string
	Err     error
}

// Error returns the user-facing message.
func (e *TranscriptionError) Error() string {
	return e.Message
}

// Unwrap exposes the underlying cause for errors.Is / errors.As.
func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Pricing holds per-million-token rates in dollars.
type Pricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// Costs computes input, output, and total dollar cost for a token count.
func (p Pricing) Costs(inputTokens, outputTokens int) (input, output, total float64) {
	input = float64(inputTokens) / 1_000_000 * p.InputPerMillion
	output = float64(outputTokens) / 1_000_000 * p.OutputPerMillion
	return input, output, input + output
}

// Config sets up the Gemini client.
type Config struct {
	APIKey        string
	Model         string
	FallbackModel string
	Pricing       Pricing
	// BaseURL overrides the Gemini endpoint, used by tests.
	BaseURL string
	// PollInterval is the wait between file-state polls after upload.
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

// Client transcribes audio through the Gemini generateContent REST API.
type Client struct {
	apiKey        string
	model         string
	fallbackModel string
	pricing       Pricing
	baseURL       string
	pollInterval  time.Duration
	httpClient    *http.Client
	logger        *slog.Logger
	readFile      func(name string) ([]byte, error)
}

// NewClient constructs the production Gemini client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 5 * time.Minute}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Client{
		apiKey:        cfg.APIKey,
		model:         cfg.Model,
		fallbackModel: cfg.FallbackModel,
		pricing:       cfg.Pricing,
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		pollInterval:  cfg.PollInterval,
		httpClient:    cfg.HTTPClient,
		logger:        cfg.Logger,
		readFile:      os.ReadFile,
	}
}

// uploadedFile is the subset of the Files API response the client uses.
type uploadedFile struct {
	Name  string `json:"name"`
	URI   string `json:"uri"`
	State string `json:"state"`
}

// generateResponse is the subset of the generateContent response the
// client extracts text and usage from.
type generateResponse struct {
	Candidates []struct {
		FinishReason string `json:"finishReason"`
		Content      struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Transcribe uploads the audio file, waits for server-side processing, and
// generates the transcript with the conversation-type prompt. A 503 from
// the primary model falls back once to the fallback model.
func (c *Client) Transcribe(ctx context.Context, path, language, conversationType string) (domain.Result, error) {
	if c.apiKey == "" {
		return domain.Result{}, &TranscriptionError{
			Message: "API key not found. Set GEMINI_API_KEY in the environment or .env file.",
		}
	}

	data, err := c.readFile(path)
	if err != nil {
		return domain.Result{}, &TranscriptionError{
			Message: fmt.Sprintf("read audio file: %v", err),
			Err:     err,
		}
	}

	c.logger.Debug("uploading audio", "path", path, "bytes", len(data))
	file, err := c.uploadFile(ctx, data, mimeTypeFor(path))
	if err != nil {
		return domain.Result{}, err
	}

	file, err = c.waitForFile(ctx, file)
	if err != nil {
		return domain.Result{}, err
	}

	prompt := promptFor(conversationType, language)
	response, err := c.generate(ctx, c.model, prompt, file, mimeTypeFor(path))
	if err != nil {
		var over *overloadedError
		if !errors.As(err, &over) {
			return domain.Result{}, err
		}
		c.logger.Warn("primary model overloaded, using fallback",
			"model", c.model, "fallback", c.fallbackModel)
		response, err = c.generate(ctx, c.fallbackModel, prompt, file, mimeTypeFor(path))
		if err != nil {
			return domain.Result{}, err
		}
	}

	text, err := extractText(response)
	if err != nil {
		return domain.Result{}, err
	}

	usage := response.UsageMetadata
	inputCost, outputCost, totalCost := c.pricing.Costs(usage.PromptTokenCount, usage.CandidatesTokenCount)
	c.logger.Info("transcription finished",
		"input_tokens", usage.PromptTokenCount,
		"output_tokens", usage.CandidatesTokenCount,
		"total_cost", totalCost)

	return domain.Result{
		Text:         text,
		InputTokens:  usage.PromptTokenCount,
		OutputTokens: usage.CandidatesTokenCount,
		TotalTokens:  usage.TotalTokenCount,
		InputCost:    inputCost,
		OutputCost:   outputCost,
		TotalCost:    totalCost,
	}, nil
}

// uploadFile pushes raw audio bytes to the Files API.
func (c *Client) uploadFile(ctx context.Context, data []byte, mimeType string) (uploadedFile, error) {
	url := fmt.Sprintf("%s/upload/v1beta/files?key=%s", c.baseURL, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return uploadedFile{}, &TranscriptionError{Message: "build upload request", Err: err}
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("X-Goog-Upload-Protocol", "raw")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return uploadedFile{}, &TranscriptionError{
			Message: fmt.Sprintf("upload audio to Gemini: %v", err),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return uploadedFile{}, apiError("upload audio", resp)
	}

	var body struct {
		File uploadedFile `json:"file"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return uploadedFile{}, &TranscriptionError{Message: "decode upload response", Err: err}
	}
	return body.File, nil
}

// waitForFile polls until server-side processing of the upload finishes.
func (c *Client) waitForFile(ctx context.Context, file uploadedFile) (uploadedFile, error) {
	for file.State == "PROCESSING" {
		c.logger.Debug("file still processing", "name", file.Name)
		select {
		case <-time.After(c.pollInterval):
		case <-ctx.Done():
			return uploadedFile{}, &TranscriptionError{Message: "transcription cancelled", Err: ctx.Err()}
		}

		url := fmt.Sprintf("%s/v1beta/%s?key=%s", c.baseURL, file.Name, c.apiKey)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return uploadedFile{}, &TranscriptionError{Message: "build file status request", Err: err}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return uploadedFile{}, &TranscriptionError{
				Message: fmt.Sprintf("check file status: %v", err),
				Err:     err,
			}
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return uploadedFile{}, apiError("check file status", resp)
		}
		if err := json.NewDecoder(resp.Body).Decode(&file); err != nil {
			resp.Body.Close()
			return uploadedFile{}, &TranscriptionError{Message: "decode file status", Err: err}
		}
		resp.Body.Close()
	}

	if file.State == "FAILED" {
		return uploadedFile{}, &TranscriptionError{Message: "File processing failed on Google's servers."}
	}
	return file, nil
}

// overloadedError marks a 503 from generateContent so the caller can try
// the fallback model once.
type overloadedError struct {
	*TranscriptionError
}

// generate calls models/{model}:generateContent with the prompt and the
// uploaded file reference.
func (c *Client) generate(ctx context.Context, model, prompt string, file uploadedFile, mimeType string) (generateResponse, error) {
	payload := map[string]any{
		"contents": []map[string]any{{
			"parts": []map[string]any{
				{"text": prompt},
				{"file_data": map[string]string{
					"mime_type": mimeType,
					"file_uri":  file.URI,
				}},
			},
		}},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return generateResponse{}, &TranscriptionError{Message: "encode generate request", Err: err}
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return generateResponse{}, &TranscriptionError{Message: "build generate request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return generateResponse{}, &TranscriptionError{
			Message: fmt.Sprintf("call Gemini API: %v", err),
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return generateResponse{}, &overloadedError{apiError("generate transcription", resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return generateResponse{}, apiError("generate transcription", resp)
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return generateResponse{}, &TranscriptionError{Message: "decode generate response", Err: err}
	}
	return out, nil
}

// extractText pulls the transcript out of the response, mapping the API's
// empty and blocked cases to user-facing errors.
func extractText(resp generateResponse) (string, error) {
	if len(resp.Candidates) == 0 {
		return "", &TranscriptionError{
			Message: "The API returned no response. The audio file may be too short, " +
				"corrupted, or contain no recognizable speech.",
		}
	}

	candidate := resp.Candidates[0]
	switch candidate.FinishReason {
	case "SAFETY":
		return "", &TranscriptionError{
			Message: "The content was blocked by safety filters. The audio may contain sensitive content.",
		}
	case "RECITATION":
		return "", &TranscriptionError{
			Message: "The response was blocked due to potential copyright issues.",
		}
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		b.WriteString(part.Text)
	}
	if b.Len() == 0 {
		return "", &TranscriptionError{
			Message: "The API returned an empty response. Please try again or use a different audio file.",
		}
	}
	return b.String(), nil
}

// apiError converts a non-200 response into a TranscriptionError carrying
// a short body excerpt.
func apiError(operation string, resp *http.Response) *TranscriptionError {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &TranscriptionError{
		Message: fmt.Sprintf("%s: Gemini API returned %d: %s",
			operation, resp.StatusCode, strings.TrimSpace(string(excerpt))),
	}
}

// mimeTypeFor maps supported audio extensions to their MIME types.
func mimeTypeFor(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".aac":
		return "audio/aac"
	default:
		return "application/octet-stream"
	}
}
