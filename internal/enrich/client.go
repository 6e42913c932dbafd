package enrich

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/emostream/relay/internal/emotion"
)

const (
	systemPrompt = "You are an emotionally intelligent assistant analyzing real-time emotional and speech data. " +
		"Provide brief, helpful insights about the person's emotional state and provide supportive feedback. " +
		"Keep responses concise (2-3 sentences max) and focused on emotional well-being."

	userPromptTemplate = "Here's the current emotional analysis data:\n" +
		"- Facial emotions: %s\n" +
		"- Speech tone: %s\n" +
		"- Transcript (if available): \"%s\"\n\n" +
		"Based on this real-time data, provide a brief insight about the emotional state and one supportive response."

	fallbackMessage = "Sorry, I was unable to analyze the emotional data at this time."

	noFacePlaceholder       = "No emotional data available"
	noSpeechPlaceholder     = "No speech data available"
	noTranscriptPlaceholder = "No transcript available"

	topEmotionCount = 4
)

// Config contains completion-service client configuration
type Config struct {
	Endpoint  string
	APIKey    string
	Model     string
	MaxTokens int
	Timeout   time.Duration
}

// Result is the outcome of one enrichment call. It is always one of two
// shapes: a completion with the rendered inputs that produced it, or the
// fallback message with the failure flag set. Analyze never returns an error.
type Result struct {
	Analysis  string   `json:"analysis"`
	Timestamp int64    `json:"timestamp"`
	Error     bool     `json:"error,omitempty"`
	RawData   *RawData `json:"rawData,omitempty"`
}

// RawData carries the rendered prompt inputs for tracing on the client side
type RawData struct {
	FaceEmotions string `json:"faceEmotions"`
	SpeechTone   string `json:"speechTone"`
	Transcript   string `json:"transcript"`
}

// Client calls the external completion service to turn a snapshot into a
// short natural-language insight.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// NewClient creates a new enrichment client
func NewClient(config Config, logger *slog.Logger) (*Client, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}

	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	if config.MaxTokens <= 0 {
		config.MaxTokens = 150
	}

	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}, nil
}

// Analyze renders the snapshot into a completion prompt, calls the service,
// and maps the outcome into a Result. Failures of any kind are contained
// here and surface only as the fallback shape.
func (c *Client) Analyze(ctx context.Context, snapshot *emotion.Snapshot) Result {
	face := noFacePlaceholder
	if snapshot.Face != nil {
		face = renderScores(snapshot.Face.Emotions)
	}

	speech := noSpeechPlaceholder
	if snapshot.Speech != nil {
		speech = renderScores(snapshot.Speech.Emotions)
	}

	transcript := noTranscriptPlaceholder
	if snapshot.Language != nil && snapshot.Language.Text != "" {
		transcript = snapshot.Language.Text
	}

	analysis, err := c.complete(ctx, fmt.Sprintf(userPromptTemplate, face, speech, transcript))
	if err != nil {
		c.logger.Error("completion request failed", slog.String("error", err.Error()))
		return Result{
			Analysis:  fallbackMessage,
			Timestamp: time.Now().UnixMilli(),
			Error:     true,
		}
	}

	return Result{
		Analysis:  analysis,
		Timestamp: time.Now().UnixMilli(),
		RawData: &RawData{
			FaceEmotions: face,
			SpeechTone:   speech,
			Transcript:   transcript,
		},
	}
}

// renderScores formats the top-ranked emotion scores as
// "label: 12.3%, label: 4.5%". Ties keep upstream order.
func renderScores(scores emotion.Scores) string {
	top := scores.Top(topEmotionCount)

	parts := make([]string, 0, len(top))
	for _, entry := range top {
		parts = append(parts, fmt.Sprintf("%s: %.1f%%", entry.Name, entry.Score*100))
	}

	return strings.Join(parts, ", ")
}

// complete performs one chat-completion request
func (c *Client) complete(ctx context.Context, userPrompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model: c.config.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
		MaxTokens: c.config.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, string(respBody))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}

	return chatResp.Choices[0].Message.Content, nil
}
