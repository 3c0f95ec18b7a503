// Package media_client is the HTTP client for the media-understanding
// collaborator: image captioning and audio/video transcription.
package media_client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Client represents the media understanding service client.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// CaptionRequest asks for a caption (images) or transcript (audio/video).
type CaptionRequest struct {
	MediaRef string `json:"media_ref"`
	Modality string `json:"modality"`
}

// CaptionResponse is the collaborator's reply.
type CaptionResponse struct {
	Caption      string `json:"caption"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// NewClient creates a new media understanding client.
func NewClient(baseURL string, timeoutSeconds int, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: time.Duration(timeoutSeconds) * time.Second,
		},
		logger: logger,
	}
}

// Caption returns the derived caption/transcript for a media reference.
// Callers treat any error as a null caption, never a pipeline failure.
func (c *Client) Caption(ctx context.Context, mediaRef, modality string) (*CaptionResponse, error) {
	jsonData, err := json.Marshal(CaptionRequest{MediaRef: mediaRef, Modality: modality})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/caption", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("media service returned status %d", resp.StatusCode)
	}

	var captionResp CaptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&captionResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &captionResp, nil
}
