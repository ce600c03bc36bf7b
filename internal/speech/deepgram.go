package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/structured"
)

// DeepgramConfig configures the speech-to-text client.
type DeepgramConfig struct {
	APIKey      string        `json:"api_key"`
	Endpoint    string        `json:"endpoint"`
	ContentType string        `json:"content_type"`
	Timeout     time.Duration `json:"timeout"`
}

// Deepgram is a speech-to-text client for the Deepgram listen API.
type Deepgram struct {
	config DeepgramConfig
	client *http.Client
	logger *zap.Logger
}

// NewDeepgram creates a Deepgram client with a 30s default timeout.
func NewDeepgram(cfg DeepgramConfig, logger *zap.Logger) *Deepgram {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.deepgram.com/v1"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ContentType == "" {
		cfg.ContentType = "audio/webm"
	}
	return &Deepgram{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type listenResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

// Transcribe returns the transcript, "" for silence, or a sentinel.
func (d *Deepgram) Transcribe(ctx context.Context, audio []byte) string {
	if d.config.APIKey == "" {
		return TranscriptMissingKey
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.config.Endpoint+"/listen", bytes.NewReader(audio))
	if err != nil {
		d.logger.Error("deepgram request", zap.Error(err))
		return TranscriptFailed
	}
	req.Header.Set("Authorization", "Token "+d.config.APIKey)
	req.Header.Set("Content-Type", d.config.ContentType)

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Error("deepgram send", zap.Error(err))
		return TranscriptFailed
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		d.logger.Error("deepgram API error",
			zap.Int("status", resp.StatusCode), zap.String("detail", structured.Excerpt(string(body), 150)))
		return TranscriptFailed
	}

	var out listenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		d.logger.Error("deepgram decode", zap.Error(err))
		return TranscriptFailed
	}
	if len(out.Results.Channels) == 0 || len(out.Results.Channels[0].Alternatives) == 0 {
		d.logger.Error("deepgram response without alternatives")
		return TranscriptFailed
	}
	return out.Results.Channels[0].Alternatives[0].Transcript
}
