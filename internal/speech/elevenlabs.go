package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/nidhogg/kid-companion/internal/structured"
)

// ElevenLabsConfig configures the text-to-speech client.
type ElevenLabsConfig struct {
	APIKey          string        `json:"api_key"`
	Endpoint        string        `json:"endpoint"`
	Voice           string        `json:"voice"`
	Stability       float64       `json:"stability"`
	SimilarityBoost float64       `json:"similarity_boost"`
	Timeout         time.Duration `json:"timeout"`
}

// ElevenLabs is a text-to-speech client.
type ElevenLabs struct {
	config ElevenLabsConfig
	client *http.Client
	logger *zap.Logger
}

// NewElevenLabs creates a client with the "Rachel" voice by default.
func NewElevenLabs(cfg ElevenLabsConfig, logger *zap.Logger) *ElevenLabs {
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.elevenlabs.io/v1"
	}
	if cfg.Voice == "" {
		cfg.Voice = "Rachel"
	}
	if cfg.Stability == 0 {
		cfg.Stability = 0.4
	}
	if cfg.SimilarityBoost == 0 {
		cfg.SimilarityBoost = 0.8
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &ElevenLabs{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

type ttsRequest struct {
	Text          string        `json:"text"`
	VoiceSettings voiceSettings `json:"voice_settings"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// Synthesize returns MPEG audio, or nil on any failure so callers can fall
// back to text.
func (e *ElevenLabs) Synthesize(ctx context.Context, text string) []byte {
	if e.config.APIKey == "" {
		e.logger.Warn("ElevenLabs API key missing, skipping speech")
		return nil
	}
	if text == "" {
		return nil
	}

	body, err := json.Marshal(ttsRequest{
		Text: text,
		VoiceSettings: voiceSettings{
			Stability:       e.config.Stability,
			SimilarityBoost: e.config.SimilarityBoost,
		},
	})
	if err != nil {
		e.logger.Error("elevenlabs marshal", zap.Error(err))
		return nil
	}

	endpoint := e.config.Endpoint + "/text-to-speech/" + url.PathEscape(e.config.Voice)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		e.logger.Error("elevenlabs request", zap.Error(err))
		return nil
	}
	req.Header.Set("xi-api-key", e.config.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/mpeg")

	resp, err := e.client.Do(req)
	if err != nil {
		e.logger.Error("elevenlabs connection", zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(resp.Body)
		e.logger.Error("elevenlabs API error",
			zap.Int("status", resp.StatusCode), zap.String("detail", structured.Excerpt(string(detail), 150)))
		return nil
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		e.logger.Error("elevenlabs read", zap.Error(err))
		return nil
	}
	return audio
}
