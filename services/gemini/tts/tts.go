package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"kaiwa/core"
)

const (
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	defaultGeminiModel   = "gemini-2.5-flash-preview-tts"
	defaultGeminiVoice   = "Kore"

	defaultSampleRate = 24000
	requestTimeout    = 30 * time.Second
)

// Config holds configuration for the Gemini TTS service.
type Config struct {
	APIKey  string `json:"api_key"`
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	Voice   string `json:"voice"`
}

// Service synthesizes speech through Gemini's generateContent REST API.
// Each Synthesize call is a single request returning one PCM audio chunk;
// there is no streaming session to manage.
type Service struct {
	config Config
	logger *zap.Logger

	mu            sync.RWMutex
	client        *http.Client
	isInitialized bool
}

// ── REST wire messages ────────────────────────────────────────────────────────

type generateRequest struct {
	Contents         []requestContent `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type requestContent struct {
	Parts []requestPart `json:"parts"`
}

type requestPart struct {
	Text string `json:"text"`
}

type generationConfig struct {
	ResponseModalities []string     `json:"responseModalities"`
	SpeechConfig       speechConfig `json:"speechConfig"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				InlineData *struct {
					MimeType string `json:"mimeType"`
					Data     string `json:"data"`
				} `json:"inlineData"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// ── Constructor ───────────────────────────────────────────────────────────────

// NewService creates a new Gemini TTS service with sensible defaults.
func NewService(config Config, logger *zap.Logger) *Service {
	if config.BaseURL == "" {
		config.BaseURL = defaultGeminiBaseURL
	}
	if config.Model == "" {
		config.Model = defaultGeminiModel
	}
	if config.Voice == "" {
		config.Voice = defaultGeminiVoice
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		config: config,
		logger: logger,
	}
}

// ── Lifecycle ─────────────────────────────────────────────────────────────────

// Initialize validates config and sets up the HTTP client.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isInitialized {
		return nil
	}
	if s.config.APIKey == "" {
		return errors.New("gemini: API key is required")
	}

	s.client = &http.Client{Timeout: requestTimeout}
	s.isInitialized = true
	return nil
}

// Cleanup shuts down the service.
func (s *Service) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.isInitialized {
		return nil
	}
	s.client.CloseIdleConnections()
	s.client = nil
	s.isInitialized = false
	s.logger.Info("Gemini TTS service cleaned up")
	return nil
}

// ── Synthesis ─────────────────────────────────────────────────────────────────

// Synthesize renders text as a single mono PCM audio chunk.
func (s *Service) Synthesize(ctx context.Context, text string) (core.AudioChunk, error) {
	s.mu.RLock()
	if !s.isInitialized {
		s.mu.RUnlock()
		return core.AudioChunk{}, errors.New("gemini: service not initialized")
	}
	client := s.client
	config := s.config
	s.mu.RUnlock()

	if strings.TrimSpace(text) == "" {
		return core.AudioChunk{}, errors.New("gemini: text cannot be empty")
	}

	reqBody := generateRequest{
		Contents: []requestContent{{Parts: []requestPart{{Text: text}}}},
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
			SpeechConfig: speechConfig{
				VoiceConfig: voiceConfig{
					PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: config.Voice},
				},
			},
		},
	}
	payload, err := sonic.Marshal(reqBody)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("gemini: failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", config.BaseURL, config.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("gemini: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", config.APIKey)

	resp, err := client.Do(req)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("gemini: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("gemini: failed to read response: %w", err)
	}

	var parsed generateResponse
	if err := sonic.Unmarshal(body, &parsed); err != nil {
		return core.AudioChunk{}, fmt.Errorf("gemini: failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return core.AudioChunk{}, fmt.Errorf("gemini: API error (code %d): %s", parsed.Error.Code, parsed.Error.Message)
	}
	if resp.StatusCode != http.StatusOK {
		return core.AudioChunk{}, fmt.Errorf("gemini: unexpected status %d: %s", resp.StatusCode, truncateBody(body))
	}

	inline := firstInlineData(parsed)
	if inline == nil || inline.Data == "" {
		return core.AudioChunk{}, errors.New("gemini: response contains no audio data")
	}
	audio, err := base64.StdEncoding.DecodeString(inline.Data)
	if err != nil {
		return core.AudioChunk{}, fmt.Errorf("gemini: failed to decode audio data: %w", err)
	}

	chunk := core.AudioChunk{
		Data:       &audio,
		SampleRate: parseSampleRate(inline.MimeType),
		Format:     core.PCM,
		Channels:   1,
		Timestamp:  time.Now(),
	}
	s.logger.Debug("Gemini TTS: synthesized audio",
		zap.Int("bytes", len(audio)),
		zap.Int("sample_rate", chunk.SampleRate),
		zap.Float64("seconds", chunk.GetDurationInSeconds()))
	return chunk, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

func firstInlineData(resp generateResponse) *struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
} {
	for _, cand := range resp.Candidates {
		for _, part := range cand.Content.Parts {
			if part.InlineData != nil {
				return part.InlineData
			}
		}
	}
	return nil
}

// parseSampleRate extracts the rate parameter from a mime type such as
// "audio/L16;codec=pcm;rate=24000". Falls back to the default rate.
func parseSampleRate(mimeType string) int {
	for _, param := range strings.Split(mimeType, ";") {
		param = strings.TrimSpace(param)
		if value, ok := strings.CutPrefix(param, "rate="); ok {
			if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
				return rate
			}
		}
	}
	return defaultSampleRate
}

func truncateBody(body []byte) string {
	const max = 200
	s := string(body)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
