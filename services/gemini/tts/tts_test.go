package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kaiwa/core"
)

func audioResponse(mimeType string, pcm []byte) map[string]any {
	return map[string]any{
		"candidates": []map[string]any{
			{
				"content": map[string]any{
					"parts": []map[string]any{
						{"inlineData": map[string]any{
							"mimeType": mimeType,
							"data":     base64.StdEncoding.EncodeToString(pcm),
						}},
					},
				},
			},
		},
	}
}

func newTestService(t *testing.T, handler http.HandlerFunc) (*Service, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	s := NewService(Config{APIKey: "test-key", BaseURL: srv.URL}, nil)
	if err := s.Initialize(context.Background()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return s, srv
}

func TestSynthesize_ReturnsPCMChunk(t *testing.T) {
	pcm := make([]byte, 48000) // one second of 24kHz mono s16le
	var gotPath string
	var gotBody generateRequest
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(audioResponse("audio/L16;codec=pcm;rate=24000", pcm))
	})

	chunk, err := s.Synthesize(context.Background(), "こんにちは")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if chunk.Format != core.PCM || chunk.Channels != 1 || chunk.SampleRate != 24000 {
		t.Fatalf("unexpected chunk shape: %+v", chunk)
	}
	if len(*chunk.Data) != len(pcm) {
		t.Fatalf("expected %d audio bytes, got %d", len(pcm), len(*chunk.Data))
	}
	if sec := chunk.GetDurationInSeconds(); sec != 1.0 {
		t.Fatalf("expected 1s duration, got %f", sec)
	}

	if !strings.Contains(gotPath, "gemini-2.5-flash-preview-tts:generateContent") {
		t.Fatalf("unexpected request path %q", gotPath)
	}
	if len(gotBody.GenerationConfig.ResponseModalities) != 1 ||
		gotBody.GenerationConfig.ResponseModalities[0] != "AUDIO" {
		t.Fatalf("expected AUDIO modality, got %v", gotBody.GenerationConfig.ResponseModalities)
	}
	if voice := gotBody.GenerationConfig.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName; voice != "Kore" {
		t.Fatalf("expected default voice, got %q", voice)
	}
	if len(gotBody.Contents) != 1 || gotBody.Contents[0].Parts[0].Text != "こんにちは" {
		t.Fatalf("request did not carry the text: %+v", gotBody.Contents)
	}
}

func TestSynthesize_ParsesRateFromMimeType(t *testing.T) {
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(audioResponse("audio/L16;rate=8000", []byte{0, 0}))
	})
	chunk, err := s.Synthesize(context.Background(), "hi")
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if chunk.SampleRate != 8000 {
		t.Fatalf("expected rate from mime type, got %d", chunk.SampleRate)
	}
}

func TestSynthesize_NoAudioInResponse(t *testing.T) {
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"candidates": []any{}})
	})
	if _, err := s.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error for empty candidates")
	}
}

func TestSynthesize_APIError(t *testing.T) {
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]any{"code": 400, "message": "invalid voice"},
		})
	})
	_, err := s.Synthesize(context.Background(), "hi")
	if err == nil || !strings.Contains(err.Error(), "invalid voice") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	s, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected for empty text")
	})
	if _, err := s.Synthesize(context.Background(), "   "); err == nil {
		t.Fatalf("expected error for blank text")
	}
}

func TestSynthesize_NotInitialized(t *testing.T) {
	s := NewService(Config{APIKey: "k"}, nil)
	if _, err := s.Synthesize(context.Background(), "hi"); err == nil {
		t.Fatalf("expected error before Initialize")
	}
}

func TestParseSampleRate(t *testing.T) {
	cases := []struct {
		mime string
		want int
	}{
		{"audio/L16;codec=pcm;rate=24000", 24000},
		{"audio/L16; rate=16000", 16000},
		{"audio/L16", defaultSampleRate},
		{"audio/L16;rate=bogus", defaultSampleRate},
		{"", defaultSampleRate},
	}
	for _, c := range cases {
		if got := parseSampleRate(c.mime); got != c.want {
			t.Errorf("parseSampleRate(%q) = %d, want %d", c.mime, got, c.want)
		}
	}
}
