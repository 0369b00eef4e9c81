package tutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"kaiwa/core"
)

const (
	defaultModel       = "gpt-4o-mini"
	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
)

// Config holds the configuration for the tutor service.
type Config struct {
	APIKey      string  `json:"api_key"`
	BaseURL     string  `json:"base_url"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`

	// Persona is the in-character system prompt, e.g. a friendly Japanese
	// conversation partner.
	Persona string `json:"persona"`
	// TargetLanguage names the language being practiced ("日本語").
	TargetLanguage string `json:"target_language"`
	// ExplanationLanguage names the language for translations and
	// correction explanations ("中文").
	ExplanationLanguage string `json:"explanation_language"`
}

// Service is the tutor collaborator: bounded conversation history plus a
// new utterance in, a structured reply with correction feedback out.
// Malformed or empty responses are failures; the caller owns the fallback.
type Service struct {
	config Config
	logger *zap.Logger

	client *openai.Client

	mu            sync.RWMutex
	isInitialized bool
}

// NewService creates a tutor service with defaults filled in.
func NewService(config Config, logger *zap.Logger) *Service {
	if config.Model == "" {
		config.Model = defaultModel
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = defaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{config: config, logger: logger}
}

// Initialize validates the config and builds the API client.
func (s *Service) Initialize(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isInitialized {
		return nil
	}
	if s.config.APIKey == "" {
		return errors.New("tutor: API key is required")
	}
	clientConfig := openai.DefaultConfig(s.config.APIKey)
	if s.config.BaseURL != "" {
		clientConfig.BaseURL = s.config.BaseURL
	}
	s.client = openai.NewClientWithConfig(clientConfig)
	s.isInitialized = true
	return nil
}

// Cleanup releases the client.
func (s *Service) Cleanup() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = nil
	s.isInitialized = false
	return nil
}

// tutorPayload is the wire contract the model must honor.
type tutorPayload struct {
	Reply            string `json:"reply"`
	ReplyTranslation string `json:"replyTranslation"`
	Feedback         struct {
		CorrectedSentence string `json:"correctedSentence"`
		Explanation       string `json:"explanation"`
		NaturalnessScore  int    `json:"naturalnessScore"`
	} `json:"feedback"`
}

// Reply sends the bounded history and the new utterance to the model and
// parses the structured response.
func (s *Service) Reply(ctx context.Context, history []core.Message, utterance string) (core.TutorReply, error) {
	s.mu.RLock()
	client := s.client
	initialized := s.isInitialized
	s.mu.RUnlock()
	if !initialized {
		return core.TutorReply{}, errors.New("tutor: service not initialized")
	}

	messages := s.convertHistory(history)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: utterance,
	})

	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    messages,
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return core.TutorReply{}, fmt.Errorf("tutor: completion request: %w", err)
	}
	if len(resp.Choices) == 0 {
		return core.TutorReply{}, errors.New("tutor: empty completion response")
	}
	return parseReply(resp.Choices[0].Message.Content, utterance)
}

// convertHistory maps exchanged messages to chat roles. The system prompt
// comes first; history follows in chronological order.
func (s *Service) convertHistory(history []core.Message) []openai.ChatCompletionMessage {
	messages := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: s.systemPrompt(),
	})
	for _, m := range history {
		role := openai.ChatMessageRoleAssistant
		if m.Sender == core.SenderUser {
			role = openai.ChatMessageRoleUser
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Text,
		})
	}
	return messages
}

func (s *Service) systemPrompt() string {
	var b strings.Builder
	if s.config.Persona != "" {
		b.WriteString(s.config.Persona)
		b.WriteString("\n\n")
	}
	target := s.config.TargetLanguage
	if target == "" {
		target = "日本語"
	}
	explain := s.config.ExplanationLanguage
	if explain == "" {
		explain = "中文"
	}
	fmt.Fprintf(&b, "你是一位%s会话老师，始终用%s回复学生，并纠正学生的表达。\n", target, target)
	fmt.Fprintf(&b, "每次回复必须是一个 JSON 对象，不要输出其他内容，格式如下：\n")
	b.WriteString(`{"reply":"<用`)
	b.WriteString(target)
	b.WriteString(`写的回复>","replyTranslation":"<回复的`)
	b.WriteString(explain)
	b.WriteString(`翻译>","feedback":{"correctedSentence":"<学生句子的正确写法>","explanation":"<用`)
	b.WriteString(explain)
	b.WriteString(`写的简短讲解>","naturalnessScore":<0到100的整数>}}`)
	return b.String()
}

// parseReply enforces the strict output contract. The model occasionally
// wraps JSON in code fences or prose; the first balanced object is
// extracted before parsing.
func parseReply(content, utterance string) (core.TutorReply, error) {
	raw := extractJSONObject(content)
	if raw == "" {
		return core.TutorReply{}, fmt.Errorf("tutor: no JSON object in response %q", truncate(content, 80))
	}

	var payload tutorPayload
	if err := sonic.Unmarshal([]byte(raw), &payload); err != nil {
		return core.TutorReply{}, fmt.Errorf("tutor: malformed response: %w", err)
	}
	if strings.TrimSpace(payload.Reply) == "" {
		return core.TutorReply{}, errors.New("tutor: response missing reply")
	}
	if strings.TrimSpace(payload.Feedback.CorrectedSentence) == "" {
		return core.TutorReply{}, errors.New("tutor: response missing feedback.correctedSentence")
	}

	return core.TutorReply{
		Text:        payload.Reply,
		Translation: payload.ReplyTranslation,
		Feedback: core.Feedback{
			Original:    utterance,
			Corrected:   payload.Feedback.CorrectedSentence,
			Explanation: payload.Feedback.Explanation,
			Naturalness: core.ClampScore(payload.Feedback.NaturalnessScore),
		},
	}, nil
}

// extractJSONObject returns the first balanced top-level JSON object in
// input, respecting strings and escapes.
func extractJSONObject(input string) string {
	start := strings.IndexByte(input, '{')
	if start == -1 {
		return ""
	}

	inString := false
	escape := false
	depth := 0

	for i := start; i < len(input); i++ {
		ch := input[i]

		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return input[start : i+1]
			}
			if depth < 0 {
				return ""
			}
		}
	}

	return ""
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
