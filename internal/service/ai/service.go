package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"folioassist/internal/config"
	"folioassist/internal/models"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

var (
	ErrMissingAPIKey   = errors.New("api key is not configured")
	ErrUnknownProvider = errors.New("unknown provider")
	ErrEmptyReply      = errors.New("model returned no text")
)

// Generator sends one conversation turn to the model.
// Generate never returns an error; failures are carried in the Reply.
type Generator interface {
	Generate(ctx context.Context, req Request) Reply
}

// Request is the outbound payload. History must be empty or start with a
// user turn, see BuildHistory.
type Request struct {
	SystemInstruction string
	History           []models.Message
	NewMessage        string
}

// chatModelFactory is overridden in tests.
var chatModelFactory = newChatModel

// Service is the eino-backed Generator. The chat model is built on first use
// so a missing credential surfaces per request instead of at startup.
type Service struct {
	cfg config.ProviderConfig

	mu        sync.Mutex
	chatModel model.BaseChatModel
}

func NewService(cfg config.ProviderConfig) *Service {
	return &Service{cfg: cfg}
}

// Generate implements Generator.
func (s *Service) Generate(ctx context.Context, req Request) Reply {
	chatModel, err := s.model(ctx)
	if err != nil {
		return failed(FailureConfiguration, err)
	}

	stream, err := chatModel.Stream(ctx, convertMessages(req))
	if err != nil {
		return failed(FailureTransport, fmt.Errorf("open model stream: %w", err))
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return failed(FailureTransport, fmt.Errorf("read model stream: %w", err))
		}
		if chunk == nil {
			continue
		}
		builder.WriteString(chunk.Content)
	}

	text := builder.String()
	if strings.TrimSpace(text) == "" {
		return failed(FailureContract, ErrEmptyReply)
	}
	return Reply{Text: text}
}

func (s *Service) model(ctx context.Context) (model.BaseChatModel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chatModel != nil {
		return s.chatModel, nil
	}
	if strings.TrimSpace(s.cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	m, err := chatModelFactory(ctx, s.cfg)
	if err != nil {
		return nil, err
	}
	s.chatModel = m
	return m, nil
}

func newChatModel(ctx context.Context, cfg config.ProviderConfig) (model.BaseChatModel, error) {
	modelName := cfg.Model
	if modelName == "" {
		modelName = config.DefaultModelFor(cfg.Name)
	}

	switch cfg.Name {
	case "", "gemini":
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini client: %w", err)
		}
		m, err := gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  modelName,
		})
		if err != nil {
			return nil, fmt.Errorf("new gemini chat model: %w", err)
		}
		return m, nil
	case "openai":
		m, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   modelName,
			APIKey:  cfg.APIKey,
		})
		if err != nil {
			return nil, fmt.Errorf("new openai chat model: %w", err)
		}
		return m, nil
	case "claude":
		var baseURLPtr *string
		if cfg.BaseURL != "" {
			baseURLPtr = &cfg.BaseURL
		}
		m, err := claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     modelName,
			BaseURL:   baseURLPtr,
			MaxTokens: 1024,
		})
		if err != nil {
			return nil, fmt.Errorf("new claude chat model: %w", err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Name)
	}
}

func convertMessages(req Request) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, schema.SystemMessage(req.SystemInstruction))
	}
	for _, msg := range req.History {
		switch msg.Role {
		case models.RoleAssistant:
			messages = append(messages, schema.AssistantMessage(msg.Content, nil))
		default:
			messages = append(messages, schema.UserMessage(msg.Content))
		}
	}
	messages = append(messages, schema.UserMessage(req.NewMessage))
	return messages
}
