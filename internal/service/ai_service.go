package service

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"gradeglide_backend/internal/config"
	"gradeglide_backend/pkg/logger"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// ImagePart 随提示词一起发送的图片
type ImagePart struct {
	MIMEType string
	Data     []byte
}

// ModelClient 托管大模型的最小调用契约：输入提示词和可选图片，返回原始文本
type ModelClient interface {
	Name() string
	Generate(ctx context.Context, prompt string, images ...ImagePart) (string, error)
}

// NewModelClient APIKey 为空时返回 nil，表示未配置模型
func NewModelClient(ctx context.Context, cfg config.AIConfig) (ModelClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, nil
	}
	switch cfg.Provider {
	case "openai":
		return NewAIService(cfg), nil
	case "gemini", "":
		c, err := NewGeminiClient(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported ai provider %q", cfg.Provider)
	}
}

// ModelProvider 持有当前模型客户端，配置热更新时整体替换
type ModelProvider struct {
	mu      sync.RWMutex
	current *modelLease
	timeout time.Duration
}

// modelLease 记录正在使用某个客户端的调用数，替换后等调用结束再关闭
type modelLease struct {
	client ModelClient
	inUse  sync.WaitGroup
}

func NewModelProvider(client ModelClient, timeout time.Duration) *ModelProvider {
	return &ModelProvider{current: &modelLease{client: client}, timeout: timeout}
}

// Acquire 取当前客户端，调用结束后必须执行 release
func (p *ModelProvider) Acquire() (ModelClient, time.Duration, func()) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	lease := p.current
	lease.inUse.Add(1)
	return lease.client, p.timeout, lease.inUse.Done
}

func (p *ModelProvider) Swap(client ModelClient, timeout time.Duration) {
	p.mu.Lock()
	old := p.current
	p.current = &modelLease{client: client}
	p.timeout = timeout
	p.mu.Unlock()

	closer, ok := old.client.(io.Closer)
	if !ok || old.client == client {
		return
	}
	// 替换后旧租约不会再增加计数，等进行中的调用结束再关闭
	go func() {
		old.inUse.Wait()
		if err := closer.Close(); err != nil {
			logger.Log.Warn("Failed to close previous model client", zap.Error(err))
		}
	}()
}

// Reload 根据新配置重建客户端
func (p *ModelProvider) Reload(ctx context.Context, cfg config.AIConfig) error {
	client, err := NewModelClient(ctx, cfg)
	if err != nil {
		return err
	}
	p.Swap(client, cfg.Timeout())
	return nil
}

// GeminiClient Google Gemini 实现
type GeminiClient struct {
	model       string
	temperature float32
	client      *genai.Client
}

func NewGeminiClient(ctx context.Context, cfg config.AIConfig) (*GeminiClient, error) {
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	return &GeminiClient{model: cfg.Model, temperature: cfg.Temperature, client: cl}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) Generate(ctx context.Context, prompt string, images ...ImagePart) (string, error) {
	m := g.client.GenerativeModel(g.model)
	temp := g.temperature
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      &temp,
		ResponseMIMEType: "application/json",
	}

	parts := []genai.Part{genai.Text(prompt)}
	for _, img := range images {
		parts = append(parts, &genai.Blob{MIMEType: img.MIMEType, Data: img.Data})
	}

	resp, err := m.GenerateContent(ctx, parts...)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	txt := firstText(resp)
	if txt == "" {
		return "", fmt.Errorf("gemini generate: empty response")
	}
	return txt, nil
}

func (g *GeminiClient) Close() error {
	return g.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok {
				return string(t)
			}
		}
	}
	return ""
}

// AIService OpenAI 兼容的 /chat/completions 实现
type AIService struct {
	config config.AIConfig
	client *http.Client
}

func NewAIService(cfg config.AIConfig) *AIService {
	return &AIService{config: cfg, client: &http.Client{}}
}

type AIChatMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type ChatCompletionRequest struct {
	Model       string          `json:"model"`
	Messages    []AIChatMessage `json:"messages"`
	Temperature float32         `json:"temperature"`
}

type ChatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *AIService) Name() string { return "openai" }

func (s *AIService) Generate(ctx context.Context, prompt string, images ...ImagePart) (string, error) {
	var content interface{} = prompt
	if len(images) > 0 {
		parts := []chatContentPart{{Type: "text", Text: prompt}}
		for _, img := range images {
			url := "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
			parts = append(parts, chatContentPart{Type: "image_url", ImageURL: &chatImageURL{URL: url}})
		}
		content = parts
	}

	reqBody := ChatCompletionRequest{
		Model: s.config.Model,
		Messages: []AIChatMessage{
			{Role: "system", Content: "You are a precise exam grading assistant. Reply with JSON only."},
			{Role: "user", Content: content},
		},
		Temperature: s.config.Temperature,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return "", err
	}

	baseURL := strings.TrimRight(s.config.BaseURL, "/")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("AI API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result ChatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return "", err
	}
	if result.Error != nil {
		return "", fmt.Errorf("AI API error: %s", result.Error.Message)
	}

	if len(result.Choices) > 0 {
		return result.Choices[0].Message.Content, nil
	}

	return "", fmt.Errorf("AI returned no choices")
}
