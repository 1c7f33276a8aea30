// Package completion calls an OpenAI-compatible chat completion service.
package completion

import (
	"context"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/sirupsen/logrus"

	"github.com/whatsapp-automation/orchestrator/internal/apperr"
)

const (
	DefaultModel     = "gpt-4o-mini"
	DefaultMaxTokens = 500
	requestTimeout   = 30 * time.Second
)

// DefaultSystemPrompt is used when neither the session nor the
// configuration provides one.
const DefaultSystemPrompt = `Você é o assistente virtual oficial de atendimento ao cliente.

Seja sempre cordial, empático e profissional. Responda de forma clara e objetiva, identifique o interesse do cliente em internet, plano de saúde ou combo e, havendo interesse, peça o nome completo para que um consultor entre em contato.
Nunca invente informações: se não souber algo, seja honesto e ofereça contato com um especialista.

Responda sempre em português brasileiro de forma natural e amigável. Mantenha respostas concisas (máximo 3 parágrafos).`

type Options struct {
	BaseURL   string
	APIKey    string
	Model     string
	MaxTokens int
}

// Client is a synchronous completion caller. A client without an API key
// is valid and fails every call with CompletionUnavailable.
type Client struct {
	api       openai.Client
	model     string
	maxTokens int
	enabled   bool
	log       *logrus.Entry
}

func New(opts Options, log *logrus.Entry) *Client {
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(opts.APIKey),
		option.WithRequestTimeout(requestTimeout),
		option.WithMaxRetries(1),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(opts.BaseURL))
	}

	c := &Client{
		api:       openai.NewClient(reqOpts...),
		model:     opts.Model,
		maxTokens: opts.MaxTokens,
		enabled:   opts.APIKey != "",
		log:       log,
	}
	if !c.enabled {
		log.Warn("[Completion] No API key configured, auto-replies outside the sales flow are disabled")
	}
	return c
}

func (c *Client) Enabled() bool { return c.enabled }

// Complete asks for one reply. history is the rendered conversation so far
// and may be empty.
func (c *Client) Complete(ctx context.Context, system, history, user string) (string, error) {
	if !c.enabled {
		return "", apperr.CompletionUnavailable.Withf("completion api key not configured")
	}
	if system == "" {
		system = DefaultSystemPrompt
	}

	messages := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(system)}
	if strings.TrimSpace(history) != "" {
		messages = append(messages, openai.SystemMessage("Histórico recente da conversa:\n"+history))
	}
	messages = append(messages, openai.UserMessage(user))

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(c.model),
		Messages:  messages,
		MaxTokens: openai.Int(int64(c.maxTokens)),
	})
	if err != nil {
		return "", apperr.CompletionUnavailable.Wrap(err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", apperr.CompletionUnavailable.Withf("completion returned no content")
	}

	c.log.WithFields(logrus.Fields{
		"model":    c.model,
		"tokens":   resp.Usage.TotalTokens,
		"duration": time.Since(start).Round(time.Millisecond),
	}).Debug("[Completion] Reply generated")
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
