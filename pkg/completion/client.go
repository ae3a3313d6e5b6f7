// Package completion wraps the external completion service behind our own
// request/response types so the synthesis engine never touches SDK types.
package completion

import (
	"context"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrNoCredentials indicates the client was constructed without an API key.
// Callers select the deterministic fallback path instead of failing.
var ErrNoCredentials = eris.New("completion: no api key configured")

// Request is a single completion call.
type Request struct {
	System    string
	Prompt    string
	MaxTokens int64
}

// Response carries the text of a completion and its token usage.
type Response struct {
	Text  string
	Usage Usage
}

// Usage tracks token consumption for cost logging.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// Log emits structured usage for one call.
func (u Usage) Log(model, phase string) {
	zap.L().Info("completion usage",
		zap.String("model", model),
		zap.String("phase", phase),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
	)
}

// Client defines the completion operation used by synthesis.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Available reports whether the client can make calls at all; false
	// routes synthesis straight to the fallback path.
	Available() bool
}

type sdkClient struct {
	client sdk.Client
	model  string
	apiKey string
}

// NewClient creates a completion client backed by the Anthropic SDK. An
// empty apiKey yields a client whose calls return ErrNoCredentials.
func NewClient(apiKey, model string) Client {
	return &sdkClient{
		client: sdk.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
		apiKey: apiKey,
	}
}

func (c *sdkClient) Available() bool {
	return c.apiKey != ""
}

func (c *sdkClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if !c.Available() {
		return nil, ErrNoCredentials
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: maxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "completion: create message")
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	return &Response{
		Text: text,
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}, nil
}
