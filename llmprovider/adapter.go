// Package llmprovider bridges iris LLM providers to the ai.complete built-in
// tool.
package llmprovider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	iriscore "github.com/petal-labs/iris/core"

	"github.com/piyushagarwal-55/flowforge/tool"
)

// Completer wraps an iris Provider to implement tool.Completer.
type Completer struct {
	provider iriscore.Provider
	model    string
}

var _ tool.Completer = (*Completer)(nil)

// NewCompleterFromProvider wraps an already constructed provider. model is
// used when a request does not name one.
func NewCompleterFromProvider(provider iriscore.Provider, model string) *Completer {
	return &Completer{provider: provider, model: model}
}

// ProviderID returns the wrapped provider's id.
func (c *Completer) ProviderID() string {
	return c.provider.ID()
}

// Complete sends a single-turn chat request and returns the output text.
func (c *Completer) Complete(ctx context.Context, req tool.CompletionRequest) (string, error) {
	chatReq, err := c.toRequest(req)
	if err != nil {
		return "", err
	}

	resp, err := c.provider.Chat(ctx, chatReq)
	if err != nil {
		return "", tool.NewError(tool.ErrorCodeUpstreamFailure, fmt.Sprintf("%s chat failed", c.provider.ID()), err)
	}
	if resp == nil {
		return "", tool.NewError(tool.ErrorCodeUpstreamFailure, fmt.Sprintf("%s returned no response", c.provider.ID()), nil)
	}
	return resp.Output, nil
}

func (c *Completer) toRequest(req tool.CompletionRequest) (*iriscore.ChatRequest, error) {
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.model
	}
	if model == "" {
		return nil, tool.NewError(tool.ErrorCodeInvalidInput, "ai.complete: no model configured", errors.New("model is empty"))
	}

	messages := make([]iriscore.Message, 0, 2)
	if req.System != "" {
		messages = append(messages, iriscore.Message{
			Role:    iriscore.RoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, iriscore.Message{
		Role:    iriscore.RoleUser,
		Content: req.Prompt,
	})

	return &iriscore.ChatRequest{
		Model:    iriscore.ModelID(model),
		Messages: messages,
	}, nil
}
