package core

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/tmc/langchaingo/schema"
)

type openAIOptions struct {
	APIKey     string
	Model      string // deployment name on Azure
	BaseURL    string
	APIVersion string
	Azure      bool
}

type openAILLM struct {
	llm *openai.LLM
}

func newOpenAILLM(opts openAIOptions) (*openAILLM, error) {
	clientOpts := []openai.Option{openai.WithToken(opts.APIKey)}
	if opts.Model != "" {
		clientOpts = append(clientOpts, openai.WithModel(opts.Model))
	}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(opts.BaseURL))
	}
	if opts.Azure {
		clientOpts = append(clientOpts,
			openai.WithAPIType(openai.APITypeAzure),
			openai.WithAPIVersion(opts.APIVersion),
		)
	}

	llm, err := openai.New(clientOpts...)
	if err != nil {
		return nil, err
	}
	return &openAILLM{llm: llm}, nil
}

func (o *openAILLM) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	content := make([]llms.MessageContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := schema.ChatMessageTypeHuman
		switch m.Role {
		case RoleSystem:
			role = schema.ChatMessageTypeSystem
		case RoleAssistant:
			role = schema.ChatMessageTypeAI
		}
		content = append(content, llms.TextParts(role, m.Content))
	}

	callOpts := []llms.CallOption{llms.WithTemperature(req.Temperature)}
	if req.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(req.MaxTokens))
	}

	resp, err := o.llm.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return "", fmt.Errorf("openai GenerateContent failed: %w", err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Content == "" {
		return "", fmt.Errorf("openai response had no choices")
	}
	return resp.Choices[0].Content, nil
}
