// Package agent runs the conversational loop: it carries the conversation
// history to the model, lets the model call the governance tools, and returns
// the final text for the turn.
package agent

import (
	"context"
	"errors"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"
	"golang.org/x/time/rate"

	"github.com/idclerk/idclerk/internal/log"
)

// FallbackResponseMessage is returned when the model produces an empty
// response with no tool requests.
const FallbackResponseMessage = "I couldn't produce a response for that. Please try rephrasing your request."

// systemPrompt frames every conversation. Selection of identities and access
// objects happens in text: the model presents numbered lists and the user
// answers in words, there is no clickable UI.
const systemPrompt = `You are an identity governance assistant. You help users request access to roles, check the status of their access requests, and look up identities.

Rules:
- Use searchIdentitiesOnName to resolve people by name. When several identities match, present them as a numbered list (name, display name, email) and ask the user to pick one by number or name.
- Use searchAccessObject to find requestable roles. Present matches as a numbered list with their descriptions.
- Call submitAccessRequest only after the user has confirmed both who the access is for and which items to request.
- If a tool reports that an access request already exists, tell the user and ask them to change the selection before submitting again.
- Use checkAccessRequestStatus when the user asks about pending or in-flight requests.
- Never invent identity or access object IDs. Use only IDs returned by the tools in this conversation.
- Answer in the same language as the user.`

// Response is the complete result of one conversation turn.
//
// ToolResponses is aligned with ToolRequests: entry i answers request i,
// matched by ref, and is nil when the turn ended before the tool ran.
// TurnMessages carries every message the turn produced after the user input
// (tool requests, tool results, the closing model text) so callers can
// persist the full exchange, not just the final text.
type Response struct {
	FinalText     string
	ToolRequests  []*ai.ToolRequest
	ToolResponses []*ai.ToolResponse
	TurnMessages  []*ai.Message
}

// StreamCallback is called for each chunk of a streaming response. Returning
// an error aborts the stream.
type StreamCallback func(ctx context.Context, chunk *ai.ModelResponseChunk) error

// Config contains all required parameters for an Agent.
type Config struct {
	Genkit *genkit.Genkit
	Logger log.Logger
	Tools  []ai.Tool // pre-registered via tools.Register

	Model    string // full model name, e.g. "googleai/gemini-2.5-flash"
	MaxTurns int    // maximum agentic loop turns

	RetryConfig RetryConfig   // zero value uses defaults
	RateLimiter *rate.Limiter // optional, nil uses a default limiter
}

func (cfg Config) validate() error {
	if cfg.Genkit == nil {
		return errors.New("genkit instance is required")
	}
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if len(cfg.Tools) == 0 {
		return errors.New("at least one tool is required")
	}
	if cfg.Model == "" {
		return errors.New("model name is required")
	}
	return nil
}

// Agent is the conversational engine. It is stateless across turns; callers
// supply the history. All configuration is captured at construction, so an
// Agent is safe for concurrent use.
type Agent struct {
	g        *genkit.Genkit
	logger   log.Logger
	toolRefs []ai.ToolRef
	tools    string // comma-separated names, cached for logging

	model    string
	maxTurns int

	retryConfig RetryConfig
	rateLimiter *rate.Limiter
}

// New creates an Agent.
func New(cfg Config) (*Agent, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	maxTurns := cfg.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 5
	}

	retryConfig := cfg.RetryConfig
	if retryConfig.MaxRetries == 0 {
		retryConfig = DefaultRetryConfig()
	}

	// Default: 10 requests/sec sustained, burst of 30.
	rl := cfg.RateLimiter
	if rl == nil {
		rl = rate.NewLimiter(10, 30)
	}

	toolRefs := make([]ai.ToolRef, len(cfg.Tools))
	names := make([]string, len(cfg.Tools))
	for i, t := range cfg.Tools {
		toolRefs[i] = t
		names[i] = t.Name()
	}

	a := &Agent{
		g:           cfg.Genkit,
		logger:      cfg.Logger,
		toolRefs:    toolRefs,
		tools:       strings.Join(names, ", "),
		model:       cfg.Model,
		maxTurns:    maxTurns,
		retryConfig: retryConfig,
		rateLimiter: rl,
	}

	a.logger.Info("agent initialized",
		"model", a.model,
		"tools", a.tools,
		"maxTurns", a.maxTurns,
	)
	return a, nil
}

// Execute runs one conversation turn without streaming.
func (a *Agent) Execute(ctx context.Context, history []*ai.Message, input string) (*Response, error) {
	return a.ExecuteStream(ctx, history, input, nil)
}

// ExecuteStream runs one conversation turn. If callback is non-nil it is
// called for each response chunk as it is generated; the final response is
// returned either way.
func (a *Agent) ExecuteStream(ctx context.Context, history []*ai.Message, input string, callback StreamCallback) (*Response, error) {
	// Deep copy: Genkit's renderMessages mutates msg.Content in place, so
	// concurrent turns sharing history objects would race.
	messages := deepCopyMessages(history)
	messages = append(messages, ai.NewUserMessage(ai.NewTextPart(input)))

	opts := []ai.GenerateOption{
		ai.WithModelName(a.model),
		ai.WithSystem(systemPrompt),
		ai.WithMessages(messages...),
		ai.WithTools(a.toolRefs...),
		ai.WithMaxTurns(a.maxTurns),
	}
	if callback != nil {
		opts = append(opts, ai.WithStreaming(ai.ModelStreamCallback(callback)))
	}

	a.logger.Debug("executing turn",
		"historyMessages", len(history),
		"inputLength", len(input),
		"streaming", callback != nil,
	)

	resp, err := a.generateWithRetry(ctx, opts)
	if err != nil {
		return nil, err
	}

	turn := turnMessages(resp.History())
	requests, responses := toolPairs(turn)

	text := resp.Text()
	if strings.TrimSpace(text) == "" && len(requests) == 0 {
		a.logger.Warn("model returned empty response with no tool requests")
		text = FallbackResponseMessage
		turn = append(turn, ai.NewModelMessage(ai.NewTextPart(text)))
	}

	return &Response{
		FinalText:     text,
		ToolRequests:  requests,
		ToolResponses: responses,
		TurnMessages:  turn,
	}, nil
}

// turnMessages returns the suffix of the generation history after the last
// user message: the model's tool requests, the tool results, and the closing
// model text.
func turnMessages(history []*ai.Message) []*ai.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == ai.RoleUser {
			return history[i+1:]
		}
	}
	return nil
}

// toolPairs collects the turn's tool requests in call order and pairs each
// with its response. Responses are matched by ref when the model assigned
// one, otherwise by name in arrival order.
func toolPairs(turn []*ai.Message) ([]*ai.ToolRequest, []*ai.ToolResponse) {
	var requests []*ai.ToolRequest
	var arrived []*ai.ToolResponse
	for _, msg := range turn {
		for _, part := range msg.Content {
			if part.ToolRequest != nil {
				requests = append(requests, part.ToolRequest)
			}
			if part.ToolResponse != nil {
				arrived = append(arrived, part.ToolResponse)
			}
		}
	}
	if requests == nil {
		return nil, nil
	}

	responses := make([]*ai.ToolResponse, len(requests))
	claimed := make([]bool, len(arrived))
	for i, req := range requests {
		for j, res := range arrived {
			if claimed[j] || res.Name != req.Name {
				continue
			}
			if req.Ref != "" && res.Ref != req.Ref {
				continue
			}
			responses[i] = res
			claimed[j] = true
			break
		}
	}
	return requests, responses
}

// deepCopyMessages creates independent copies of Message and Part structs so
// generation never mutates the caller's history.
func deepCopyMessages(msgs []*ai.Message) []*ai.Message {
	if msgs == nil {
		return nil
	}
	copied := make([]*ai.Message, len(msgs))
	for i, msg := range msgs {
		parts := make([]*ai.Part, len(msg.Content))
		for j, part := range msg.Content {
			parts[j] = deepCopyPart(part)
		}
		copied[i] = &ai.Message{
			Role:     msg.Role,
			Content:  parts,
			Metadata: shallowCopyMap(msg.Metadata),
		}
	}
	return copied
}

// deepCopyPart copies one part. ToolRequest.Input and ToolResponse.Output are
// type any and copied by reference; generation does not mutate tool data.
func deepCopyPart(p *ai.Part) *ai.Part {
	if p == nil {
		return nil
	}
	cp := &ai.Part{
		Kind:        p.Kind,
		ContentType: p.ContentType,
		Text:        p.Text,
		Custom:      shallowCopyMap(p.Custom),
		Metadata:    shallowCopyMap(p.Metadata),
	}
	if p.ToolRequest != nil {
		cp.ToolRequest = &ai.ToolRequest{
			Input: p.ToolRequest.Input,
			Name:  p.ToolRequest.Name,
			Ref:   p.ToolRequest.Ref,
		}
	}
	if p.ToolResponse != nil {
		cp.ToolResponse = &ai.ToolResponse{
			Name:   p.ToolResponse.Name,
			Output: p.ToolResponse.Output,
			Ref:    p.ToolResponse.Ref,
		}
	}
	if p.Resource != nil {
		cp.Resource = &ai.ResourcePart{Uri: p.Resource.Uri}
	}
	return cp
}

func shallowCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}
