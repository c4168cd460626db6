// Package chat implements a grounded chat loop: the model answers from
// passages it retrieves through a search tool.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/spetr/localchat/pkg/types"
)

// Default values
const (
	DefaultMaxResults    = 5
	DefaultMaxToolRounds = 4
	DefaultTimeout       = 5 * time.Minute

	searchToolName = "search"
)

// DefaultSystemPrompt grounds answers in retrieved passages.
const DefaultSystemPrompt = `You are an assistant who answers questions about information you retrieve.
Do not answer questions about anything else.
Use only simple markdown to format your responses.

Use the search tool to find relevant information. When you do this, end your
reply with citations in the special XML format:

<citation filename='string' page_number='number'>exact quote here</citation>

Always include the citation in your response if there are results.

The quote must be max 5 words, taken word-for-word from the search result, and is the basis for why the citation is relevant.
Don't refer to the presence of citations; just emit these tags right at the end, with no surrounding text.`

// Completer creates chat completions. *openai.Client satisfies it.
type Completer interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Searcher runs semantic search for the tool.
type Searcher interface {
	Search(ctx context.Context, query, filename string, maxResults int) ([]*types.SearchResult, error)
}

// Suggester proposes known source names for a filename filter that matched nothing.
type Suggester interface {
	SuggestSources(ctx context.Context, query string, limit int) ([]string, error)
}

// Config contains chat session configuration.
type Config struct {
	Client        Completer
	Searcher      Searcher
	Model         string
	SystemPrompt  string // empty = DefaultSystemPrompt
	MaxResults    int
	MaxToolRounds int
	Timeout       time.Duration // per completion
}

// NewClient creates an OpenAI-compatible client for baseURL.
func NewClient(baseURL, apiKey string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return openai.NewClientWithConfig(cfg)
}

// Session holds one conversation.
type Session struct {
	config   Config
	messages []openai.ChatCompletionMessage
}

// NewSession starts a conversation with only the system prompt.
func NewSession(cfg Config) (*Session, error) {
	if cfg.Client == nil || cfg.Searcher == nil {
		return nil, fmt.Errorf("%w: chat needs a client and a searcher", types.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: chat model is empty", types.ErrInvalidConfig)
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	s := &Session{config: cfg}
	s.Reset()
	return s, nil
}

// Reset clears the history.
func (s *Session) Reset() {
	s.messages = []openai.ChatCompletionMessage{{
		Role:    openai.ChatMessageRoleSystem,
		Content: s.config.SystemPrompt,
	}}
}

// Messages returns a copy of the history.
func (s *Session) Messages() []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// Ask sends one user turn and returns the model's final answer. Tool calls
// are executed until the model answers without one; after MaxToolRounds the
// tool is withdrawn so the model has to answer. On error the turn is dropped
// from the history.
func (s *Session) Ask(ctx context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("%w: empty message", types.ErrInvalidArgument)
	}

	mark := len(s.messages)
	s.messages = append(s.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: text,
	})

	answer, err := s.complete(ctx)
	if err != nil {
		s.messages = s.messages[:mark]
		return "", err
	}
	return answer, nil
}

func (s *Session) complete(ctx context.Context) (string, error) {
	for round := 0; ; round++ {
		req := openai.ChatCompletionRequest{
			Model:    s.config.Model,
			Messages: s.messages,
		}
		if round < s.config.MaxToolRounds {
			req.Tools = []openai.Tool{searchTool()}
		}

		callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		resp, err := s.config.Client.CreateChatCompletion(callCtx, req)
		cancel()
		if err != nil {
			return "", fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 {
			return "", errors.New("chat completion: no choices returned")
		}

		msg := resp.Choices[0].Message
		s.messages = append(s.messages, msg)

		if len(msg.ToolCalls) == 0 {
			return msg.Content, nil
		}

		for _, call := range msg.ToolCalls {
			s.messages = append(s.messages, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    s.runTool(ctx, call),
				Name:       call.Function.Name,
				ToolCallID: call.ID,
			})
		}
	}
}

// searchArgs are the arguments of the search tool.
type searchArgs struct {
	SearchPhrase   string `json:"searchPhrase"`
	FilenameFilter string `json:"filenameFilter,omitempty"`
}

func searchTool() openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        searchToolName,
			Description: "Searches for information using a phrase or keyword",
			Parameters: jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"searchPhrase": {
						Type:        jsonschema.String,
						Description: "The phrase to search for.",
					},
					"filenameFilter": {
						Type:        jsonschema.String,
						Description: "If possible, specify the filename to search that file only. If not provided or empty, the search includes all files.",
					},
				},
				Required: []string{"searchPhrase"},
			},
		},
	}
}

// runTool executes one tool call. Failures are reported to the model as text.
func (s *Session) runTool(ctx context.Context, call openai.ToolCall) string {
	if call.Function.Name != searchToolName {
		return fmt.Sprintf("error: unknown tool %q", call.Function.Name)
	}

	var args searchArgs
	if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
		return fmt.Sprintf("error: invalid arguments: %v", err)
	}

	slog.Debug("search tool called", "phrase", args.SearchPhrase, "filename", args.FilenameFilter)

	results, err := s.config.Searcher.Search(ctx, args.SearchPhrase, args.FilenameFilter, s.config.MaxResults)
	if err != nil {
		slog.Warn("search tool failed", "error", err)
		return fmt.Sprintf("error: %v", err)
	}

	if len(results) == 0 && args.FilenameFilter != "" {
		if sg, ok := s.config.Searcher.(Suggester); ok {
			names, err := sg.SuggestSources(ctx, args.FilenameFilter, 3)
			if err == nil && len(names) > 0 {
				return fmt.Sprintf("No results in %q. Known files with similar names: %s",
					args.FilenameFilter, strings.Join(names, ", "))
			}
		}
	}
	return FormatResults(results)
}

// FormatResults renders results as <result> elements, one per line.
func FormatResults(results []*types.SearchResult) string {
	if len(results) == 0 {
		return "No results."
	}
	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "<result filename=\"%s\" page_number=\"%d\">%s</result>",
			html.EscapeString(r.Record.SourceName), r.Record.Position, r.Record.Text)
	}
	return b.String()
}
