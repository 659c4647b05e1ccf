package orchestrator

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradeguard/internal/ai"
	"tradeguard/internal/config"
	"tradeguard/internal/logger"
	"tradeguard/internal/mcp"
	"tradeguard/internal/pkg/text"
	"tradeguard/internal/store"
	"tradeguard/internal/store/model"
	"tradeguard/internal/trade"
)

// Per-result byte cap before feeding tool output back into the model.
const toolResultLimit = 8000

const truncationMarker = "... (truncated)"

const inconclusiveAnswer = "I could not reach a conclusion within the reasoning budget. " +
	"Try a narrower question or run the analysis again."

// ToolSource is the slice of the tool registry the engine needs.
type ToolSource interface {
	Tools() []mcp.ToolDescriptor
	Call(ctx context.Context, name string, args map[string]any) (json.RawMessage, error)
}

// PromptSource resolves the system prompt for a trigger kind.
type PromptSource interface {
	System(trigger string) string
}

// ToolCallRecord is one tool invocation made during a run, kept for audit.
type ToolCallRecord struct {
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	IsError    bool            `json:"is_error,omitempty"`
}

// Result is one finished reasoning run.
type Result struct {
	TraceID   string
	Answer    string
	Signals   []trade.Signal
	Rounds    int
	ToolCalls []ToolCallRecord
	TokensIn  int
	TokensOut int
}

// Engine drives the multi-round reasoning loop: model call, tool execution,
// feed results back, repeat until the model answers in prose or the round
// budget runs out.
type Engine struct {
	completer ai.Completer
	tools     ToolSource
	prompts   PromptSource
	store     store.Store
	maxRounds int
}

func NewEngine(cfg config.EngineConfig, completer ai.Completer, tools ToolSource, prompts PromptSource, st store.Store) *Engine {
	return &Engine{
		completer: completer,
		tools:     tools,
		prompts:   prompts,
		store:     st,
		maxRounds: cfg.MaxRounds,
	}
}

// Run executes one full reasoning pass. Hitting the round budget is a
// degraded answer, not an error; only transport and model failures are.
func (e *Engine) Run(ctx context.Context, trigger, userPrompt string) (*Result, error) {
	started := time.Now()
	result := &Result{TraceID: uuid.NewString()}

	messages := []ai.Message{ai.UserText(userPrompt)}
	toolDefs := e.toolDefs()
	system := e.prompts.System(trigger)

	if payload, err := json.Marshal(messages); err == nil {
		logger.LogLLMRequest(trigger, userPrompt, string(payload))
	}

	var sourceURLs []string
	for round := 1; round <= e.maxRounds; round++ {
		resp, err := e.completer.Complete(ctx, &ai.Request{
			System:   system,
			Messages: messages,
			Tools:    toolDefs,
		})
		if err != nil {
			return nil, err
		}
		result.Rounds = round
		result.TokensIn += resp.Usage.InputTokens
		result.TokensOut += resp.Usage.OutputTokens
		logger.LogLLMResponse(trigger, resp.Text())

		if resp.StopReason != ai.StopToolUse {
			e.finish(ctx, result, trigger, userPrompt, resp.Text(), sourceURLs, started)
			return result, nil
		}

		messages = append(messages, ai.Message{Role: ai.RoleAssistant, Content: resp.Content})
		results := make([]ai.ContentBlock, 0, len(resp.ToolUses()))
		for _, tu := range resp.ToolUses() {
			results = append(results, e.execute(ctx, trigger, tu, result, &sourceURLs))
		}
		messages = append(messages, ai.Message{Role: ai.RoleUser, Content: results})
	}

	logger.Warnf("orchestrator: run %s exhausted %d rounds", result.TraceID, e.maxRounds)
	e.finish(ctx, result, trigger, userPrompt, inconclusiveAnswer, nil, started)
	return result, nil
}

// execute runs one requested tool and shapes the outcome into a tool_result
// block. Tool failures go back to the model as error results so it can
// adapt; they never abort the round.
func (e *Engine) execute(ctx context.Context, trigger string, tu ai.ContentBlock, result *Result, sourceURLs *[]string) ai.ContentBlock {
	var args map[string]any
	if len(tu.Input) > 0 {
		if err := json.Unmarshal(tu.Input, &args); err != nil {
			return ai.ToolResultBlock(tu.ID, "tool error: malformed arguments: "+err.Error(), true)
		}
	}

	started := time.Now()
	raw, err := e.tools.Call(ctx, tu.Name, args)
	record := ToolCallRecord{
		Name:       tu.Name,
		Args:       tu.Input,
		DurationMs: time.Since(started).Milliseconds(),
		IsError:    err != nil,
	}
	result.ToolCalls = append(result.ToolCalls, record)

	if err != nil {
		logger.LogLLMToolCall(trigger, tu.Name, string(tu.Input), "ERROR: "+err.Error())
		return ai.ToolResultBlock(tu.ID, "tool error: "+err.Error(), true)
	}

	*sourceURLs = append(*sourceURLs, CollectSources(raw)...)
	content := text.TruncateWithMarker(string(raw), toolResultLimit, truncationMarker)
	logger.LogLLMToolCall(trigger, tu.Name, string(tu.Input), content)
	return ai.ToolResultBlock(tu.ID, content, false)
}

func (e *Engine) finish(ctx context.Context, result *Result, trigger, userPrompt, answer string, sourceURLs []string, started time.Time) {
	signals, cleaned := ExtractSignals(answer)
	if !strings.Contains(cleaned, "<a href=") {
		cleaned += SourcesFooter(sourceURLs)
	}
	result.Answer = cleaned
	result.Signals = signals

	calls, _ := json.Marshal(result.ToolCalls)
	logEntry := &model.AnalysisLogModel{
		TraceID:    result.TraceID,
		Trigger:    trigger,
		Prompt:     userPrompt,
		Answer:     result.Answer,
		Rounds:     result.Rounds,
		ToolCalls:  calls,
		TokensIn:   result.TokensIn,
		TokensOut:  result.TokensOut,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err := e.store.SaveAnalysis(ctx, logEntry); err != nil {
		logger.Warnf("orchestrator: analysis log not saved: %v", err)
	}
}

func (e *Engine) toolDefs() []ai.Tool {
	descs := e.tools.Tools()
	defs := make([]ai.Tool, 0, len(descs))
	for _, d := range descs {
		schema := d.InputSchema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		defs = append(defs, ai.Tool{Name: d.Name, Description: d.Description, InputSchema: schema})
	}
	return defs
}
