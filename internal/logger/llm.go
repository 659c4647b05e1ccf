package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync"
)

var (
	llmMu          sync.Mutex
	llmLog         *log.Logger
	llmDumpPayload bool
)

// SetLLMWriter directs the full reasoning-engine audit trail (prompts, raw
// responses, tool transcripts) to w. Nil disables the trail.
func SetLLMWriter(w io.Writer) {
	llmMu.Lock()
	defer llmMu.Unlock()
	if w == nil {
		llmLog = nil
		return
	}
	llmLog = log.New(w, "", log.LstdFlags)
}

func EnableLLMPayloadDump(enabled bool) {
	llmMu.Lock()
	llmDumpPayload = enabled
	llmMu.Unlock()
}

type llmSection struct {
	Title string
	Body  string
}

func logLLM(kind, trigger string, sections []llmSection) {
	llmMu.Lock()
	out := llmLog
	llmMu.Unlock()
	if out == nil {
		return
	}
	var b strings.Builder
	b.WriteString("[LLM]")
	if kind != "" {
		b.WriteString("[" + kind + "]")
	}
	if trigger != "" {
		b.WriteString("[" + trigger + "]")
	}
	b.WriteString("\n")
	for _, sec := range sections {
		t := strings.TrimSpace(sec.Title)
		if t == "" {
			t = "CONTENT"
		}
		b.WriteString("--- " + t + " ---\n")
		b.WriteString(sec.Body)
		if !strings.HasSuffix(sec.Body, "\n") {
			b.WriteString("\n")
		}
	}
	b.WriteString("=====\n")
	out.Print(b.String())
}

// LogLLMRequest records one reasoning-engine round: the user prompt plus,
// when payload dumping is on, the serialized request body.
func LogLLMRequest(trigger, userPrompt, payload string) {
	sections := []llmSection{{Title: "USER", Body: userPrompt}}
	if llmDumpPayload && strings.TrimSpace(payload) != "" {
		sections = append(sections, llmSection{Title: "PAYLOAD", Body: payload})
	}
	logLLM("request", trigger, sections)
}

// LogLLMResponse records the raw engine answer for one round.
func LogLLMResponse(trigger, raw string) {
	logLLM("response", trigger, []llmSection{{Title: "RAW", Body: raw}})
}

// LogLLMToolCall records a single tool invocation made on behalf of the
// engine, with its (possibly truncated) result.
func LogLLMToolCall(trigger, tool, args, result string) {
	logLLM("tool", trigger, []llmSection{
		{Title: "CALL", Body: fmt.Sprintf("%s %s", tool, args)},
		{Title: "RESULT", Body: result},
	})
}
