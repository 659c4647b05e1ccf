package orchestrator

import (
	"encoding/json"
	"regexp"
	"strings"

	"tradeguard/internal/logger"
	"tradeguard/internal/pkg/jsonutil"
	"tradeguard/internal/trade"
)

var signalFence = regexp.MustCompile("(?s)```trade_signal\\s*(.*?)```")

// ExtractSignals pulls every ```trade_signal fenced block out of the answer,
// parses each into a structured signal, and returns the answer with the
// blocks stripped. Malformed blocks are dropped with a warning; the
// surrounding prose always survives.
func ExtractSignals(answer string) ([]trade.Signal, string) {
	var signals []trade.Signal
	cleaned := signalFence.ReplaceAllStringFunc(answer, func(block string) string {
		m := signalFence.FindStringSubmatch(block)
		if len(m) != 2 {
			return ""
		}
		payload, ok := jsonutil.ExtractJSONObject(m[1])
		if !ok {
			logger.Warnf("orchestrator: trade_signal block without JSON object dropped")
			return ""
		}
		var sig trade.Signal
		if err := json.Unmarshal([]byte(payload), &sig); err != nil {
			logger.Warnf("orchestrator: unparseable trade_signal block dropped: %v", err)
			return ""
		}
		sig.Normalize()
		if err := sig.Validate(); err != nil {
			logger.Warnf("orchestrator: invalid trade_signal dropped: %v", err)
			return ""
		}
		signals = append(signals, sig)
		return ""
	})

	// Collapse the blank runs left behind by stripped blocks.
	cleaned = regexp.MustCompile(`\n{3,}`).ReplaceAllString(cleaned, "\n\n")
	return signals, strings.TrimSpace(cleaned)
}
