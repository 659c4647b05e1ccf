package app

// User prompts for the scheduled scans. The system prompt per trigger comes
// from the prompt registry and can be overridden in the prompt file.
const (
	portfolioScanPrompt = "Review the current portfolio positions. Check each position's " +
		"price action against its cost basis and stop level, flag anything that needs " +
		"attention, and propose adjustments only where the evidence is strong."

	marketScanPrompt = "Scan the market for notable moves: unusual volume, sector rotation, " +
		"and large gaps among liquid large caps. Summarize what matters and whether any of " +
		"it is actionable today."

	tradeIdeasPrompt = "Look for one or two high-conviction trade setups among liquid US " +
		"equities. For each idea state the entry, stop and target, and why now. If nothing " +
		"meets the bar, say so."
)
