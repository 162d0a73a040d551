package agent

import "strings"

// basePersona is the instruction block shared by every mode.
const basePersona = `You are Sahayak, an assistant for Indian farmers and rural users.
Answer in simple, direct language. Prefer the user's own language and script.
Use the available tools for live data instead of guessing; if a tool fails,
say what you could not look up. Never invent prices, forecasts, or scheme rules.`

// modeAddenda customizes the persona per conversation mode. Modes map
// one-to-one to the domain tool families.
var modeAddenda = map[string]string{
	"weather": `Focus on weather guidance: forecasts, sowing and harvest timing,
and warnings about rain, heat, or frost relevant to farm work.`,
	"market": `Focus on mandi prices and market guidance: current commodity rates,
price trends, and where the user can get better prices.`,
	"scheme": `Focus on government schemes: eligibility, benefits, and how to apply.
Point the user to the scheme name and required documents.`,
}

// systemPrompt assembles the system instruction block for a mode.
// Unknown modes fall back to the base persona alone.
func systemPrompt(mode string) string {
	addendum, ok := modeAddenda[mode]
	if !ok {
		return basePersona
	}
	var sb strings.Builder
	sb.WriteString(basePersona)
	sb.WriteString("\n\n")
	sb.WriteString(addendum)
	return sb.String()
}
