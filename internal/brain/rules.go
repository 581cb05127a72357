package brain

import (
	"regexp"
	"strconv"
	"strings"
)

// planRule is one entry in the rules-first matcher. Rules are tried in
// order; the first whose pattern matches and whose extracted input validates
// wins.
type planRule struct {
	tool       string
	confidence float64
	patterns   []*regexp.Regexp

	// extract builds the tool input from the first matching pattern's named
	// groups. groups holds the named captures; message is the full text.
	extract func(groups map[string]string, message string, reqCtx map[string]string) map[string]any
}

// namedGroups maps a pattern's named captures for a match of message.
func namedGroups(re *regexp.Regexp, message string) (map[string]string, bool) {
	match := re.FindStringSubmatch(message)
	if match == nil {
		return nil, false
	}
	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if name != "" && i < len(match) {
			groups[name] = strings.TrimSpace(match[i])
		}
	}
	return groups, true
}

func parseAmount(raw string) float64 {
	amount, err := strconv.ParseFloat(strings.TrimPrefix(raw, "$"), 64)
	if err != nil {
		return 0
	}
	return amount
}

// defaultRules covers the shipped catalogue. Patterns are deliberately
// narrow; anything they miss falls through to the LLM planner or an empty
// plan with a reason.
func defaultRules() []planRule {
	return []planRule{
		{
			tool:       "os.health_check",
			confidence: 0.95,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\bhealth\s*check\b`),
				regexp.MustCompile(`(?i)\bis the system (?:up|ok|healthy)\b`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				return map[string]any{}
			},
		},
		{
			tool:       "leads.create",
			confidence: 0.9,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:new|create|add)\s+lead[:\s]+(?P<name>[A-Za-z][A-Za-z' -]*?)[,\s]+(?P<phone>\+?\d[\d ]{7,})[,\s]+(?:in\s+)?(?P<suburb>[A-Za-z][A-Za-z ]*)`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				source := reqCtx["source"]
				if source == "" {
					source = "chat"
				}
				return map[string]any{
					"name":   groups["name"],
					"phone":  strings.ReplaceAll(groups["phone"], " ", ""),
					"suburb": groups["suburb"],
					"source": source,
				}
			},
		},
		{
			tool:       "leads.update_stage",
			confidence: 0.9,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:move|set|mark)\s+lead\s+(?P<lead_id>\S+)\s+(?:to|as)\s+(?P<stage>new|contacted|inspection_booked|quoted|won|lost)\b`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				return map[string]any{
					"lead_id": groups["lead_id"],
					"stage":   strings.ToLower(groups["stage"]),
				}
			},
		},
		{
			tool:       "leads.get",
			confidence: 0.85,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:show|get|fetch)\s+lead\s+(?P<lead_id>\S+)`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				return map[string]any{"lead_id": groups["lead_id"]}
			},
		},
		{
			tool:       "inspections.schedule",
			confidence: 0.85,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)book\s+inspection\s+(?P<booking_ref>\S+)(?:\s+for\s+lead\s+(?P<lead_id>\S+))?\s+at\s+(?P<scheduled_at>\S+)`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				input := map[string]any{
					"booking_ref":  groups["booking_ref"],
					"scheduled_at": groups["scheduled_at"],
				}
				if groups["lead_id"] != "" {
					input["lead_id"] = groups["lead_id"]
				}
				return input
			},
		},
		{
			tool:       "quotes.create",
			confidence: 0.85,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:create|raise)\s+quote\s+(?P<quote_ref>\S+)(?:\s+for\s+lead\s+(?P<lead_id>\S+))?\s+(?:at|for)\s+(?P<amount>\$?\d+(?:\.\d+)?)`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				input := map[string]any{
					"quote_ref": groups["quote_ref"],
					"amount":    parseAmount(groups["amount"]),
				}
				if groups["lead_id"] != "" {
					input["lead_id"] = groups["lead_id"]
				}
				return input
			},
		},
		{
			tool:       "quotes.accept",
			confidence: 0.9,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)accept\s+quote\s+(?P<quote_id>\S+)`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				return map[string]any{"quote_id": groups["quote_id"]}
			},
		},
		{
			tool:       "jobs.create",
			confidence: 0.85,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:create|schedule)\s+job\s+(?P<job_ref>\S+)(?:\s+from\s+quote\s+(?P<quote_id>\S+))?\s+(?:at|on)\s+(?P<scheduled_at>\S+)`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				input := map[string]any{
					"job_ref":      groups["job_ref"],
					"scheduled_at": groups["scheduled_at"],
				}
				if groups["quote_id"] != "" {
					input["quote_id"] = groups["quote_id"]
				}
				return input
			},
		},
		{
			tool:       "jobs.update_stage",
			confidence: 0.9,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:move|set|mark)\s+job\s+(?P<job_id>\S+)\s+(?:to|as)\s+(?P<stage>scheduled|in_progress|completed|cancelled)\b`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				return map[string]any{
					"job_id": groups["job_id"],
					"stage":  strings.ToLower(groups["stage"]),
				}
			},
		},
		{
			tool:       "invoices.create",
			confidence: 0.85,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:invoice|bill)\s+job\s+(?P<job_id>\S+)\s+for\s+(?P<amount>\$?\d+(?:\.\d+)?)\s+ref\s+(?P<invoice_ref>\S+)`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				return map[string]any{
					"job_id":      groups["job_id"],
					"amount":      parseAmount(groups["amount"]),
					"invoice_ref": groups["invoice_ref"],
				}
			},
		},
		{
			tool:       "invoices.mark_paid",
			confidence: 0.9,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)mark\s+invoice\s+(?P<invoice_id>\S+)\s+(?:as\s+)?paid`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				return map[string]any{"invoice_id": groups["invoice_id"]}
			},
		},
		{
			tool:       "comms.send_sms",
			confidence: 0.85,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:send\s+)?sms\s+(?:to\s+)?(?P<to>\+?\d{6,})[:,]?\s+(?P<body>.+)$`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				return map[string]any{
					"to":   groups["to"],
					"body": groups["body"],
				}
			},
		},
		{
			tool:       "comms.send_email",
			confidence: 0.85,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(?:send\s+)?email\s+(?:to\s+)?(?P<to>\S+@\S+?)\s+subject\s+(?P<subject>.+?)\s*:\s*(?P<body>.+)$`),
			},
			extract: func(groups map[string]string, message string, reqCtx map[string]string) map[string]any {
				return map[string]any{
					"to":      groups["to"],
					"subject": groups["subject"],
					"body":    groups["body"],
				}
			},
		},
	}
}
