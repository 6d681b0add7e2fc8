package assistant

import "strings"

// disclosurePatterns match attempts to extract system instructions. A hit
// short-circuits every later stage with a fixed refusal.
var disclosurePatterns = []string{
	"system prompt",
	"your instructions",
	"your prompt",
	"ignore previous",
	"ignore all previous",
	"reveal your",
	"initial instructions",
	"you were told",
}

const disclosureRefusal = "I'm here to help you set up and use your workflow templates. Ask me about credentials, configuration, testing, or troubleshooting."

func matchesDisclosure(question string) bool {
	q := strings.ToLower(question)
	for _, p := range disclosurePatterns {
		if strings.Contains(q, p) {
			return true
		}
	}
	return false
}

// fallbackPattern is one entry in the hand-authored instructional library.
type fallbackPattern struct {
	keywords   []string
	category   string
	confidence float64
	response   string
}

// contextBoost is added when template context is present and the matched
// pattern is domain-specific; the boosted score can cross the LLM
// short-circuit threshold.
const contextBoost = 0.1

var fallbackPatterns = []fallbackPattern{
	{
		keywords:   []string{"credential", "api key", "authentication", "auth token"},
		category:   "credentials",
		confidence: 0.85,
		response: "To connect a service, open the workflow editor, click the node that needs access, and choose \"Create New Credential\". " +
			"Paste the API key or complete the OAuth flow for that service, then save. Credentials are stored once and reused by every workflow.",
	},
	{
		keywords:   []string{"openai", "gpt", "chatgpt"},
		category:   "configuration",
		confidence: 0.8,
		response: "For OpenAI nodes you need an API key from platform.openai.com. Add it as an OpenAI credential, select the model in the node settings, " +
			"and keep an eye on your usage limits — template runs fail with a 429 when the quota is exhausted.",
	},
	{
		keywords:   []string{"slack"},
		category:   "configuration",
		confidence: 0.8,
		response: "Slack nodes need a Slack app with a bot token. Create one at api.slack.com/apps, grant it the chat:write scope, install it to your " +
			"workspace, and paste the bot token into a new Slack credential. Invite the bot to the channel it should post in.",
	},
	{
		keywords:   []string{"webhook", "trigger url"},
		category:   "configuration",
		confidence: 0.75,
		response: "Webhook triggers expose a unique URL once the workflow is activated. Use the test URL while building (it only listens during " +
			"\"Listen for event\") and switch callers to the production URL after activation.",
	},
	{
		keywords:   []string{"test", "testing", "try it"},
		category:   "testing",
		confidence: 0.7,
		response: "Use \"Execute Workflow\" to run the template once with pinned sample data. Check each node's output panel from left to right — " +
			"the first red node is where the configuration needs attention.",
	},
	{
		keywords:   []string{"error", "failed", "not working", "doesn't work", "broken"},
		category:   "troubleshooting",
		confidence: 0.6,
		response: "Open the execution log and find the first failing node. Most failures are expired credentials or a changed upstream data shape. " +
			"Re-run with the same input after fixing; successful nodes keep their pinned data.",
	},
	{
		keywords:   []string{"schedule", "cron", "every day", "interval"},
		category:   "configuration",
		confidence: 0.75,
		response: "Schedule triggers run the workflow on an interval or cron expression. Remember the workflow must be activated — scheduled runs " +
			"do not fire while it is inactive, and times are evaluated in the instance timezone.",
	},
	{
		keywords:   []string{"install", "import", "set up", "setup", "get started"},
		category:   "configuration",
		confidence: 0.65,
		response: "After purchase, download the template JSON and import it via \"Import from File\" in the editor. Work through the nodes once to " +
			"attach your own credentials, run a test execution, then activate.",
	},
}

// domainKeywords are service names whose co-occurrence with template context
// indicates the question is about this template specifically.
var domainKeywords = []string{"openai", "slack", "webhook", "credential", "gmail", "sheets", "telegram", "http"}

// matchFallback returns the best-scoring pattern for a question, or nil.
func matchFallback(question string, hasTemplateContext bool) (*fallbackPattern, float64) {
	q := strings.ToLower(question)

	var best *fallbackPattern
	var bestConf float64
	for i := range fallbackPatterns {
		p := &fallbackPatterns[i]
		for _, kw := range p.keywords {
			if !strings.Contains(q, kw) {
				continue
			}
			conf := p.confidence
			if hasTemplateContext && containsAny(q, domainKeywords) {
				conf += contextBoost
			}
			if conf > bestConf {
				best = p
				bestConf = conf
			}
			break
		}
	}
	return best, bestConf
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// classify derives the interaction category used for analytics and the
// learning aggregate.
func classify(question string) string {
	q := strings.ToLower(question)
	switch {
	case containsAny(q, []string{"credential", "api key", "token", "password", "auth"}):
		return "credentials"
	case containsAny(q, []string{"test", "try", "execute", "run"}):
		return "testing"
	case containsAny(q, []string{"configure", "config", "setting", "set up", "setup", "install", "schedule"}):
		return "configuration"
	case containsAny(q, []string{"error", "fail", "broken", "not working", "doesn't work", "issue", "problem"}):
		return "troubleshooting"
	default:
		return "general"
	}
}
