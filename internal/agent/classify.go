package agent

import (
	"regexp"
	"strings"

	"turnkit/internal/state"
)

// Rule is one weighted pattern of a heuristic classifier.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Weight  int
}

// TaskType is the kind of work a request asks for.
type TaskType string

const (
	TaskCreate   TaskType = "create"
	TaskModify   TaskType = "modify"
	TaskDebug    TaskType = "debug"
	TaskRefactor TaskType = "refactor"
	TaskTest     TaskType = "test"
)

// ComplexityRules flag requests that warrant multi-step execution.
var ComplexityRules = []Rule{
	{Name: "multi-step", Pattern: regexp.MustCompile(`(?i)\b(step[- ]by[- ]step|multiple steps|several steps|first\b.+\bthen\b|end[- ]to[- ]end)`), Weight: 2},
	{Name: "full-application", Pattern: regexp.MustCompile(`(?i)\b(full|complete|entire|whole)\s+(application|app|project|system|stack|website)\b`), Weight: 3},
	{Name: "multi-file", Pattern: regexp.MustCompile(`(?i)\b(multiple|several|many)\s+(files|components|modules|pages|services)\b`), Weight: 2},
	{Name: "compound-technical", Pattern: regexp.MustCompile(`(?i)\b(authentication|authorization|database|backend|frontend|api|deployment|ci/cd)\b.*\b(and|with|plus)\b.*\b(authentication|authorization|database|backend|frontend|api|integration|deployment|tests?)\b`), Weight: 2},
	{Name: "quality", Pattern: regexp.MustCompile(`(?i)\b(production[- ]ready|best practices|scalable|robust|enterprise|well[- ]tested|with tests)\b`), Weight: 1},
}

// TaskTypeRules are evaluated in order; the first match wins.
var TaskTypeRules = []struct {
	Type    TaskType
	Pattern *regexp.Regexp
}{
	{TaskDebug, regexp.MustCompile(`(?i)\b(error|errors|bug|bugs|fix|fixes|debug|broken|crash(es|ing)?|not working|exception|fails?)\b`)},
	{TaskRefactor, regexp.MustCompile(`(?i)\b(refactor|refactoring|restructure|reorganize|clean ?up|simplify)\b`)},
	{TaskTest, regexp.MustCompile(`(?i)\b(write|add|create)\s+(unit\s+|integration\s+)?tests?\b|\btest coverage\b`)},
	{TaskModify, regexp.MustCompile(`(?i)\b(modify|change|update|extend|improve|rename|replace|add\s+\w+\s+to)\b`)},
}

var (
	conjunctionRe = regexp.MustCompile(`(?i)\b(and|also|plus)\b`)

	requirementPatterns = []phrasePattern{
		{regexp.MustCompile(`(?i)\b(?:must|should|needs? to|has to|have to)\s+([^.,;!?\n]+)`), ""},
		{regexp.MustCompile(`(?i)\b(?:make sure|ensure)\s+(?:that\s+)?([^.,;!?\n]+)`), ""},
	}
	constraintPatterns = []phrasePattern{
		{regexp.MustCompile(`(?i)\b(?:without|avoid|do not|don't|never)\s+([^.,;!?\n]+)`), "Avoid: "},
		{regexp.MustCompile(`(?i)\b(?:only use|limited to|no more than)\s+([^.,;!?\n]+)`), "Limit: "},
	}
)

// phrasePattern captures a phrase in group 1 and labels it with prefix.
type phrasePattern struct {
	re     *regexp.Regexp
	prefix string
}

type keywordMapping struct {
	pattern *regexp.Regexp
	text    string
}

var requirementKeywords = []keywordMapping{
	{regexp.MustCompile(`(?i)\breact\b`), "Use React framework"},
	{regexp.MustCompile(`(?i)\bvue\b`), "Use Vue framework"},
	{regexp.MustCompile(`(?i)\btypescript\b`), "Use TypeScript"},
	{regexp.MustCompile(`(?i)\btailwind\b`), "Use Tailwind CSS for styling"},
	{regexp.MustCompile(`(?i)\bgolang\b|\b(?:in|using|with|write|written in)\s+go\b|\bgo\s+(?:code|module|service|program|package|backend|server|cli|library)\b`), "Use Go"},
	{regexp.MustCompile(`(?i)\bpython\b`), "Use Python"},
	{regexp.MustCompile(`(?i)\bresponsive\b`), "Implement responsive design"},
	{regexp.MustCompile(`(?i)\b(authentication|login|sign[- ]?in)\b`), "Implement user authentication"},
	{regexp.MustCompile(`(?i)\bdatabase\b`), "Include database integration"},
	{regexp.MustCompile(`(?i)\b(rest\s+)?api\b`), "Expose an API"},
	{regexp.MustCompile(`(?i)\btests?\b`), "Include tests"},
	{regexp.MustCompile(`(?i)\bproduction[- ]ready\b`), "Production-ready code quality"},
}

var constraintKeywords = []keywordMapping{
	{regexp.MustCompile(`(?i)\b(lightweight|minimal|no dependencies)\b`), "Keep dependencies minimal"},
	{regexp.MustCompile(`(?i)\b(fast|performance|performant)\b`), "Optimize for performance"},
	{regexp.MustCompile(`(?i)\b(accessible|accessibility|a11y)\b`), "Follow accessibility guidelines"},
	{regexp.MustCompile(`(?i)\b(secure|security)\b`), "Follow security best practices"},
	{regexp.MustCompile(`(?i)\bbackward[s]? compatib`), "Preserve backward compatibility"},
}

// Classifier decides whether a request goes through the agent engine.
type Classifier struct {
	Rules            []Rule
	Threshold        int
	LongMessageWords int
}

// NewClassifier returns the default rule set.
func NewClassifier() *Classifier {
	return &Classifier{Rules: ComplexityRules, Threshold: 1, LongMessageWords: 30}
}

// Score sums the weights of the matching rules and names them.
func (c *Classifier) Score(text string) (int, []string) {
	score := 0
	var matched []string
	for _, r := range c.Rules {
		if r.Pattern.MatchString(text) {
			score += r.Weight
			matched = append(matched, r.Name)
		}
	}
	return score, matched
}

// IsComplex applies the rules, then the long-and-compound fallback.
func (c *Classifier) IsComplex(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	if score, _ := c.Score(text); score >= c.Threshold && score > 0 {
		return true
	}
	return len(strings.Fields(text)) > c.LongMessageWords && conjunctionRe.MatchString(text)
}

// ClassifyTaskType returns the first matching task type, defaulting to create.
func ClassifyTaskType(text string) TaskType {
	for _, r := range TaskTypeRules {
		if r.Pattern.MatchString(text) {
			return r.Type
		}
	}
	return TaskCreate
}

// ExtractRequirements returns deduplicated requirement phrases.
func ExtractRequirements(text string) []string {
	return extract(text, requirementPatterns, requirementKeywords)
}

// ExtractConstraints returns deduplicated constraint phrases.
func ExtractConstraints(text string) []string {
	return extract(text, constraintPatterns, constraintKeywords)
}

func extract(text string, patterns []phrasePattern, keywords []keywordMapping) []string {
	out := []string{}
	seen := map[string]bool{}
	add := func(s string) {
		s = strings.TrimSpace(s)
		key := strings.ToLower(s)
		if s == "" || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, s)
	}
	for _, p := range patterns {
		for _, m := range p.re.FindAllStringSubmatch(text, -1) {
			if len(m) > 1 {
				add(p.prefix + strings.TrimSpace(m[1]))
			}
		}
	}
	for _, k := range keywords {
		if k.pattern.MatchString(text) {
			add(k.text)
		}
	}
	return out
}

// LastUserText returns the text of the most recent user message.
func LastUserText(messages []state.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == state.RoleUser {
			return messages[i].Text()
		}
	}
	return ""
}
