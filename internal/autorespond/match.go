package autorespond

import (
	"regexp"
	"strings"

	"github.com/parrothq/parrot/internal/rules"
)

// MatchRules evaluates every rule against the message and returns all that
// match. No rule short-circuits the others; a broken rule simply never
// matches.
func MatchRules(guildRules []rules.Rule, msg Message) []rules.Rule {
	var matched []rules.Rule
	for _, rule := range guildRules {
		if ruleMatches(rule, msg) {
			matched = append(matched, rule)
		}
	}
	return matched
}

func ruleMatches(rule rules.Rule, msg Message) bool {
	if rule.ChannelID != "" && rule.ChannelID != msg.ChannelID {
		return false
	}
	if !rule.Actionable() {
		return false
	}

	haystack := msg.Content
	needle := rule.Trigger
	if !rule.CaseSensitive {
		haystack = strings.ToLower(haystack)
		needle = strings.ToLower(needle)
	}

	switch rule.MatchMode {
	case rules.MatchEquals:
		return needle != "" && haystack == needle
	case rules.MatchStartsWith:
		return needle != "" && strings.HasPrefix(haystack, needle)
	case rules.MatchRegex:
		return regexMatches(rule.Trigger, rule.CaseSensitive, msg.Content)
	default:
		// contains is the default mode; an empty trigger would match
		// every message, so it never matches.
		return needle != "" && strings.Contains(haystack, needle)
	}
}

// regexMatches compiles the trigger on every evaluation; an invalid pattern
// never matches and never fails the batch.
func regexMatches(pattern string, caseSensitive bool, content string) bool {
	if pattern == "" {
		return false
	}
	if !caseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(content)
}
