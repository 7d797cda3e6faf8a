package automation

import "strings"

// Match returns the rules triggered by text on platform. Rules that wait
// for captured input are never matched here.
//
// When at least one specific (non-any) rule matches, only the specific
// matches are returned; otherwise the catch-all matches are.
func Match(text, platform string, rules []CompiledRule) []CompiledRule {
	return match(normalize(text), platform, rules, true, func(r CompiledRule) bool {
		return r.AwaitInput == ""
	})
}

// MatchResumed returns, in order, the rules waiting on inputNodeID whose
// conditions accept the captured value.
func MatchResumed(value, platform, inputNodeID string, rules []CompiledRule) []CompiledRule {
	if inputNodeID == "" {
		return nil
	}
	return match(normalize(value), platform, rules, false, func(r CompiledRule) bool {
		return r.AwaitInput == inputNodeID
	})
}

func match(text, platform string, rules []CompiledRule, partition bool, keep func(CompiledRule) bool) []CompiledRule {
	var specific, catchAll []CompiledRule
	for _, r := range rules {
		if !r.Enabled || !r.MatchesPlatform(platform) || !keep(r) {
			continue
		}
		if !r.matchesText(text) {
			continue
		}
		if partition && r.Trigger.Kind == TriggerAny {
			catchAll = append(catchAll, r)
		} else {
			specific = append(specific, r)
		}
	}
	if len(specific) > 0 {
		return specific
	}
	return catchAll
}

// matchesText evaluates the trigger and every secondary condition against
// already normalized text. Resumed rules only check their conditions.
func (r CompiledRule) matchesText(text string) bool {
	if r.AwaitInput == "" && !matchPredicate(r.Trigger.Kind, text, r.Trigger.Value) {
		return false
	}
	for _, c := range r.Conditions {
		if matchPredicate(c.Kind, text, c.Value) == c.Negate {
			return false
		}
	}
	return true
}

// matchPredicate applies one predicate kind; unknown kinds never match.
func matchPredicate(kind TriggerKind, text, value string) bool {
	value = normalize(value)
	switch kind {
	case TriggerExact:
		return text == value
	case TriggerContains, TriggerKeyword:
		return strings.Contains(text, value)
	case TriggerStartsWith:
		return strings.HasPrefix(text, value)
	case TriggerNotContains:
		return !strings.Contains(text, value)
	case TriggerAny:
		return true
	default:
		return false
	}
}
