package automation_test

import (
	"chatflow-gateway/internal/automation"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func rule(id string, kind automation.TriggerKind, value string) automation.CompiledRule {
	return automation.CompiledRule{
		ID:      id,
		Trigger: automation.Trigger{Kind: kind, Value: value},
		Action:  automation.Action{Kind: automation.ActionReply, NodeID: id},
		Enabled: true,
	}
}

func ids(rules []automation.CompiledRule) []string {
	out := []string{}
	for _, r := range rules {
		out = append(out, r.ID)
	}
	return out
}

var _ = Describe("Match", func() {
	DescribeTable("evaluates trigger predicates on normalized text",
		func(kind automation.TriggerKind, value, text string, expected bool) {
			matched := automation.Match(text, "whatsapp", []automation.CompiledRule{rule("r", kind, value)})
			Expect(len(matched) == 1).To(Equal(expected))
		},
		Entry("exact ignores case and spaces", automation.TriggerExact, "Hello", "  hello ", true),
		Entry("exact rejects longer text", automation.TriggerExact, "hello", "hello there", false),
		Entry("contains", automation.TriggerContains, "price", "What is the PRICE?", true),
		Entry("keyword behaves like contains", automation.TriggerKeyword, "menu", "show me the menu", true),
		Entry("starts_with", automation.TriggerStartsWith, "book", "Book a table", true),
		Entry("starts_with rejects infix", automation.TriggerStartsWith, "book", "I want to book", false),
		Entry("not_contains", automation.TriggerNotContains, "stop", "keep going", true),
		Entry("not_contains rejects", automation.TriggerNotContains, "stop", "please STOP", false),
		Entry("any", automation.TriggerAny, "", "whatever", true),
		Entry("unknown kind never matches", automation.TriggerKind("regex"), ".*", "anything", false),
	)

	It("returns only specific matches when a catch-all also matches", func() {
		rules := []automation.CompiledRule{
			rule("catch", automation.TriggerAny, ""),
			rule("one", automation.TriggerExact, "1"),
			rule("also", automation.TriggerContains, "1"),
		}
		Expect(ids(automation.Match("1", "whatsapp", rules))).To(Equal([]string{"one", "also"}))
	})

	It("falls back to the catch-all rules", func() {
		rules := []automation.CompiledRule{
			rule("catch", automation.TriggerAny, ""),
			rule("one", automation.TriggerExact, "1"),
		}
		Expect(ids(automation.Match("hello", "whatsapp", rules))).To(Equal([]string{"catch"}))
	})

	It("filters by platform", func() {
		all := rule("all", automation.TriggerAny, "")
		tg := rule("tg", automation.TriggerAny, "")
		tg.Platforms = []string{"telegram"}
		rules := []automation.CompiledRule{all, tg}

		Expect(ids(automation.Match("hi", "whatsapp", rules))).To(Equal([]string{"all"}))
		Expect(ids(automation.Match("hi", "telegram", rules))).To(Equal([]string{"all", "tg"}))
	})

	It("drops disabled rules", func() {
		r := rule("off", automation.TriggerAny, "")
		r.Enabled = false
		Expect(automation.Match("hi", "whatsapp", []automation.CompiledRule{r})).To(BeEmpty())
	})

	It("ANDs secondary conditions honoring negation", func() {
		yes := rule("yes", automation.TriggerContains, "price")
		yes.Conditions = []automation.SecondaryCondition{{Kind: automation.TriggerContains, Value: "vip"}}
		no := rule("no", automation.TriggerContains, "price")
		no.Conditions = []automation.SecondaryCondition{{Kind: automation.TriggerContains, Value: "vip", Negate: true}}
		rules := []automation.CompiledRule{yes, no}

		Expect(ids(automation.Match("vip price please", "whatsapp", rules))).To(Equal([]string{"yes"}))
		Expect(ids(automation.Match("price please", "whatsapp", rules))).To(Equal([]string{"no"}))
	})

	It("ignores rules waiting for input until resumed", func() {
		waiting := rule("after-input", automation.TriggerAny, "")
		waiting.AwaitInput = "in1"
		other := rule("other", automation.TriggerAny, "")
		other.AwaitInput = "in2"
		rules := []automation.CompiledRule{waiting, other}

		Expect(automation.Match("ana@example.com", "whatsapp", rules)).To(BeEmpty())
		Expect(ids(automation.MatchResumed("ana@example.com", "whatsapp", "in1", rules))).To(Equal([]string{"after-input"}))
		Expect(automation.MatchResumed("x", "whatsapp", "", rules)).To(BeEmpty())
	})
})

var _ = Describe("ValidateInput", func() {
	DescribeTable("validates captured values",
		func(kind, value string, expected bool) {
			Expect(automation.ValidateInput(kind, value)).To(Equal(expected))
		},
		Entry("text accepts anything non-empty", "text", "hi", true),
		Entry("empty is always invalid", "text", "   ", false),
		Entry("email", "email", "ana@example.com", true),
		Entry("email without domain dot", "email", "ana@example", false),
		Entry("email garbage", "email", "not an email", false),
		Entry("number", "number", "12.5", true),
		Entry("number with comma", "number", "12,5", true),
		Entry("number rejects words", "number", "twelve", false),
		Entry("phone", "phone", "+34 600-123-456", true),
		Entry("phone too short", "phone", "123", false),
		Entry("regex", "regex:^[A-Z]{3}$", "ABC", true),
		Entry("regex mismatch", "regex:^[A-Z]{3}$", "abcd", false),
		Entry("broken regex", "regex:[", "x", false),
	)
})
