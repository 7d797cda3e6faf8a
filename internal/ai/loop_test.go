package ai_test

import (
	"context"
	"errors"
	"strings"
	"time"

	"chatflow-gateway/internal/ai"
	"chatflow-gateway/internal/domain"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// scriptedModel answers with the scripted responses in order and records
// every request.
type scriptedModel struct {
	responses []*ai.Response
	requests  []ai.Request
	err       error
}

func (m *scriptedModel) ChatWithTools(_ context.Context, req ai.Request) (*ai.Response, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.responses) == 0 {
		return &ai.Response{Content: "done"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

func (m *scriptedModel) Model() string { return "scripted" }

func toolCall(id, name, args string) *ai.Response {
	return &ai.Response{ToolCalls: []ai.ToolCall{{ID: id, Name: name, Arguments: args}}}
}

type fakeCatalog struct {
	services []domain.Service
	err      error
}

func (f *fakeCatalog) ListServices(context.Context, string) ([]domain.Service, error) {
	return f.services, f.err
}

var _ = Describe("MentionsPrice", func() {
	DescribeTable("detects price questions",
		func(text string, expected bool) {
			Expect(ai.MentionsPrice(text)).To(Equal(expected))
		},
		Entry("english price", "What is the PRICE of a haircut?", true),
		Entry("english how much", "how much for nails", true),
		Entry("spanish accented", "¿Cuánto cuesta?", true),
		Entry("spanish plain", "cuanto sale", true),
		Entry("portuguese", "quanto custa o corte?", true),
		Entry("greeting", "hello there", false),
		Entry("empty", "", false),
	)
})

var _ = Describe("Loop", func() {
	var (
		ctx   context.Context
		model *scriptedModel
		calls []ai.ToolCall
		exec  ai.ToolExecutor
		msgs  []ai.Message
	)

	BeforeEach(func() {
		ctx = context.Background()
		model = &scriptedModel{}
		calls = nil
		exec = func(_ context.Context, call ai.ToolCall) (string, error) {
			calls = append(calls, call)
			return `[{"id":1,"name":"Cut","price":20}]`, nil
		}
		msgs = []ai.Message{{Role: ai.RoleSystem, Content: "sys"}, {Role: ai.RoleUser, Content: "hi"}}
	})

	It("returns the answer when the model needs no tools", func() {
		model.responses = []*ai.Response{{Content: "  hello  "}}
		answer, err := ai.Loop{}.Run(ctx, model, msgs, ai.Tools(), "hi", exec)
		Expect(err).NotTo(HaveOccurred())
		Expect(answer).To(Equal("hello"))
		Expect(model.requests).To(HaveLen(1))
		Expect(model.requests[0].ForceTool).To(BeEmpty())
	})

	It("forces getServices on the first call when the user asks about prices", func() {
		model.responses = []*ai.Response{
			toolCall("c1", ai.ToolGetServices, "{}"),
			{Content: "A cut costs 20."},
		}
		answer, err := ai.Loop{}.Run(ctx, model, msgs, ai.Tools(), "how much is a cut?", exec)
		Expect(err).NotTo(HaveOccurred())
		Expect(answer).To(Equal("A cut costs 20."))

		Expect(model.requests).To(HaveLen(2))
		Expect(model.requests[0].ForceTool).To(Equal(ai.ToolGetServices))
		Expect(model.requests[1].ForceTool).To(BeEmpty())
		Expect(calls).To(HaveLen(1))
		Expect(calls[0].Name).To(Equal(ai.ToolGetServices))
	})

	It("appends the assistant request and the tool result before calling again", func() {
		model.responses = []*ai.Response{
			toolCall("c1", ai.ToolGetSchedule, ""),
			{Content: "We open at 9."},
		}
		_, err := ai.Loop{}.Run(ctx, model, msgs, ai.Tools(), "when do you open?", exec)
		Expect(err).NotTo(HaveOccurred())

		second := model.requests[1].Messages
		Expect(second).To(HaveLen(4))
		Expect(second[2].Role).To(Equal(ai.RoleAssistant))
		Expect(second[2].ToolCalls).To(HaveLen(1))
		Expect(second[3].Role).To(Equal(ai.RoleTool))
		Expect(second[3].ToolCallID).To(Equal("c1"))
	})

	It("feeds tool failures back to the model as results", func() {
		exec = func(context.Context, ai.ToolCall) (string, error) {
			return "", errors.New("calendar offline")
		}
		model.responses = []*ai.Response{
			toolCall("c1", ai.ToolGetAvailableSlots, `{"service_id":1}`),
			{Content: "Sorry, I cannot check right now."},
		}
		answer, err := ai.Loop{}.Run(ctx, model, msgs, ai.Tools(), "any slot tomorrow?", exec)
		Expect(err).NotTo(HaveOccurred())
		Expect(answer).To(Equal("Sorry, I cannot check right now."))
		Expect(model.requests[1].Messages[3].Content).To(Equal("Error: calendar offline"))
	})

	It("gives up after the iteration limit", func() {
		for i := 0; i < 10; i++ {
			model.responses = append(model.responses, toolCall("c", ai.ToolGetSchedule, ""))
		}
		answer, err := ai.Loop{MaxIterations: 3}.Run(ctx, model, msgs, ai.Tools(), "hours?", exec)
		Expect(err).To(MatchError(ai.ErrIterationLimit))
		Expect(answer).To(BeEmpty())
		Expect(model.requests).To(HaveLen(3))
	})

	It("calls the model once without tools when none are offered", func() {
		model.responses = []*ai.Response{{Content: "plain"}}
		answer, err := ai.Loop{}.Run(ctx, model, msgs, nil, "how much?", exec)
		Expect(err).NotTo(HaveOccurred())
		Expect(answer).To(Equal("plain"))
		Expect(model.requests[0].Tools).To(BeEmpty())
		Expect(model.requests[0].ForceTool).To(BeEmpty())
	})

	It("wraps model errors", func() {
		model.err = errors.New("boom")
		_, err := ai.Loop{}.Run(ctx, model, msgs, ai.Tools(), "hi", exec)
		Expect(err).To(MatchError(ContainSubstring("boom")))
	})
})

var _ = Describe("Responder", func() {
	It("forces a getServices call before answering a price question", func() {
		model := &scriptedModel{responses: []*ai.Response{
			toolCall("c1", ai.ToolGetServices, ""),
			{Content: "Cut: 20 EUR"},
		}}
		catalog := &fakeCatalog{services: []domain.Service{{ID: 1, Name: "Cut", Price: 20, Currency: "EUR"}}}
		r := &ai.Responder{
			Model:   model,
			Toolbox: &ai.Toolbox{Catalog: catalog},
			Now:     func() time.Time { return time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC) },
		}

		answer, err := r.Respond(context.Background(), ai.Turn{BotID: "b1", Text: "What are your prices?"})
		Expect(err).NotTo(HaveOccurred())
		Expect(answer).To(Equal("Cut: 20 EUR"))
		Expect(model.requests[0].ForceTool).To(Equal(ai.ToolGetServices))
		Expect(model.requests[1].Messages[len(model.requests[1].Messages)-1].Content).To(ContainSubstring(`"name":"Cut"`))
	})

	It("returns ErrNoModel without a default model", func() {
		r := &ai.Responder{}
		_, err := r.Respond(context.Background(), ai.Turn{BotID: "b1", Text: "hi"})
		Expect(err).To(MatchError(ai.ErrNoModel))
	})

	It("uses the custom model without tools for caller supplied endpoints", func() {
		custom := &scriptedModel{responses: []*ai.Response{{Content: "custom"}}}
		var got ai.Config
		r := &ai.Responder{
			Toolbox: &ai.Toolbox{},
			NewModel: func(cfg ai.Config) (ai.Model, error) {
				got = cfg
				return custom, nil
			},
		}
		answer, err := r.Respond(context.Background(), ai.Turn{
			BotID:  "b1",
			Text:   "how much?",
			Custom: &ai.Config{APIKey: "k", BaseURL: "http://llm.local/v1", Model: "m"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(answer).To(Equal("custom"))
		Expect(got.BaseURL).To(Equal("http://llm.local/v1"))
		Expect(custom.requests[0].Tools).To(BeEmpty())
		Expect(strings.Contains(custom.requests[0].Messages[0].Content, "use the tools")).To(BeFalse())
	})
})
