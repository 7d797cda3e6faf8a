package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"chatflow-gateway/internal/api"
	"chatflow-gateway/internal/automation"
	"chatflow-gateway/internal/database"
	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/transport"
)

type sentText struct {
	To, Text string
}

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentText
}

func (f *fakeTransport) SendText(_ context.Context, to, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentText{To: to, Text: text})
	return nil
}

func (f *fakeTransport) SendMedia(context.Context, string, transport.MediaKind, string, string) error {
	return nil
}

func (f *fakeTransport) SendMenu(context.Context, string, string, []string) error { return nil }

func (f *fakeTransport) SetPresence(context.Context, string, bool) error { return nil }

func (f *fakeTransport) Platform() transport.Platform { return transport.PlatformWhatsApp }

func (f *fakeTransport) Logout(context.Context) error { return nil }

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) texts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.sent...)
}

// fakeConnector opens transports that report connected right away.
type fakeConnector struct {
	transport *fakeTransport
}

func (f *fakeConnector) Platform() transport.Platform { return transport.PlatformWhatsApp }

func (f *fakeConnector) Connect(ctx context.Context, botID string, _ session.Options, events chan<- transport.Event) (transport.Transport, error) {
	go func() {
		select {
		case events <- transport.Event{Kind: transport.EventOpen, DeviceID: "device-" + botID}:
		case <-ctx.Done():
		}
	}()
	return f.transport, nil
}

func (f *fakeConnector) HasCredentials(string, session.Options) bool { return true }

func (f *fakeConnector) PurgeCredentials(string) error { return nil }

type nopHandler struct{}

func (nopHandler) HandleInbound(context.Context, string, transport.Sender, transport.InboundMessage) error {
	return nil
}

var _ = Describe("Router", func() {
	var (
		store    *database.Store
		manager  *session.Manager
		rules    *automation.RuleCache
		pending  *automation.PendingInputs
		wire     *fakeTransport
		router   *gin.Engine
		ctx      context.Context
		doJSON   func(method, path string, body any) *httptest.ResponseRecorder
		createWA func(name string) string
	)

	BeforeEach(func() {
		ctx = context.Background()
		dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
		db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
		Expect(err).NotTo(HaveOccurred())
		sqlDB, err := db.DB()
		Expect(err).NotTo(HaveOccurred())
		sqlDB.SetMaxOpenConns(1)
		DeferCleanup(sqlDB.Close)
		Expect(database.Migrate(db)).To(Succeed())

		store = database.NewStore(db)
		wire = &fakeTransport{}
		manager = session.NewManager(session.Config{ReconnectDelay: time.Hour}, nopHandler{}, store, nil, &fakeConnector{transport: wire})
		DeferCleanup(func() {
			sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = manager.Shutdown(sctx)
		})
		rules = automation.NewRuleCache()
		pending = automation.NewPendingInputs()

		router = api.NewRouter(api.Deps{Store: store, Sessions: manager, Rules: rules, Pending: pending})

		doJSON = func(method, path string, body any) *httptest.ResponseRecorder {
			var buf bytes.Buffer
			if body != nil {
				Expect(json.NewEncoder(&buf).Encode(body)).To(Succeed())
			}
			req := httptest.NewRequest(method, path, &buf)
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			return rec
		}
		createWA = func(name string) string {
			rec := doJSON(http.MethodPost, "/api/bots", map[string]any{"name": name})
			Expect(rec.Code).To(Equal(http.StatusCreated))
			var bot struct {
				ID string `json:"id"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &bot)).To(Succeed())
			return bot.ID
		}
	})

	Describe("bots", func() {
		It("creates and lists bots", func() {
			id := createWA("Front desk")

			rec := doJSON(http.MethodGet, "/api/bots", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var bots []map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &bots)).To(Succeed())
			Expect(bots).To(HaveLen(1))
			Expect(bots[0]).To(HaveKeyWithValue("id", id))
			Expect(bots[0]).To(HaveKeyWithValue("platform", "whatsapp"))
			Expect(bots[0]).To(HaveKeyWithValue("status", "disconnected"))
		})

		It("rejects unsupported platforms", func() {
			rec := doJSON(http.MethodPost, "/api/bots", map[string]any{"name": "x", "platform": "sms"})
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 404 for unknown bots", func() {
			rec := doJSON(http.MethodGet, "/api/bots/missing/status", nil)
			Expect(rec.Code).To(Equal(http.StatusNotFound))
		})

		It("connects a bot and reports it connected", func() {
			id := createWA("Sales")

			rec := doJSON(http.MethodPost, "/api/bots/"+id+"/connect", nil)
			Expect(rec.Code).To(Equal(http.StatusAccepted))

			Eventually(func() session.Status {
				return manager.Status(id).Status
			}).Should(Equal(session.StatusConnected))

			rec = doJSON(http.MethodGet, "/api/bots/"+id+"/status", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var body struct {
				Session session.Snapshot `json:"session"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &body)).To(Succeed())
			Expect(body.Session.Status).To(Equal(session.StatusConnected))
			Expect(body.Session.DeviceID).To(Equal("device-" + id))
		})
	})

	Describe("flows", func() {
		graph := map[string]any{
			"name": "Welcome",
			"nodes": []map[string]any{
				{"id": "t1", "type": "trigger", "data": map[string]any{"triggerType": "keyword", "value": "hello"}},
				{"id": "m1", "type": "message", "data": map[string]any{"text": "Hi there"}},
			},
			"edges": []map[string]any{
				{"id": "e1", "source": "t1", "target": "m1"},
			},
		}

		It("publishes a graph and serves the compiled rules", func() {
			id := createWA("Support")
			pending.Set(id, "alice", automation.PendingInput{NodeID: "old"})

			rec := doJSON(http.MethodPut, "/api/bots/"+id+"/flow", graph)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var res struct {
				Rules int `json:"rules"`
			}
			Expect(json.Unmarshal(rec.Body.Bytes(), &res)).To(Succeed())
			Expect(res.Rules).To(Equal(1))
			Expect(rules.Get(id)).To(HaveLen(1))
			_, stillPending := pending.Get(id, "alice")
			Expect(stillPending).To(BeFalse())

			rec = doJSON(http.MethodGet, "/api/bots/"+id+"/rules", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var served []automation.CompiledRule
			Expect(json.Unmarshal(rec.Body.Bytes(), &served)).To(Succeed())
			Expect(served).To(HaveLen(1))

			rec = doJSON(http.MethodGet, "/api/bots/"+id+"/flow", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var stored automation.FlowGraphData
			Expect(json.Unmarshal(rec.Body.Bytes(), &stored)).To(Succeed())
			Expect(stored.Nodes).To(HaveLen(2))
			Expect(stored.Edges).To(HaveLen(1))
		})

		It("returns an empty graph before the first publish", func() {
			id := createWA("Empty")
			rec := doJSON(http.MethodGet, "/api/bots/"+id+"/flow", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(rec.Body.String()).To(MatchJSON(`{"nodes":[],"edges":[]}`))
		})
	})

	Describe("leads", func() {
		It("sends operator messages through the live session", func() {
			id := createWA("Clinic")
			leadID, err := store.UpsertLead(ctx, id, "5511999999999", "Ana", "whatsapp")
			Expect(err).NotTo(HaveOccurred())
			path := fmt.Sprintf("/api/bots/%s/leads/%d/messages", id, leadID)

			rec := doJSON(http.MethodPost, path, map[string]any{"content": "Your exam is ready"})
			Expect(rec.Code).To(Equal(http.StatusConflict))

			Expect(doJSON(http.MethodPost, "/api/bots/"+id+"/connect", nil).Code).To(Equal(http.StatusAccepted))
			rec = doJSON(http.MethodPost, path, map[string]any{"content": "Your exam is ready"})
			Expect(rec.Code).To(Equal(http.StatusOK))
			Expect(wire.texts()).To(ConsistOf(sentText{To: "5511999999999", Text: "Your exam is ready"}))

			rec = doJSON(http.MethodGet, path, nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var msgs []map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &msgs)).To(Succeed())
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0]).To(HaveKeyWithValue("direction", "out"))
		})

		It("rejects malformed lead ids", func() {
			id := createWA("Clinic")
			rec := doJSON(http.MethodGet, "/api/bots/"+id+"/leads/abc/messages", nil)
			Expect(rec.Code).To(Equal(http.StatusBadRequest))
		})
	})

	Describe("settings", func() {
		It("upserts and lists overrides", func() {
			Expect(doJSON(http.MethodPut, "/api/settings", map[string]any{"key": "OPENAI_MODEL", "value": "gpt-4o"}).Code).To(Equal(http.StatusOK))
			Expect(doJSON(http.MethodPut, "/api/settings", map[string]any{"key": "OPENAI_MODEL", "value": "gpt-4.1"}).Code).To(Equal(http.StatusOK))

			rec := doJSON(http.MethodGet, "/api/settings", nil)
			Expect(rec.Code).To(Equal(http.StatusOK))
			var settings []map[string]any
			Expect(json.Unmarshal(rec.Body.Bytes(), &settings)).To(Succeed())
			Expect(settings).To(HaveLen(1))
			Expect(settings[0]).To(HaveKeyWithValue("value", "gpt-4.1"))
		})
	})

	It("answers CORS preflight requests", func() {
		req := httptest.NewRequest(http.MethodOptions, "/api/bots", nil)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		Expect(rec.Code).To(Equal(http.StatusNoContent))
		Expect(rec.Header().Get("Access-Control-Allow-Origin")).To(Equal("*"))
	})
})
