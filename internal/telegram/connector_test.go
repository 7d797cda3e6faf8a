package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/mymmrac/telego"
	"github.com/mymmrac/telego/telegoapi"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/transport"
)

const testToken = "123456789:AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

type botAPI struct {
	server       *httptest.Server
	unauthorized bool
	served       atomic.Bool

	mu     sync.Mutex
	bodies map[string][]string
}

func newBotAPI() *botAPI {
	api := &botAPI{bodies: map[string][]string{}}
	api.server = httptest.NewServer(http.HandlerFunc(api.handle))
	return api
}

func (a *botAPI) handle(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
	body, _ := io.ReadAll(r.Body)
	a.mu.Lock()
	a.bodies[method] = append(a.bodies[method], string(body))
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch method {
	case "getMe":
		if a.unauthorized {
			fmt.Fprint(w, `{"ok":false,"error_code":401,"description":"Unauthorized"}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":{"id":123456789,"is_bot":true,"first_name":"Gateway","username":"gw_bot"}}`)
	case "getUpdates":
		if a.served.CompareAndSwap(false, true) {
			fmt.Fprint(w, `{"ok":true,"result":[{"update_id":1,"message":{"message_id":7,"date":1700000000,`+
				`"chat":{"id":42,"type":"private"},"from":{"id":42,"is_bot":false,"first_name":"Ana","last_name":"Ruiz"},"text":"hola"}}]}`)
			return
		}
		fmt.Fprint(w, `{"ok":true,"result":[]}`)
	default:
		fmt.Fprint(w, `{"ok":true,"result":{"message_id":8,"date":1700000001,"chat":{"id":42,"type":"private"}}}`)
	}
}

func (a *botAPI) requests(method string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.bodies[method]...)
}

var _ = Describe("Connector", func() {
	var (
		api    *botAPI
		conn   *Connector
		events chan transport.Event
		ctx    context.Context
		cancel context.CancelFunc
		opts   session.Options
	)

	BeforeEach(func() {
		api = newBotAPI()
		DeferCleanup(api.server.Close)
		conn = &Connector{APIServer: api.server.URL}
		events = make(chan transport.Event, 16)
		ctx, cancel = context.WithCancel(context.Background())
		DeferCleanup(cancel)
		opts = session.Options{Platform: transport.PlatformTelegram, Token: testToken}
	})

	It("needs a token to have credentials", func() {
		Expect(conn.HasCredentials("b", opts)).To(BeTrue())
		Expect(conn.HasCredentials("b", session.Options{Platform: transport.PlatformTelegram})).To(BeFalse())
		Expect(conn.PurgeCredentials("b")).To(Succeed())
	})

	It("opens with the bot username and forwards messages", func() {
		t, err := conn.Connect(ctx, "bot-1", opts, events)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(t.Close)

		var ev transport.Event
		Eventually(events).Should(Receive(&ev))
		Expect(ev.Kind).To(Equal(transport.EventOpen))
		Expect(ev.DeviceID).To(Equal("@gw_bot"))

		Eventually(events).Should(Receive(&ev))
		Expect(ev.Kind).To(Equal(transport.EventInbound))
		Expect(ev.Message.ConversationID).To(Equal("42"))
		Expect(ev.Message.SenderName).To(Equal("Ana Ruiz"))
		Expect(ev.Message.Text).To(Equal("hola"))
	})

	It("closes as logged out when the token is rejected", func() {
		api.unauthorized = true
		t, err := conn.Connect(ctx, "bot-1", opts, events)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(t.Close)

		var ev transport.Event
		Eventually(events).Should(Receive(&ev))
		Expect(ev.Kind).To(Equal(transport.EventClose))
		Expect(ev.Code).To(Equal(transport.CodeLoggedOut))
		Expect(ev.IsTerminal()).To(BeTrue())
	})

	It("rejects malformed tokens", func() {
		_, err := conn.Connect(ctx, "bot-1", session.Options{Platform: transport.PlatformTelegram, Token: "nope"}, events)
		Expect(err).To(HaveOccurred())
	})

	It("sends menus as reply keyboards", func() {
		t, err := conn.Connect(ctx, "bot-1", opts, events)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(t.Close)

		Expect(t.SendMenu(ctx, "42", "Pick one", []string{"Prices", "Hours"})).To(Succeed())
		bodies := api.requests("sendMessage")
		Expect(bodies).To(HaveLen(1))
		Expect(bodies[0]).To(ContainSubstring(`"keyboard"`))
		Expect(bodies[0]).To(ContainSubstring("Prices"))
	})

	It("sends audio as a voice note", func() {
		t, err := conn.Connect(ctx, "bot-1", opts, events)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(t.Close)

		Expect(t.SendMedia(ctx, "42", transport.MediaAudio, "https://cdn.example.com/hello.ogg", "listen")).To(Succeed())
		bodies := api.requests("sendVoice")
		Expect(bodies).To(HaveLen(1))
		Expect(bodies[0]).To(ContainSubstring("hello.ogg"))
		Expect(api.requests("sendAudio")).To(BeEmpty())
	})

	It("rejects non-numeric chat ids", func() {
		t, err := conn.Connect(ctx, "bot-1", opts, events)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(t.Close)
		Expect(t.SendText(ctx, "abc", "hi")).To(HaveOccurred())
	})
})

var _ = Describe("closeCode", func() {
	DescribeTable("maps API errors",
		func(err error, code int) {
			Expect(closeCode(err)).To(Equal(code))
		},
		Entry("unauthorized", fmt.Errorf("getMe: %w", &telegoapi.Error{ErrorCode: 401}), transport.CodeLoggedOut),
		Entry("conflicting poller", &telegoapi.Error{ErrorCode: 409}, transport.CodeConflict),
		Entry("other API error keeps its code", &telegoapi.Error{ErrorCode: 502}, 502),
		Entry("network error", errors.New("dial tcp: refused"), transport.CodeUnavailable),
	)
})

var _ = Describe("inboundFromUpdate", func() {
	It("ignores updates without a text message", func() {
		_, ok := inboundFromUpdate(telego.Update{})
		Expect(ok).To(BeFalse())
		_, ok = inboundFromUpdate(telego.Update{Message: &telego.Message{Chat: telego.Chat{ID: 1}}})
		Expect(ok).To(BeFalse())
	})

	It("flags group chats and uses captions", func() {
		msg, ok := inboundFromUpdate(telego.Update{Message: &telego.Message{
			Chat:    telego.Chat{ID: -100, Type: telego.ChatTypeSupergroup},
			From:    &telego.User{Username: "ana"},
			Caption: "photo caption",
		}})
		Expect(ok).To(BeTrue())
		Expect(msg.IsGroup).To(BeTrue())
		Expect(msg.Text).To(Equal("photo caption"))
		Expect(msg.SenderName).To(Equal("ana"))
		Expect(msg.ConversationID).To(Equal("-100"))
	})
})
