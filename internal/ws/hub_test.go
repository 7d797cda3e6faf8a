package ws_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"chatflow-gateway/internal/session"
	"chatflow-gateway/internal/transport"
	"chatflow-gateway/internal/ws"
)

var _ = Describe("Hub", func() {
	var (
		hub  *ws.Hub
		conn *websocket.Conn
	)

	BeforeEach(func() {
		gin.SetMode(gin.TestMode)
		hub = ws.NewHub()
		ctx, cancel := context.WithCancel(context.Background())
		DeferCleanup(cancel)
		go hub.Run(ctx)

		r := gin.New()
		r.GET("/ws", hub.Handler)
		server := httptest.NewServer(r)
		DeferCleanup(server.Close)

		var err error
		conn, _, err = websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", nil)
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(func() { _ = conn.Close() })
		Eventually(hub.ClientCount).Should(Equal(1))
	})

	read := func() ws.WSEvent {
		GinkgoHelper()
		Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
		_, payload, err := conn.ReadMessage()
		Expect(err).NotTo(HaveOccurred())
		var ev ws.WSEvent
		Expect(json.Unmarshal(payload, &ev)).To(Succeed())
		return ev
	}

	It("pushes session updates", func() {
		hub.NotifySession(session.Snapshot{BotID: "b1", Status: session.StatusQRReady, QR: "2@xyz"})
		ev := read()
		Expect(ev.Type).To(Equal("session_update"))
		Expect(ev.Data).To(HaveKeyWithValue("botId", "b1"))
		Expect(ev.Data).To(HaveKeyWithValue("qr", "2@xyz"))
	})

	It("pushes inbound messages with their bot", func() {
		hub.NotifyMessage("b1", transport.InboundMessage{ConversationID: "42", Text: "hola"})
		ev := read()
		Expect(ev.Type).To(Equal("new_message"))
		Expect(ev.Data).To(HaveKeyWithValue("botId", "b1"))
	})

	It("forgets clients that disconnect", func() {
		Expect(conn.Close()).To(Succeed())
		Eventually(hub.ClientCount).Should(BeZero())
	})
})
