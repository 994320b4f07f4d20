package websocket

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailrelay/backend/internal/domain"
)

type countingObserver struct {
	connected    atomic.Int64
	disconnected atomic.Int64
}

func (o *countingObserver) WebSocketConnected()    { o.connected.Add(1) }
func (o *countingObserver) WebSocketDisconnected() { o.disconnected.Add(1) }

func startHub(t *testing.T, observer ConnectionObserver) (*Hub, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hub := NewHub(nil, nil, observer)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	router := gin.New()
	router.GET("/v1/ws", HandleWebSocket(hub))
	server := httptest.NewServer(router)

	t.Cleanup(func() {
		server.Close()
		cancel()
	})
	return hub, server
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/v1/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg Message
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestHub_SubscribeByQuery(t *testing.T) {
	observer := &countingObserver{}
	hub, server := startHub(t, observer)

	conn := dial(t, server, "?address=Box@Example.com")

	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscribed, msg.Type)
	assert.Equal(t, "box@example.com", msg.Address)
	assert.Equal(t, 1, hub.SubscriberCount("box@example.com"))
	assert.Equal(t, int64(1), observer.connected.Load())

	hub.NotifyNewMessage(&domain.Message{
		ID:             7,
		MailboxAddress: "box@example.com",
		From:           "sender@example.org",
		Subject:        "Hello",
		Text:           "Body",
		ReceivedAt:     1_700_000_000_000,
	})

	msg = readMessage(t, conn)
	require.Equal(t, MessageTypeNewMessage, msg.Type)
	assert.Equal(t, "box@example.com", msg.Address)

	var view domain.MessageView
	require.NoError(t, json.Unmarshal(msg.Data, &view))
	assert.Equal(t, int64(7), view.ID)
	assert.Equal(t, "Body", view.Preview)
	assert.Equal(t, int64(1_700_000_000_000), view.ReceivedAt)
}

func TestHub_SubscribeMessage(t *testing.T) {
	hub, server := startHub(t, nil)

	conn := dial(t, server, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe, Address: " Other@Example.com "}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeSubscribed, msg.Type)
	assert.Equal(t, "other@example.com", msg.Address)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeUnsubscribe, Address: "other@example.com"}))
	assert.Eventually(t, func() bool { return hub.SubscriberCount("other@example.com") == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_InvalidMessages(t *testing.T) {
	hub, server := startHub(t, nil)

	conn := dial(t, server, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(Message{Type: MessageTypeSubscribe}))
	msg := readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
	assert.Equal(t, "address is required", msg.Error)

	require.NoError(t, conn.WriteJSON(Message{Type: "bogus"}))
	msg = readMessage(t, conn)
	assert.Equal(t, MessageTypeError, msg.Type)
}

func TestHub_OtherAddressNotNotified(t *testing.T) {
	hub, server := startHub(t, nil)

	conn := dial(t, server, "?address=a@example.com")
	assert.Equal(t, MessageTypeSubscribed, readMessage(t, conn).Type)

	hub.NotifyNewMessage(&domain.Message{ID: 1, MailboxAddress: "b@example.com", Subject: "x"})
	hub.NotifyNewMessage(&domain.Message{ID: 2, MailboxAddress: "a@example.com", Subject: "y"})

	msg := readMessage(t, conn)
	require.Equal(t, MessageTypeNewMessage, msg.Type)
	var view domain.MessageView
	require.NoError(t, json.Unmarshal(msg.Data, &view))
	assert.Equal(t, int64(2), view.ID)
}

func TestHub_Disconnect(t *testing.T) {
	observer := &countingObserver{}
	hub, server := startHub(t, observer)

	conn := dial(t, server, "?address=gone@example.com")
	assert.Equal(t, MessageTypeSubscribed, readMessage(t, conn).Type)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, hub.SubscriberCount("gone@example.com"))
	assert.Equal(t, int64(1), observer.disconnected.Load())
}

func TestHub_NotifyWithoutRun(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	// 队列写满后丢弃，不阻塞调用方
	for i := 0; i < 300; i++ {
		hub.NotifyNewMessage(&domain.Message{ID: int64(i), MailboxAddress: "x@example.com"})
	}
	assert.Equal(t, 0, hub.ClientCount())
}

func TestUpgraderCheckOrigin(t *testing.T) {
	upgrader := upgraderFactory([]string{"https://app.example.com"})

	req := httptest.NewRequest("GET", "/v1/ws", nil)
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://app.example.com")
	assert.True(t, upgrader.CheckOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, upgrader.CheckOrigin(req))
}
