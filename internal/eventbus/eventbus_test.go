package eventbus

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/mr-tron/base58"

	"github.com/itechmeat/kembridge/internal/auth"
	"github.com/itechmeat/kembridge/internal/chainverify"
)

type fakeConn struct {
	in     chan []byte
	mu     sync.Mutex
	out    [][]byte
	once   sync.Once
	closed chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{in: make(chan []byte, 16), closed: make(chan struct{})}
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	select {
	case m := <-f.in:
		return textMessage, m, nil
	case <-f.closed:
		return 0, nil, errClosed
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.out = append(f.out, data)
	return nil
}

func (f *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (f *fakeConn) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeConn) lastOut() (Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.out) == 0 {
		return Message{}, false
	}
	var m Message
	json.Unmarshal(f.out[len(f.out)-1], &m)
	return m, true
}

func (f *fakeConn) send(t *testing.T, m Message) {
	t.Helper()
	data, err := json.Marshal(m)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	f.in <- data
}

type errString string

func (e errString) Error() string { return string(e) }

const errClosed = errString("fakeConn: closed")

type nearResolverStub struct{ pub ed25519.PublicKey }

func (n nearResolverStub) ResolveAccessKeys(ctx context.Context, accountID string) ([]ed25519.PublicKey, error) {
	return []ed25519.PublicKey{n.pub}, nil
}

func testAuthenticator(t *testing.T) (*auth.Authenticator, string) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	nonces := auth.NewNonceStore(5 * time.Minute)
	verifier := chainverify.NewMultiChainVerifier(nearResolverStub{pub: pub})
	authr := auth.NewAuthenticator(nonces, verifier, nil, []byte("test-secret"), 24*time.Hour)

	wallet := "alice.near"
	nonceHex, message, err := nonces.IssueChallenge(wallet, chainverify.ChainNear)
	if err != nil {
		t.Fatalf("issue challenge: %v", err)
	}
	digest := sha256.Sum256([]byte(message))
	sig := ed25519.Sign(priv, digest[:])

	token, err := authr.VerifyAndMint(context.Background(), wallet, chainverify.ChainNear, nonceHex, base58.Encode(sig), message)
	if err != nil {
		t.Fatalf("verify and mint: %v", err)
	}
	return authr, token
}

func TestHubAuthAndSubscribe(t *testing.T) {
	authr, token := testAuthenticator(t)
	hub := NewHub(authr, 0)

	conn := newFakeConn()
	c := hub.Accept(conn)
	defer c.closeWithReason("test done")

	conn.send(t, Message{Type: KindAuth, Token: token})
	waitFor(t, func() bool {
		m, ok := conn.lastOut()
		return ok && m.Type == KindAuthSuccess
	})

	conn.send(t, Message{Type: KindSubscribe, EventType: EventTransactionStatus})
	waitFor(t, func() bool {
		m, ok := conn.lastOut()
		return ok && m.Type == KindSubscribed
	})

	if !c.subscribedTo(EventTransactionStatus) {
		t.Errorf("expected subscription to be recorded")
	}
}

func TestHubAuthFailure(t *testing.T) {
	authr, _ := testAuthenticator(t)
	hub := NewHub(authr, 0)

	conn := newFakeConn()
	c := hub.Accept(conn)
	defer c.closeWithReason("test done")

	conn.send(t, Message{Type: KindAuth, Token: "not-a-real-token"})
	waitFor(t, func() bool {
		m, ok := conn.lastOut()
		return ok && m.Type == KindAuthFailed
	})
}

func TestPushToUserRoutesOnlyToSubject(t *testing.T) {
	authr, token := testAuthenticator(t)
	hub := NewHub(authr, 0)

	connA := newFakeConn()
	cA := hub.Accept(connA)
	defer cA.closeWithReason("test done")
	connA.send(t, Message{Type: KindAuth, Token: token})
	waitFor(t, func() bool {
		m, ok := connA.lastOut()
		return ok && m.Type == KindAuthSuccess
	})
	connA.send(t, Message{Type: KindSubscribe, EventType: EventTransactionStatus})
	waitFor(t, func() bool {
		m, ok := connA.lastOut()
		return ok && m.Type == KindSubscribed
	})

	connB := newFakeConn()
	cB := hub.Accept(connB)
	defer cB.closeWithReason("test done")
	connB.send(t, Message{Type: KindSubscribe, EventType: EventTransactionStatus})
	waitFor(t, func() bool {
		m, ok := connB.lastOut()
		return ok && m.Type == KindSubscribed
	})

	userID := *cA.UserID()
	if err := hub.PushToUser(userID, EventTransactionStatus, map[string]string{"status": "completed"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	waitFor(t, func() bool {
		m, ok := connA.lastOut()
		return ok && m.Type == KindEvent
	})

	if m, ok := connB.lastOut(); ok && m.Type == KindEvent {
		t.Errorf("unauthenticated connection must not receive user-scoped event")
	}
}

func TestBroadcastReachesAllSubscribers(t *testing.T) {
	authr, _ := testAuthenticator(t)
	hub := NewHub(authr, 0)

	connA := newFakeConn()
	cA := hub.Accept(connA)
	defer cA.closeWithReason("test done")
	connA.send(t, Message{Type: KindSubscribe, EventType: EventPriceUpdates})
	waitFor(t, func() bool {
		m, ok := connA.lastOut()
		return ok && m.Type == KindSubscribed
	})

	if err := hub.Broadcast(EventPriceUpdates, map[string]string{"pair": "eth/near"}); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	waitFor(t, func() bool {
		m, ok := connA.lastOut()
		return ok && m.Type == KindEvent
	})
}

func TestBackpressureClosesConnection(t *testing.T) {
	authr, _ := testAuthenticator(t)
	hub := NewHub(authr, 0)

	conn := newFakeConn()
	// Built directly rather than via Accept, so no write pump drains the
	// queue — the next enqueue past capacity must observe it full.
	c := newConnection(conn, hub, 0)

	for i := 0; i < outboundQueueSize; i++ {
		select {
		case c.send <- []byte("{}"):
		default:
			t.Fatalf("queue filled early at %d", i)
		}
	}

	c.enqueue([]byte(`{"type":"event"}`))

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if !closed {
		t.Fatalf("expected connection to close on backpressure")
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within timeout")
}
