package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const subscriptionNotifications = `subscription Notifications($chainId: ID!) {
  notifications(chainId: $chainId)
}`

// wsMessage is the graphql-transport-ws framing the node service speaks.
type wsMessage struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

const (
	wsConnectionInit = "connection_init"
	wsConnectionAck  = "connection_ack"
	wsSubscribe      = "subscribe"
	wsNext           = "next"
	wsError          = "error"
	wsComplete       = "complete"
	wsPing           = "ping"
	wsPong           = "pong"
)

// SubscribeNotifications keeps a standing per-chain subscription over a
// websocket. The read loop reconnects with backoff until cancelled; event
// payloads are passed through opaque and a malformed frame never takes the
// subscription down.
func (g *httpGateway) SubscribeNotifications(ctx context.Context, chainID string, handler func(Notification)) (func(), error) {
	if strings.TrimSpace(g.cfg.SubscribeURL) == "" {
		return nil, errors.New("ledger: subscribeUrl is required for notifications")
	}
	if handler == nil {
		return nil, errors.New("ledger: notification handler is required")
	}

	subCtx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		attempt := 0
		for {
			if subCtx.Err() != nil {
				return
			}
			err := g.streamOnce(subCtx, chainID, handler)
			if subCtx.Err() != nil {
				return
			}
			if err == nil {
				// Server completed the subscription; re-establish promptly.
				attempt = 0
			} else {
				attempt++
			}
			select {
			case <-subCtx.Done():
				return
			case <-time.After(g.retryDelay(attempt)):
			}
		}
	}()

	stop := func() {
		cancel()
		wg.Wait()
	}
	return stop, nil
}

func (g *httpGateway) streamOnce(ctx context.Context, chainID string, handler func(Notification)) error {
	dialer := websocket.Dialer{
		Subprotocols:     []string{"graphql-transport-ws"},
		HandshakeTimeout: g.cfg.RequestTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, g.cfg.SubscribeURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock reads when the caller cancels.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	if err := conn.WriteJSON(wsMessage{Type: wsConnectionInit}); err != nil {
		return err
	}

	subPayload, err := json.Marshal(graphqlRequest{
		Query:     subscriptionNotifications,
		Variables: map[string]any{"chainId": chainID},
	})
	if err != nil {
		return err
	}
	subID := uuid.NewString()
	subscribed := false

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case wsConnectionAck:
			if subscribed {
				continue
			}
			if err := conn.WriteJSON(wsMessage{ID: subID, Type: wsSubscribe, Payload: subPayload}); err != nil {
				return err
			}
			subscribed = true
		case wsPing:
			if err := conn.WriteJSON(wsMessage{Type: wsPong}); err != nil {
				return err
			}
		case wsNext:
			if msg.ID != subID {
				continue
			}
			handler(Notification{
				ID:         uuid.NewString(),
				ChainID:    chainID,
				Payload:    append([]byte(nil), msg.Payload...),
				ReceivedAt: time.Now(),
			})
		case wsComplete:
			if msg.ID == subID {
				return nil
			}
		case wsError:
			if msg.ID == subID {
				return errors.New("subscription error: " + string(msg.Payload))
			}
		default:
			// Unknown frame types are ignored; the stream's only contract is
			// "something changed".
		}
	}
}
