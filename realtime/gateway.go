// realtime/gateway.go
package realtime

import (
	"context"
	"encoding/json"
	"errors"

	"match-escrow-system/services"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const maxInboundMessage = 4096

// Inbound events.
const (
	EventJoinQueue   = "join_queue"
	EventSubmitScore = "submit_score"
)

type inbound struct {
	Event    string `json:"event"`
	WalletID uint   `json:"wallet_id"`
	MatchID  string `json:"match_id"`
	Score    int64  `json:"score"`
}

// Gateway binds websocket connections to the orchestrator.
type Gateway struct {
	Hub          *Hub
	Orchestrator *services.Orchestrator
	Logger       zerolog.Logger
}

func NewGateway(hub *Hub, orchestrator *services.Orchestrator, logger zerolog.Logger) *Gateway {
	return &Gateway{Hub: hub, Orchestrator: orchestrator, Logger: logger.With().Str("component", "ws_gateway").Logger()}
}

// SetupRoutes mounts GET /ws.
func (g *Gateway) SetupRoutes(app fiber.Router) {
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws", websocket.New(g.serve))
}

func (g *Gateway) serve(conn *websocket.Conn) {
	connID := uuid.NewString()
	client := g.Hub.Register(connID)
	conn.SetReadLimit(maxInboundMessage)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for msg := range client.Send {
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				g.Logger.Debug().Err(err).Str("conn", connID).Msg("write failed")
				// Keep draining so the hub never blocks on this client.
				for range client.Send {
				}
				return
			}
		}
	}()

	ctx := context.Background()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				g.Logger.Warn().Err(err).Str("conn", connID).Msg("connection closed unexpectedly")
			}
			break
		}
		g.dispatch(ctx, connID, data)
	}

	g.Orchestrator.Disconnect(ctx, connID)
	g.Hub.Unregister(connID)
	<-writerDone
}

func (g *Gateway) dispatch(ctx context.Context, connID string, data []byte) {
	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		g.Hub.Send(connID, services.EventError, services.MessagePayload{Message: "malformed message"})
		return
	}

	switch msg.Event {
	case EventJoinQueue:
		if msg.WalletID == 0 {
			g.Hub.Send(connID, services.EventError, services.MessagePayload{Message: "Wallet ID required to join matchmaking queue."})
			return
		}
		err := g.Orchestrator.Join(ctx, services.Participant{WalletID: msg.WalletID, ConnectionID: connID})
		if err != nil {
			g.Hub.Send(connID, services.EventError, services.MessagePayload{Message: err.Error()})
		}
	case EventSubmitScore:
		err := g.Orchestrator.SubmitScore(ctx, connID, msg.MatchID, msg.Score)
		if err != nil && !errors.Is(err, services.ErrSettlementFailed) {
			g.Hub.Send(connID, services.EventError, services.MessagePayload{Message: err.Error()})
		}
	default:
		g.Hub.Send(connID, services.EventError, services.MessagePayload{Message: "unknown event " + msg.Event})
	}
}
