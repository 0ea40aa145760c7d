// handlers/stream.go
package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"match-escrow-system/models"
	"match-escrow-system/services"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

const streamPollInterval = 2 * time.Second

// StreamWalletEntries streams new ledger entries of a wallet as server-sent events.
func StreamWalletEntries(ledger *services.LedgerService, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		walletID, ok := walletParam(c)
		if !ok {
			return badRequest(c, "Invalid wallet_id")
		}
		if _, err := ledger.Balance(c.UserContext(), walletID); err != nil {
			return respondError(c, log, err)
		}

		// SSE headers
		c.Set("Content-Type", "text/event-stream")
		c.Set("Cache-Control", "no-cache")
		c.Set("Connection", "keep-alive")
		c.Set("X-Accel-Buffering", "no") // nginx

		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			ctx := context.Background()
			ticker := time.NewTicker(streamPollInterval)
			defer ticker.Stop()

			cursor, err := ledger.StreamCursor(ctx, walletID)
			if err != nil {
				log.Error().Err(err).Uint("wallet_id", walletID).Msg("[SSE] init error")
			}

			// Initial keepalive (comment event)
			w.WriteString(":\n\n")
			if err := w.Flush(); err != nil {
				return
			}

			for range ticker.C {
				entries, next, err := ledger.EntriesAfter(ctx, walletID, cursor)
				if err != nil {
					log.Error().Err(err).Uint("wallet_id", walletID).Msg("[SSE] query error")
					continue
				}
				cursor = next
				if len(entries) == 0 {
					w.WriteString(":\n\n")
				}
				writeEntries(w, entries, log)

				// A failed flush means the client went away
				if err := w.Flush(); err != nil {
					log.Debug().Uint("wallet_id", walletID).Msg("[SSE] client disconnected")
					return
				}
			}
		})
		return nil
	}
}

// writeEntries writes one "transaction" event per entry. An entry that fails
// to encode is logged and left out.
func writeEntries(w *bufio.Writer, entries []models.Transaction, log zerolog.Logger) {
	for _, e := range entries {
		payload, err := json.Marshal(e)
		if err != nil {
			log.Error().Err(err).Str("entry_id", e.ID).Msg("[SSE] encode error, entry skipped")
			continue
		}
		fmt.Fprintf(w, "event: transaction\ndata: %s\n\n", payload)
	}
}
