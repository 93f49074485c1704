package chatapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/linnemanlabs/parley/internal/transport/whatsapp"
	"github.com/linnemanlabs/parley/internal/triage"
	"github.com/linnemanlabs/parley/internal/worker"
)

// handlePostEvent accepts a channel-agnostic inbound event and queues it
// for triage.
func (a *API) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var ev triage.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	if err := a.queue.Enqueue(worker.ProcessInbound{Event: &ev}); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

// handleWebhookVerify answers the Cloud API subscription handshake.
func (a *API) handleWebhookVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == a.webhook.VerifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(q.Get("hub.challenge")))
		return
	}
	http.Error(w, "verification failed", http.StatusForbidden)
}

// handleWebhookDelivery verifies, parses and queues one webhook delivery.
// It always answers 200 for well-formed deliveries so the channel does not
// retry events we have already taken ownership of.
func (a *API) handleWebhookDelivery(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	if !whatsapp.VerifySignature(a.webhook.AppSecret, body, r.Header.Get("X-Hub-Signature-256")) {
		a.logger.Warn(r.Context(), "webhook signature mismatch")
		http.Error(w, "invalid signature", http.StatusForbidden)
		return
	}

	events, err := whatsapp.ParseEvents(body)
	if err != nil {
		a.logger.Warn(r.Context(), "unparseable webhook payload", "err", err.Error())
		http.Error(w, "invalid payload", http.StatusBadRequest)
		return
	}

	var queued int
	for _, ev := range events {
		if !whatsapp.NumberAllowed(a.webhook.NumberFilter, ev.Phone) {
			a.logger.Info(r.Context(), "sender filtered", "phone", ev.Phone)
			continue
		}
		// recently seen delivery ids are shed here; the store's uniqueness
		// constraint still catches anything that slips through
		if !a.seen.Add(ev.ExternalID) {
			continue
		}
		if err := a.queue.Enqueue(worker.ProcessInbound{Event: ev}); err != nil {
			a.logger.Error(r.Context(), err, "failed to queue event", "external_id", ev.ExternalID)
			continue
		}
		queued++
	}

	a.writeJSON(w, http.StatusOK, map[string]any{"received": len(events), "queued": queued})
}
