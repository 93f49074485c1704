package chatapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (a *API) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MessageID string `json:"message_id"`
		Text      string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	resp, err := a.svc.CreateDraft(r.Context(), req.MessageID, req.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusCreated, resp)
}

func (a *API) handleGetResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	resp, ok, err := a.svc.GetResponse(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		a.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleEditResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}

	resp, err := a.svc.EditResponse(r.Context(), id, req.Text)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSendResponse(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	sr, err := a.svc.SendResponse(r.Context(), id)
	if err != nil && sr == nil {
		a.writeError(w, r, err)
		return
	}
	if err != nil {
		// delivery failed but the response survives for retry
		a.writeJSON(w, http.StatusBadGateway, map[string]any{
			"outcome":  sr.Outcome,
			"response": sr.Response,
		})
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]any{
		"outcome":  sr.Outcome,
		"response": sr.Response,
	})
}
