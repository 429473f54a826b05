// Package http exposes the control API: transcript reads, the live transcript
// feed and the say, reply and play operations.
package http

import (
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"ai-call-presence-service/internal/app"
	"ai-call-presence-service/internal/models"
	"ai-call-presence-service/internal/observability"
)

const maxBodyBytes = 64 << 10

type sayRequest struct {
	Text string `json:"text"`
}

type replyRequest struct {
	Hint string `json:"hint"`
}

type utteranceResponse struct {
	Text    string `json:"text"`
	Played  int    `json:"played"`
	Skipped int    `json:"skipped"`
}

type transcriptResponse struct {
	SessionID string                  `json:"sessionId"`
	Items     []models.TranscriptItem `json:"items"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter constructs the HTTP router for the service. hub may be nil, which
// disables the live feed.
func NewRouter(application *app.Application, hub *Hub) http.Handler {
	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger)
	r.Use(middleware.Recoverer)

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("starting"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Get("/transcript", func(w http.ResponseWriter, r *http.Request) {
			items := application.Transcript()
			if items == nil {
				items = []models.TranscriptItem{}
			}
			writeJSON(w, http.StatusOK, transcriptResponse{SessionID: application.SessionID, Items: items})
		})
		if hub != nil {
			r.Get("/transcript/ws", hub.ServeWS)
		}

		r.Post("/say", func(w http.ResponseWriter, r *http.Request) {
			var req sayRequest
			if !decode(w, r, &req) {
				return
			}
			u, err := application.Say(r.Context(), middleware.GetReqID(r.Context()), req.Text)
			writeUtterance(w, u, err)
		})

		r.Post("/reply", func(w http.ResponseWriter, r *http.Request) {
			var req replyRequest
			if r.ContentLength != 0 && !decode(w, r, &req) {
				return
			}
			u, err := application.Reply(r.Context(), middleware.GetReqID(r.Context()), req.Hint)
			writeUtterance(w, u, err)
		})

		// Plays the configured recording; clients cannot name files.
		r.Post("/play", func(w http.ResponseWriter, r *http.Request) {
			err := application.Play(r.Context(), middleware.GetReqID(r.Context()), "")
			switch {
			case err == nil:
				w.WriteHeader(http.StatusNoContent)
			case errors.Is(err, fs.ErrNotExist):
				writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
			default:
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			}
		})
	})

	return r
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return false
	}
	return true
}

func writeUtterance(w http.ResponseWriter, u app.Utterance, err error) {
	status := http.StatusOK
	switch {
	case err == nil:
	case errors.Is(err, app.ErrNothingToSay):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, app.ErrReplyDisabled):
		status = http.StatusServiceUnavailable
	default:
		status = http.StatusBadGateway
	}
	if err != nil {
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, status, utteranceResponse{
		Text:    u.Text,
		Played:  len(u.Report.Played),
		Skipped: len(u.Report.Skipped),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
