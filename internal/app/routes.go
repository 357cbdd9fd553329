package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/MrWong99/voxfill/internal/observe"
	"github.com/MrWong99/voxfill/internal/resilience"
	"github.com/MrWong99/voxfill/pkg/types"
)

// maxBodyBytes caps request bodies on the control surface.
const maxBodyBytes = 64 << 10

// StateResponse is the body of every control endpoint.
type StateResponse struct {
	Mode           string `json:"mode"`
	FocusedFieldID string `json:"focused_field_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Listening      bool   `json:"listening"`
	Error          string `json:"error,omitempty"`
}

// TranscriptRequest injects one final transcript.
type TranscriptRequest struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()
	a.health.Register(mux)

	mux.HandleFunc("GET /v1/state", a.handleState)
	mux.HandleFunc("POST /v1/activate", a.handleActivate)
	mux.HandleFunc("POST /v1/deactivate", a.handleDeactivate)
	mux.HandleFunc("POST /v1/events/{name}", a.handleEvent)
	mux.HandleFunc("POST /v1/transcripts", a.handleTranscript)
	mux.HandleFunc("GET /v1/recognizers", a.handleRecognizers)

	if p := a.cfg.Server.MetricsPath; p != "" && a.metricsHandler != nil {
		mux.Handle("GET "+p, a.metricsHandler)
	}
	return mux
}

func (a *App) state() StateResponse {
	st := a.engine.State()
	resp := StateResponse{
		Mode:           st.Mode.String(),
		FocusedFieldID: st.FocusedFieldID,
		SessionID:      a.engine.ID(),
	}
	a.mu.Lock()
	resp.Listening = a.listenDone != nil
	a.mu.Unlock()
	if err := a.engine.Err(); err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (a *App) handleState(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, a.state())
}

func (a *App) handleActivate(w http.ResponseWriter, r *http.Request) {
	a.Activate(r.Context())
	writeJSON(w, http.StatusOK, a.state())
}

func (a *App) handleDeactivate(w http.ResponseWriter, _ *http.Request) {
	a.Deactivate()
	writeJSON(w, http.StatusOK, a.state())
}

func (a *App) handleEvent(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	a.engine.HandleEvent(r.Context(), name)
	writeJSON(w, http.StatusOK, a.state())
}

func (a *App) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var req TranscriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if strings.TrimSpace(req.Transcript) == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "transcript is required"})
		return
	}
	if !a.engine.Active() {
		writeJSON(w, http.StatusConflict, errorResponse{Error: "engine is inactive"})
		return
	}
	observe.Logger(r.Context()).Debug("app: injected transcript", "text", req.Transcript, "confidence", req.Confidence)
	a.engine.HandleResult(r.Context(), types.Transcript{
		Text:       req.Transcript,
		Confidence: req.Confidence,
		IsFinal:    true,
	})
	writeJSON(w, http.StatusOK, a.state())
}

func (a *App) handleRecognizers(w http.ResponseWriter, _ *http.Request) {
	c, ok := a.providers.Recognizer.(chainStatus)
	if !ok {
		writeJSON(w, http.StatusOK, []resilience.EntryStatus{})
		return
	}
	writeJSON(w, http.StatusOK, c.Status())
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
