package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/vbonduro/imagelab/internal/dispatch"
	"github.com/vbonduro/imagelab/internal/domain"
	"github.com/vbonduro/imagelab/internal/imagesource"
	"github.com/vbonduro/imagelab/internal/imagesource/local"
	"github.com/vbonduro/imagelab/internal/registry"
	"github.com/vbonduro/imagelab/internal/session"
)

const maxCommandBody = 1 << 20

type stateResponse struct {
	State session.Snapshot `json:"state"`
	Error string           `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a command error to an HTTP status.
func statusFor(err error) int {
	var (
		precondition *dispatch.PreconditionError
		notSelected  *session.NotSelectedError
	)
	switch {
	case errors.As(err, &precondition):
		return http.StatusUnprocessableEntity
	case errors.As(err, &notSelected):
		return http.StatusConflict
	case errors.Is(err, registry.ErrUnknownService), errors.Is(err, errBadCommand), errors.Is(err, local.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, imagesource.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, local.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// respond writes the session state and, when err is set, its user-facing
// description.
func (s *Server) respond(w http.ResponseWriter, snap session.Snapshot, err error) {
	if snap.Service == "" {
		if cur, stateErr := s.session.State(); stateErr == nil {
			snap = cur
		}
	}
	if err == nil {
		writeJSON(w, http.StatusOK, stateResponse{State: snap})
		return
	}
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("command failed", "error", err)
	}
	writeJSON(w, status, stateResponse{State: snap, Error: session.Describe(err, s.registry)})
}

var errBadCommand = errors.New("malformed command body")

func decodeCommand(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxCommandBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: %v", errBadCommand, err)
	}
	return nil
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.State()
	s.respond(w, snap, err)
}

type serviceJSON struct {
	ID          domain.ServiceID `json:"id"`
	EndpointURL string           `json:"endpoint_url"`
	DisplayName string           `json:"display_name"`
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	out := make([]serviceJSON, 0, len(all))
	for _, d := range all {
		out = append(out, serviceJSON{ID: d.ID, EndpointURL: d.EndpointURL, DisplayName: d.DisplayName})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSelectService(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Service domain.ServiceID `json:"service"`
	}
	if err := decodeCommand(w, r, &body); err != nil {
		s.respond(w, session.Snapshot{}, err)
		return
	}
	snap, err := s.session.SelectService(body.Service)
	s.respond(w, snap, err)
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.Analyze()
	s.respond(w, snap, err)
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Question string `json:"question"`
	}
	if err := decodeCommand(w, r, &body); err != nil {
		s.respond(w, session.Snapshot{}, err)
		return
	}
	snap, err := s.session.Ask(body.Question)
	s.respond(w, snap, err)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeCommand(w, r, &body); err != nil {
		s.respond(w, session.Snapshot{}, err)
		return
	}
	snap, err := s.session.Generate(body.Prompt)
	s.respond(w, snap, err)
}

func (s *Server) handleDismissNotice(w http.ResponseWriter, r *http.Request) {
	snap, err := s.session.DismissNotice()
	s.respond(w, snap, err)
}

type healthJSON struct {
	Service  domain.ServiceID `json:"service"`
	Endpoint string           `json:"endpoint"`
	OK       bool             `json:"ok"`
	Error    string           `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	statuses := s.health.HealthAll(r.Context())
	out := make([]healthJSON, 0, len(statuses))
	for _, h := range statuses {
		entry := healthJSON{Service: h.Service, Endpoint: h.Endpoint, OK: h.OK()}
		if h.Err != nil {
			entry.Error = session.Describe(h.Err, s.registry)
		}
		out = append(out, entry)
	}
	writeJSON(w, http.StatusOK, out)
}

// handleEvents streams a snapshot on every session change as server-sent
// events. The first event is the current state.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	snaps, release := s.hub.Subscribe()
	defer release()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, canFlush := w.(http.Flusher)
	enc := json.NewEncoder(w)
	send := func(snap session.Snapshot) bool {
		if _, err := w.Write([]byte("data: ")); err != nil {
			return false
		}
		if err := enc.Encode(snap); err != nil {
			return false
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return false
		}
		if canFlush {
			flusher.Flush()
		}
		return true
	}

	if snap, err := s.session.State(); err == nil && !send(snap) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case snap, ok := <-snaps:
			if !ok {
				if _, err := w.Write([]byte("event: done\ndata: {}\n\n")); err != nil {
					s.logger.Error("write done event failed", "error", err)
				}
				if canFlush {
					flusher.Flush()
				}
				return
			}
			if !send(snap) {
				return
			}
		}
	}
}
