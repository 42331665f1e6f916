package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/MrWong99/lectern/internal/assess"
	"github.com/MrWong99/lectern/internal/batch"
	"github.com/MrWong99/lectern/internal/drill"
	"github.com/MrWong99/lectern/internal/observe"
	"github.com/MrWong99/lectern/internal/resilience"
	"github.com/MrWong99/lectern/pkg/audio"
	"github.com/MrWong99/lectern/pkg/provider/stt"
	"github.com/MrWong99/lectern/pkg/scoring"
)

type scoreRequest struct {
	Reference string `json:"reference"`
	Candidate string `json:"candidate"`
	Respeak   string `json:"respeak,omitempty"`
}

type batchRequest struct {
	Items []batch.Item `json:"items"`
}

type statsResponse struct {
	Mode       string           `json:"mode"`
	Thresholds drill.Thresholds `json:"thresholds"`
	Tally      drill.Tally      `json:"tally"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}

	var (
		res assess.Assessment
		err error
	)
	if req.Respeak != "" {
		res, err = s.assessor.ScoreWithRespeak(r.Context(), req.Reference, req.Respeak, req.Candidate)
	} else {
		res, err = s.assessor.Score(r.Context(), req.Reference, req.Candidate)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleExplain(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	rep, err := s.assessor.Explain(r.Context(), req.Reference, req.Candidate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleScoreAudio(w http.ResponseWriter, r *http.Request) {
	if !s.assessor.CanTranscribe() {
		s.writeError(w, r, assess.ErrNoTranscriber)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		s.writeError(w, r, badRequest("parse multipart form: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	reference := r.FormValue("reference")
	f, _, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, r, badRequest("file: %w", err))
		return
	}
	defer f.Close()

	clip, err := audio.ReadWAV(f)
	if err != nil {
		s.writeError(w, r, badRequest("%w", err))
		return
	}

	res, err := s.assessor.ScoreAudio(r.Context(), reference, clip, assess.AudioOptions{
		Language: r.FormValue("language"),
		Respeak:  r.FormValue("respeak"),
		Prompt:   r.FormValue("prompt") == "true",
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	if s.batch == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "batch scoring is not enabled"})
		return
	}

	var items []batch.Item
	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch ct {
	case "application/x-ndjson", "application/jsonl":
		var err error
		items, err = batch.ReadItems(http.MaxBytesReader(w, r.Body, s.maxUpload))
		if err != nil {
			s.writeError(w, r, badRequest("%w", err))
			return
		}
	default:
		var req batchRequest
		if !s.decodeJSON(w, r, &req) {
			return
		}
		if len(req.Items) == 0 {
			s.writeError(w, r, badRequest("%w", batch.ErrEmptyBatch))
			return
		}
		items = req.Items
	}

	rep, err := s.batch.Run(r.Context(), items)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	m := s.assessor.Mode()
	writeJSON(w, http.StatusOK, statsResponse{
		Mode:       m.Name(),
		Thresholds: m.Thresholds(),
		Tally:      m.Tally(),
	})
}

// decodeJSON reads a bounded JSON body into v. On failure it writes a 400
// and returns false.
func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxUpload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, badRequest("decode request: %w", err))
		return false
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		s.writeError(w, r, badRequest("decode request: trailing data after JSON body"))
		return false
	}
	return true
}

// requestError marks a client mistake.
type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }
func (e requestError) Unwrap() error { return e.err }

func badRequest(format string, args ...any) error {
	return requestError{err: fmt.Errorf(format, args...)}
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	var (
		tooLarge *http.MaxBytesError
		reqErr   requestError
	)
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &reqErr),
		errors.Is(err, scoring.ErrInvalidInput),
		errors.Is(err, drill.ErrUnknownSentence),
		errors.Is(err, stt.ErrEmptyAudio):
		return http.StatusBadRequest
	case errors.Is(err, assess.ErrNoTranscriber),
		errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, assess.ErrTranscribe):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	log := observe.Logger(r.Context())
	if status >= http.StatusInternalServerError {
		log.Error("request failed", "path", r.URL.Path, "status", status, "error", err)
	} else {
		log.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
