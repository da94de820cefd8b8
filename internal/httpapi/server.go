// Package httpapi exposes the generation and playback operations over HTTP
// and a websocket control channel that observer contexts connect to.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"sonara/internal/chunking"
	"sonara/internal/config"
	"sonara/internal/jobs"
	"sonara/internal/observability"
	"sonara/internal/playback"
	"sonara/internal/protocol"
	"sonara/internal/store"
	"sonara/internal/tts"
)

type Server struct {
	cfg         config.Config
	runner      *jobs.Runner
	logs        *jobs.LogStore
	st          store.Store
	coordinator *playback.Coordinator
	hub         *Hub
	metrics     *observability.Metrics
	upgrader    websocket.Upgrader
}

func New(cfg config.Config, runner *jobs.Runner, logs *jobs.LogStore, st store.Store, coordinator *playback.Coordinator, hub *Hub, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:         cfg,
		runner:      runner,
		logs:        logs,
		st:          st,
		coordinator: coordinator,
		hub:         hub,
		metrics:     metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only same-origin browser connections by default so another
				// site cannot drive the user's playback.
				if cfg.AllowAnyOrigin {
					return true
				}
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					// Non-browser clients often omit Origin. Allow them.
					return true
				}
				u, err := url.Parse(origin)
				if err != nil {
					return false
				}
				if u.Scheme != "http" && u.Scheme != "https" {
					return false
				}
				return strings.EqualFold(u.Host, r.Host)
			},
		},
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		s.metrics.Handler().ServeHTTP(w, r)
	})

	r.Post("/v1/audio/jobs", s.handleGenerate)
	r.Post("/v1/audio/jobs/{id}/cancel", s.handleCancel)
	r.Get("/v1/audio/jobs/{id}/audio", s.handleDownloadAudio)
	r.Get("/v1/audio/logs", s.handleListLogs)
	r.Get("/v1/voices", s.handleListVoices)

	r.Post("/v1/playback/load", s.handleLoad)
	r.Post("/v1/playback/play", s.handlePlay)
	r.Post("/v1/playback/pause", s.handlePause)
	r.Post("/v1/playback/resume", s.handleResume)
	r.Post("/v1/playback/stop", s.handleStop)
	r.Post("/v1/playback/seek", s.handleSeek)
	r.Post("/v1/playback/rate", s.handleSetRate)
	r.Post("/v1/playback/volume", s.handleSetVolume)
	r.Get("/v1/playback/state", s.handlePlaybackState)

	r.Get("/v1/ws", s.handleObserverWS)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.st.Touch(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "store_unavailable", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// handleGenerate runs the job synchronously and answers with its terminal
// outcome, mirroring the control channel semantics.
func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req protocol.GenerateAudio
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "jobId is required")
		return
	}
	status, resp := statusAndEnvelope(s.runner.Generate(r.Context(), req.JobID), req.JobID)
	respondJSON(w, status, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing job id")
		return
	}
	if !s.runner.Cancel(id) {
		resp := protocol.FailMsg("no active job for id")
		respondJSON(w, http.StatusNotFound, resp)
		return
	}
	respondJSON(w, http.StatusOK, protocol.Response{OK: true, Cancelled: true, JobID: id})
}

func (s *Server) handleDownloadAudio(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "missing job id")
		return
	}
	payload, err := s.st.LoadAudio(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrPayloadNotFound) {
			respondError(w, http.StatusNotFound, "audio_not_found", err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	w.Header().Set("Content-Type", payload.MimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload.Bytes)
}

func (s *Server) handleListLogs(w http.ResponseWriter, r *http.Request) {
	jobID := strings.TrimSpace(r.URL.Query().Get("jobId"))
	entries, err := s.logs.Query(r.Context(), jobID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "store_error", err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"logs": entries})
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"voices":  tts.Voices(),
		"default": tts.DefaultVoice,
	})
}

func (s *Server) handleLoad(w http.ResponseWriter, r *http.Request) {
	var req protocol.LoadAudio
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "jobId is required")
		return
	}
	state, err := s.coordinator.Load(r.Context(), req.JobID, req.Force)
	s.respondPlayback(w, state, err)
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	var req protocol.PlayAudio
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if strings.TrimSpace(req.JobID) == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "jobId is required")
		return
	}
	state, err := s.coordinator.Play(r.Context(), req.JobID)
	s.respondPlayback(w, state, err)
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	state, err := s.coordinator.Pause(r.Context())
	s.respondPlayback(w, state, err)
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req protocol.AudioResume
	if err := decodeJSON(r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	state, err := s.coordinator.Resume(r.Context(), strings.TrimSpace(req.JobID))
	s.respondPlayback(w, state, err)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	state, err := s.coordinator.StopPlayback(r.Context())
	s.respondPlayback(w, state, err)
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req protocol.AudioSeek
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	state, err := s.coordinator.Seek(r.Context(), req.Time)
	s.respondPlayback(w, state, err)
}

func (s *Server) handleSetRate(w http.ResponseWriter, r *http.Request) {
	var req protocol.AudioSetRate
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Rate <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "rate must be positive")
		return
	}
	state, err := s.coordinator.SetRate(r.Context(), req.Rate)
	s.respondPlayback(w, state, err)
}

func (s *Server) handleSetVolume(w http.ResponseWriter, r *http.Request) {
	var req protocol.AudioSetVolume
	if err := decodeJSON(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	if req.Volume < 0 {
		respondError(w, http.StatusBadRequest, "invalid_request", "volume must not be negative")
		return
	}
	state, err := s.coordinator.SetVolume(r.Context(), req.Volume)
	s.respondPlayback(w, state, err)
}

func (s *Server) handlePlaybackState(w http.ResponseWriter, r *http.Request) {
	state, err := s.coordinator.State(r.Context())
	s.respondPlayback(w, state, err)
}

func (s *Server) respondPlayback(w http.ResponseWriter, state protocol.PlaybackState, err error) {
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, store.ErrPayloadNotFound):
			status = http.StatusNotFound
		case errors.Is(err, playback.ErrHostUnavailable):
			status = http.StatusServiceUnavailable
		}
		respondJSON(w, status, protocol.Fail(err))
		return
	}
	resp := protocol.OK()
	resp.State = &state
	respondJSON(w, http.StatusOK, resp)
}

// handleObserverWS attaches an observer to the control channel. Every
// inbound request-style message receives exactly one Response; broadcasts
// from the hub are interleaved on the same connection.
func (s *Server) handleObserverWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	clientID, broadcasts := s.hub.Register()
	defer s.hub.Unregister(clientID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	outbound := make(chan any, 256)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-broadcasts:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
				if t, ok := messageTypeOf(msg); ok {
					s.metrics.WSMessages.WithLabelValues("outbound", string(t)).Inc()
				}
			case msg := <-outbound:
				_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	enqueue := func(msg any) {
		select {
		case outbound <- msg:
		case <-ctx.Done():
		}
	}

	conn.SetReadLimit(2 << 20)
	_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(120 * time.Second))
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			enqueue(protocol.Fail(err))
			continue
		}
		if t, ok := messageTypeOf(parsed); ok {
			s.metrics.WSMessages.WithLabelValues("inbound", string(t)).Inc()
		}
		// Dispatch off the read loop: a generation job can run for minutes
		// and must not block pause or state queries arriving behind it.
		go func(msg any) {
			enqueue(s.dispatch(ctx, msg))
		}(parsed)
	}
	cancel()
	<-writerDone
}

func (s *Server) dispatch(ctx context.Context, msg any) protocol.Response {
	switch m := msg.(type) {
	case protocol.GenerateAudio:
		_, resp := statusAndEnvelope(s.runner.Generate(ctx, m.JobID), m.JobID)
		return resp
	case protocol.CancelAudioGeneration:
		if !s.runner.Cancel(m.JobID) {
			return protocol.FailMsg("no active job for id")
		}
		return protocol.Response{OK: true, Cancelled: true, JobID: m.JobID}
	case protocol.LoadAudio:
		return playbackEnvelope(s.coordinator.Load(ctx, m.JobID, m.Force))
	case protocol.PlayAudio:
		return playbackEnvelope(s.coordinator.Play(ctx, m.JobID))
	case protocol.AudioPause:
		return playbackEnvelope(s.coordinator.Pause(ctx))
	case protocol.AudioResume:
		return playbackEnvelope(s.coordinator.Resume(ctx, strings.TrimSpace(m.JobID)))
	case protocol.AudioStop:
		return playbackEnvelope(s.coordinator.StopPlayback(ctx))
	case protocol.AudioSeek:
		return playbackEnvelope(s.coordinator.Seek(ctx, m.Time))
	case protocol.AudioSetRate:
		return playbackEnvelope(s.coordinator.SetRate(ctx, m.Rate))
	case protocol.AudioSetVolume:
		return playbackEnvelope(s.coordinator.SetVolume(ctx, m.Volume))
	case protocol.GetAudioState:
		return playbackEnvelope(s.coordinator.State(ctx))
	default:
		return protocol.FailMsg("unsupported message type")
	}
}

// statusAndEnvelope maps a generation outcome to an HTTP status and the
// shared response envelope.
func statusAndEnvelope(err error, jobID string) (int, protocol.Response) {
	if err == nil {
		return http.StatusOK, protocol.Completed(jobID)
	}
	switch {
	case errors.Is(err, jobs.ErrCancelled):
		return http.StatusOK, protocol.Response{OK: false, Cancelled: true, Error: err.Error(), JobID: jobID}
	case errors.Is(err, jobs.ErrAlreadyActive):
		return http.StatusConflict, protocol.Fail(err)
	case errors.Is(err, jobs.ErrNotFound):
		return http.StatusNotFound, protocol.Fail(err)
	case errors.Is(err, chunking.ErrEmptyInput), errors.Is(err, tts.ErrMissingCredential):
		return http.StatusUnprocessableEntity, protocol.Fail(err)
	case store.IsQuotaError(err):
		return http.StatusInsufficientStorage, protocol.Fail(err)
	default:
		return http.StatusInternalServerError, protocol.Fail(err)
	}
}

func playbackEnvelope(state protocol.PlaybackState, err error) protocol.Response {
	if err != nil {
		return protocol.Fail(err)
	}
	resp := protocol.OK()
	resp.State = &state
	return resp
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "eof") {
			return errEmptyBody
		}
		return err
	}
	return nil
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}

func messageTypeOf(v any) (protocol.MessageType, bool) {
	switch m := v.(type) {
	case protocol.GenerateAudio:
		return m.Type, true
	case protocol.CancelAudioGeneration:
		return m.Type, true
	case protocol.LoadAudio:
		return m.Type, true
	case protocol.PlayAudio:
		return m.Type, true
	case protocol.AudioPause:
		return m.Type, true
	case protocol.AudioResume:
		return m.Type, true
	case protocol.AudioStop:
		return m.Type, true
	case protocol.AudioSeek:
		return m.Type, true
	case protocol.AudioSetRate:
		return m.Type, true
	case protocol.AudioSetVolume:
		return m.Type, true
	case protocol.GetAudioState:
		return m.Type, true
	case protocol.AudioReady:
		return m.Type, true
	case protocol.AudioStateUpdate:
		return m.Type, true
	case protocol.AudioTimeUpdate:
		return m.Type, true
	case protocol.AudioPlaying:
		return m.Type, true
	case protocol.KeepAlivePing:
		return m.Type, true
	default:
		return "", false
	}
}
