// Package server exposes the relay over HTTP: a one-shot synthesis
// endpoint, a WebSocket ingress for incremental text, the voice
// inventory, and the usual health and metrics surfaces.
package server

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hollowaylabs/voxrelay/internal/audio"
	"github.com/hollowaylabs/voxrelay/internal/config"
	"github.com/hollowaylabs/voxrelay/internal/discovery"
	"github.com/hollowaylabs/voxrelay/internal/relay"
)

const (
	maxRequestBody  = 1 << 20
	shutdownTimeout = 5 * time.Second
)

// Synthesizer is the dispatch surface the server proxies requests to.
type Synthesizer interface {
	Stream(ctx context.Context, text <-chan string, opts relay.Options) (<-chan []byte, <-chan error)
}

// VoiceSource provides the discovered voice inventory.
type VoiceSource interface {
	Voices() []discovery.Voice
	Loaded() bool
}

type Server struct {
	cfg     config.HTTPConfig
	synth   Synthesizer
	voices  VoiceSource
	ready   func() bool
	logger  *slog.Logger
	httpSrv *http.Server
	ln      net.Listener

	upgrader websocket.Upgrader
}

// New wires the routes. metricsHandler may be nil when the Prometheus
// exporter is disabled.
func New(cfg config.HTTPConfig, synth Synthesizer, voices VoiceSource, ready func() bool, metricsHandler http.Handler, logger *slog.Logger) *Server {
	s := &Server{
		cfg:    cfg,
		synth:  synth,
		voices: voices,
		ready:  ready,
		logger: logger.With(slog.String("component", "http")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/synthesize", s.handleSynthesize)
	mux.HandleFunc("GET /v1/stream", s.handleStream)
	mux.HandleFunc("GET /v1/voices", s.handleVoices)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}

	s.httpSrv = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	s.ln = ln
	s.logger.Info("http server listening", slog.String("addr", ln.Addr().String()))

	go func() {
		if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// Addr returns the bound address, valid after Start.
func (s *Server) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.httpSrv.Shutdown(ctx)
}

type synthesizeRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

// handleSynthesize serves the one-shot path: the whole text in, a
// complete WAV with a sized header out.
func (s *Server) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var req synthesizeRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "request body must be JSON with a text field")
		return
	}
	if req.Text == "" {
		writeError(w, http.StatusBadRequest, "text must not be empty")
		return
	}

	text := make(chan string, 1)
	text <- req.Text
	close(text)

	out, errs := s.synth.Stream(r.Context(), text, relay.Options{Voice: req.Voice})

	var header []byte
	var pcm []byte
	for chunk := range out {
		if header == nil {
			header = chunk
			continue
		}
		pcm = append(pcm, chunk...)
	}
	if err := <-errs; err != nil {
		s.logger.Warn("one-shot synthesis failed", slog.String("error", err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}
	if len(header) != audio.HeaderSize {
		writeError(w, http.StatusBadGateway, "no audio produced")
		return
	}

	// Patch the streaming sentinels with real sizes.
	binary.LittleEndian.PutUint32(header[4:8], uint32(36+len(pcm)))
	binary.LittleEndian.PutUint32(header[40:44], uint32(len(pcm)))

	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(header)+len(pcm)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(header)
	_, _ = w.Write(pcm)
}

// handleStream serves the incremental path over WebSocket. Each text
// message is one fragment; an empty text message ends the input. Audio
// flows back as binary messages, the WAV header first.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already replied.
		s.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	text := make(chan string)
	go s.readFragments(ctx, ws, text)

	out, errs := s.synth.Stream(ctx, text, relay.Options{Voice: r.URL.Query().Get("voice")})
	for chunk := range out {
		if err := ws.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
			cancel()
			break
		}
	}

	closeMsg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := <-errs; err != nil && ctx.Err() == nil {
		s.logger.Warn("stream synthesis failed", slog.String("error", err.Error()))
		closeMsg = websocket.FormatCloseMessage(websocket.CloseInternalServerErr, err.Error())
	}
	_ = ws.WriteControl(websocket.CloseMessage, closeMsg, time.Now().Add(time.Second))
}

// readFragments pumps incoming text messages into the session. The
// channel is closed on an empty message, a client close, or teardown.
func (s *Server) readFragments(ctx context.Context, ws *websocket.Conn, text chan<- string) {
	defer close(text)
	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.TextMessage || len(data) == 0 {
			return
		}
		select {
		case text <- string(data):
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) handleVoices(w http.ResponseWriter, _ *http.Request) {
	resp := struct {
		Loaded bool              `json:"loaded"`
		Voices []discovery.Voice `json:"voices"`
	}{
		Loaded: s.voices.Loaded(),
		Voices: s.voices.Voices(),
	}
	if resp.Voices == nil {
		resp.Voices = []discovery.Voice{}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, _ *http.Request) {
	if s.ready != nil && !s.ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// statusFor maps dispatch failures onto HTTP statuses: unreachable
// engines are 503, a misbehaving engine is 502.
func statusFor(err error) int {
	switch {
	case errors.Is(err, relay.ErrNoServerAvailable),
		errors.Is(err, relay.ErrBothServersUnavailable),
		errors.Is(err, relay.ErrConnectionUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, relay.ErrProtocol):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
