// Package mfa runs the local HTTP server that collects a one-time code
// from the user while a login is held at the MFA challenge.
package mfa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/frostpix/frostpix/internal/icloud"
)

// DefaultAddr is the default listen address.
const DefaultAddr = "127.0.0.1:8723"

var codePattern = regexp.MustCompile(`^\d{6}$`)

// Server collects a submitted MFA code over HTTP and hands it to the
// auth session. It satisfies icloud.MFAPrompter.
type Server struct {
	addr     string
	logger   zerolog.Logger
	server   *http.Server
	listener net.Listener

	codes    chan icloud.MFACode
	resends  chan icloud.MFAMethod
	stopOnce sync.Once
}

// NewServer creates a Server listening on addr once started.
func NewServer(addr string, logger zerolog.Logger) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	s := &Server{
		addr:    addr,
		logger:  logger,
		codes:   make(chan icloud.MFACode, 1),
		resends: make(chan icloud.MFAMethod, 1),
	}

	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Get("/", s.handleHelp)
	router.Post("/mfa", s.handleSubmit)
	router.Post("/resend", s.handleResend)

	s.server = &http.Server{
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Start binds the listen address and serves in the background. A bind
// failure is returned synchronously so the session can fail fast.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("binding %s: %w", s.addr, err)
	}
	s.listener = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("MFA server error")
		}
	}()

	s.logger.Info().Str("addr", ln.Addr().String()).Msg("waiting for MFA code; submit with POST /mfa")
	return nil
}

// Addr returns the bound address. Only valid after Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop shuts the server down. Safe to call more than once and on a
// server that never started.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		if s.listener == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("MFA server shutdown")
		}
	})
}

// Codes delivers submitted codes to the session.
func (s *Server) Codes() <-chan icloud.MFACode { return s.codes }

// Resends delivers resend requests to the session.
func (s *Server) Resends() <-chan icloud.MFAMethod { return s.resends }

func (s *Server) handleHelp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintln(w, "POST /mfa    {\"code\":\"123456\",\"method\":\"device|sms|voice\"}")
	fmt.Fprintln(w, "POST /resend {\"method\":\"device|sms|voice\"}")
}

type submitRequest struct {
	Code   string `json:"code"`
	Method string `json:"method"`
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if !codePattern.MatchString(req.Code) {
		http.Error(w, "code must be 6 digits", http.StatusBadRequest)
		return
	}
	method, ok := parseMethod(req.Method)
	if !ok {
		http.Error(w, "unknown method", http.StatusBadRequest)
		return
	}

	select {
	case s.codes <- icloud.MFACode{Method: method, Code: req.Code}:
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintln(w, "code received")
	default:
		http.Error(w, "a code is already pending", http.StatusConflict)
	}
}

type resendRequest struct {
	Method string `json:"method"`
}

func (s *Server) handleResend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	method, ok := parseMethod(req.Method)
	if !ok {
		http.Error(w, "unknown method", http.StatusBadRequest)
		return
	}

	select {
	case s.resends <- method:
		w.WriteHeader(http.StatusAccepted)
		fmt.Fprintln(w, "resend requested")
	default:
		http.Error(w, "a resend is already pending", http.StatusConflict)
	}
}

// parseMethod maps the wire method name; an empty method means the
// trusted-device push.
func parseMethod(m string) (icloud.MFAMethod, bool) {
	switch m {
	case "", "device":
		return icloud.MFADevice, true
	case "sms":
		return icloud.MFASMS, true
	case "voice":
		return icloud.MFAVoice, true
	default:
		return "", false
	}
}
