package icloud

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// authBackend is a scriptable fake of the login, MFA, trust and setup
// endpoints, all served from one httptest server.
type authBackend struct {
	signinStatus  int
	signinSecrets bool
	signinBody    string

	submitStatus int
	trustStatus  int
	trustToken   string

	resendDeviceStatus int
	resendPhoneStatus  int

	setupStatus int
	setupBody   string
	setupCookie *http.Cookie
	setupDelay  time.Duration

	setupCalls  atomic.Int32
	submitCalls atomic.Int32
	resendCalls atomic.Int32
}

const validSetupBody = `{"webservices":{"ckdatabasews":{"url":"https://photos.example.com","status":"active"}}}`

func defaultBackend() *authBackend {
	return &authBackend{
		signinStatus:       http.StatusOK,
		signinSecrets:      true,
		submitStatus:       http.StatusNoContent,
		trustStatus:        http.StatusOK,
		trustToken:         "trust-tok-1",
		resendDeviceStatus: http.StatusAccepted,
		resendPhoneStatus:  http.StatusOK,
		setupStatus:        http.StatusOK,
		setupBody:          validSetupBody,
		setupCookie:        &http.Cookie{Name: "X-APPLE-WEBAUTH-TOKEN", Value: "c1", Expires: time.Now().Add(time.Hour)},
	}
}

func (b *authBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/signin", func(w http.ResponseWriter, r *http.Request) {
		if b.signinSecrets {
			w.Header().Set("X-Apple-Session-Token", "session-tok")
			w.Header().Set("Scnt", "scnt-1")
		}
		w.WriteHeader(b.signinStatus)
		if b.signinBody != "" {
			fmt.Fprint(w, b.signinBody)
		}
	})
	mux.HandleFunc("/verify/trusteddevice", func(w http.ResponseWriter, r *http.Request) {
		b.resendCalls.Add(1)
		w.WriteHeader(b.resendDeviceStatus)
	})
	mux.HandleFunc("/verify/phone", func(w http.ResponseWriter, r *http.Request) {
		b.resendCalls.Add(1)
		w.WriteHeader(b.resendPhoneStatus)
	})
	mux.HandleFunc("/verify/trusteddevice/securitycode", func(w http.ResponseWriter, r *http.Request) {
		b.submitCalls.Add(1)
		w.WriteHeader(b.submitStatus)
	})
	mux.HandleFunc("/verify/phone/securitycode", func(w http.ResponseWriter, r *http.Request) {
		b.submitCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/2sv/trust", func(w http.ResponseWriter, r *http.Request) {
		if b.trustToken != "" {
			w.Header().Set("X-Apple-TwoSV-Trust-Token", b.trustToken)
		}
		w.WriteHeader(b.trustStatus)
	})
	mux.HandleFunc("/accountLogin", func(w http.ResponseWriter, r *http.Request) {
		b.setupCalls.Add(1)
		if b.setupDelay > 0 {
			time.Sleep(b.setupDelay)
		}
		if b.setupCookie != nil {
			http.SetCookie(w, b.setupCookie)
		}
		w.WriteHeader(b.setupStatus)
		fmt.Fprint(w, b.setupBody)
	})
	return mux
}

// fakePrompter satisfies MFAPrompter without a real HTTP listener.
type fakePrompter struct {
	codes    chan MFACode
	resends  chan MFAMethod
	startErr error

	mu      sync.Mutex
	started bool
	stopped bool
}

func newFakePrompter() *fakePrompter {
	return &fakePrompter{
		codes:   make(chan MFACode, 1),
		resends: make(chan MFAMethod, 1),
	}
}

func (p *fakePrompter) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started = true
	return nil
}

func (p *fakePrompter) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
}

func (p *fakePrompter) Codes() <-chan MFACode     { return p.codes }
func (p *fakePrompter) Resends() <-chan MFAMethod { return p.resends }

func (p *fakePrompter) wasStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// newTestSession wires a Session against the fake backend.
func newTestSession(t *testing.T, b *authBackend, cfg SessionConfig) (*Session, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(b.handler())
	t.Cleanup(srv.Close)

	client, err := NewClient(zerolog.Nop(), WithAuthBaseURL(srv.URL), WithSetupBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	cfg.Username = "user@example.com"
	cfg.Password = "hunter2"
	cfg.Logger = zerolog.Nop()
	return NewSession(client, cfg), srv
}

func TestSession_HappyPathWithStoredTrustToken(t *testing.T) {
	cache := NewTrustTokenCache(filepath.Join(t.TempDir(), "trust-token"))
	if err := cache.Save("previous-token"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	b := defaultBackend()
	s, _ := newTestSession(t, b, SessionConfig{Cache: cache})

	if err := s.BecomeReady(context.Background()); err != nil {
		t.Fatalf("BecomeReady() error = %v", err)
	}
	if got := s.State(); got != StateAccountReady {
		t.Errorf("State() = %s, want account-ready", got)
	}

	// Trust token was re-acquired and persisted.
	tok, err := cache.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if tok != "trust-tok-1" {
		t.Errorf("persisted token = %q, want %q", tok, "trust-tok-1")
	}
}

func TestSession_BecomeReadyResolvesOnce(t *testing.T) {
	b := defaultBackend()
	b.signinStatus = http.StatusUnauthorized
	s, _ := newTestSession(t, b, SessionConfig{})

	err1 := s.BecomeReady(context.Background())
	err2 := s.BecomeReady(context.Background())
	if !errors.Is(err1, ErrBadCredentials) {
		t.Fatalf("BecomeReady() error = %v, want ErrBadCredentials", err1)
	}
	if err2 != err1 {
		t.Errorf("second BecomeReady() = %v, want the first outcome", err2)
	}
}

func TestSession_LoginFailures(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		secrets bool
		wantErr error
	}{
		{"unknown username", http.StatusForbidden, false, ErrUnknownUsername},
		{"bad credentials", http.StatusUnauthorized, false, ErrBadCredentials},
		{"unexpected status", http.StatusTeapot, false, ErrUnexpectedHTTPResponse},
		{"missing secret headers on 200", http.StatusOK, false, ErrAuthSecretsMissing},
		{"missing secret headers on 409", http.StatusConflict, false, ErrAuthSecretsMissing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := defaultBackend()
			b.signinStatus = tt.status
			b.signinSecrets = tt.secrets
			s, _ := newTestSession(t, b, SessionConfig{})

			err := s.BecomeReady(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("BecomeReady() error = %v, want %v", err, tt.wantErr)
			}
			if got := s.State(); got != StateFailed {
				t.Errorf("State() = %s, want failed", got)
			}
		})
	}
}

func TestSession_NoResponse(t *testing.T) {
	b := defaultBackend()
	s, srv := newTestSession(t, b, SessionConfig{})
	srv.Close()

	err := s.BecomeReady(context.Background())
	if !errors.Is(err, ErrNoResponse) {
		t.Errorf("BecomeReady() error = %v, want ErrNoResponse", err)
	}
}

func TestSession_MFAChallengeThenSubmit(t *testing.T) {
	b := defaultBackend()
	b.signinStatus = http.StatusConflict
	b.signinBody = `{"trustedPhoneNumbers":[{"id":7}]}`

	p := newFakePrompter()
	p.codes <- MFACode{Method: MFADevice, Code: "123456"}

	s, _ := newTestSession(t, b, SessionConfig{Prompter: p})

	if err := s.BecomeReady(context.Background()); err != nil {
		t.Fatalf("BecomeReady() error = %v", err)
	}
	if got := s.State(); got != StateAccountReady {
		t.Errorf("State() = %s, want account-ready", got)
	}
	if got := b.submitCalls.Load(); got != 1 {
		t.Errorf("submit endpoint called %d times, want 1", got)
	}
	if !p.wasStopped() {
		t.Error("prompt server was not stopped after success")
	}
	if got := s.DeviceIndex(); got != 0 {
		t.Errorf("DeviceIndex() = %d, want 0", got)
	}
}

// waitForResend waits until the backend has seen a resend request, so
// the code is only submitted after the resend path has run. On timeout
// it returns anyway; the caller's resend-count assertion reports it.
func waitForResend(b *authBackend) {
	deadline := time.Now().Add(2 * time.Second)
	for b.resendCalls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSession_MFAResendDeviceThenSubmit(t *testing.T) {
	b := defaultBackend()
	b.signinStatus = http.StatusConflict

	var mu sync.Mutex
	var warnings []Warning
	p := newFakePrompter()
	p.resends <- MFADevice

	s, _ := newTestSession(t, b, SessionConfig{
		Prompter: p,
		Warn: func(w Warning) {
			mu.Lock()
			warnings = append(warnings, w)
			mu.Unlock()
		},
	})

	go func() {
		waitForResend(b)
		p.codes <- MFACode{Method: MFADevice, Code: "123456"}
	}()

	if err := s.BecomeReady(context.Background()); err != nil {
		t.Fatalf("BecomeReady() error = %v", err)
	}
	if got := b.resendCalls.Load(); got != 1 {
		t.Errorf("resend endpoint called %d times, want 1", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(warnings) != 0 {
		t.Errorf("warnings = %v, want none for a successful resend", warnings)
	}
}

func TestSession_MFAResendPhoneThenSubmit(t *testing.T) {
	b := defaultBackend()
	b.signinStatus = http.StatusConflict
	b.signinBody = `{"trustedPhoneNumbers":[{"id":7}]}`

	p := newFakePrompter()
	p.resends <- MFASMS

	s, _ := newTestSession(t, b, SessionConfig{Prompter: p})

	go func() {
		waitForResend(b)
		p.codes <- MFACode{Method: MFASMS, Code: "654321"}
	}()

	if err := s.BecomeReady(context.Background()); err != nil {
		t.Fatalf("BecomeReady() error = %v", err)
	}
	if got := s.State(); got != StateAccountReady {
		t.Errorf("State() = %s, want account-ready", got)
	}
	if got := b.submitCalls.Load(); got != 1 {
		t.Errorf("submit endpoint called %d times, want 1", got)
	}
}

func TestSession_MFAResendFailureIsNonFatal(t *testing.T) {
	b := defaultBackend()
	b.signinStatus = http.StatusConflict
	b.resendDeviceStatus = http.StatusInternalServerError

	var mu sync.Mutex
	var warnings []Warning
	p := newFakePrompter()
	p.resends <- MFADevice

	s, _ := newTestSession(t, b, SessionConfig{
		Prompter: p,
		Warn: func(w Warning) {
			mu.Lock()
			warnings = append(warnings, w)
			mu.Unlock()
		},
	})

	go func() {
		waitForResend(b)
		p.codes <- MFACode{Method: MFADevice, Code: "123456"}
	}()

	// A failed resend keeps the challenge open; readiness still resolves
	// once a code comes in.
	if err := s.BecomeReady(context.Background()); err != nil {
		t.Fatalf("BecomeReady() error = %v", err)
	}
	if got := s.State(); got != StateAccountReady {
		t.Errorf("State() = %s, want account-ready", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(warnings) != 1 || warnings[0].Kind != WarnMfaResendFailed {
		t.Errorf("warnings = %v, want one %s", warnings, WarnMfaResendFailed)
	}
}

func TestSession_MFASubmitRejected(t *testing.T) {
	b := defaultBackend()
	b.signinStatus = http.StatusConflict
	b.submitStatus = http.StatusBadRequest

	p := newFakePrompter()
	p.codes <- MFACode{Method: MFADevice, Code: "000000"}

	s, _ := newTestSession(t, b, SessionConfig{Prompter: p})

	err := s.BecomeReady(context.Background())
	if !errors.Is(err, ErrMfaSubmitFailed) {
		t.Errorf("BecomeReady() error = %v, want ErrMfaSubmitFailed", err)
	}
	if !p.wasStopped() {
		t.Error("prompt server was not stopped after failure")
	}
}

func TestSession_FailOnMFA(t *testing.T) {
	b := defaultBackend()
	b.signinStatus = http.StatusConflict

	p := newFakePrompter()
	s, _ := newTestSession(t, b, SessionConfig{Prompter: p, FailOnMFA: true})

	err := s.BecomeReady(context.Background())
	if !errors.Is(err, ErrMfaRequiredButDisallowed) {
		t.Errorf("BecomeReady() error = %v, want ErrMfaRequiredButDisallowed", err)
	}
	p.mu.Lock()
	started := p.started
	p.mu.Unlock()
	if started {
		t.Error("prompt server was started despite fail-on-MFA policy")
	}
}

func TestSession_MFAServerStartFailure(t *testing.T) {
	b := defaultBackend()
	b.signinStatus = http.StatusConflict

	p := newFakePrompter()
	p.startErr = errors.New("port in use")

	s, _ := newTestSession(t, b, SessionConfig{Prompter: p})

	err := s.BecomeReady(context.Background())
	if !errors.Is(err, ErrMfaServerStartFailed) {
		t.Errorf("BecomeReady() error = %v, want ErrMfaServerStartFailed", err)
	}
}

func TestSession_TokenAcquisitionFailureKeepsOldToken(t *testing.T) {
	cache := NewTrustTokenCache(filepath.Join(t.TempDir(), "trust-token"))
	if err := cache.Save("previous-token"); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	b := defaultBackend()
	b.trustStatus = http.StatusInternalServerError
	b.trustToken = ""
	s, _ := newTestSession(t, b, SessionConfig{Cache: cache})

	err := s.BecomeReady(context.Background())
	if !errors.Is(err, ErrTokenAcquisitionFailed) {
		t.Fatalf("BecomeReady() error = %v, want ErrTokenAcquisitionFailed", err)
	}

	tok, loadErr := cache.Load()
	if loadErr != nil {
		t.Fatalf("Load() error = %v", loadErr)
	}
	if tok != "previous-token" {
		t.Errorf("persisted token = %q, want untouched %q", tok, "previous-token")
	}
}

func TestSession_SetupAllCookiesExpired(t *testing.T) {
	b := defaultBackend()
	b.setupCookie = &http.Cookie{Name: "X-APPLE-WEBAUTH-TOKEN", Value: "c1", Expires: time.Now().Add(-time.Hour)}
	s, _ := newTestSession(t, b, SessionConfig{})

	err := s.BecomeReady(context.Background())
	if !errors.Is(err, ErrAccountSetupFailed) {
		t.Fatalf("BecomeReady() error = %v, want ErrAccountSetupFailed", err)
	}

	// No photo-library component may be constructed.
	if _, perr := s.Photos(0, nil); !errors.Is(perr, ErrPhotosServiceNotReady) {
		t.Errorf("Photos() error = %v, want ErrPhotosServiceNotReady", perr)
	}
}

func TestSession_SetupMissingPhotoEndpoint(t *testing.T) {
	b := defaultBackend()
	b.setupBody = `{"webservices":{"docws":{"url":"https://docs.example.com","status":"active"}}}`
	s, _ := newTestSession(t, b, SessionConfig{})

	err := s.BecomeReady(context.Background())
	if !errors.Is(err, ErrAccountSetupFailed) {
		t.Errorf("BecomeReady() error = %v, want ErrAccountSetupFailed", err)
	}
}

func TestSession_PhotosBeforeReady(t *testing.T) {
	b := defaultBackend()
	s, _ := newTestSession(t, b, SessionConfig{})

	if _, err := s.Photos(0, nil); !errors.Is(err, ErrPhotosServiceNotReady) {
		t.Errorf("Photos() error = %v, want ErrPhotosServiceNotReady", err)
	}
}

func TestSession_RefreshCoalesced(t *testing.T) {
	b := defaultBackend()
	b.setupDelay = 50 * time.Millisecond
	s, _ := newTestSession(t, b, SessionConfig{})

	if err := s.BecomeReady(context.Background()); err != nil {
		t.Fatalf("BecomeReady() error = %v", err)
	}
	before := b.setupCalls.Load()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Refresh(context.Background()); err != nil {
				t.Errorf("Refresh() error = %v", err)
			}
		}()
	}
	wg.Wait()

	// The four concurrent refreshes coalesce into one underlying call.
	if got := b.setupCalls.Load() - before; got != 1 {
		t.Errorf("refresh performed %d setup calls, want 1", got)
	}
}

func TestSession_CookiesFresh(t *testing.T) {
	b := defaultBackend()
	s, _ := newTestSession(t, b, SessionConfig{})

	if s.CookiesFresh(time.Hour) {
		t.Error("CookiesFresh() = true before any setup")
	}

	if err := s.BecomeReady(context.Background()); err != nil {
		t.Fatalf("BecomeReady() error = %v", err)
	}
	if !s.CookiesFresh(time.Hour) {
		t.Error("CookiesFresh() = false right after setup")
	}
	if s.CookiesFresh(0) {
		t.Error("CookiesFresh(0) = true, want false for zero window")
	}
}

func TestTransition_Table(t *testing.T) {
	tests := []struct {
		name    string
		from    State
		ev      event
		want    State
		wantErr bool
	}{
		{"authenticate from needs-auth", StateNeedsAuth, evAuthenticate, StateAuthenticating, false},
		{"secrets while authenticating", StateAuthenticating, evSecretsReceived, StateAuthenticated, false},
		{"challenge while authenticating", StateAuthenticating, evMFAChallenged, StateMFARequired, false},
		{"verify from mfa-required", StateMFARequired, evMFAVerified, StateAuthenticated, false},
		{"token from authenticated", StateAuthenticated, evTokenAcquired, StateTrusted, false},
		{"setup from trusted", StateTrusted, evAccountSetUp, StateAccountReady, false},
		{"refresh re-runs setup", StateAccountReady, evAccountSetUp, StateAccountReady, false},
		{"fail from anywhere", StateMFARequired, evFailed, StateFailed, false},
		{"no double authenticate", StateAuthenticating, evAuthenticate, StateAuthenticating, true},
		{"no token before authenticated", StateMFARequired, evTokenAcquired, StateMFARequired, true},
		{"no setup before trusted", StateAuthenticated, evAccountSetUp, StateAuthenticated, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := transition(tt.from, tt.ev)
			if (err != nil) != tt.wantErr {
				t.Fatalf("transition() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("transition() = %s, want %s", got, tt.want)
			}
		})
	}
}
