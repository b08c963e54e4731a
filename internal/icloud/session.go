package icloud

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// State is the auth session's position in the login lifecycle.
type State int

const (
	StateNeedsAuth State = iota
	StateAuthenticating
	StateMFARequired
	StateAuthenticated
	StateTrusted
	StateAccountReady
	StateFailed
)

// String returns a short name for the state.
func (s State) String() string {
	switch s {
	case StateNeedsAuth:
		return "needs-auth"
	case StateAuthenticating:
		return "authenticating"
	case StateMFARequired:
		return "mfa-required"
	case StateAuthenticated:
		return "authenticated"
	case StateTrusted:
		return "trusted"
	case StateAccountReady:
		return "account-ready"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// event is a state-machine input.
type event int

const (
	evAuthenticate event = iota
	evSecretsReceived
	evMFAChallenged
	evMFAVerified
	evTokenAcquired
	evAccountSetUp
	evFailed
)

// transition is the pure state-machine step: it validates that the event
// is legal in the current state and returns the next state. No I/O.
func transition(s State, ev event) (State, error) {
	switch ev {
	case evFailed:
		return StateFailed, nil
	case evAuthenticate:
		if s == StateNeedsAuth {
			return StateAuthenticating, nil
		}
	case evSecretsReceived:
		if s == StateAuthenticating {
			return StateAuthenticated, nil
		}
	case evMFAChallenged:
		if s == StateAuthenticating {
			return StateMFARequired, nil
		}
	case evMFAVerified:
		if s == StateMFARequired {
			return StateAuthenticated, nil
		}
	case evTokenAcquired:
		if s == StateAuthenticated {
			return StateTrusted, nil
		}
	case evAccountSetUp:
		// Re-entering account setup from ACCOUNT_READY is the session
		// refresh path: new cookies without a new login.
		if s == StateTrusted || s == StateAccountReady {
			return StateAccountReady, nil
		}
	}
	return s, fmt.Errorf("invalid session transition: %s on event %d", s, ev)
}

// MFAMethod selects how a one-time code is requested and verified.
type MFAMethod string

const (
	MFADevice MFAMethod = "device"
	MFASMS    MFAMethod = "sms"
	MFAVoice  MFAMethod = "voice"
)

// MFACode is a one-time code submitted by the user, with the method it
// was delivered through.
type MFACode struct {
	Method MFAMethod
	Code   string
}

// MFAPrompter collects a one-time code from the user out-of-band. The
// session starts it when the login is challenged and guarantees Stop is
// called on every terminal path.
type MFAPrompter interface {
	Start() error
	Stop()

	// Codes delivers submitted codes. The session consumes exactly one.
	Codes() <-chan MFACode

	// Resends delivers requests to re-send a code via the given method.
	Resends() <-chan MFAMethod
}

// SessionConfig carries credentials and policy for a Session.
type SessionConfig struct {
	Username string
	Password string

	// TrustToken, when set, is used instead of the persisted token.
	TrustToken string

	// FailOnMFA makes an MFA challenge fatal instead of prompting.
	FailOnMFA bool

	Cache    *TrustTokenCache
	Prompter MFAPrompter
	Warn     WarningFunc
	Logger   zerolog.Logger
}

// Session owns the credentials, auth secrets, cookies and trust token,
// and drives the login/MFA/trust/setup state machine. It is not
// re-entrant: one readiness attempt at a time, resolved exactly once.
type Session struct {
	client *Client
	cfg    SessionConfig

	mu           sync.Mutex
	state        State
	sessionToken string
	scnt         string
	trustToken   string
	phoneID      int
	deviceIndex  int
	cookies      []*http.Cookie
	cookiesAt    time.Time
	webservices  map[string]string

	refreshGroup singleflight.Group
	readyOnce    sync.Once
	readyErr     error
}

// NewSession creates a Session in the NEEDS_AUTH state.
func NewSession(client *Client, cfg SessionConfig) *Session {
	if cfg.Warn == nil {
		logger := cfg.Logger
		cfg.Warn = func(w Warning) {
			logger.Warn().Str("kind", string(w.Kind)).Msg(w.Message)
		}
	}
	return &Session{
		client:  client,
		cfg:     cfg,
		state:   StateNeedsAuth,
		phoneID: 1,
	}
}

// State returns the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// DeviceIndex returns the zero-based index of the registered MFA device
// the challenge was issued against. Only meaningful after an MFA
// challenge.
func (s *Session) DeviceIndex() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.deviceIndex
}

// advance applies an event to the state machine.
func (s *Session) advance(ev event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := transition(s.state, ev)
	if err != nil {
		return err
	}
	s.state = next
	return nil
}

// BecomeReady drives the session from NEEDS_AUTH to ACCOUNT_READY. The
// outcome resolves exactly once: repeated calls return the first result
// without re-running any part of the login.
func (s *Session) BecomeReady(ctx context.Context) error {
	s.readyOnce.Do(func() {
		err := s.becomeReady(ctx)
		if err != nil {
			_ = s.advance(evFailed)
			s.cfg.Logger.Error().Err(err).Msg("session readiness failed")
		}
		s.readyErr = err
	})
	return s.readyErr
}

func (s *Session) becomeReady(ctx context.Context) error {
	mfaNeeded, err := s.authenticate(ctx)
	if err != nil {
		return err
	}

	if mfaNeeded {
		if s.cfg.FailOnMFA {
			return ErrMfaRequiredButDisallowed
		}
		if err := s.promptMFA(ctx); err != nil {
			return err
		}
	}

	if err := s.acquireTrustToken(ctx); err != nil {
		return err
	}
	return s.setupAccount(ctx)
}

// signinResponse is the subset of the login body the session cares
// about: the registered phone numbers offered for a challenge.
type signinResponse struct {
	TrustedPhoneNumbers []struct {
		ID int `json:"id"`
	} `json:"trustedPhoneNumbers"`
}

// authenticate sends credentials to the login endpoint and classifies
// the response. Returns true when the account demands a second factor.
func (s *Session) authenticate(ctx context.Context) (bool, error) {
	if err := s.advance(evAuthenticate); err != nil {
		return false, err
	}

	trustToken := s.cfg.TrustToken
	if trustToken == "" && s.cfg.Cache != nil {
		loaded, err := s.cfg.Cache.Load()
		if err != nil {
			return false, fmt.Errorf("loading trust token: %w", err)
		}
		trustToken = loaded
	}
	s.mu.Lock()
	s.trustToken = trustToken
	s.mu.Unlock()

	body := map[string]any{
		"accountName": s.cfg.Username,
		"password":    s.cfg.Password,
		"rememberMe":  true,
		"trustTokens": []string{},
	}
	if trustToken != "" {
		body["trustTokens"] = []string{trustToken}
	}

	req, err := s.client.NewRequest(ctx, http.MethodPost, s.client.authBaseURL+"/signin", body)
	if err != nil {
		return false, err
	}

	resp, respBody, err := s.client.Do(req)
	if err != nil {
		return false, err
	}

	switch resp.StatusCode {
	case http.StatusOK:
		if err := s.storeAuthSecrets(resp); err != nil {
			return false, err
		}
		if err := s.advance(evSecretsReceived); err != nil {
			return false, err
		}
		s.cfg.Logger.Debug().Msg("login accepted without challenge")
		return false, nil

	case http.StatusConflict:
		if err := s.storeAuthSecrets(resp); err != nil {
			return false, fmt.Errorf("%w: in MFA challenge response", ErrAuthSecretsMissing)
		}
		var parsed signinResponse
		if err := json.Unmarshal(respBody, &parsed); err == nil && len(parsed.TrustedPhoneNumbers) > 0 {
			s.mu.Lock()
			s.phoneID = parsed.TrustedPhoneNumbers[0].ID
			s.deviceIndex = len(parsed.TrustedPhoneNumbers) - 1
			s.mu.Unlock()
		}
		if err := s.advance(evMFAChallenged); err != nil {
			return false, err
		}
		s.cfg.Logger.Info().Msg("account requires a second factor")
		return true, nil

	case http.StatusForbidden:
		return false, ErrUnknownUsername

	case http.StatusUnauthorized:
		return false, ErrBadCredentials

	default:
		return false, fmt.Errorf("%w: login returned status %d", ErrUnexpectedHTTPResponse, resp.StatusCode)
	}
}

// storeAuthSecrets extracts the session-token/anti-replay header pair.
func (s *Session) storeAuthSecrets(resp *http.Response) error {
	token := resp.Header.Get("X-Apple-Session-Token")
	scnt := resp.Header.Get("Scnt")
	if token == "" || scnt == "" {
		return ErrAuthSecretsMissing
	}
	s.mu.Lock()
	s.sessionToken = token
	s.scnt = scnt
	s.mu.Unlock()
	return nil
}

// authHeaders sets the stored auth secrets on a request to the MFA or
// token endpoints.
func (s *Session) authHeaders(req *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req.Header.Set("X-Apple-ID-Session-Id", s.sessionToken)
	req.Header.Set("Scnt", s.scnt)
}

// promptMFA runs the prompt server until a code is submitted and
// verified. The server is stopped on every exit path.
func (s *Session) promptMFA(ctx context.Context) error {
	p := s.cfg.Prompter
	if p == nil {
		return fmt.Errorf("%w: no prompt server configured", ErrMfaServerStartFailed)
	}
	if err := p.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrMfaServerStartFailed, err)
	}
	defer p.Stop()

	for {
		select {
		case method := <-p.Resends():
			s.resendMFA(ctx, method)
		case code := <-p.Codes():
			return s.SubmitMFA(ctx, code.Method, code.Code)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// resendMFA re-requests a one-time code. Failures are non-fatal: they
// are surfaced as warnings and the session stays in MFA_REQUIRED.
func (s *Session) resendMFA(ctx context.Context, method MFAMethod) {
	var (
		url        string
		reqMethod  = http.MethodPut
		body       any
		wantStatus int
	)
	switch method {
	case MFADevice:
		url = s.client.authBaseURL + "/verify/trusteddevice"
		wantStatus = http.StatusAccepted
	case MFASMS, MFAVoice:
		url = s.client.authBaseURL + "/verify/phone"
		body = map[string]any{
			"phoneNumber": map[string]any{"id": s.phoneID},
			"mode":        string(method),
		}
		wantStatus = http.StatusOK
	default:
		s.cfg.Warn(Warning{WarnMfaResendFailed, fmt.Sprintf("unknown MFA method %q", method)})
		return
	}

	req, err := s.client.NewRequest(ctx, reqMethod, url, body)
	if err != nil {
		s.cfg.Warn(Warning{WarnMfaResendFailed, err.Error()})
		return
	}
	s.authHeaders(req)

	resp, _, err := s.client.Do(req)
	if err != nil {
		s.cfg.Warn(Warning{WarnMfaResendFailed, err.Error()})
		return
	}
	if resp.StatusCode != wantStatus {
		s.cfg.Warn(Warning{WarnMfaResendFailed, fmt.Sprintf("resend via %s returned status %d", method, resp.StatusCode)})
		return
	}

	if method == MFADevice {
		s.cfg.Logger.Info().Int("devices", s.DeviceIndex()+1).Msg("code re-sent to trusted devices")
	} else {
		s.cfg.Logger.Info().Int("phone_id", s.phoneID).Str("mode", string(method)).Msg("code re-sent to trusted phone")
	}
}

// SubmitMFA posts the one-time code. Success moves the session to
// AUTHENTICATED; any failure is fatal for the readiness attempt, the
// state machine never retries code submission on its own.
func (s *Session) SubmitMFA(ctx context.Context, method MFAMethod, code string) error {
	var (
		url        string
		body       any
		wantStatus int
	)
	switch method {
	case MFADevice:
		url = s.client.authBaseURL + "/verify/trusteddevice/securitycode"
		body = map[string]any{"securityCode": map[string]any{"code": code}}
		wantStatus = http.StatusNoContent
	case MFASMS, MFAVoice:
		url = s.client.authBaseURL + "/verify/phone/securitycode"
		body = map[string]any{
			"securityCode": map[string]any{"code": code},
			"phoneNumber":  map[string]any{"id": s.phoneID},
			"mode":         string(method),
		}
		wantStatus = http.StatusOK
	default:
		return fmt.Errorf("%w: unknown method %q", ErrMfaSubmitFailed, method)
	}

	req, err := s.client.NewRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMfaSubmitFailed, err)
	}
	s.authHeaders(req)

	resp, _, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMfaSubmitFailed, err)
	}
	if resp.StatusCode != wantStatus {
		return fmt.Errorf("%w: status %d", ErrMfaSubmitFailed, resp.StatusCode)
	}

	return s.advance(evMFAVerified)
}

// acquireTrustToken exchanges the session token for a trust token and
// persists it. The persisted file is only overwritten after a successful
// response.
func (s *Session) acquireTrustToken(ctx context.Context) error {
	req, err := s.client.NewRequest(ctx, http.MethodGet, s.client.authBaseURL+"/2sv/trust", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenAcquisitionFailed, err)
	}
	s.authHeaders(req)

	resp, _, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTokenAcquisitionFailed, err)
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("%w: status %d", ErrTokenAcquisitionFailed, resp.StatusCode)
	}

	token := resp.Header.Get("X-Apple-TwoSV-Trust-Token")
	if token == "" {
		return fmt.Errorf("%w: response missing trust token header", ErrTokenAcquisitionFailed)
	}

	s.mu.Lock()
	s.trustToken = token
	s.mu.Unlock()

	if s.cfg.Cache != nil {
		if err := s.cfg.Cache.Save(token); err != nil {
			// Auth succeeded; a stale persisted token only costs an MFA
			// prompt on the next run.
			s.cfg.Logger.Warn().Err(err).Msg("failed to persist trust token")
		}
	}

	return s.advance(evTokenAcquired)
}

// setupResponse is the account-setup body: the per-service endpoint map.
type setupResponse struct {
	Webservices map[string]struct {
		URL    string `json:"url"`
		Status string `json:"status"`
	} `json:"webservices"`
}

// setupAccount exchanges session token + trust token for the cookie set
// and service endpoint map. A cookie set where every cookie has already
// expired counts as no cookies at all.
func (s *Session) setupAccount(ctx context.Context) error {
	s.mu.Lock()
	body := map[string]any{
		"dsWebAuthToken": s.sessionToken,
		"trustToken":     s.trustToken,
	}
	s.mu.Unlock()

	req, err := s.client.NewRequest(ctx, http.MethodPost, s.client.setupBaseURL+"/accountLogin", body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountSetupFailed, err)
	}

	resp, respBody, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAccountSetupFailed, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrAccountSetupFailed, resp.StatusCode)
	}

	cookies := resp.Cookies()
	if countValidCookies(cookies, time.Now()) == 0 {
		return fmt.Errorf("%w: no unexpired cookies in response", ErrAccountSetupFailed)
	}

	var parsed setupResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return fmt.Errorf("%w: parsing setup response: %v", ErrAccountSetupFailed, err)
	}
	photosURL := parsed.Webservices[photosServiceName].URL
	if photosURL == "" {
		return fmt.Errorf("%w: setup response missing photo service endpoint", ErrAccountSetupFailed)
	}

	webservices := make(map[string]string, len(parsed.Webservices))
	for name, svc := range parsed.Webservices {
		webservices[name] = svc.URL
	}

	s.mu.Lock()
	s.cookies = cookies
	s.cookiesAt = time.Now()
	s.webservices = webservices
	s.mu.Unlock()

	if err := s.advance(evAccountSetUp); err != nil {
		return err
	}
	s.cfg.Logger.Debug().Int("cookies", len(cookies)).Int("services", len(webservices)).Msg("account setup complete")
	return nil
}

// countValidCookies counts cookies whose expiry has not elapsed. A zero
// Expires means a session cookie, which is valid.
func countValidCookies(cookies []*http.Cookie, now time.Time) int {
	n := 0
	for _, c := range cookies {
		if c.Expires.IsZero() || c.Expires.After(now) {
			n++
		}
	}
	return n
}

// Refresh re-runs account setup to obtain fresh cookies without a new
// login or MFA prompt; the trust token outlives the cookies by far.
// Concurrent calls are coalesced into a single underlying refresh.
func (s *Session) Refresh(ctx context.Context) error {
	_, err, _ := s.refreshGroup.Do("refresh", func() (any, error) {
		s.cfg.Logger.Debug().Msg("refreshing session cookies")
		return nil, s.setupAccount(ctx)
	})
	return err
}

// CookiesFresh reports whether the cookie set was obtained within the
// validity window and still contains at least one unexpired cookie.
func (s *Session) CookiesFresh(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cookiesAt.IsZero() || time.Since(s.cookiesAt) > window {
		return false
	}
	return countValidCookies(s.cookies, time.Now()) > 0
}

// Photos constructs the photo-library query layer. It independently
// validates cookie freshness rather than trusting the state alone.
func (s *Session) Photos(pageSize int, warn WarningFunc) (*PhotoService, error) {
	s.mu.Lock()
	state := s.state
	serviceURL := s.webservices[photosServiceName]
	cookies := s.cookies
	s.mu.Unlock()

	if state != StateAccountReady {
		return nil, fmt.Errorf("%w: session state is %s", ErrPhotosServiceNotReady, state)
	}
	if countValidCookies(cookies, time.Now()) == 0 {
		return nil, fmt.Errorf("%w: cookies absent or expired", ErrPhotosServiceNotReady)
	}
	if serviceURL == "" {
		return nil, fmt.Errorf("%w: no photo service endpoint", ErrPhotosServiceNotReady)
	}

	return newPhotoService(s.client, serviceURL, pageSize, warn, s.cfg.Logger), nil
}
