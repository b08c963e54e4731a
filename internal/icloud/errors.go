package icloud

import "errors"

// Fatal session errors. Any of these failing the readiness path is
// terminal for the run; the caller must restart externally.
var (
	// ErrAuthSecretsMissing is returned when a login response arrives
	// without the session-token/anti-replay header pair.
	ErrAuthSecretsMissing = errors.New("login response missing auth secret headers")

	// ErrUnknownUsername is returned when the service does not recognize
	// the account name (HTTP 403).
	ErrUnknownUsername = errors.New("unknown username")

	// ErrBadCredentials is returned when the password is rejected (HTTP 401).
	ErrBadCredentials = errors.New("bad credentials")

	// ErrNoResponse is returned when a network-level failure prevents any
	// response from being received.
	ErrNoResponse = errors.New("no response from server")

	// ErrUnexpectedHTTPResponse is returned for status codes the state
	// machine has no transition for.
	ErrUnexpectedHTTPResponse = errors.New("unexpected HTTP response")

	// ErrMfaRequiredButDisallowed is returned when the account requires a
	// second factor but the session was configured to fail instead of
	// prompting.
	ErrMfaRequiredButDisallowed = errors.New("MFA required but disallowed by configuration")

	// ErrMfaSubmitFailed is returned when submitting the one-time code
	// does not succeed; code submission is never retried automatically.
	ErrMfaSubmitFailed = errors.New("MFA code submission failed")

	// ErrMfaServerStartFailed is returned when the local MFA prompt
	// server cannot be started.
	ErrMfaServerStartFailed = errors.New("MFA prompt server failed to start")

	// ErrTokenAcquisitionFailed is returned when the trust token cannot
	// be fetched; the previously persisted token file is left untouched.
	ErrTokenAcquisitionFailed = errors.New("trust token acquisition failed")

	// ErrAccountSetupFailed is returned when the session/trust token
	// exchange does not yield usable cookies and a photo service endpoint.
	ErrAccountSetupFailed = errors.New("account setup failed")

	// ErrPhotosServiceNotReady is returned when the photo library layer
	// is asked for before the session holds fresh cookies and a service
	// endpoint.
	ErrPhotosServiceNotReady = errors.New("photos service not ready")

	// ErrSessionExpired is returned by library queries when the service
	// rejects the session cookies mid-sync. It is the one error class the
	// retry layer treats as recoverable.
	ErrSessionExpired = errors.New("session expired")
)
