// Package integration runs the OAuth integration lifecycle: create a pending
// authorization, redeem it once for a durable integration credential, and
// authenticate with that credential to recover the downstream token.
package integration

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/org/integrationbroker/internal/audit"
	"github.com/org/integrationbroker/internal/crypto"
	"github.com/org/integrationbroker/internal/oauth"
	"github.com/org/integrationbroker/internal/storage"
	"github.com/org/integrationbroker/internal/token"
	"github.com/org/integrationbroker/pkg/models"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// ErrInvalidAuthorization is the single error returned for every failed
	// authorize check. Which check failed is only logged.
	ErrInvalidAuthorization = errors.New("invalid authorization")
	// ErrAuthenticationFailed is returned when an integration token does not
	// match a stored integration.
	ErrAuthenticationFailed = errors.New("authentication failed")
)

// DefaultAuthorizationTTL is how long a pending authorization can be redeemed.
const DefaultAuthorizationTTL = time.Hour

// AuthorizePath is the route prefix the redirect URI points back to.
const AuthorizePath = "/v1/integrations/authorize/"

// Records is the subset of the record store the service uses.
type Records interface {
	AllocateKey(ctx context.Context, kind models.Kind) (models.RecordKey, error)
	PutAuthorization(ctx context.Context, rec *models.AuthorizationRecord) error
	GetAuthorization(ctx context.Context, key models.RecordKey) (*models.AuthorizationRecord, error)
	TakeAuthorization(ctx context.Context, key models.RecordKey) (*models.AuthorizationRecord, error)
	DeleteAuthorization(ctx context.Context, key models.RecordKey) error
	PutIntegration(ctx context.Context, rec *models.IntegrationRecord) error
	GetIntegration(ctx context.Context, key models.RecordKey) (*models.IntegrationRecord, error)
	TouchIntegration(ctx context.Context, key models.RecordKey, accessDate time.Time) error
	DeleteIntegration(ctx context.Context, key models.RecordKey) error
}

// Cipher encrypts payloads bound to associated data.
type Cipher interface {
	Encrypt(ctx context.Context, plaintext, associatedData []byte) ([]byte, error)
	Decrypt(ctx context.Context, ciphertext, associatedData []byte) ([]byte, error)
}

// Operation results reported to the observer.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// Service is the integration state machine.
type Service struct {
	records  Records
	cipher   Cipher
	provider oauth.Provider
	baseURL  string

	audit    *audit.Logger
	logger   zerolog.Logger
	now      func() time.Time
	newState func() (string, error)
	ttl      time.Duration
	observe  func(op, result string)
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithStateGenerator replaces the random CSRF state generator.
func WithStateGenerator(fn func() (string, error)) Option {
	return func(s *Service) { s.newState = fn }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithAuthorizationTTL overrides DefaultAuthorizationTTL.
func WithAuthorizationTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithAudit records every lifecycle outcome through l.
func WithAudit(l *audit.Logger) Option {
	return func(s *Service) { s.audit = l }
}

// WithObserver is called once per operation with its result.
func WithObserver(fn func(op, result string)) Option {
	return func(s *Service) { s.observe = fn }
}

// NewService creates a Service. baseURL is the externally reachable root of
// this broker and is used to build redirect URIs.
func NewService(records Records, cipher Cipher, provider oauth.Provider, baseURL string, opts ...Option) *Service {
	s := &Service{
		records:  records,
		cipher:   cipher,
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		logger:   log.Logger,
		now:      time.Now,
		newState: randomState,
		ttl:      DefaultAuthorizationTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func randomState() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating state: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// RedirectURI returns the URI the downstream server sends the user back to.
func (s *Service) RedirectURI(compact string) string {
	return s.baseURL + AuthorizePath + compact
}

// CreateIntegration starts a handshake and returns where to send the user.
func (s *Service) CreateIntegration(ctx context.Context) (models.RedirectDescriptor, error) {
	key, err := s.records.AllocateKey(ctx, models.KindAuthorization)
	if err != nil {
		return models.RedirectDescriptor{}, s.fail("create", err)
	}
	issued, err := token.Issue(key)
	if err != nil {
		return models.RedirectDescriptor{}, s.fail("create", err)
	}
	state, err := s.newState()
	if err != nil {
		return models.RedirectDescriptor{}, s.fail("create", err)
	}

	rec := &models.AuthorizationRecord{
		Key:        key,
		SecretHash: issued.Hash,
		State:      state,
		ExpiresAt:  s.now().Add(s.ttl),
	}
	if err := s.records.PutAuthorization(ctx, rec); err != nil {
		return models.RedirectDescriptor{}, s.fail("create", err)
	}

	s.logger.Info().Stringer("key", key).Time("expires_at", rec.ExpiresAt).Msg("authorization created")
	s.audit.Record(ctx, models.KindAuthorization, key, models.EventCreated, models.OutcomeSuccess, nil)
	s.done("create", ResultSuccess)
	return s.provider.Descriptor(state, s.RedirectURI(issued.Compact)), nil
}

// Authorize redeems a pending authorization. It fails with
// ErrInvalidAuthorization unless the record exists, the token secret matches,
// state matches and the record has not expired. On success the authorization
// is consumed, code is exchanged downstream, and a new integration token is
// returned.
func (s *Service) Authorize(ctx context.Context, compact, code, state string) (string, error) {
	tok, err := token.Parse(compact)
	if err != nil {
		s.done("authorize", ResultRejected)
		return "", err
	}

	rec, err := s.records.GetAuthorization(ctx, tok.Key)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", s.fail("authorize", err)
	}
	now := s.now()
	rej := check(rec, tok.Secret, state, now)

	if !rej.rejected() {
		// Only one caller can take the record; losers see it as missing.
		taken, err := s.records.TakeAuthorization(ctx, tok.Key)
		switch {
		case errors.Is(err, storage.ErrNotFound):
			rej.Missing = true
		case err != nil:
			return "", s.fail("authorize", err)
		default:
			rej = check(taken, tok.Secret, state, now)
		}
	} else if rec != nil && rej.Expired {
		if err := s.records.DeleteAuthorization(ctx, tok.Key); err != nil {
			s.logger.Warn().Err(err).Stringer("key", tok.Key).Msg("deleting expired authorization")
		}
	}

	if rej.rejected() {
		rej.log(s.logger.Warn().Stringer("key", tok.Key)).Msg("authorization rejected")
		s.audit.Record(ctx, models.KindAuthorization, tok.Key, models.EventRejected, models.OutcomeFailure, rej.detail())
		s.done("authorize", ResultRejected)
		return "", ErrInvalidAuthorization
	}

	credential, err := s.provider.Exchange(ctx, code, s.RedirectURI(compact))
	if err != nil {
		s.logger.Error().Err(err).Stringer("key", tok.Key).Msg("code exchange failed")
		s.audit.Record(ctx, models.KindAuthorization, tok.Key, models.EventAuthorized, models.OutcomeFailure,
			map[string]any{"exchange_failed": true})
		s.done("authorize", ResultError)
		if !errors.Is(err, oauth.ErrExchange) {
			err = fmt.Errorf("%w: %v", oauth.ErrExchange, err)
		}
		return "", err
	}

	key, err := s.records.AllocateKey(ctx, models.KindIntegration)
	if err != nil {
		return "", s.fail("authorize", err)
	}
	issued, err := token.Issue(key)
	if err != nil {
		return "", s.fail("authorize", err)
	}
	ciphertext, err := s.cipher.Encrypt(ctx, []byte(credential), issued.Secret)
	if err != nil {
		return "", s.fail("authorize", err)
	}

	integ := &models.IntegrationRecord{
		Key:          key,
		SecretHash:   issued.Hash,
		Data:         base64.StdEncoding.EncodeToString(ciphertext),
		CreationDate: now,
		AccessDate:   now,
	}
	if err := s.records.PutIntegration(ctx, integ); err != nil {
		return "", s.fail("authorize", err)
	}

	s.logger.Info().Stringer("authorization", tok.Key).Stringer("integration", key).Msg("integration authorized")
	s.audit.Record(ctx, models.KindIntegration, key, models.EventAuthorized, models.OutcomeSuccess,
		map[string]any{"authorization": tok.Key.String()})
	s.done("authorize", ResultSuccess)
	return issued.Compact, nil
}

// Authenticate returns the downstream credential for an integration token
// and refreshes the integration's access date.
func (s *Service) Authenticate(ctx context.Context, compact string) (string, error) {
	tok, rec, err := s.verify(ctx, "authenticate", compact)
	if err != nil {
		return "", err
	}

	ciphertext, err := base64.StdEncoding.DecodeString(rec.Data)
	if err != nil {
		return "", s.integrity(ctx, tok.Key, fmt.Errorf("%w: payload encoding: %v", crypto.ErrSecurity, err))
	}
	plaintext, err := s.cipher.Decrypt(ctx, ciphertext, tok.Secret)
	if errors.Is(err, crypto.ErrSecurity) {
		return "", s.integrity(ctx, tok.Key, err)
	}
	if err != nil {
		return "", s.fail("authenticate", err)
	}

	if err := s.records.TouchIntegration(ctx, tok.Key, s.now()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.done("authenticate", ResultRejected)
			return "", ErrAuthenticationFailed
		}
		return "", s.fail("authenticate", err)
	}

	s.audit.Record(ctx, models.KindIntegration, tok.Key, models.EventAuthenticated, models.OutcomeSuccess, nil)
	s.done("authenticate", ResultSuccess)
	return string(plaintext), nil
}

// Revoke deletes the integration identified by an integration token.
func (s *Service) Revoke(ctx context.Context, compact string) error {
	tok, _, err := s.verify(ctx, "revoke", compact)
	if err != nil {
		return err
	}
	if err := s.records.DeleteIntegration(ctx, tok.Key); err != nil {
		return s.fail("revoke", err)
	}
	s.logger.Info().Stringer("key", tok.Key).Msg("integration revoked")
	s.audit.Record(ctx, models.KindIntegration, tok.Key, models.EventRevoked, models.OutcomeSuccess, nil)
	s.done("revoke", ResultSuccess)
	return nil
}

// verify resolves an integration token to its record, checking the secret.
func (s *Service) verify(ctx context.Context, op, compact string) (token.Token, *models.IntegrationRecord, error) {
	tok, err := token.Parse(compact)
	if err != nil {
		s.done(op, ResultRejected)
		return token.Token{}, nil, err
	}
	rec, err := s.records.GetIntegration(ctx, tok.Key)
	if errors.Is(err, storage.ErrNotFound) {
		s.logger.Warn().Stringer("key", tok.Key).Str("op", op).Msg("integration not found")
		s.done(op, ResultRejected)
		return tok, nil, ErrAuthenticationFailed
	}
	if err != nil {
		return tok, nil, s.fail(op, err)
	}
	if !token.VerifySecret(tok.Secret, rec.SecretHash) {
		s.logger.Warn().Stringer("key", tok.Key).Str("op", op).Msg("integration secret mismatch")
		s.audit.Record(ctx, models.KindIntegration, tok.Key, models.EventAuthenticated, models.OutcomeFailure,
			map[string]any{"hash_mismatch": true, "op": op})
		s.done(op, ResultRejected)
		return tok, nil, ErrAuthenticationFailed
	}
	return tok, rec, nil
}

func (s *Service) integrity(ctx context.Context, key models.RecordKey, err error) error {
	s.logger.Error().Err(err).Stringer("key", key).Msg("integration payload failed integrity check")
	s.audit.Record(ctx, models.KindIntegration, key, models.EventAuthenticated, models.OutcomeFailure,
		map[string]any{"integrity": true})
	s.done("authenticate", ResultError)
	return err
}

// fail logs an infrastructure error and passes it through unchanged.
func (s *Service) fail(op string, err error) error {
	s.logger.Error().Err(err).Str("op", op).Msg("integration operation failed")
	s.done(op, ResultError)
	return err
}

func (s *Service) done(op, result string) {
	if s.observe != nil {
		s.observe(op, result)
	}
}
