package auth

import (
	"context"

	apperrors "github.com/jrsteele09/go-storefront-auth/internal/errors"
	"github.com/jrsteele09/go-storefront-auth/token/jwt"
	"golang.org/x/oauth2"
)

// GetValidToken returns a bearer token for this session, or "" when there is
// none. The persisted token is returned as is while its exp is more than the
// expiry buffer away; otherwise the client refreshes it. The exp claim is read
// without verifying the signature: this only decides whether to refresh.
func (m *SessionManager) GetValidToken(ctx context.Context) string {
	b, err := m.client.CurrentBundle()
	if err != nil {
		m.logger.Warn().Err(err).Msg("read persisted session")
		return ""
	}
	if b == nil {
		return ""
	}
	if !jwt.IsExpired(b.AccessToken, m.nowFunc(), m.expiryBuffer) {
		return b.AccessToken
	}

	refreshed, err := m.client.RefreshSession(ctx)
	if err != nil || refreshed == nil {
		m.logger.Warn().Err(err).Msg("token refresh failed, treating request as anonymous")
		m.metrics.refresh(m.config.SessionType, "error")
		return ""
	}
	m.metrics.refresh(m.config.SessionType, "ok")
	return refreshed.AccessToken
}

// TokenSource exposes GetValidToken as an oauth2.TokenSource, so consumers can
// build authenticated clients with oauth2.NewClient.
func (m *SessionManager) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, manager: m}
}

type sessionTokenSource struct {
	ctx     context.Context
	manager *SessionManager
}

func (s *sessionTokenSource) Token() (*oauth2.Token, error) {
	raw := s.manager.GetValidToken(s.ctx)
	if raw == "" {
		return nil, apperrors.Wrapf(apperrors.ErrNoSession, "%s", s.manager.Type())
	}
	t := &oauth2.Token{AccessToken: raw, TokenType: "Bearer"}
	if exp, err := jwt.Expiry(raw); err == nil {
		t.Expiry = exp
	}
	return t, nil
}
