package service

import (
	stderrors "errors"
	"fmt"

	"codearena/internal/contest/model"
	appErr "codearena/pkg/errors"

	"github.com/golang-jwt/jwt/v5"
)

type sessionClaims struct {
	ContestID string `json:"cid"`
	jwt.RegisteredClaims
}

func (m *Manager) signToken(session model.Session, contest model.Contest) (string, error) {
	if len(m.cfg.Secret) == 0 {
		return "", appErr.New(appErr.TokenGenerationFailed)
	}
	claims := sessionClaims{
		ContestID: session.ContestID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   session.UserID,
			Issuer:    m.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(session.JoinedAt),
			ExpiresAt: jwt.NewNumericDate(contest.EndAt().Add(m.cfg.TokenGrace)),
			ID:        session.ID,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	raw, err := token.SignedString(m.cfg.Secret)
	if err != nil {
		return "", appErr.Wrap(fmt.Errorf("sign token failed: %w", err), appErr.TokenGenerationFailed)
	}
	return raw, nil
}

func (m *Manager) parseToken(raw string) (*sessionClaims, error) {
	if raw == "" {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	parsed, err := jwt.ParseWithClaims(raw, &sessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return m.cfg.Secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		if stderrors.Is(err, jwt.ErrTokenExpired) {
			return nil, appErr.New(appErr.SessionExpired)
		}
		return nil, appErr.New(appErr.TokenInvalid)
	}
	claims, ok := parsed.Claims.(*sessionClaims)
	if !ok || !parsed.Valid {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if m.cfg.Issuer != "" && claims.Issuer != m.cfg.Issuer {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	if claims.ID == "" || claims.Subject == "" || claims.ContestID == "" {
		return nil, appErr.New(appErr.TokenInvalid)
	}
	return claims, nil
}
