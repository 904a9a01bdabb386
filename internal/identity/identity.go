// Package identity resolves the viewer a view is materialized for.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Provider reports the current viewer. A missing viewer is valid and means
// the views run anonymously.
type Provider interface {
	ViewerID(ctx context.Context) (string, bool)
}

// Anonymous never has a viewer.
type Anonymous struct{}

func (Anonymous) ViewerID(context.Context) (string, bool) { return "", false }

// Static always reports the same viewer.
type Static string

func (s Static) ViewerID(context.Context) (string, bool) {
	if s == "" {
		return "", false
	}
	return string(s), true
}

const (
	tokenIssuer   = "spark"
	tokenAudience = "spark-client"
	tokenTTL      = 7 * 24 * time.Hour
)

var errMissingSubject = errors.New("token has no subject")

// Token takes the viewer from a signed session token.
type Token struct {
	viewerID string
}

// NewToken validates raw with secret. An empty raw token yields an anonymous
// provider.
func NewToken(raw, secret string) (*Token, error) {
	if raw == "" {
		return &Token{}, nil
	}
	sub, err := ParseToken(raw, secret)
	if err != nil {
		return nil, err
	}
	return &Token{viewerID: sub}, nil
}

func (t *Token) ViewerID(context.Context) (string, bool) {
	if t == nil || t.viewerID == "" {
		return "", false
	}
	return t.viewerID, true
}

// IssueToken signs a session token for viewerID.
func IssueToken(viewerID, secret string) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("JWT secret not configured")
	}
	if viewerID == "" {
		return "", errMissingSubject
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": viewerID,
		"iss": tokenIssuer,
		"aud": tokenAudience,
		"exp": now.Add(tokenTTL).Unix(),
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"jti": uuid.NewString(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseToken verifies raw and returns its subject.
func ParseToken(raw, secret string) (string, error) {
	token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithAudience(tokenAudience))
	if err != nil {
		return "", fmt.Errorf("parse token: %w", err)
	}

	sub, err := token.Claims.GetSubject()
	if err != nil {
		return "", fmt.Errorf("read subject: %w", err)
	}
	if sub == "" {
		return "", errMissingSubject
	}
	return sub, nil
}
