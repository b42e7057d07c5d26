// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package security mints and verifies the envelope's obo_token: the
// on-behalf-of credential a dispatcher attaches to a workflow's initial
// envelope so every agent downstream can prove, without calling back to
// the dispatcher, that the run was authorized. The envelope's opaque
// signature field is a separate concern this package never touches: a
// caller-supplied value carried, never validated, end to end.
package security

import (
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims identifies the workflow a token authorizes and what it may do.
type Claims struct {
	jwt.RegisteredClaims
	CorrelationID string   `json:"correlation_id"`
	RunID         string   `json:"run_id"`
	Scopes        []string `json:"scopes,omitempty"`
}

// HasScope reports whether the token carries the named scope.
func (c *Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// TokenIssuer mints and verifies obo_token values. A Dispatcher holds one
// optionally; a Worker verifies the token on the envelope it receives if
// it cares to enforce scopes (the executor itself never requires one;
// issuance and verification are both opt-in).
type TokenIssuer interface {
	Issue(correlationID, runID string, scopes []string) (string, error)
	Verify(token string) (*Claims, error)
}

// JWTConfig configures a JWTIssuer. Either Secret (HS256) or PrivateKey +
// PublicKey (EdDSA) must be set.
type JWTConfig struct {
	Secret     []byte
	PrivateKey ed25519.PrivateKey
	PublicKey  ed25519.PublicKey

	Issuer    string
	TTL       time.Duration // default 1h
	ClockSkew time.Duration
}

// JWTIssuer mints and verifies obo_token values as JWTs, grounded on the
// same golang-jwt/jwt/v5 usage as the rest of the dependency stack.
type JWTIssuer struct {
	cfg JWTConfig
}

// NewJWTIssuer builds a JWTIssuer from cfg.
func NewJWTIssuer(cfg JWTConfig) (*JWTIssuer, error) {
	if len(cfg.Secret) == 0 && cfg.PrivateKey == nil {
		return nil, fmt.Errorf("security: either Secret or PrivateKey must be set")
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	return &JWTIssuer{cfg: cfg}, nil
}

// Issue mints an obo_token scoped to one workflow run.
func (j *JWTIssuer) Issue(correlationID, runID string, scopes []string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    j.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.cfg.TTL)),
		},
		CorrelationID: correlationID,
		RunID:         runID,
		Scopes:        scopes,
	}

	var token *jwt.Token
	if j.cfg.PrivateKey != nil {
		token = jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
		return token.SignedString(j.cfg.PrivateKey)
	}
	token = jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.cfg.Secret)
}

// Verify parses and validates an obo_token, enforcing issuer and
// expiration within the configured clock skew.
func (j *JWTIssuer) Verify(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("security: token is empty")
	}

	parser := jwt.NewParser(jwt.WithLeeway(j.cfg.ClockSkew))
	token, err := parser.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.Alg() {
		case "HS256":
			if len(j.cfg.Secret) == 0 {
				return nil, fmt.Errorf("HS256 requires a secret")
			}
			return j.cfg.Secret, nil
		case "EdDSA":
			if j.cfg.PublicKey == nil {
				return nil, fmt.Errorf("EdDSA requires a public key")
			}
			return j.cfg.PublicKey, nil
		default:
			return nil, fmt.Errorf("unexpected signing method: %v", token.Method.Alg())
		}
	})
	if err != nil {
		return nil, fmt.Errorf("security: parsing token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("security: token is invalid")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("security: unexpected claims type")
	}
	if j.cfg.Issuer != "" && claims.Issuer != j.cfg.Issuer {
		return nil, fmt.Errorf("security: invalid issuer: expected %s, got %s", j.cfg.Issuer, claims.Issuer)
	}
	return claims, nil
}
