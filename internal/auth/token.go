// Package auth issues and verifies the signed bearer tokens carried by
// portal viewers. A token is two base64url parts, a JSON payload and an
// HMAC-SHA256 signature over it, so it can be checked without a database
// round trip; revocation goes through the session store.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"fieldledger/api/internal/util"
)

// Claims identify a portal viewer session. Sub is the client the viewer is
// allowed to see, Slug the portal link it entered through, and JTI makes
// each issued token unique so sessions revoke independently.
type Claims struct {
	Sub  string `json:"sub"`
	Slug string `json:"slug"`
	JTI  string `json:"jti"`
	Exp  int64  `json:"exp"`
}

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("expired token")
)

// Issue mints a signed viewer token for the given client, valid for ttl.
func Issue(secret []byte, clientID, slug string, ttl time.Duration) (string, Claims, error) {
	claims := Claims{
		Sub:  clientID,
		Slug: slug,
		JTI:  util.NewID("sess"),
		Exp:  time.Now().Add(ttl).Unix(),
	}
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", Claims{}, fmt.Errorf("marshal claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	return payload + "." + sign(secret, payload), claims, nil
}

// Parse verifies the signature and expiry and returns the claims.
func Parse(secret []byte, token string) (Claims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 2 {
		return Claims{}, ErrInvalidToken
	}
	payload, signature := parts[0], parts[1]

	expected := sign(secret, payload)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return Claims{}, ErrInvalidToken
	}

	decoded, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return Claims{}, ErrInvalidToken
	}

	var claims Claims
	if err := json.Unmarshal(decoded, &claims); err != nil {
		return Claims{}, ErrInvalidToken
	}
	if claims.Sub == "" || claims.JTI == "" || claims.Exp == 0 {
		return Claims{}, ErrInvalidToken
	}
	if time.Now().Unix() >= claims.Exp {
		return Claims{}, ErrExpiredToken
	}
	return claims, nil
}

func sign(secret []byte, payload string) string {
	sum := hmac.New(sha256.New, secret)
	_, _ = sum.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(sum.Sum(nil))
}

// HashToken is the storage key for a token. Sessions are saved and revoked
// by hash so the raw bearer token never sits in Redis.
func HashToken(value string) string {
	sum := sha256.Sum256([]byte(value))
	return fmt.Sprintf("%x", sum)
}
