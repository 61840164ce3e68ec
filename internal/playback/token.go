// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

// Package playback mints and verifies capability tokens for the video delivery
// network.
//
// A token is base64url(payload) + "." + base64url(signature), where payload is
// the JSON object {"aid":<asset id>,"exp":<unix seconds>} with fixed field order.
// Tokens are never stored; validity depends only on the signature and the clock.
package playback

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/lessongate/internal/metrics"
)

// DefaultTTL bounds how long a copied playback URL stays usable.
const DefaultTTL = 2 * time.Hour

// ErrInvalidToken covers every verification failure: malformed, bad signature, expired.
var ErrInvalidToken = errors.New("invalid playback token")

var b64 = base64.RawURLEncoding.Strict()

// claims field order is the serialization order.
type claims struct {
	AssetID   string `json:"aid"`
	ExpiresAt int64  `json:"exp"`
}

// Token is a minted capability token.
type Token struct {
	Value     string
	AssetID   string
	ExpiresAt time.Time
}

// Issuer mints and verifies tokens. It holds no mutable state.
type Issuer struct {
	signer     Signer
	defaultTTL time.Duration
	now        func() time.Time
}

// NewIssuer creates an Issuer. A nil signer is allowed: every Issue then fails
// with ErrSigningUnavailable.
func NewIssuer(signer Signer, defaultTTL time.Duration) *Issuer {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	return &Issuer{signer: signer, defaultTTL: defaultTTL, now: time.Now}
}

// WithClock returns a copy of the issuer using now as its clock.
func (i *Issuer) WithClock(now func() time.Time) *Issuer {
	cp := *i
	cp.now = now
	return &cp
}

// Available reports whether tokens can be minted.
func (i *Issuer) Available() bool {
	return i != nil && i.signer != nil
}

// Issue mints a token for assetID valid for ttl (DefaultTTL when ttl <= 0).
func (i *Issuer) Issue(assetID string, ttl time.Duration) (Token, error) {
	if !i.Available() {
		metrics.RecordTokenIssued("signing_unavailable")
		return Token{}, ErrSigningUnavailable
	}
	if assetID == "" {
		return Token{}, fmt.Errorf("issue playback token: empty asset id")
	}
	if ttl <= 0 {
		ttl = i.defaultTTL
	}

	expiresAt := i.now().Add(ttl).Truncate(time.Second)
	payload, err := json.Marshal(claims{AssetID: assetID, ExpiresAt: expiresAt.Unix()})
	if err != nil {
		return Token{}, fmt.Errorf("marshal playback claims: %w", err)
	}

	sig, err := i.signer.Sign(payload)
	if err != nil {
		metrics.RecordTokenIssued("signing_unavailable")
		return Token{}, err
	}
	if len(sig) == 0 {
		metrics.RecordTokenIssued("signing_unavailable")
		return Token{}, fmt.Errorf("%w: empty signature", ErrSigningUnavailable)
	}

	metrics.RecordTokenIssued("issued")
	return Token{
		Value:     b64.EncodeToString(payload) + "." + b64.EncodeToString(sig),
		AssetID:   assetID,
		ExpiresAt: expiresAt,
	}, nil
}

// Verify returns the asset id a token authorizes, or ErrInvalidToken.
func (i *Issuer) Verify(token string) (string, error) {
	if !i.Available() {
		return "", ErrSigningUnavailable
	}

	encPayload, encSig, ok := strings.Cut(token, ".")
	if !ok || encPayload == "" || encSig == "" || strings.Contains(encSig, ".") {
		return "", ErrInvalidToken
	}
	payload, err := b64.DecodeString(encPayload)
	if err != nil {
		return "", ErrInvalidToken
	}
	sig, err := b64.DecodeString(encSig)
	if err != nil {
		return "", ErrInvalidToken
	}
	if !i.signer.Verify(payload, sig) {
		return "", ErrInvalidToken
	}

	var c claims
	if err := json.Unmarshal(payload, &c); err != nil || c.AssetID == "" {
		return "", ErrInvalidToken
	}
	if i.now().Unix() > c.ExpiresAt {
		return "", ErrInvalidToken
	}
	return c.AssetID, nil
}
