// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package playback

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tomtom215/lessongate/internal/config"
)

// ErrSigningUnavailable is returned when no usable signing key is configured.
// Callers must surface "content unavailable" and never fall back to an
// unsigned reference.
var ErrSigningUnavailable = errors.New("playback signing unavailable")

// minHMACKeyLen is the shortest shared secret accepted for HS256.
const minHMACKeyLen = 32

// Signer is the signing primitive behind the Issuer. The video delivery network
// holds the matching shared or public key and runs the same Verify.
type Signer interface {
	Sign(payload []byte) ([]byte, error)
	Verify(payload, sig []byte) bool
	Algorithm() string
}

// HMACSigner signs with HMAC-SHA256 over a shared secret.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner returns an HS256 signer. Keys shorter than 32 bytes are refused.
func NewHMACSigner(key []byte) (*HMACSigner, error) {
	if len(key) < minHMACKeyLen {
		return nil, fmt.Errorf("%w: hmac key must be at least %d bytes", ErrSigningUnavailable, minHMACKeyLen)
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &HMACSigner{key: k}, nil
}

func (s *HMACSigner) Sign(payload []byte) ([]byte, error) {
	sig, err := jwt.SigningMethodHS256.Sign(string(payload), s.key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	return sig, nil
}

func (s *HMACSigner) Verify(payload, sig []byte) bool {
	return jwt.SigningMethodHS256.Verify(string(payload), sig, s.key) == nil
}

func (s *HMACSigner) Algorithm() string { return jwt.SigningMethodHS256.Alg() }

// Ed25519Signer signs with EdDSA. A signer built from a public key alone can
// only verify.
type Ed25519Signer struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
}

// NewEd25519Signer accepts a 32-byte seed or a 64-byte private key.
func NewEd25519Signer(key []byte) (*Ed25519Signer, error) {
	var priv ed25519.PrivateKey
	switch len(key) {
	case ed25519.SeedSize:
		priv = ed25519.NewKeyFromSeed(key)
	case ed25519.PrivateKeySize:
		priv = ed25519.PrivateKey(append([]byte(nil), key...))
	default:
		return nil, fmt.Errorf("%w: ed25519 key must be %d or %d bytes", ErrSigningUnavailable, ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, ErrSigningUnavailable
	}
	return &Ed25519Signer{private: priv, public: pub}, nil
}

// NewEd25519Verifier returns a verify-only signer for the given public key.
func NewEd25519Verifier(pub []byte) (*Ed25519Signer, error) {
	if len(pub) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: ed25519 public key must be %d bytes", ErrSigningUnavailable, ed25519.PublicKeySize)
	}
	return &Ed25519Signer{public: ed25519.PublicKey(append([]byte(nil), pub...))}, nil
}

func (s *Ed25519Signer) Sign(payload []byte) ([]byte, error) {
	if s.private == nil {
		return nil, fmt.Errorf("%w: verify-only key", ErrSigningUnavailable)
	}
	sig, err := jwt.SigningMethodEdDSA.Sign(string(payload), s.private)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSigningUnavailable, err)
	}
	return sig, nil
}

func (s *Ed25519Signer) Verify(payload, sig []byte) bool {
	return jwt.SigningMethodEdDSA.Verify(string(payload), sig, s.public) == nil
}

func (s *Ed25519Signer) Algorithm() string { return jwt.SigningMethodEdDSA.Alg() }

// PublicKey returns the key the delivery network needs to verify tokens.
func (s *Ed25519Signer) PublicKey() ed25519.PublicKey { return s.public }

// NewSigner builds the configured signer. An empty or undecodable key yields
// ErrSigningUnavailable.
func NewSigner(cfg config.SigningConfig) (Signer, error) {
	if strings.TrimSpace(cfg.Key) == "" {
		return nil, fmt.Errorf("%w: no signing key configured", ErrSigningUnavailable)
	}
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.Key))
	if err != nil {
		return nil, fmt.Errorf("%w: signing key is not valid base64", ErrSigningUnavailable)
	}

	switch strings.ToLower(cfg.Algorithm) {
	case "", "hmac":
		signer, err := NewHMACSigner(key)
		if err != nil {
			return nil, err
		}
		return signer, nil
	case "ed25519":
		signer, err := NewEd25519Signer(key)
		if err != nil {
			return nil, err
		}
		if cfg.PublicKey != "" {
			pub, err := base64.StdEncoding.DecodeString(strings.TrimSpace(cfg.PublicKey))
			if err != nil || !signer.PublicKey().Equal(ed25519.PublicKey(pub)) {
				return nil, fmt.Errorf("%w: configured public key does not match private key", ErrSigningUnavailable)
			}
		}
		return signer, nil
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrSigningUnavailable, cfg.Algorithm)
	}
}
