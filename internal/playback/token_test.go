// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package playback

import (
	"bytes"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/lessongate/internal/config"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestIssuer(t *testing.T) (*Issuer, *fakeClock) {
	t.Helper()
	signer, err := NewHMACSigner(testKey)
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	return NewIssuer(signer, DefaultTTL).WithClock(clock.Now), clock
}

func TestIssueVerify_RoundTrip(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	tok, err := issuer.Issue("asset-abc123", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !tok.ExpiresAt.Equal(clock.t.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, clock.t.Add(time.Hour))
	}

	got, err := issuer.Verify(tok.Value)
	if err != nil {
		t.Fatalf("Verify right after issue: %v", err)
	}
	if got != "asset-abc123" {
		t.Errorf("Verify() = %q, want asset-abc123", got)
	}

	clock.Advance(time.Hour)
	if _, err := issuer.Verify(tok.Value); err != nil {
		t.Errorf("token should still verify at exactly expiresAt: %v", err)
	}

	clock.Advance(time.Second)
	if _, err := issuer.Verify(tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken after expiry, got %v", err)
	}
}

func TestIssue_DefaultTTL(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	tok, err := issuer.Issue("asset-1", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := clock.t.Add(DefaultTTL); !tok.ExpiresAt.Equal(want) {
		t.Errorf("ExpiresAt = %v, want %v", tok.ExpiresAt, want)
	}
}

func TestIssue_Deterministic(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	a, err := issuer.Issue("asset-1", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	b, err := issuer.Issue("asset-1", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if a.Value != b.Value {
		t.Error("same asset, ttl and clock should produce identical tokens")
	}

	payload, err := base64.RawURLEncoding.DecodeString(strings.SplitN(a.Value, ".", 2)[0])
	if err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if !bytes.HasPrefix(payload, []byte(`{"aid":"asset-1","exp":`)) {
		t.Errorf("unexpected payload layout: %s", payload)
	}
}

func TestVerify_TamperAnyByte(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	tok, err := issuer.Issue("asset-tamper", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-_."
	for i := 0; i < len(tok.Value); i++ {
		orig := tok.Value[i]
		for _, repl := range []byte{alphabet[(strings.IndexByte(alphabet, orig)+1)%len(alphabet)], 'A', '.'} {
			if repl == orig {
				continue
			}
			tampered := tok.Value[:i] + string(repl) + tok.Value[i+1:]
			if _, err := issuer.Verify(tampered); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("tampering byte %d (%q -> %q) was accepted", i, orig, repl)
			}
		}
	}

	for _, bad := range []string{"", ".", tok.Value + ".x", tok.Value[:len(tok.Value)-1], "nodot"} {
		if _, err := issuer.Verify(bad); !errors.Is(err, ErrInvalidToken) {
			t.Errorf("Verify(%q) should fail", bad)
		}
	}
}

func TestVerify_WrongKey(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	tok, err := issuer.Issue("asset-1", time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	other, err := NewHMACSigner([]byte("ffffffffffffffffffffffffffffffff"))
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	if _, err := NewIssuer(other, 0).Verify(tok.Value); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("token signed with another key must not verify, got %v", err)
	}
}

func TestIssue_FailsClosedWithoutSigner(t *testing.T) {
	issuer := NewIssuer(nil, time.Hour)
	if issuer.Available() {
		t.Error("issuer without signer must not report available")
	}
	tok, err := issuer.Issue("asset-1", time.Hour)
	if !errors.Is(err, ErrSigningUnavailable) {
		t.Fatalf("expected ErrSigningUnavailable, got %v", err)
	}
	if tok.Value != "" {
		t.Error("no token value may be returned when signing is unavailable")
	}
}

func TestEd25519_RoundTripAndVerifier(t *testing.T) {
	seed := bytes.Repeat([]byte{7}, ed25519.SeedSize)
	signer, err := NewEd25519Signer(seed)
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}

	tok, err := NewIssuer(signer, time.Hour).Issue("asset-ed", 0)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	verifier, err := NewEd25519Verifier(signer.PublicKey())
	if err != nil {
		t.Fatalf("NewEd25519Verifier: %v", err)
	}
	got, err := NewIssuer(verifier, time.Hour).Verify(tok.Value)
	if err != nil || got != "asset-ed" {
		t.Fatalf("public-key verification failed: %q, %v", got, err)
	}

	if _, err := NewIssuer(verifier, time.Hour).Issue("asset-ed", 0); !errors.Is(err, ErrSigningUnavailable) {
		t.Errorf("verify-only signer must not mint tokens, got %v", err)
	}
}

func TestNewSigner(t *testing.T) {
	hmacKey := base64.StdEncoding.EncodeToString(testKey)
	edSeed := bytes.Repeat([]byte{9}, ed25519.SeedSize)
	edKey := base64.StdEncoding.EncodeToString(edSeed)
	edPub := base64.StdEncoding.EncodeToString(ed25519.NewKeyFromSeed(edSeed).Public().(ed25519.PublicKey))

	tests := []struct {
		name    string
		cfg     config.SigningConfig
		wantAlg string
		wantErr bool
	}{
		{"hmac", config.SigningConfig{Algorithm: "hmac", Key: hmacKey}, "HS256", false},
		{"ed25519", config.SigningConfig{Algorithm: "ed25519", Key: edKey, PublicKey: edPub}, "EdDSA", false},
		{"missing key", config.SigningConfig{Algorithm: "hmac"}, "", true},
		{"not base64", config.SigningConfig{Algorithm: "hmac", Key: "%%%"}, "", true},
		{"short hmac key", config.SigningConfig{Algorithm: "hmac", Key: base64.StdEncoding.EncodeToString([]byte("short"))}, "", true},
		{"mismatched public key", config.SigningConfig{Algorithm: "ed25519", Key: edKey, PublicKey: hmacKey}, "", true},
		{"unknown algorithm", config.SigningConfig{Algorithm: "rsa", Key: hmacKey}, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signer, err := NewSigner(tt.cfg)
			if tt.wantErr {
				if !errors.Is(err, ErrSigningUnavailable) {
					t.Fatalf("expected ErrSigningUnavailable, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewSigner: %v", err)
			}
			if signer.Algorithm() != tt.wantAlg {
				t.Errorf("Algorithm() = %q, want %q", signer.Algorithm(), tt.wantAlg)
			}
		})
	}
}

func TestSignedURL(t *testing.T) {
	got := SignedURL("https://stream.example.com/", "abc 123", "p.s")
	want := "https://stream.example.com/abc%20123.m3u8?token=p.s"
	if got != want {
		t.Errorf("SignedURL() = %q, want %q", got, want)
	}
}
