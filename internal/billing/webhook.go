// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/metrics"
)

// SignatureHeader carries "t=<unix seconds>,v1=<hex hmac-sha256>".
const SignatureHeader = "Payment-Signature"

const maxWebhookBody = 64 << 10

// ErrBadSignature covers every signature failure. The cause is logged, never
// returned to the caller.
var ErrBadSignature = errors.New("invalid webhook signature")

// SignPayload computes the header value for body at t.
func SignPayload(secret []byte, body []byte, t time.Time) string {
	ts := strconv.FormatInt(t.Unix(), 10)
	return "t=" + ts + ",v1=" + hex.EncodeToString(computeSignature(secret, ts, body))
}

func computeSignature(secret []byte, ts string, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	return mac.Sum(nil)
}

// VerifySignature checks header against body within tolerance of now.
func VerifySignature(secret []byte, header string, body []byte, now time.Time, tolerance time.Duration) error {
	var ts string
	var sigs [][]byte
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			ts = value
		case "v1":
			if sig, err := hex.DecodeString(value); err == nil {
				sigs = append(sigs, sig)
			}
		}
	}
	if ts == "" || len(sigs) == 0 {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}

	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: bad timestamp", ErrBadSignature)
	}
	age := now.Sub(time.Unix(unix, 0))
	if age < 0 {
		age = -age
	}
	if age > tolerance {
		return fmt.Errorf("%w: timestamp outside tolerance", ErrBadSignature)
	}

	expected := computeSignature(secret, ts, body)
	for _, sig := range sigs {
		if hmac.Equal(sig, expected) {
			return nil
		}
	}
	return fmt.Errorf("%w: mismatch", ErrBadSignature)
}

// EventPublisher hands an event to the consumer side. Satisfied by *Bus; a nil
// error means the event will not be lost.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, msg *message.Message) error
}

// ResponseWriter writes the webhook's reply for status, success or failure.
type ResponseWriter func(w http.ResponseWriter, r *http.Request, status int)

// WebhookHandler authenticates processor notifications and publishes them to
// the event bus. It never touches subscription state directly.
type WebhookHandler struct {
	secret    []byte
	tolerance time.Duration
	publisher EventPublisher
	topic     string
	now       func() time.Time
	respond   ResponseWriter
}

// NewWebhookHandler creates the ingress handler.
func NewWebhookHandler(secret string, tolerance time.Duration, publisher EventPublisher, topic string) *WebhookHandler {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &WebhookHandler{
		secret:    []byte(secret),
		tolerance: tolerance,
		publisher: publisher,
		topic:     topic,
		now:       time.Now,
		respond: func(w http.ResponseWriter, _ *http.Request, status int) {
			if status < http.StatusBadRequest {
				w.WriteHeader(status)
				return
			}
			http.Error(w, http.StatusText(status), status)
		},
	}
}

// WithResponseWriter returns a copy that writes every response with fn.
func (h *WebhookHandler) WithResponseWriter(fn ResponseWriter) *WebhookHandler {
	cp := *h
	cp.respond = fn
	return &cp
}

// WithClock returns a copy using now as its clock.
func (h *WebhookHandler) WithClock(now func() time.Time) *WebhookHandler {
	cp := *h
	cp.now = now
	return &cp
}

// ServeHTTP responds 202 once the publisher vouches for the event, 400 for
// anything that fails verification or decoding, and 503 when publishing fails
// so the processor redelivers.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logging.Ctx(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil || len(body) > maxWebhookBody {
		h.respond(w, r, http.StatusBadRequest)
		return
	}

	if len(h.secret) == 0 {
		log.Error().Msg("Payment webhook secret not configured, rejecting event")
		h.respond(w, r, http.StatusBadRequest)
		return
	}

	if err := VerifySignature(h.secret, r.Header.Get(SignatureHeader), body, h.now(), h.tolerance); err != nil {
		metrics.RecordPaymentEvent("unknown", "bad_signature")
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Rejected payment webhook")
		h.respond(w, r, http.StatusBadRequest)
		return
	}

	event, err := DecodeEvent(body)
	if err != nil {
		metrics.RecordPaymentEvent("unknown", "invalid")
		log.Warn().Err(err).Msg("Rejected malformed payment event")
		h.respond(w, r, http.StatusBadRequest)
		return
	}

	msg, err := NewEventMessage(event)
	if err != nil {
		h.respond(w, r, http.StatusBadRequest)
		return
	}
	if err := h.publisher.Publish(r.Context(), h.topic, msg); err != nil {
		log.Error().Err(err).Str("event_id", event.ID).Msg("Failed to publish payment event")
		h.respond(w, r, http.StatusServiceUnavailable)
		return
	}

	metrics.RecordPaymentEvent(string(event.Type), "received")
	h.respond(w, r, http.StatusAccepted)
}
