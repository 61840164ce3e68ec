// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tomtom215/lessongate/internal/logging"
	"github.com/tomtom215/lessongate/internal/metrics"
	"github.com/tomtom215/lessongate/internal/models"
)

// IdentityStore loads identities by login name. A miss is (nil, nil).
type IdentityStore interface {
	GetIdentityByUsername(ctx context.Context, username string) (*models.Identity, error)
	UpdatePasswordHash(ctx context.Context, identityID int64, hash string) error
}

// SecondFactor is the two-factor manager as seen by the Guard.
// VerifyChallenge returns an error matching ErrInvalidTwoFactorCode for a
// rejected code and the verification method ("totp" or "backup") otherwise.
type SecondFactor interface {
	Enrolled(ctx context.Context, identityID int64) (bool, error)
	VerifyChallenge(ctx context.Context, identityID int64, code string) (string, error)
}

// Outcome is the kind of successful authentication.
type Outcome int

const (
	// OutcomeSession means a session was created.
	OutcomeSession Outcome = iota
	// OutcomeChallengeRequired means the password was right but a second
	// factor must be presented against Result.Challenge.
	OutcomeChallengeRequired
)

// Result is a successful Authenticate or CompleteChallenge.
type Result struct {
	Outcome   Outcome
	Session   *Session
	Challenge *LoginChallenge
}

// AttemptStateKind classifies the throttle state of a principal/address pair.
type AttemptStateKind string

const (
	StateNormal    AttemptStateKind = "normal"
	StateThrottled AttemptStateKind = "throttled"
	StateLocked    AttemptStateKind = "locked"
)

// AttemptState is a read-only view of the throttle state.
type AttemptState struct {
	Kind            AttemptStateKind
	PairFailures    int
	AccountFailures int
	RetryAfter      time.Duration
	LockedUntil     time.Time
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	Policy       ThrottlePolicy
	SessionTTL   time.Duration
	ChallengeTTL time.Duration
}

// GuardDeps are the Guard's collaborators. SecondFactor may be nil when
// two-factor authentication is not wired.
type GuardDeps struct {
	Identities   IdentityStore
	Attempts     AttemptStore
	Sessions     SessionStore
	Challenges   ChallengeStore
	SecondFactor SecondFactor
	Hasher       *PasswordHasher
	Clock        func() time.Time
}

// Guard verifies credentials and enforces progressive delays and lockouts on
// both the principal/address pair and the principal alone. Every read or
// write of attempt state that fails or times out denies the attempt.
type Guard struct {
	identities   IdentityStore
	attempts     AttemptStore
	sessions     SessionStore
	challenges   ChallengeStore
	secondFactor SecondFactor
	hasher       *PasswordHasher

	policy       ThrottlePolicy
	sessionTTL   time.Duration
	challengeTTL time.Duration
	now          func() time.Time

	storeWarn *rate.Sometimes
}

// NewGuard creates a Guard.
func NewGuard(deps GuardDeps, cfg GuardConfig) *Guard {
	cfg.Policy.normalize()
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 14 * 24 * time.Hour
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	if deps.Hasher == nil {
		deps.Hasher = NewPasswordHasher(DefaultArgon2Params())
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	return &Guard{
		identities:   deps.Identities,
		attempts:     deps.Attempts,
		sessions:     deps.Sessions,
		challenges:   deps.Challenges,
		secondFactor: deps.SecondFactor,
		hasher:       deps.Hasher,
		policy:       cfg.Policy,
		sessionTTL:   cfg.SessionTTL,
		challengeTTL: cfg.ChallengeTTL,
		now:          deps.Clock,
		storeWarn:    &rate.Sometimes{First: 1, Interval: 10 * time.Second},
	}
}

// Authenticate verifies principal/credential from address.
//
// Lock and delay state is consulted before the credential is looked at. An
// attempt that arrives inside a delay is rejected and still counted as a
// failure. When the identity has a confirmed second factor the result is a
// login challenge and the failure counters are left untouched until the
// challenge completes.
func (g *Guard) Authenticate(ctx context.Context, principal, credential, address string) (*Result, error) {
	now := g.now()
	principal = strings.TrimSpace(principal)
	if principal == "" {
		metrics.RecordLogin("invalid_credentials")
		return nil, ErrUnauthenticated
	}

	if err := g.checkThrottle(ctx, principal, address, now); err != nil {
		return nil, err
	}

	identity, err := g.identities.GetIdentityByUsername(ctx, principal)
	if err != nil {
		g.warnStore(ctx, "identity lookup", err)
		metrics.RecordLogin("store_unavailable")
		return nil, fmt.Errorf("%w: identity lookup: %v", ErrUnauthenticated, err)
	}

	valid := false
	if identity == nil {
		g.hasher.VerifyDummy(credential)
	} else {
		match, verr := g.hasher.Verify(credential, identity.PasswordHash)
		valid = verr == nil && match && !identity.Disabled
	}
	if !valid {
		return nil, g.fail(ctx, principal, address, now, ErrUnauthenticated, "invalid_credentials")
	}

	g.maybeRehash(ctx, identity, credential)

	if g.secondFactor != nil {
		enrolled, err := g.secondFactor.Enrolled(ctx, identity.ID)
		if err != nil {
			g.warnStore(ctx, "two-factor lookup", err)
			metrics.RecordLogin("store_unavailable")
			return nil, fmt.Errorf("%w: two-factor lookup: %v", ErrUnauthenticated, err)
		}
		if enrolled {
			return g.beginChallenge(ctx, identity, address, now)
		}
	}

	g.reset(ctx, principal, address)
	session, err := g.createSession(ctx, identity.ID, identity.Username, address, false, now)
	if err != nil {
		return nil, err
	}
	metrics.RecordLogin("success")
	logging.Ctx(ctx).Info().Int64("identity_id", identity.ID).Str("address", address).Msg("Login succeeded")
	return &Result{Outcome: OutcomeSession, Session: session}, nil
}

// CompleteChallenge finishes a login that required a second factor. Invalid
// codes count toward the same throttle as wrong passwords.
func (g *Guard) CompleteChallenge(ctx context.Context, challengeID, code, address string) (*Result, error) {
	now := g.now()

	challenge, err := g.challenges.Get(ctx, challengeID)
	if err != nil || challenge.IsExpired(now) {
		if err != nil && !errors.Is(err, ErrChallengeNotFound) {
			g.warnStore(ctx, "challenge lookup", err)
		}
		metrics.RecordLogin("invalid_challenge")
		return nil, ErrUnauthenticated
	}

	if err := g.checkThrottle(ctx, challenge.Username, address, now); err != nil {
		return nil, err
	}

	if g.secondFactor == nil {
		return nil, ErrUnauthenticated
	}
	method, err := g.secondFactor.VerifyChallenge(ctx, challenge.IdentityID, code)
	if errors.Is(err, ErrInvalidTwoFactorCode) {
		return nil, g.fail(ctx, challenge.Username, address, now, ErrInvalidTwoFactorCode, "invalid_2fa_code")
	}
	if err != nil {
		g.warnStore(ctx, "two-factor verification", err)
		metrics.RecordLogin("store_unavailable")
		return nil, fmt.Errorf("%w: two-factor verification: %v", ErrUnauthenticated, err)
	}

	if err := g.challenges.Consume(ctx, challengeID); err != nil {
		metrics.RecordLogin("invalid_challenge")
		return nil, ErrUnauthenticated
	}

	g.reset(ctx, challenge.Username, address)
	session, err := g.createSession(ctx, challenge.IdentityID, challenge.Username, address, true, now)
	if err != nil {
		return nil, err
	}
	metrics.RecordLogin("success")
	logging.Ctx(ctx).Info().Int64("identity_id", challenge.IdentityID).Str("method", method).
		Msg("Two-factor login succeeded")
	return &Result{Outcome: OutcomeSession, Session: session}, nil
}

// VerifyPassword re-checks the password of an already authenticated identity,
// for sensitive operations such as disabling two-factor authentication.
// Wrong passwords count toward the throttle.
func (g *Guard) VerifyPassword(ctx context.Context, username, credential, address string) error {
	now := g.now()
	if err := g.checkThrottle(ctx, username, address, now); err != nil {
		return err
	}

	identity, err := g.identities.GetIdentityByUsername(ctx, username)
	if err != nil {
		g.warnStore(ctx, "identity lookup", err)
		return fmt.Errorf("%w: identity lookup: %v", ErrUnauthenticated, err)
	}
	if identity == nil {
		g.hasher.VerifyDummy(credential)
		return g.fail(ctx, username, address, now, ErrUnauthenticated, "invalid_credentials")
	}
	match, err := g.hasher.Verify(credential, identity.PasswordHash)
	if err != nil || !match || identity.Disabled {
		return g.fail(ctx, username, address, now, ErrUnauthenticated, "invalid_credentials")
	}
	return nil
}

// RecordFailure counts one failed attempt against both the pair key and the
// account key. It returns the lockout end when this failure locked either key.
func (g *Guard) RecordFailure(ctx context.Context, principal, address string) (time.Time, error) {
	return g.recordFailure(ctx, principal, address, g.now())
}

// Status reports the current throttle state without changing it.
func (g *Guard) Status(ctx context.Context, principal, address string) (AttemptState, error) {
	now := g.now()
	pair, account, err := g.loadRecords(ctx, principal, address)
	if err != nil {
		return AttemptState{}, err
	}

	state := AttemptState{
		Kind:            StateNormal,
		PairFailures:    pair.activeFailures(now, g.policy.Window),
		AccountFailures: account.activeFailures(now, g.policy.Window),
	}
	if until := latestLock(now, pair, account); !until.IsZero() {
		state.Kind = StateLocked
		state.LockedUntil = until
		state.RetryAfter = until.Sub(now)
		return state, nil
	}
	if wait := g.pendingDelay(now, pair, account); wait > 0 {
		state.Kind = StateThrottled
		state.RetryAfter = wait
	}
	return state, nil
}

// checkThrottle rejects the attempt when either key is locked or a delay is
// still running. A throttled attempt is recorded as a failure.
func (g *Guard) checkThrottle(ctx context.Context, principal, address string, now time.Time) error {
	pair, account, err := g.loadRecords(ctx, principal, address)
	if err != nil {
		g.warnStore(ctx, "attempt read", err)
		metrics.RecordLogin("store_unavailable")
		return fmt.Errorf("%w: attempt state: %v", ErrUnauthenticated, err)
	}

	if until := latestLock(now, pair, account); !until.IsZero() {
		metrics.RecordLogin("locked")
		return &LockedError{Until: until}
	}

	if wait := g.pendingDelay(now, pair, account); wait > 0 {
		lockedUntil, err := g.recordFailure(ctx, principal, address, now)
		if err != nil {
			metrics.RecordLogin("store_unavailable")
			return fmt.Errorf("%w: attempt state: %v", ErrUnauthenticated, err)
		}
		if !lockedUntil.IsZero() {
			metrics.RecordLogin("locked")
			return &LockedError{Until: lockedUntil}
		}
		metrics.RecordLogin("rate_limited")
		return &RateLimitedError{RetryAfter: g.retryAfter(ctx, principal, address, now, wait)}
	}
	return nil
}

// retryAfter recomputes the wait after a throttled attempt was counted.
func (g *Guard) retryAfter(ctx context.Context, principal, address string, now time.Time, fallback time.Duration) time.Duration {
	pair, account, err := g.loadRecords(ctx, principal, address)
	if err != nil {
		return fallback
	}
	if wait := g.pendingDelay(now, pair, account); wait > 0 {
		return wait
	}
	return fallback
}

// fail records a failure and picks the error to return: Locked when this
// failure tripped a lockout, otherwise denial.
func (g *Guard) fail(ctx context.Context, principal, address string, now time.Time, denial error, outcome string) error {
	lockedUntil, err := g.recordFailure(ctx, principal, address, now)
	if err != nil {
		metrics.RecordLogin("store_unavailable")
		return fmt.Errorf("%w: attempt state: %v", ErrUnauthenticated, err)
	}
	if !lockedUntil.IsZero() {
		metrics.RecordLogin("locked")
		return &LockedError{Until: lockedUntil}
	}
	metrics.RecordLogin(outcome)
	return denial
}

func (g *Guard) loadRecords(ctx context.Context, principal, address string) (*AttemptRecord, *AttemptRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, g.policy.StoreTimeout)
	defer cancel()

	pair, err := g.getRecord(ctx, pairKey(principal, address))
	if err != nil {
		return nil, nil, err
	}
	account, err := g.getRecord(ctx, accountKey(principal))
	if err != nil {
		return nil, nil, err
	}
	return pair, account, nil
}

func (g *Guard) getRecord(ctx context.Context, key string) (*AttemptRecord, error) {
	rec, err := g.attempts.Get(ctx, key)
	if errors.Is(err, ErrAttemptNotFound) {
		return nil, nil
	}
	if err == nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
	}
	return rec, err
}

func (g *Guard) recordFailure(ctx context.Context, principal, address string, now time.Time) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, g.policy.StoreTimeout)
	defer cancel()

	var lockedUntil time.Time
	for _, k := range []struct {
		key       string
		scope     string
		threshold int
	}{
		{pairKey(principal, address), "pair", g.policy.MaxAttempts},
		{accountKey(principal), "account", g.policy.AccountMaxAttempts},
	} {
		locked := false
		rec, err := g.attempts.Update(ctx, k.key, func(rec *AttemptRecord) error {
			locked = false
			if rec.IsLocked(now) {
				return nil
			}
			if rec.activeFailures(now, g.policy.Window) == 0 {
				rec.Failures = 0
				rec.FirstFailure = now
			}
			rec.Failures++
			rec.LastFailure = now
			rec.LastAddress = address
			if rec.Failures >= k.threshold {
				g.applyLockout(rec, now)
				locked = true
			}
			return nil
		})
		if err == nil {
			err = ctx.Err()
		}
		if err != nil {
			g.warnStore(ctx, "attempt write", err)
			return time.Time{}, err
		}
		if locked {
			metrics.Lockouts.WithLabelValues(k.scope).Inc()
			logging.Ctx(ctx).Warn().
				Str("scope", k.scope).
				Str("principal", strings.ToLower(principal)).
				Str("address", address).
				Time("locked_until", rec.LockedUntil).
				Int("lockout_count", rec.LockoutCount).
				Msg("Login locked after repeated failures")
			if rec.LockedUntil.After(lockedUntil) {
				lockedUntil = rec.LockedUntil
			}
		}
	}
	return lockedUntil, nil
}

// applyLockout locks the record and starts a fresh failure count for the
// period after the lock expires.
func (g *Guard) applyLockout(rec *AttemptRecord, now time.Time) {
	rec.LockedUntil = now.Add(calculateLockoutDuration(&g.policy, rec.LockoutCount))
	rec.LockoutCount++
	rec.Failures = 0
}

// pendingDelay is how much longer the caller must wait, zero when free to try.
// Account delays use the pair steps scaled by AccountMaxAttempts/MaxAttempts.
func (g *Guard) pendingDelay(now time.Time, pair, account *AttemptRecord) time.Duration {
	var wait time.Duration

	if n := pair.activeFailures(now, g.policy.Window); n > 0 {
		readyAt := pair.LastFailure.Add(g.policy.delayFor(n))
		if d := readyAt.Sub(now); d > wait {
			wait = d
		}
	}
	if n := account.activeFailures(now, g.policy.Window); n > 0 {
		scaled := n * g.policy.MaxAttempts / g.policy.AccountMaxAttempts
		readyAt := account.LastFailure.Add(g.policy.delayFor(scaled))
		if d := readyAt.Sub(now); d > wait {
			wait = d
		}
	}
	return wait
}

func latestLock(now time.Time, records ...*AttemptRecord) time.Time {
	var until time.Time
	for _, rec := range records {
		if rec.IsLocked(now) && rec.LockedUntil.After(until) {
			until = rec.LockedUntil
		}
	}
	return until
}

// reset clears both keys after a successful login. Failure to clear is logged
// and does not fail the login.
func (g *Guard) reset(ctx context.Context, principal, address string) {
	ctx, cancel := context.WithTimeout(ctx, g.policy.StoreTimeout)
	defer cancel()

	for _, key := range []string{pairKey(principal, address), accountKey(principal)} {
		if err := g.attempts.Delete(ctx, key); err != nil {
			g.warnStore(ctx, "attempt reset", err)
		}
	}
}

// CleanupExpired purges attempt records that no longer affect any decision.
func (g *Guard) CleanupExpired(ctx context.Context) (int, error) {
	return g.attempts.CleanupExpired(ctx, g.now().Add(-g.policy.Window))
}

func (g *Guard) beginChallenge(ctx context.Context, identity *models.Identity, address string, now time.Time) (*Result, error) {
	id, err := randomID()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	challenge := &LoginChallenge{
		ID:         id,
		IdentityID: identity.ID,
		Username:   identity.Username,
		Address:    address,
		CreatedAt:  now,
		ExpiresAt:  now.Add(g.challengeTTL),
	}
	if err := g.challenges.Create(ctx, challenge); err != nil {
		g.warnStore(ctx, "challenge create", err)
		return nil, fmt.Errorf("%w: create challenge: %v", ErrUnauthenticated, err)
	}
	metrics.RecordLogin("challenge_required")
	return &Result{Outcome: OutcomeChallengeRequired, Challenge: challenge}, nil
}

func (g *Guard) createSession(ctx context.Context, identityID int64, username, address string, twoFactor bool, now time.Time) (*Session, error) {
	session, err := NewSession(identityID, username, address, g.sessionTTL, now)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	session.TwoFactor = twoFactor
	if err := g.sessions.Create(ctx, session); err != nil {
		g.warnStore(ctx, "session create", err)
		return nil, fmt.Errorf("%w: create session: %v", ErrUnauthenticated, err)
	}
	return session, nil
}

func (g *Guard) maybeRehash(ctx context.Context, identity *models.Identity, credential string) {
	if !g.hasher.NeedsRehash(identity.PasswordHash) {
		return
	}
	hash, err := g.hasher.Hash(credential)
	if err != nil {
		return
	}
	if err := g.identities.UpdatePasswordHash(ctx, identity.ID, hash); err != nil {
		logging.Ctx(ctx).Warn().Err(err).Int64("identity_id", identity.ID).Msg("Password rehash failed")
	}
}

// warnStore logs store failures at most once per interval.
func (g *Guard) warnStore(ctx context.Context, op string, err error) {
	g.storeWarn.Do(func() {
		logging.Ctx(ctx).Warn().Err(err).Str("op", op).Msg("Auth state store unavailable, denying")
	})
}
