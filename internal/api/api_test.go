// Lessongate - Subscription Video Access Control and Secure Media Delivery
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lessongate

package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/tomtom215/lessongate/internal/audit"
	"github.com/tomtom215/lessongate/internal/auth"
	"github.com/tomtom215/lessongate/internal/database"
	"github.com/tomtom215/lessongate/internal/entitlement"
	"github.com/tomtom215/lessongate/internal/models"
	"github.com/tomtom215/lessongate/internal/playback"
	"github.com/tomtom215/lessongate/internal/twofactor"
)

const testPassword = "correct horse battery"

type memoryIdentities struct {
	mu     sync.Mutex
	byName map[string]*models.Identity
}

func (m *memoryIdentities) GetIdentityByUsername(ctx context.Context, username string) (*models.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	identity, ok := m.byName[strings.ToLower(username)]
	if !ok {
		return nil, nil
	}
	cp := *identity
	return &cp, nil
}

func (m *memoryIdentities) UpdatePasswordHash(ctx context.Context, identityID int64, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, identity := range m.byName {
		if identity.ID == identityID {
			identity.PasswordHash = hash
		}
	}
	return nil
}

type memoryLessons map[int64]*models.Lesson

func (m memoryLessons) GetLesson(ctx context.Context, id int64) (*models.Lesson, error) {
	lesson, ok := m[id]
	if !ok {
		return nil, database.ErrLessonNotFound
	}
	cp := *lesson
	return &cp, nil
}

type memoryEntitlements struct {
	subs    map[[2]int64]*models.Subscription
	unlocks map[[2]int64]bool
}

func (m memoryEntitlements) GetSubscription(ctx context.Context, identityID, courseID int64) (*models.Subscription, error) {
	return m.subs[[2]int64{identityID, courseID}], nil
}

func (m memoryEntitlements) HasLessonUnlock(ctx context.Context, identityID, lessonID int64) (bool, error) {
	return m.unlocks[[2]int64{identityID, lessonID}], nil
}

type pinger struct{ err error }

func (p pinger) Ping(ctx context.Context) error { return p.err }

type fixture struct {
	server     *httptest.Server
	twoFactor  *twofactor.Manager
	trail      *audit.Logger
	auditStore *audit.MemoryStore
}

func newFixture(t *testing.T, signer playback.Signer, ready map[string]Pinger) *fixture {
	t.Helper()

	hasher := auth.NewPasswordHasher(auth.Argon2Params{Memory: 64, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	hash, err := hasher.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	identities := &memoryIdentities{byName: map[string]*models.Identity{
		"alice": {ID: 1, Username: "alice", PasswordHash: hash},
		"bob":   {ID: 2, Username: "bob", PasswordHash: hash},
	}}

	sessionStore := auth.NewMemorySessionStore()
	manager := twofactor.NewManager(twofactor.NewMemoryDeviceStore(), twofactor.NewMemoryReplayCache(nil), twofactor.Config{Skew: 1}, nil)

	guard := auth.NewGuard(auth.GuardDeps{
		Identities:   identities,
		Attempts:     auth.NewMemoryAttemptStore(),
		Sessions:     sessionStore,
		Challenges:   auth.NewMemoryChallengeStore(),
		SecondFactor: manager,
		Hasher:       hasher,
	}, auth.GuardConfig{Policy: auth.DefaultThrottlePolicy()})

	sessionCfg := auth.DefaultSessionMiddlewareConfig()
	sessionCfg.CookieSecure = false
	sessionCfg.Unauthorized = http.HandlerFunc(Unauthorized)
	sessions := auth.NewSessionMiddleware(sessionStore, sessionCfg)

	future := time.Now().Add(24 * time.Hour)
	past := time.Now().Add(-24 * time.Hour)
	lessons := memoryLessons{
		1: {ID: 1, CourseID: 10, Title: "Welcome", PlaybackID: "asset-free", FreePreview: true},
		2: {ID: 2, CourseID: 10, Title: "Deep dive", PlaybackID: "asset-paid"},
		3: {ID: 3, CourseID: 20, Title: "Other course", PlaybackID: "asset-other"},
		4: {ID: 4, CourseID: 10, Title: "Next week", PlaybackID: "asset-drip", UnlockAt: &future},
		5: {ID: 5, CourseID: 10, Title: "Last week", PlaybackID: "asset-dripped", UnlockAt: &past},
		6: {ID: 6, CourseID: 10, Title: "Teaser", PlaybackID: "asset-teaser", FreePreview: true, UnlockAt: &future},
		7: {ID: 7, CourseID: 10, Title: "Early access", PlaybackID: "asset-early", UnlockAt: &future},
	}
	subs := memoryEntitlements{
		subs: map[[2]int64]*models.Subscription{
			{1, 10}: {IdentityID: 1, CourseID: 10, Status: models.StatusActive, StartAt: past},
		},
		unlocks: map[[2]int64]bool{{1, 7}: true, {2, 7}: true},
	}

	auditStore := audit.NewMemoryStore(0)
	trail := audit.NewLogger(auditStore, audit.Config{})
	t.Cleanup(func() { _ = trail.Close() })

	h := NewHandler(HandlerDeps{
		Guard:           guard,
		Sessions:        sessions,
		Lessons:         lessons,
		Entitlements:    entitlement.NewResolver(subs, entitlement.Config{}),
		Issuer:          playback.NewIssuer(signer, time.Hour),
		TwoFactor:       manager,
		Ready:           ready,
		Audit:           trail,
		PlaybackBaseURL: "https://cdn.example.com/hls/",
		TokenTTL:        time.Hour,
	})
	server := httptest.NewServer(NewRouter(h, RouterConfig{}))
	t.Cleanup(server.Close)

	return &fixture{server: server, twoFactor: manager, trail: trail, auditStore: auditStore}
}

// auditEvents flushes the trail and returns what it recorded, oldest first.
func (f *fixture) auditEvents(t *testing.T) []audit.Event {
	t.Helper()
	if err := f.trail.Close(); err != nil {
		t.Fatalf("audit Close: %v", err)
	}
	events, err := f.auditStore.Query(context.Background(), audit.QueryFilter{})
	if err != nil {
		t.Fatalf("audit Query: %v", err)
	}
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	return events
}

func testSigner(t *testing.T) playback.Signer {
	t.Helper()
	signer, err := playback.NewHMACSigner(bytes.Repeat([]byte("k"), 32))
	if err != nil {
		t.Fatalf("NewHMACSigner: %v", err)
	}
	return signer
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *struct {
		Code    string                 `json:"code"`
		Message string                 `json:"message"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

func (f *fixture) do(t *testing.T, method, path, session string, body interface{}) (*http.Response, envelope) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, f.server.URL+path, reader)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if session != "" {
		req.Header.Set("Authorization", "Bearer "+session)
	}

	resp, err := f.server.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode %s %s: %v", method, path, err)
	}
	return resp, env
}

func (f *fixture) login(t *testing.T, username string) string {
	t.Helper()
	resp, env := f.do(t, http.MethodPost, "/api/v1/login", "", models.LoginRequest{Username: username, Password: testPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login %s: status %d", username, resp.StatusCode)
	}
	var login models.LoginResponse
	if err := json.Unmarshal(env.Data, &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return login.SessionID
}

func currentCode(t *testing.T, secret string) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("GenerateCodeCustom: %v", err)
	}
	return code
}

func TestLogin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		username string
		password string
		want     int
		wantCode string
	}{
		{"valid credentials", "alice", testPassword, http.StatusOK, ""},
		{"username is case insensitive", "ALICE", testPassword, http.StatusOK, ""},
		{"wrong password", "alice", "nope", http.StatusUnauthorized, CodeUnauthenticated},
		{"unknown user", "mallory", testPassword, http.StatusUnauthorized, CodeUnauthenticated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			f := newFixture(t, testSigner(t), nil)

			resp, env := f.do(t, http.MethodPost, "/api/v1/login", "", models.LoginRequest{Username: tt.username, Password: tt.password})
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}
			if tt.wantCode != "" {
				if env.Error == nil || env.Error.Code != tt.wantCode {
					t.Fatalf("error = %+v, want code %s", env.Error, tt.wantCode)
				}
				if env.Error.Message != msgUnauthenticated {
					t.Errorf("message = %q, want the uniform message", env.Error.Message)
				}
				return
			}

			var cookie *http.Cookie
			for _, c := range resp.Cookies() {
				if c.Name == "lg_session" {
					cookie = c
				}
			}
			if cookie == nil || !cookie.HttpOnly || cookie.Value == "" {
				t.Errorf("session cookie = %+v", cookie)
			}
		})
	}
}

func TestLogin_ValidationRejectsBody(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testSigner(t), nil)

	resp, env := f.do(t, http.MethodPost, "/api/v1/login", "", map[string]string{"username": "alice"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != CodeValidation {
		t.Fatalf("error = %+v", env.Error)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/v1/login", "", map[string]string{"username": "alice", "password": "x", "extra": "y"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown field status = %d, want 400", resp.StatusCode)
	}
}

func TestLogin_LocksAfterRepeatedFailures(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testSigner(t), nil)

	var last *http.Response
	var env envelope
	for i := 0; i < 15; i++ {
		last, env = f.do(t, http.MethodPost, "/api/v1/login", "", models.LoginRequest{Username: "alice", Password: "wrong"})
		if last.StatusCode == http.StatusLocked {
			break
		}
		if last.StatusCode != http.StatusUnauthorized && last.StatusCode != http.StatusTooManyRequests {
			t.Fatalf("attempt %d: status %d", i+1, last.StatusCode)
		}
	}
	if last.StatusCode != http.StatusLocked {
		t.Fatalf("never locked, last status %d", last.StatusCode)
	}
	if last.Header.Get("Retry-After") == "" {
		t.Error("locked response without Retry-After")
	}
	if env.Error == nil || env.Error.Code != CodeLocked || env.Error.Details["locked_until"] == nil {
		t.Errorf("error = %+v", env.Error)
	}

	// The correct password is refused while locked.
	resp, _ := f.do(t, http.MethodPost, "/api/v1/login", "", models.LoginRequest{Username: "alice", Password: testPassword})
	if resp.StatusCode != http.StatusLocked {
		t.Errorf("correct password while locked: status %d, want 423", resp.StatusCode)
	}

	events := f.auditEvents(t)
	lastEvent := events[len(events)-1]
	if lastEvent.Type != audit.EventLocked || lastEvent.Severity != audit.SeverityCritical || lastEvent.Username != "alice" {
		t.Errorf("last audit event = %+v, want critical auth.locked for alice", lastEvent)
	}
	for _, e := range events {
		if e.Type == audit.EventLoginSucceeded {
			t.Errorf("login recorded as succeeded while locked: %+v", e)
		}
	}
}

func TestAuditTrail_LoginAndLogout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testSigner(t), nil)

	f.do(t, http.MethodPost, "/api/v1/login", "", models.LoginRequest{Username: "alice", Password: "wrong"})
	f.do(t, http.MethodPost, "/api/v1/login", "", models.LoginRequest{Username: "mallory", Password: testPassword})
	session := f.login(t, "alice")
	f.do(t, http.MethodPost, "/api/v1/logout", session, nil)

	want := []struct {
		typ        audit.EventType
		username   string
		identityID int64
	}{
		{audit.EventLoginFailed, "alice", 0},
		{audit.EventLoginFailed, "mallory", 0},
		{audit.EventLoginSucceeded, "alice", 1},
		{audit.EventLogout, "alice", 1},
	}
	events := f.auditEvents(t)
	if len(events) != len(want) {
		t.Fatalf("got %d audit events, want %d: %+v", len(events), len(want), events)
	}
	for i, w := range want {
		e := events[i]
		if e.Type != w.typ || e.Username != w.username || e.IdentityID != w.identityID {
			t.Errorf("event[%d] = %s/%s/%d, want %s/%s/%d", i, e.Type, e.Username, e.IdentityID, w.typ, w.username, w.identityID)
		}
		if e.Address != "127.0.0.1" || e.RequestID == "" {
			t.Errorf("event[%d] address=%q request_id=%q", i, e.Address, e.RequestID)
		}
	}
	if events[2].Detail != "password" {
		t.Errorf("login detail = %q, want password", events[2].Detail)
	}
}

func TestTwoFactorEnrollmentAndChallenge(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testSigner(t), nil)
	session := f.login(t, "bob")

	resp, env := f.do(t, http.MethodPost, "/api/v1/2fa/setup", session, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("setup status = %d", resp.StatusCode)
	}
	var setup models.TwoFactorSetupResponse
	if err := json.Unmarshal(env.Data, &setup); err != nil {
		t.Fatalf("decode setup: %v", err)
	}
	if setup.Secret == "" || !strings.HasPrefix(setup.OTPAuthURL, "otpauth://totp/") {
		t.Fatalf("setup = %+v", setup)
	}

	resp, env = f.do(t, http.MethodPost, "/api/v1/2fa/setup/confirm", session, models.CodeRequest{Code: currentCode(t, setup.Secret)})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("confirm status = %d (%+v)", resp.StatusCode, env.Error)
	}
	var backup models.BackupCodesResponse
	if err := json.Unmarshal(env.Data, &backup); err != nil {
		t.Fatalf("decode backup codes: %v", err)
	}
	if len(backup.BackupCodes) != 10 {
		t.Fatalf("backup codes = %d, want 10", len(backup.BackupCodes))
	}

	resp, _ = f.do(t, http.MethodPost, "/api/v1/2fa/setup", session, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("setup while enrolled: status %d, want 409", resp.StatusCode)
	}

	// Password login now yields a challenge, not a session.
	resp, env = f.do(t, http.MethodPost, "/api/v1/login", "", models.LoginRequest{Username: "bob", Password: testPassword})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("login status = %d, want 202", resp.StatusCode)
	}
	var challenge models.ChallengeRequiredResponse
	if err := json.Unmarshal(env.Data, &challenge); err != nil {
		t.Fatalf("decode challenge: %v", err)
	}
	if !challenge.ChallengeRequired || challenge.ChallengeID == "" {
		t.Fatalf("challenge = %+v", challenge)
	}
	for _, c := range resp.Cookies() {
		if c.Name == "lg_session" && c.Value != "" {
			t.Error("challenge response set a session cookie")
		}
	}

	resp, env = f.do(t, http.MethodPost, "/api/v1/2fa/challenge", "", models.ChallengeRequest{ChallengeID: challenge.ChallengeID, Code: "000000"})
	if resp.StatusCode != http.StatusUnauthorized || env.Error == nil || env.Error.Code != CodeInvalidTwoFactor {
		t.Fatalf("wrong code: status %d error %+v", resp.StatusCode, env.Error)
	}

	resp, env = f.do(t, http.MethodPost, "/api/v1/2fa/challenge", "", models.ChallengeRequest{ChallengeID: challenge.ChallengeID, Code: backup.BackupCodes[0]})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("backup code: status %d error %+v", resp.StatusCode, env.Error)
	}

	resp, env = f.do(t, http.MethodGet, "/api/v1/2fa", session, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	var status models.TwoFactorStatusResponse
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status.State != string(twofactor.StateEnrolled) || status.BackupCodesRemaining != 9 {
		t.Errorf("status = %+v", status)
	}

	var types []audit.EventType
	for _, e := range f.auditEvents(t) {
		types = append(types, e.Type)
	}
	wantTypes := []audit.EventType{
		audit.EventLoginSucceeded,
		audit.EventTwoFactorEnrolled,
		audit.EventLoginChallenged,
		audit.EventChallengeFailed,
		audit.EventLoginSucceeded,
	}
	if len(types) != len(wantTypes) {
		t.Fatalf("audit types = %v, want %v", types, wantTypes)
	}
	for i := range wantTypes {
		if types[i] != wantTypes[i] {
			t.Errorf("audit[%d] = %s, want %s", i, types[i], wantTypes[i])
		}
	}
}

func TestDisableTwoFactor_RequiresPassword(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testSigner(t), nil)
	session := f.login(t, "bob")

	material, err := f.twoFactor.BeginSetup(context.Background(), 2, "bob")
	if err != nil {
		t.Fatalf("BeginSetup: %v", err)
	}
	if _, err := f.twoFactor.ConfirmSetup(context.Background(), 2, currentCode(t, material.Secret)); err != nil {
		t.Fatalf("ConfirmSetup: %v", err)
	}

	resp, _ := f.do(t, http.MethodPost, "/api/v1/2fa/disable", session, models.PasswordConfirmRequest{Password: "wrong"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: status %d, want 401", resp.StatusCode)
	}

	resp, _ = f.do(t, http.MethodPost, "/api/v1/2fa/disable", session, models.PasswordConfirmRequest{Password: testPassword})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("disable: status %d", resp.StatusCode)
	}

	enrolled, err := f.twoFactor.Enrolled(context.Background(), 2)
	if err != nil || enrolled {
		t.Errorf("Enrolled = %v, %v after disable", enrolled, err)
	}
}

func TestPlayback(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testSigner(t), nil)
	alice := f.login(t, "alice")
	bob := f.login(t, "bob")

	tests := []struct {
		name    string
		path    string
		session string
		want    int
		asset   string
	}{
		{"free preview anonymous", "/api/v1/lesson/1/playback", "", http.StatusOK, "asset-free"},
		{"entitled subscriber", "/api/v1/lesson/2/playback", alice, http.StatusOK, "asset-paid"},
		{"released drip lesson", "/api/v1/lesson/5/playback", alice, http.StatusOK, "asset-dripped"},
		{"no subscription", "/api/v1/lesson/2/playback", bob, http.StatusForbidden, ""},
		{"other course", "/api/v1/lesson/3/playback", alice, http.StatusForbidden, ""},
		{"anonymous paid lesson", "/api/v1/lesson/2/playback", "", http.StatusForbidden, ""},
		{"unknown lesson", "/api/v1/lesson/999/playback", alice, http.StatusForbidden, ""},
		{"unreleased lesson", "/api/v1/lesson/4/playback", alice, http.StatusForbidden, ""},
		{"unreleased free preview", "/api/v1/lesson/6/playback", "", http.StatusOK, "asset-teaser"},
		{"unreleased with unlock", "/api/v1/lesson/7/playback", alice, http.StatusOK, "asset-early"},
		{"unlock without subscription", "/api/v1/lesson/7/playback", bob, http.StatusForbidden, ""},
		{"malformed id", "/api/v1/lesson/abc/playback", alice, http.StatusForbidden, ""},
		{"stale session is anonymous", "/api/v1/lesson/2/playback", "not-a-session", http.StatusForbidden, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, env := f.do(t, http.MethodGet, tt.path, tt.session, nil)
			if resp.StatusCode != tt.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.want)
			}

			if tt.want != http.StatusOK {
				if env.Error == nil || env.Error.Code != CodeNotEntitled || env.Error.Message != msgContentUnavailable {
					t.Errorf("error = %+v, want uniform denial", env.Error)
				}
				if strings.Contains(string(env.Data), "asset-") {
					t.Error("denial leaked an asset id")
				}
				return
			}

			var pb models.PlaybackResponse
			if err := json.Unmarshal(env.Data, &pb); err != nil {
				t.Fatalf("decode playback: %v", err)
			}
			wantPrefix := "https://cdn.example.com/hls/" + tt.asset + ".m3u8?token="
			if !strings.HasPrefix(pb.PlaybackURL, wantPrefix) {
				t.Errorf("url = %q, want prefix %q", pb.PlaybackURL, wantPrefix)
			}
			if pb.Token == "" || !pb.ExpiresAt.After(time.Now()) {
				t.Errorf("token = %q expires %v", pb.Token, pb.ExpiresAt)
			}
		})
	}
}

func TestPlayback_SigningUnavailable(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil)
	alice := f.login(t, "alice")

	resp, env := f.do(t, http.MethodGet, "/api/v1/lesson/2/playback", alice, nil)
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
	if env.Error == nil || env.Error.Code != CodeContentUnavailable {
		t.Errorf("error = %+v", env.Error)
	}

	// Unentitled callers still see 403, not a signing outage.
	resp, _ = f.do(t, http.MethodGet, "/api/v1/lesson/3/playback", alice, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("unentitled status = %d, want 403", resp.StatusCode)
	}
}

func TestLogout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testSigner(t), nil)
	session := f.login(t, "alice")

	resp, _ := f.do(t, http.MethodPost, "/api/v1/logout", session, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("logout status = %d", resp.StatusCode)
	}

	resp, env := f.do(t, http.MethodPost, "/api/v1/logout", session, nil)
	if resp.StatusCode != http.StatusUnauthorized || env.Error == nil || env.Error.Code != CodeUnauthenticated {
		t.Errorf("second logout: status %d error %+v", resp.StatusCode, env.Error)
	}

	resp, _ = f.do(t, http.MethodGet, "/api/v1/lesson/2/playback", session, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Errorf("playback after logout: status %d, want 403", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	t.Parallel()

	t.Run("ready", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, testSigner(t), map[string]Pinger{"database": pinger{}})
		resp, _ := f.do(t, http.MethodGet, "/health/ready", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})

	t.Run("dependency down", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, testSigner(t), map[string]Pinger{"database": pinger{err: context.DeadlineExceeded}})
		resp, _ := f.do(t, http.MethodGet, "/health/ready", "", nil)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("status = %d, want 503", resp.StatusCode)
		}
	})

	t.Run("live", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, nil, nil)
		resp, _ := f.do(t, http.MethodGet, "/health/live", "", nil)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("status = %d, want 200", resp.StatusCode)
		}
	})
}

func TestRouter_NotFoundEnvelope(t *testing.T) {
	t.Parallel()
	f := newFixture(t, testSigner(t), nil)

	resp, env := f.do(t, http.MethodGet, "/api/v1/nope", "", nil)
	if resp.StatusCode != http.StatusNotFound || env.Error == nil || env.Error.Code != CodeNotFound {
		t.Errorf("status %d error %+v", resp.StatusCode, env.Error)
	}
}

func TestLoginRateLimit(t *testing.T) {
	t.Parallel()
	limited := loginRateLimit(RouterConfig{LoginRateLimitReqs: 2, LoginRateLimitWindow: time.Minute})
	handler := limited(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/api/v1/login", nil)
		req.RemoteAddr = "198.51.100.7:4000"
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests && rec.Header().Get("Retry-After") == "" {
			t.Error("429 without Retry-After")
		}
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v", codes)
	}
}

func TestClientAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.9", "192.0.2.9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := clientAddress(req); got != tt.want {
			t.Errorf("clientAddress(%q) = %q, want %q", tt.remote, got, tt.want)
		}
	}
}

func TestWebhookResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		status     int
		wantStatus string
		wantCode   string
	}{
		{http.StatusAccepted, "success", ""},
		{http.StatusBadRequest, "error", CodeInvalidRequest},
		{http.StatusServiceUnavailable, "error", CodeInternal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			t.Parallel()
			rec := httptest.NewRecorder()
			WebhookResponse(rec, httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", nil), tt.status)

			if rec.Code != tt.status {
				t.Errorf("status = %d, want %d", rec.Code, tt.status)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			var env envelope
			if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
				t.Fatalf("decode envelope: %v", err)
			}
			if env.Status != tt.wantStatus {
				t.Errorf("envelope status = %q, want %q", env.Status, tt.wantStatus)
			}
			if tt.wantCode == "" {
				if env.Error != nil || !strings.Contains(string(env.Data), `"accepted":true`) {
					t.Errorf("envelope = %+v, data %s", env.Error, env.Data)
				}
				return
			}
			if env.Error == nil || env.Error.Code != tt.wantCode {
				t.Errorf("error = %+v, want code %s", env.Error, tt.wantCode)
			}
		})
	}
}
