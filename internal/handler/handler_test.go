package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/hashing"
	"gatekeeper-service/internal/ipcheck"
	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/ratelimit"
	"gatekeeper-service/internal/service"
)

const (
	adminUser = "admin"
	adminPass = "test-admin-password"
)

type memStores struct {
	mu      sync.Mutex
	members map[string]*models.Member
	bans    map[string]*models.IPBan
	audit   []*models.AuditLogEntry
}

func newMemStores() *memStores {
	return &memStores{
		members: make(map[string]*models.Member),
		bans:    make(map[string]*models.IPBan),
	}
}

func (s *memStores) Upsert(_ context.Context, m *models.Member) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.members[m.MemberID] = m
	return nil
}

func (s *memStores) Get(_ context.Context, memberID string) (*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[memberID]; ok {
		return m, nil
	}
	return nil, gocql.ErrNotFound
}

func (s *memStores) SetBanned(_ context.Context, memberID string, banned bool, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[memberID]; ok {
		m.IsBanned = banned
		m.BanReason = reason
	}
	return nil
}

func (s *memStores) ListVerified(_ context.Context, limit int) ([]*models.Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Member
	for _, m := range s.members {
		if !m.IsBanned && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStores) Counts(context.Context) (int64, int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var banned int64
	for _, m := range s.members {
		if m.IsBanned {
			banned++
		}
	}
	return int64(len(s.members)), banned, nil
}

func (s *memStores) Add(_ context.Context, ban *models.IPBan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ban.Active = true
	s.bans[ban.IPHash] = ban
	return nil
}

func (s *memStores) IsBanned(_ context.Context, ipHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.bans[ipHash]
	return ok, nil
}

func (s *memStores) Lift(_ context.Context, ipHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bans, ipHash)
	return nil
}

func (s *memStores) ListActive(_ context.Context, limit int) ([]*models.IPBan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.IPBan
	for _, b := range s.bans {
		if len(out) < limit {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *memStores) CountActive(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.bans)), nil
}

func (s *memStores) Append(_ context.Context, entry *models.AuditLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit = append(s.audit, entry)
	return nil
}

func (s *memStores) CountSince(_ context.Context, outcome string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, e := range s.audit {
		if e.Outcome == outcome && !e.Timestamp.Before(since) {
			count++
		}
	}
	return count, nil
}

type memWarnings struct {
	mu       sync.Mutex
	warnings []*models.Warning
}

func (s *memWarnings) Add(_ context.Context, w *models.Warning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, w)
	return nil
}

func (s *memWarnings) ListForMember(_ context.Context, memberID string, limit int) ([]*models.Warning, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Warning
	for i := len(s.warnings) - 1; i >= 0 && len(out) < limit; i-- {
		if s.warnings[i].MemberID == memberID {
			out = append(out, s.warnings[i])
		}
	}
	return out, nil
}

func (s *memWarnings) CountForMember(_ context.Context, memberID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var count int64
	for _, w := range s.warnings {
		if w.MemberID == memberID {
			count++
		}
	}
	return count, nil
}

type allowAllChecker struct{}

func (allowAllChecker) Check(_ context.Context, ip string) ipcheck.Reputation {
	return ipcheck.Reputation{IP: ip, RiskLevel: "medium", Recommendation: "allow"}
}

type routerFixture struct {
	router http.Handler
	hasher *hashing.Hasher
	stores *memStores
}

func newRouterFixture(t *testing.T, mutate func(*config.Config)) *routerFixture {
	t.Helper()

	h := hashing.NewHasher()
	passwordHash, err := h.HashPassword(adminPass)
	require.NoError(t, err)

	cfg := &config.Config{
		Environment: "development",
		RateLimit: config.RateLimitConfig{
			VerifyLimit:      5,
			VerifyWindow:     60,
			AdminLimit:       100,
			AdminWindow:      60,
			LockDuration:     5 * time.Minute,
			LockAfterDenials: 5,
		},
		Admin: config.AdminConfig{
			Username:     adminUser,
			PasswordHash: passwordHash,
		},
	}
	if mutate != nil {
		mutate(cfg)
	}

	stores := newMemStores()
	warnings := &memWarnings{}
	limiter := ratelimit.NewLimiter(nil, nil)
	locks := ratelimit.NewLockStore(nil, nil, 0)
	logger := zap.NewNop()

	verification := service.NewVerificationService(
		cfg, limiter, locks, h,
		stores, stores, stores, allowAllChecker{},
		nil, nil, nil, nil)
	moderation := service.NewModerationService(
		cfg, h, locks,
		stores, stores, stores, warnings,
		nil, nil, nil, nil)

	verifyHandler := NewVerifyHandler(verification, logger)
	adminHandler := NewAdminHandler(cfg, h, limiter, verification, moderation, logger)
	health := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	return &routerFixture{
		router: NewRouter(verifyHandler, adminHandler, health, logger),
		hasher: h,
		stores: stores,
	}
}

func (f *routerFixture) do(method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "203.0.113.50:43210"
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.SetBasicAuth(adminUser, adminPass)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestHealthEndpoint(t *testing.T) {
	f := newRouterFixture(t, nil)
	rec := f.do(http.MethodGet, "/health", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestVerifyEndpointSuccess(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/verify",
		map[string]string{"member_id": "12345", "username": "newcomer"}, false)

	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeResponse(t, rec)
	require.True(t, resp.Success)

	_, err := f.stores.Get(context.Background(), "12345")
	require.NoError(t, err)
}

func TestVerifyEndpointBadBody(t *testing.T) {
	f := newRouterFixture(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/verify", bytes.NewBufferString("{not json"))
	req.RemoteAddr = "203.0.113.50:43210"
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVerifyEndpointRateLimited(t *testing.T) {
	f := newRouterFixture(t, func(cfg *config.Config) {
		cfg.RateLimit.VerifyLimit = 1
	})

	body := map[string]string{"member_id": "12345", "username": "newcomer"}
	require.Equal(t, http.StatusOK, f.do(http.MethodPost, "/api/v1/verify", body, false).Code)

	rec := f.do(http.MethodPost, "/api/v1/verify", body, false)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	retryAfter, err := strconv.Atoi(rec.Header().Get("Retry-After"))
	require.NoError(t, err)
	require.InDelta(t, 60, retryAfter, 2)
	require.False(t, decodeResponse(t, rec).Success)
}

func TestAdminEndpointsRequireAuth(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(http.MethodGet, "/api/v1/admin/stats", nil, false)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/stats", nil)
	req.RemoteAddr = "203.0.113.50:43210"
	req.SetBasicAuth(adminUser, "wrong-password")
	rec2 := httptest.NewRecorder()
	f.router.ServeHTTP(rec2, req)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)

	require.Equal(t, http.StatusOK, f.do(http.MethodGet, "/api/v1/admin/stats", nil, true).Code)
}

func TestAdminBanLifecycle(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/admin/bans",
		BanRequest{IP: "198.51.100.23", Reason: "invite spam"}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/admin/bans", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Data []*models.IPBan `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 1)

	ipHash := listed.Data[0].IPHash
	rec = f.do(http.MethodDelete, "/api/v1/admin/bans/"+ipHash, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodDelete, "/api/v1/admin/bans/"+ipHash, nil, true)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminWarningLifecycle(t *testing.T) {
	f := newRouterFixture(t, nil)

	rec := f.do(http.MethodPost, "/api/v1/admin/warnings",
		WarnRequest{MemberID: "12345", Reason: "invite spam"}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Data WarnResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.Equal(t, int64(1), created.Data.WarningCount)
	require.Equal(t, "12345", created.Data.Warning.MemberID)
	require.Equal(t, adminUser, created.Data.Warning.Moderator)

	rec = f.do(http.MethodPost, "/api/v1/admin/warnings",
		WarnRequest{MemberID: "12345", Reason: "repeat offense"}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/admin/warnings?member_id=12345", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		Data []*models.Warning `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.Data, 2)
	require.Equal(t, "repeat offense", listed.Data[0].Reason)

	rec = f.do(http.MethodPost, "/api/v1/admin/warnings",
		WarnRequest{MemberID: "", Reason: "no target"}, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/admin/warnings", nil, true)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminLockLifecycle(t *testing.T) {
	f := newRouterFixture(t, nil)
	const target = "198.51.100.77"

	rec := f.do(http.MethodPost, "/api/v1/admin/locks",
		LockRequest{IP: target, DurationSeconds: 120}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/admin/locks/"+target, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var info struct {
		Data service.LockInfo `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.True(t, info.Data.Locked)
	require.InDelta(t, 120, info.Data.RemainingSeconds, 2)

	rec = f.do(http.MethodDelete, "/api/v1/admin/locks/"+target, nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/admin/locks/"+target, nil, true)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.False(t, info.Data.Locked)
}

func TestAdminGetMember(t *testing.T) {
	f := newRouterFixture(t, nil)

	require.Equal(t, http.StatusNotFound,
		f.do(http.MethodGet, "/api/v1/admin/members/ghost", nil, true).Code)

	require.NoError(t, f.stores.Upsert(context.Background(), &models.Member{
		MemberID: "777", Username: "regular",
	}))
	rec := f.do(http.MethodGet, "/api/v1/admin/members/777", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminSurfaceRateLimited(t *testing.T) {
	f := newRouterFixture(t, func(cfg *config.Config) {
		cfg.RateLimit.AdminLimit = 3
	})

	for i := 0; i < 3; i++ {
		rec := f.do(http.MethodGet, "/api/v1/admin/stats", nil, true)
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := f.do(http.MethodGet, "/api/v1/admin/stats", nil, true)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestUnknownRoute(t *testing.T) {
	f := newRouterFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/v1/nope", nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)
}
