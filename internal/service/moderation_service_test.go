package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"gatekeeper-service/internal/config"
	"gatekeeper-service/internal/hashing"
	"gatekeeper-service/internal/models"
	"gatekeeper-service/internal/ratelimit"
)

type stubWarnings struct {
	mu       sync.Mutex
	warnings []*models.Warning
}

func (s *stubWarnings) Add(_ context.Context, w *models.Warning) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.warnings = append(s.warnings, w)
	return nil
}

func (s *stubWarnings) ListForMember(_ context.Context, memberID string, limit int) ([]*models.Warning, error) {
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

func (s *stubWarnings) CountForMember(_ context.Context, memberID string) (int64, error) {
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

type moderationFixture struct {
	svc      *ModerationService
	hasher   *hashing.Hasher
	clock    *testClock
	members  *stubMembers
	bans     *stubBans
	audit    *stubAudit
	warnings *stubWarnings
	events   *stubEvents
	locks    *ratelimit.LockStore
}

func newModerationFixture(t *testing.T) *moderationFixture {
	t.Helper()

	cfg := &config.Config{
		Environment: "development",
		RateLimit: config.RateLimitConfig{
			LockDuration: 5 * time.Minute,
		},
	}

	clock := &testClock{now: time.Unix(1_700_000_000, 0)}
	f := &moderationFixture{
		hasher:   hashing.NewHasher(),
		clock:    clock,
		members:  newStubMembers(),
		bans:     newStubBans(),
		audit:    &stubAudit{},
		warnings: &stubWarnings{},
		events:   &stubEvents{},
		locks:    ratelimit.NewLockStore(nil, clock, 0),
	}

	f.svc = NewModerationService(
		cfg, f.hasher, f.locks,
		f.members, f.bans, f.audit, f.warnings,
		nil, f.events, nil, nil,
	)
	return f
}

func TestBanAndUnbanIP(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	ban, err := f.svc.BanIP(ctx, cleanIP, "spamming invites", "moderator-9")
	require.NoError(t, err)
	require.Equal(t, f.hasher.IdentityHash(cleanIP), ban.IPHash)
	require.Equal(t, "moderator-9", ban.BannedBy)

	banned, err := f.bans.IsBanned(ctx, ban.IPHash)
	require.NoError(t, err)
	require.True(t, banned)
	require.Equal(t, []string{models.EventIPBanned}, f.events.types())

	// Unban by raw address.
	require.NoError(t, f.svc.UnbanIP(ctx, cleanIP, "moderator-9"))
	banned, err = f.bans.IsBanned(ctx, ban.IPHash)
	require.NoError(t, err)
	require.False(t, banned)
	require.Equal(t, []string{models.EventIPBanned, models.EventIPUnbanned}, f.events.types())
}

func TestUnbanIPAcceptsHash(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	ban, err := f.svc.BanIP(ctx, cleanIP, "abuse", "mod")
	require.NoError(t, err)

	// Operators paste the 64-char hash straight from a ban listing.
	require.NoError(t, f.svc.UnbanIP(ctx, ban.IPHash, "mod"))
}

func TestUnbanIPNotFound(t *testing.T) {
	f := newModerationFixture(t)
	err := f.svc.UnbanIP(context.Background(), "198.51.100.1", "mod")
	require.ErrorIs(t, err, ErrBanNotFound)
}

func TestBanIPValidation(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	_, err := f.svc.BanIP(ctx, "", "reason", "mod")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.BanIP(ctx, cleanIP, "", "mod")
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestWarnMemberRecordsLedger(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	warning, count, err := f.svc.Warn(ctx, "member-1", "spamming invite links", "moderator-9")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
	require.Equal(t, "member-1", warning.MemberID)
	require.Equal(t, "moderator-9", warning.Moderator)
	require.False(t, warning.WarnedAt.IsZero())

	_, count, err = f.svc.Warn(ctx, "member-1", "repeat offense", "moderator-9")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)

	// A warning is a paper trail, never an automatic ban.
	banned, err := f.bans.IsBanned(ctx, f.hasher.IdentityHash("member-1"))
	require.NoError(t, err)
	require.False(t, banned)

	require.Equal(t, []string{models.EventWarned, models.EventWarned}, f.events.types())
	require.Equal(t, []string{"member_warned", "member_warned"}, f.audit.outcomes())
}

func TestWarnValidation(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Warn(ctx, "", "reason", "mod")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, _, err = f.svc.Warn(ctx, "member-1", "", "mod")
	require.ErrorIs(t, err, ErrInvalidInput)
	_, err = f.svc.ListWarnings(ctx, "", 10)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestListWarningsNewestFirst(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.Warn(ctx, "member-1", "first", "mod")
	require.NoError(t, err)
	_, _, err = f.svc.Warn(ctx, "member-1", "second", "mod")
	require.NoError(t, err)
	_, _, err = f.svc.Warn(ctx, "member-2", "unrelated", "mod")
	require.NoError(t, err)

	warnings, err := f.svc.ListWarnings(ctx, "member-1", 10)
	require.NoError(t, err)
	require.Len(t, warnings, 2)
	require.Equal(t, "second", warnings[0].Reason)
	require.Equal(t, "first", warnings[1].Reason)
}

func TestLockAndUnlockIdentity(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.LockIdentity(ctx, cleanIP, 120*time.Second, "mod"))

	info := f.svc.GetLockInfo(ctx, cleanIP)
	require.True(t, info.Locked)
	require.Equal(t, 120, info.RemainingSeconds)

	f.svc.UnlockIdentity(ctx, cleanIP)
	info = f.svc.GetLockInfo(ctx, cleanIP)
	require.False(t, info.Locked)
	require.Equal(t, 0, info.RemainingSeconds)
}

func TestLockIdentityDefaultDuration(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	// A non-positive duration falls back to the configured cooldown.
	require.NoError(t, f.svc.LockIdentity(ctx, cleanIP, 0, "mod"))
	info := f.svc.GetLockInfo(ctx, cleanIP)
	require.Equal(t, 300, info.RemainingSeconds)
}

func TestSearchAuditUnavailableWithoutIndex(t *testing.T) {
	f := newModerationFixture(t)
	_, err := f.svc.SearchAudit(context.Background(), "member-1", 10)
	require.Error(t, err)
}

func TestStats(t *testing.T) {
	f := newModerationFixture(t)
	ctx := context.Background()

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, f.members.Upsert(ctx, &models.Member{MemberID: id, Username: id}))
	}
	require.NoError(t, f.members.SetBanned(ctx, "m3", true, "abuse"))
	_, err := f.svc.BanIP(ctx, cleanIP, "abuse", "mod")
	require.NoError(t, err)

	require.NoError(t, f.audit.Append(ctx, &models.AuditLogEntry{
		Outcome:   models.OutcomeSuccess,
		Timestamp: time.Now().UTC(),
	}))

	stats, err := f.svc.Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.TotalMembers)
	require.Equal(t, int64(1), stats.BannedMembers)
	require.Equal(t, int64(1), stats.ActiveBans)
	require.Equal(t, int64(1), stats.TodayVerifications)
}
