package models

import (
	"time"

	"github.com/google/uuid"
)

// Member is a community member who passed (or attempted) verification. IP
// addresses are stored as salted-free SHA-256 hashes, never raw.
type Member struct {
	Bucket      int       `db:"bucket" json:"-"`
	MemberID    string    `db:"member_id" json:"member_id"`
	Username    string    `db:"username" json:"username"`
	IPHash      string    `db:"ip_hash" json:"-"`
	UserAgent   string    `db:"user_agent" json:"-"`
	IsVPN       bool      `db:"is_vpn" json:"is_vpn"`
	IsBanned    bool      `db:"is_banned" json:"is_banned"`
	BanReason   string    `db:"ban_reason" json:"ban_reason,omitempty"`
	RoleGranted bool      `db:"role_granted" json:"role_granted"`
	VerifiedAt  time.Time `db:"verified_at" json:"verified_at"`
	LastSeen    time.Time `db:"last_seen" json:"last_seen"`
}

// IPBan is one active or lifted ban keyed by hashed IP
type IPBan struct {
	IPHash   string    `db:"ip_hash" json:"ip_hash"`
	MemberID string    `db:"member_id" json:"member_id,omitempty"`
	Username string    `db:"username" json:"username,omitempty"`
	Reason   string    `db:"reason" json:"reason"`
	BannedBy string    `db:"banned_by" json:"banned_by"`
	BannedAt time.Time `db:"banned_at" json:"banned_at"`
	Active   bool      `db:"active" json:"active"`
}

// Verification outcome values recorded in audit logs and analytics
const (
	OutcomeSuccess     = "success"
	OutcomeRateLimited = "rate_limited"
	OutcomeLocked      = "locked"
	OutcomeBanned      = "banned"
	OutcomeVPN         = "vpn_detected"
)

// AuditLogEntry is one verification or moderation event, durably stored and
// indexed for admin search.
type AuditLogEntry struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Bucket    int       `db:"bucket" json:"-"`
	MemberID  string    `db:"member_id" json:"member_id"`
	Username  string    `db:"username" json:"username"`
	IPHash    string    `db:"ip_hash" json:"ip_hash"`
	Outcome   string    `db:"outcome" json:"outcome"`
	Details   string    `db:"details" json:"details"`
	Timestamp time.Time `db:"timestamp" json:"timestamp"`
}

// Warning is one moderator warning issued against a member. Warnings are a
// durable paper trail only; escalation to a ban stays a human decision.
type Warning struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Bucket    int       `db:"bucket" json:"-"`
	MemberID  string    `db:"member_id" json:"member_id"`
	Moderator string    `db:"moderator" json:"moderator"`
	Reason    string    `db:"reason" json:"reason"`
	WarnedAt  time.Time `db:"warned_at" json:"warned_at"`
}

// Stats aggregates the admin dashboard counters
type Stats struct {
	TotalMembers       int64 `json:"total_members"`
	BannedMembers      int64 `json:"banned_members"`
	ActiveBans         int64 `json:"active_bans"`
	TodayVerifications int64 `json:"today_verifications"`
}

// GateEvent is the record published to Kafka for downstream consumers
type GateEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	MemberID  string    `json:"member_id,omitempty"`
	IPHash    string    `json:"ip_hash,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// GateEvent types
const (
	EventVerified   = "member.verified"
	EventVPNBanned  = "ip.vpn_banned"
	EventIPBanned   = "ip.banned"
	EventIPUnbanned = "ip.unbanned"
	EventLocked     = "identity.locked"
	EventWarned     = "member.warned"
)
