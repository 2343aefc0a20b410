package postgres

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/trust-arbor/arbor/internal/apierrors"
	"github.com/trust-arbor/arbor/internal/profilestore"
	"github.com/trust-arbor/arbor/internal/trustmodel"
)

// ProfileStore is a durable ProfileStore backed by postgres, satisfying the
// same interface the in-memory internal/profilestore.Store does
// (trustmanager.ProfileStore). Connection pool tuning mirrors the teacher's
// services/indexer/storage.go NewStorage.
type ProfileStore struct {
	db *sqlx.DB
}

// Open connects to dsn and tunes the pool the way the teacher's indexer
// storage layer does (25 max open, 5 idle, 5 minute max lifetime).
func Open(dsn string) (*ProfileStore, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &ProfileStore{db: db}, nil
}

// Close releases the connection pool.
func (p *ProfileStore) Close() error {
	return p.db.Close()
}

// DB returns the underlying pool so callers can build an EventStore sharing
// the same connections.
func (p *ProfileStore) DB() *sqlx.DB {
	return p.db
}

type profileRow struct {
	AgentID                  string     `db:"agent_id"`
	TrustScore               int        `db:"trust_score"`
	Tier                     string     `db:"tier"`
	SuccessRate              float64    `db:"success_rate"`
	Uptime                   float64    `db:"uptime"`
	Security                 float64    `db:"security"`
	TestPass                 float64    `db:"test_pass"`
	Rollback                 float64    `db:"rollback"`
	TotalActions             int        `db:"total_actions"`
	SuccessfulActions        int        `db:"successful_actions"`
	SecurityViolations       int        `db:"security_violations"`
	TotalTests               int        `db:"total_tests"`
	TestsPassed              int        `db:"tests_passed"`
	RollbackCount            int        `db:"rollback_count"`
	ImprovementCount         int        `db:"improvement_count"`
	TrustPoints              int        `db:"trust_points"`
	ProposalsSubmitted       int        `db:"proposals_submitted"`
	ProposalsApproved        int        `db:"proposals_approved"`
	InstallationsSuccessful  int        `db:"installations_successful"`
	InstallationsRolledBack  int        `db:"installations_rolled_back"`
	Frozen                   bool       `db:"frozen"`
	FrozenReason             string     `db:"frozen_reason"`
	FrozenAt                 *time.Time `db:"frozen_at"`
	CreatedAt                time.Time  `db:"created_at"`
	UpdatedAt                time.Time  `db:"updated_at"`
	LastActivityAt           time.Time  `db:"last_activity_at"`
}

func (r *profileRow) toProfile() *trustmodel.TrustProfile {
	return &trustmodel.TrustProfile{
		AgentID: r.AgentID, TrustScore: r.TrustScore, Tier: trustmodel.Tier(r.Tier),
		SuccessRate: r.SuccessRate, Uptime: r.Uptime, Security: r.Security, TestPass: r.TestPass, Rollback: r.Rollback,
		TotalActions: r.TotalActions, SuccessfulActions: r.SuccessfulActions, SecurityViolations: r.SecurityViolations,
		TotalTests: r.TotalTests, TestsPassed: r.TestsPassed, RollbackCount: r.RollbackCount, ImprovementCount: r.ImprovementCount,
		TrustPoints: r.TrustPoints, ProposalsSubmitted: r.ProposalsSubmitted, ProposalsApproved: r.ProposalsApproved,
		InstallationsSuccessful: r.InstallationsSuccessful, InstallationsRolledBack: r.InstallationsRolledBack,
		Frozen: r.Frozen, FrozenReason: r.FrozenReason, FrozenAt: r.FrozenAt,
		CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt, LastActivityAt: r.LastActivityAt,
	}
}

func rowFromProfile(p *trustmodel.TrustProfile) profileRow {
	return profileRow{
		AgentID: p.AgentID, TrustScore: p.TrustScore, Tier: string(p.Tier),
		SuccessRate: p.SuccessRate, Uptime: p.Uptime, Security: p.Security, TestPass: p.TestPass, Rollback: p.Rollback,
		TotalActions: p.TotalActions, SuccessfulActions: p.SuccessfulActions, SecurityViolations: p.SecurityViolations,
		TotalTests: p.TotalTests, TestsPassed: p.TestsPassed, RollbackCount: p.RollbackCount, ImprovementCount: p.ImprovementCount,
		TrustPoints: p.TrustPoints, ProposalsSubmitted: p.ProposalsSubmitted, ProposalsApproved: p.ProposalsApproved,
		InstallationsSuccessful: p.InstallationsSuccessful, InstallationsRolledBack: p.InstallationsRolledBack,
		Frozen: p.Frozen, FrozenReason: p.FrozenReason, FrozenAt: p.FrozenAt,
		CreatedAt: p.CreatedAt, UpdatedAt: p.UpdatedAt, LastActivityAt: p.LastActivityAt,
	}
}

// StoreProfile upserts a profile row (ON CONFLICT DO UPDATE), the same
// upsert idiom the teacher's indexer storage layer uses for transactions.
func (p *ProfileStore) StoreProfile(profile *trustmodel.TrustProfile) {
	r := rowFromProfile(profile)
	_, _ = p.db.NamedExec(`
		INSERT INTO trust_profiles (
			agent_id, trust_score, tier, success_rate, uptime, security, test_pass, rollback,
			total_actions, successful_actions, security_violations, total_tests, tests_passed,
			rollback_count, improvement_count, trust_points, proposals_submitted, proposals_approved,
			installations_successful, installations_rolled_back, frozen, frozen_reason, frozen_at,
			created_at, updated_at, last_activity_at
		) VALUES (
			:agent_id, :trust_score, :tier, :success_rate, :uptime, :security, :test_pass, :rollback,
			:total_actions, :successful_actions, :security_violations, :total_tests, :tests_passed,
			:rollback_count, :improvement_count, :trust_points, :proposals_submitted, :proposals_approved,
			:installations_successful, :installations_rolled_back, :frozen, :frozen_reason, :frozen_at,
			:created_at, :updated_at, :last_activity_at
		)
		ON CONFLICT (agent_id) DO UPDATE SET
			trust_score = EXCLUDED.trust_score, tier = EXCLUDED.tier,
			success_rate = EXCLUDED.success_rate, uptime = EXCLUDED.uptime, security = EXCLUDED.security,
			test_pass = EXCLUDED.test_pass, rollback = EXCLUDED.rollback,
			total_actions = EXCLUDED.total_actions, successful_actions = EXCLUDED.successful_actions,
			security_violations = EXCLUDED.security_violations, total_tests = EXCLUDED.total_tests,
			tests_passed = EXCLUDED.tests_passed, rollback_count = EXCLUDED.rollback_count,
			improvement_count = EXCLUDED.improvement_count, trust_points = EXCLUDED.trust_points,
			proposals_submitted = EXCLUDED.proposals_submitted, proposals_approved = EXCLUDED.proposals_approved,
			installations_successful = EXCLUDED.installations_successful,
			installations_rolled_back = EXCLUDED.installations_rolled_back,
			frozen = EXCLUDED.frozen, frozen_reason = EXCLUDED.frozen_reason, frozen_at = EXCLUDED.frozen_at,
			updated_at = EXCLUDED.updated_at, last_activity_at = EXCLUDED.last_activity_at
	`, r)
}

// GetProfile reads a single profile row.
func (p *ProfileStore) GetProfile(agentID string) (*trustmodel.TrustProfile, error) {
	var r profileRow
	err := p.db.Get(&r, `SELECT * FROM trust_profiles WHERE agent_id = $1`, agentID)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("profile", agentID)
	}
	if err != nil {
		return nil, apierrors.Unavailable("read profile: %v", err)
	}
	return r.toProfile(), nil
}

// UpdateProfile performs an atomic read-modify-write inside a transaction
// with SELECT ... FOR UPDATE row locking.
func (p *ProfileStore) UpdateProfile(agentID string, fn func(p *trustmodel.TrustProfile) error) (*trustmodel.TrustProfile, error) {
	tx, err := p.db.Beginx()
	if err != nil {
		return nil, apierrors.Unavailable("begin transaction: %v", err)
	}
	defer tx.Rollback()

	var r profileRow
	err = tx.Get(&r, `SELECT * FROM trust_profiles WHERE agent_id = $1 FOR UPDATE`, agentID)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("profile", agentID)
	}
	if err != nil {
		return nil, apierrors.Unavailable("read profile for update: %v", err)
	}

	profile := r.toProfile()
	if err := fn(profile); err != nil {
		return nil, err
	}

	updated := rowFromProfile(profile)
	_, err = tx.NamedExec(`
		UPDATE trust_profiles SET
			trust_score=:trust_score, tier=:tier, success_rate=:success_rate, uptime=:uptime,
			security=:security, test_pass=:test_pass, rollback=:rollback, total_actions=:total_actions,
			successful_actions=:successful_actions, security_violations=:security_violations,
			total_tests=:total_tests, tests_passed=:tests_passed, rollback_count=:rollback_count,
			improvement_count=:improvement_count, trust_points=:trust_points,
			proposals_submitted=:proposals_submitted, proposals_approved=:proposals_approved,
			installations_successful=:installations_successful, installations_rolled_back=:installations_rolled_back,
			frozen=:frozen, frozen_reason=:frozen_reason, frozen_at=:frozen_at,
			updated_at=:updated_at, last_activity_at=:last_activity_at
		WHERE agent_id = :agent_id
	`, updated)
	if err != nil {
		return nil, apierrors.Unavailable("write profile: %v", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierrors.Unavailable("commit profile update: %v", err)
	}
	return profile, nil
}

// DeleteProfile removes a profile row.
func (p *ProfileStore) DeleteProfile(agentID string) error {
	res, err := p.db.Exec(`DELETE FROM trust_profiles WHERE agent_id = $1`, agentID)
	if err != nil {
		return apierrors.Unavailable("delete profile: %v", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apierrors.NotFound("profile", agentID)
	}
	return nil
}

// ListProfiles lists profiles matching filter, sorted by trust_score
// descending.
func (p *ProfileStore) ListProfiles(filter profilestore.ListFilter) []*trustmodel.TrustProfile {
	query := `SELECT * FROM trust_profiles`
	args := []interface{}{}
	if filter.Tier != "" {
		query += ` WHERE tier = $1`
		args = append(args, string(filter.Tier))
	}
	query += ` ORDER BY trust_score DESC, agent_id ASC`
	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, filter.Limit)
	}

	var rows []profileRow
	if err := p.db.Select(&rows, query, args...); err != nil {
		return nil
	}
	out := make([]*trustmodel.TrustProfile, len(rows))
	for i := range rows {
		out[i] = rows[i].toProfile()
	}
	return out
}

// EventStore is a durable append-only EventStore backed by postgres,
// satisfying trustmanager.EventStore. Aggregation queries (timeline,
// progression, stats) remain the in-memory store's responsibility; this
// type covers spec.md §6's append/read durability requirement only.
type EventStore struct {
	db *sqlx.DB
}

// NewEventStore wraps an already-open pool (see Open) for event storage.
func NewEventStore(db *sqlx.DB) *EventStore {
	return &EventStore{db: db}
}

type eventRow struct {
	ID            string          `db:"id"`
	AgentID       string          `db:"agent_id"`
	EventType     string          `db:"event_type"`
	Timestamp     time.Time       `db:"timestamp"`
	PreviousScore int             `db:"previous_score"`
	NewScore      int             `db:"new_score"`
	PreviousTier  string          `db:"previous_tier"`
	NewTier       string          `db:"new_tier"`
	Reason        string          `db:"reason"`
	Metadata      json.RawMessage `db:"metadata"`
}

// StoreEvent appends one event row.
func (s *EventStore) StoreEvent(e *trustmodel.TrustEvent) *trustmodel.TrustEvent {
	meta, _ := json.Marshal(e.Metadata)
	_, _ = s.db.Exec(`
		INSERT INTO trust_events (id, agent_id, event_type, timestamp, previous_score, new_score, previous_tier, new_tier, reason, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, e.AgentID, string(e.EventType), e.Timestamp, e.PreviousScore, e.NewScore,
		string(e.PreviousTier), string(e.NewTier), e.Reason, meta)
	return e
}

// GetEvent reads a single event row by id.
func (s *EventStore) GetEvent(id string) (*trustmodel.TrustEvent, error) {
	var r eventRow
	err := s.db.Get(&r, `SELECT * FROM trust_events WHERE id = $1`, id)
	if err == sql.ErrNoRows {
		return nil, apierrors.NotFound("event", id)
	}
	if err != nil {
		return nil, apierrors.Unavailable("read event: %v", err)
	}
	var meta map[string]interface{}
	_ = json.Unmarshal(r.Metadata, &meta)
	return &trustmodel.TrustEvent{
		ID: r.ID, AgentID: r.AgentID, EventType: trustmodel.EventType(r.EventType), Timestamp: r.Timestamp,
		PreviousScore: r.PreviousScore, NewScore: r.NewScore,
		PreviousTier: trustmodel.Tier(r.PreviousTier), NewTier: trustmodel.Tier(r.NewTier),
		Reason: r.Reason, Metadata: meta,
	}, nil
}
