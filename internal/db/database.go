package db

import (
	"errors"
	"fmt"
	"time"

	"keymeter/internal/config"
	"keymeter/internal/model"

	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// ErrNotFound is returned when a principal lookup misses. Callers must
// not leak whether a credential was malformed, unknown or rotated away.
var ErrNotFound = errors.New("db: record not found")

// ErrTransitionConflict is returned when a usage transition could not
// be committed after repeated conflicts with concurrent transitions.
var ErrTransitionConflict = errors.New("db: usage transition conflict")

// transitionAttempts bounds the optimistic retry loop. Every failed
// attempt means a concurrent transition committed, so the system as a
// whole always makes progress; the bound only guards against a
// pathological stream of conflicts on one row.
const transitionAttempts = 64

// Service is the storage boundary of the metering core. The Principal
// row is the only mutable shared state; its counters are written
// exclusively through TransitionPrincipal.
type Service interface {
	// CreatePrincipal inserts p if no principal with its ID exists.
	// It is idempotent per owner: when the row already exists the
	// stored principal is returned and created is false.
	CreatePrincipal(p *model.Principal) (stored *model.Principal, created bool, err error)
	GetPrincipal(id string) (*model.Principal, error)
	// GetPrincipalByCredential is an indexed equality lookup; it runs
	// on every metered request.
	GetPrincipalByCredential(credential string) (*model.Principal, error)
	// RotateCredential atomically replaces the credential. Lookups
	// issued after it returns only match the new value.
	RotateCredential(id, newCredential string) error
	SetPrincipalActive(id string, active bool) error
	SetPrincipalPlan(id, planID string) error
	ListPrincipals() ([]model.Principal, error)
	// TransitionPrincipal runs fn against a freshly read principal and,
	// if fn reports a mutation, commits the counter fields with an
	// optimistic compare-and-swap. On conflict the whole
	// read-decide-write is retried, so fn must be pure apart from
	// mutating its argument.
	TransitionPrincipal(id string, fn func(p *model.Principal) bool) (*model.Principal, error)

	AddUsageRecord(rec *model.UsageRecord) error
	ListUsageRecords(principalID string, limit int) ([]model.UsageRecord, error)
	PruneUsageRecords(before time.Time) (int64, error)

	GetDB() *gorm.DB
}

type service struct {
	db *gorm.DB
}

// NewService initializes the database connection based on the provided
// configuration and migrates the schema.
func NewService(cfg config.DatabaseConfig) (Service, error) {
	var dialector gorm.Dialector
	switch cfg.Type {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.Type)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := gdb.AutoMigrate(&model.Principal{}, &model.UsageRecord{}); err != nil {
		return nil, fmt.Errorf("failed to auto-migrate database: %w", err)
	}

	return &service{db: gdb}, nil
}

// GetDB exposes the underlying gorm handle, mainly for tests.
func (s *service) GetDB() *gorm.DB {
	return s.db
}

func (s *service) CreatePrincipal(p *model.Principal) (*model.Principal, bool, error) {
	var existing model.Principal
	err := s.db.First(&existing, "id = ?", p.ID).Error
	if err == nil {
		return &existing, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up principal %s: %w", p.ID, err)
	}

	if err := s.db.Create(p).Error; err != nil {
		// Two concurrent provisioning calls for the same owner: the
		// loser reads back the row the winner inserted.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			if err := s.db.First(&existing, "id = ?", p.ID).Error; err != nil {
				return nil, false, fmt.Errorf("failed to re-read principal %s: %w", p.ID, err)
			}
			return &existing, false, nil
		}
		return nil, false, fmt.Errorf("failed to create principal %s: %w", p.ID, err)
	}
	return p, true, nil
}

func (s *service) GetPrincipal(id string) (*model.Principal, error) {
	var p model.Principal
	if err := s.db.First(&p, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load principal %s: %w", id, err)
	}
	return &p, nil
}

func (s *service) GetPrincipalByCredential(credential string) (*model.Principal, error) {
	var p model.Principal
	if err := s.db.First(&p, "credential = ?", credential).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to look up credential: %w", err)
	}
	return &p, nil
}

func (s *service) RotateCredential(id, newCredential string) error {
	result := s.db.Model(&model.Principal{}).Where("id = ?", id).Updates(map[string]interface{}{
		"credential":            newCredential,
		"credential_rotated_at": time.Now().UTC(),
	})
	if result.Error != nil {
		return fmt.Errorf("failed to rotate credential for %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *service) SetPrincipalActive(id string, active bool) error {
	result := s.db.Model(&model.Principal{}).Where("id = ?", id).Update("active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update principal %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *service) SetPrincipalPlan(id, planID string) error {
	result := s.db.Model(&model.Principal{}).Where("id = ?", id).Update("plan", planID)
	if result.Error != nil {
		return fmt.Errorf("failed to update plan for %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *service) ListPrincipals() ([]model.Principal, error) {
	var principals []model.Principal
	if err := s.db.Order("created_at asc").Find(&principals).Error; err != nil {
		return nil, fmt.Errorf("failed to list principals: %w", err)
	}
	return principals, nil
}

func (s *service) TransitionPrincipal(id string, fn func(p *model.Principal) bool) (*model.Principal, error) {
	for attempt := 0; attempt < transitionAttempts; attempt++ {
		var p model.Principal
		if err := s.db.First(&p, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("failed to load principal %s: %w", id, err)
		}

		seenUsed := p.RequestsUsed
		seenTrial := p.TrialRequestsUsed
		seenAnchor := p.CycleAnchor
		seenActive := p.Active

		if !fn(&p) {
			// Denials and unlimited evaluations write nothing.
			return &p, nil
		}

		// The guard covers every field the decision read, so a row
		// changed by a concurrent transition cannot be overwritten;
		// CycleAnchor is an ISO date string, giving exact equality.
		result := s.db.Model(&model.Principal{}).
			Where("id = ? AND requests_used = ? AND trial_requests_used = ? AND cycle_anchor = ? AND active = ?",
				id, seenUsed, seenTrial, seenAnchor, seenActive).
			Updates(map[string]interface{}{
				"requests_used":       p.RequestsUsed,
				"trial_requests_used": p.TrialRequestsUsed,
				"cycle_anchor":        p.CycleAnchor,
			})
		if result.Error != nil {
			return nil, fmt.Errorf("failed to commit usage transition for %s: %w", id, result.Error)
		}
		if result.RowsAffected == 1 {
			return &p, nil
		}
		// Lost the race to a concurrent transition; re-read and retry.
	}
	return nil, ErrTransitionConflict
}

func (s *service) AddUsageRecord(rec *model.UsageRecord) error {
	if err := s.db.Create(rec).Error; err != nil {
		return fmt.Errorf("failed to append usage record: %w", err)
	}
	return nil
}

func (s *service) ListUsageRecords(principalID string, limit int) ([]model.UsageRecord, error) {
	var records []model.UsageRecord
	q := s.db.Where("principal_id = ?", principalID).Order("id asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list usage records: %w", err)
	}
	return records, nil
}

func (s *service) PruneUsageRecords(before time.Time) (int64, error) {
	result := s.db.Where("created_at < ?", before).Delete(&model.UsageRecord{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to prune usage records: %w", result.Error)
	}
	return result.RowsAffected, nil
}
