package model

import "time"

// Principal is the durable record of one API-key holder and their
// quota state. There is exactly one per owning account; its ID is
// derived from the owner identity, so repeated provisioning is
// idempotent. Principals are never deleted by the service paths;
// deactivation flips Active so historical usage stays attributable.
type Principal struct {
	// ID is "u_" + the owner identity.
	ID         string `gorm:"primaryKey;type:varchar(128)"`
	OwnerEmail string `gorm:"type:varchar(255)"`
	// Credential is the single currently-valid key. Uniqueness across
	// principals is enforced by the index; rotation replaces it in one
	// UPDATE so the old value stops matching immediately.
	Credential string `gorm:"type:varchar(64);uniqueIndex;not null"`
	Plan       string `gorm:"type:varchar(32);default:'free';not null"`
	// RequestsUsed counts accepted requests in the current window.
	// Only the usage transition may write it.
	RequestsUsed int `gorm:"default:0;not null"`
	// CycleAnchor marks the start of the current window as an ISO date
	// ("2006-01-02"): the day itself for daily plans, the first of the
	// month for monthly ones. ISO dates compare correctly as strings,
	// which also gives the optimistic update an exact equality guard.
	CycleAnchor         string `gorm:"type:varchar(10);not null"`
	TrialRequestsUsed   int    `gorm:"default:0;not null"`
	TrialEndsAt         time.Time
	// Active carries no column default: a default tag would make gorm
	// treat false as unset on insert, so a principal could never be
	// created inactive. Creation sites set the flag explicitly.
	Active              bool `gorm:"not null"`
	CreatedAt           time.Time
	UpdatedAt           time.Time
	CredentialRotatedAt time.Time
}

// PrincipalID derives the stable record ID for an owner.
func PrincipalID(ownerID string) string {
	return "u_" + ownerID
}
