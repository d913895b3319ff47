package model

import "time"

// UsageRecord is one row of the append-only request audit log. Rows
// are written best-effort after a request is accepted and are never
// mutated or deleted by the request path; only the retention job
// removes aged rows.
type UsageRecord struct {
	ID            uint   `gorm:"primaryKey"`
	RequestID     string `gorm:"type:varchar(36)"`
	PrincipalID   string `gorm:"type:varchar(128);index;not null"`
	Endpoint      string `gorm:"type:varchar(255);not null"`
	Model         string `gorm:"type:varchar(128)"`
	TokensInput   int
	TokensOutput  int
	CostEstimated float64
	CreatedAt     time.Time
}
