package models

import "time"

type TenantStatus string

const (
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
)

type Tenant struct {
	ID             string       `json:"id" db:"id"`
	Name           string       `json:"name" db:"name"`
	Status         TenantStatus `json:"status" db:"status"`
	CustomKeywords []string     `json:"custom_keywords" db:"custom_keywords"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at" db:"updated_at"`
}

func (t *Tenant) IsActive() bool {
	return t.Status == TenantStatusActive
}
