package models

import "time"

// RunStatus is the lifecycle state of a ScrapingRun.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Terminal reports whether no further transition is allowed.
func (s RunStatus) Terminal() bool {
	return s == RunCompleted || s == RunFailed
}

// ScrapingRun is one execution attempt for one credential group.
type ScrapingRun struct {
	ID             int64
	PlatformID     int64
	DateRange      DateRange
	Status         RunStatus
	RecordsCreated int
	ErrorMessage   string
	StartedAt      time.Time
	CompletedAt    *time.Time
}

// PropertyIdentity is owned by the property registry; the pipeline reads it.
type PropertyIdentity struct {
	ID        int64
	UUID      string
	Code      string
	HotelName string
}

// Platform is one credential group: a portal login covering several properties.
type Platform struct {
	ID         int64
	Name       string
	Username   string
	Password   string
	Config     PlatformConfig
	Properties []PropertyIdentity
}

// PlatformConfig carries per-login extras stored as JSON on the platform row.
type PlatformConfig struct {
	LastFourDigits string `json:"last_four_digits,omitempty"`
	FactorHint     string `json:"factor_hint,omitempty"`
}
