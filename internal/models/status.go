package models

import "time"

// Health is the connectivity state of the vector store.
type Health string

const (
	// HealthConnected means the store is reachable and the collection exists.
	HealthConnected Health = "connected"
	// HealthDegraded means the store is reachable but the collection is missing.
	HealthDegraded Health = "degraded"
	// HealthUnavailable means the store cannot be reached.
	HealthUnavailable Health = "unavailable"
)

// Status is the snapshot returned by the status reporter.
type Status struct {
	Status           string     `json:"status"`
	Store            string     `json:"store"`
	StoreStatus      Health     `json:"store_status"`
	Collection       string     `json:"collection"`
	PointsCount      int        `json:"points_count"`
	EmbeddingModel   string     `json:"embedding_model"`
	CallsEnabled     bool       `json:"calls_enabled"`
	UnavailableSince *time.Time `json:"unavailable_since,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	DiskUsageBytes   int64      `json:"disk_usage_bytes,omitempty"`
	CheckedAt        time.Time  `json:"checked_at"`
}
