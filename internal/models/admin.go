package models

import "time"

// PlatformStats holds the aggregate counts shown on the admin dashboard.
type PlatformStats struct {
	TotalUsers         int                  `json:"total_users"`
	UsersByRole        map[UserRole]int     `json:"users_by_role"`
	RequestsByStatus   []RequestStatusCount `json:"requests_by_status"`
	VerifiedVolunteers int                  `json:"verified_volunteers"`
	CompletedThisMonth int                  `json:"completed_this_month"`
	GeneratedAt        time.Time            `json:"generated_at"`
}

// SystemMetrics is a lightweight snapshot of process health counters
// exposed on the admin metrics endpoint.
type SystemMetrics struct {
	CacheHitRatio            float64   `json:"cache_hit_ratio"`
	CacheHits                uint64    `json:"cache_hits"`
	CacheMisses              uint64    `json:"cache_misses"`
	RequestsTotal            uint64    `json:"requests_total"`
	AverageRequestDurationMs float64   `json:"avg_request_duration_ms"`
	DBQueryCount             uint64    `json:"db_query_count"`
	AverageDBQueryDurationMs float64   `json:"avg_db_query_duration_ms"`
	Goroutines               int       `json:"goroutines"`
	GeneratedAt              time.Time `json:"generated_at"`
}
