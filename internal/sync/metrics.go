package sync

import (
	"time"

	"finsync/internal/platform"
)

// PlatformMetrics break the run counters down per upstream platform.
type PlatformMetrics struct {
	Total      int `json:"total"`
	Succeeded  int `json:"succeeded"`
	Failed     int `json:"failed"`
	AuthErrors int `json:"auth_errors"`
}

// Metrics aggregate one orchestration run. They are owned by the run's
// control loop and only read after the run completes; nothing here is
// persisted.
type Metrics struct {
	Total              int                                   `json:"total"`
	Succeeded          int                                   `json:"succeeded"`
	Failed             int                                   `json:"failed"`
	AuthErrors         int                                   `json:"auth_errors"`
	ByPlatform         map[platform.Platform]*PlatformMetrics `json:"by_platform"`
	TransactionsSynced int                                   `json:"transactions_synced"`
	NotificationsSent  int                                   `json:"notifications_sent"`
	NotificationErrors int                                   `json:"notification_errors"`
	StartedAt          time.Time                             `json:"started_at"`
	CompletedAt        time.Time                             `json:"completed_at"`

	totalDuration time.Duration
}

func newMetrics(now time.Time) *Metrics {
	return &Metrics{
		ByPlatform: map[platform.Platform]*PlatformMetrics{
			platform.Bank:        {},
			platform.MobileMoney: {},
		},
		StartedAt: now,
	}
}

func (m *Metrics) forPlatform(p platform.Platform) *PlatformMetrics {
	if m.ByPlatform[p] == nil {
		m.ByPlatform[p] = &PlatformMetrics{}
	}
	return m.ByPlatform[p]
}

func (m *Metrics) recordSuccess(p platform.Platform, synced int, duration time.Duration) {
	m.Total++
	m.Succeeded++
	m.TransactionsSynced += synced
	m.totalDuration += duration
	pm := m.forPlatform(p)
	pm.Total++
	pm.Succeeded++
}

func (m *Metrics) recordFailure(p platform.Platform, authError bool, duration time.Duration) {
	m.Total++
	m.Failed++
	m.totalDuration += duration
	pm := m.forPlatform(p)
	pm.Total++
	pm.Failed++
	if authError {
		m.AuthErrors++
		pm.AuthErrors++
	}
}

func (m *Metrics) finalize(now time.Time) {
	m.CompletedAt = now
}

// AverageDuration is the mean per-account sync duration for the run.
func (m *Metrics) AverageDuration() time.Duration {
	if m.Total == 0 {
		return 0
	}
	return m.totalDuration / time.Duration(m.Total)
}
