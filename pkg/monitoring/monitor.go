package monitoring

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Jump sizes between consecutive snapshots that count as anomalies.
const (
	cpuSpikeDelta     = 20.0
	memorySpikeDelta  = 15.0
	errorRateAnomaly  = 10.0
	responseTimeLimit = 10000.0
)

// DefaultThresholds are the alerting limits used unless overridden
func DefaultThresholds() Thresholds {
	return Thresholds{
		CPU:            80,
		Memory:         85,
		Disk:           90,
		ResponseTimeMs: 5000,
		ErrorRate:      5,
	}
}

// Monitor samples system and application metrics on an interval,
// detects anomalies between consecutive snapshots, and raises alerts
// when thresholds are crossed. Blockchain, database, and API figures
// are gauges fed by their owning subsystems.
type Monitor struct {
	current    Snapshot
	history    []Snapshot
	maxHistory int
	evicted    uint64

	alerts    []*Alert
	anomalies []*Anomaly

	thresholds Thresholds

	// externally fed gauges
	cpuUsage   float64
	diskUsage  float64
	blockchain BlockchainMetrics
	database   DatabaseMetrics
	api        APIMetrics

	running   bool
	stop      chan struct{}
	done      chan struct{}
	startedAt time.Time

	logger *zap.Logger
	mu     sync.RWMutex
}

// NewMonitor creates a monitor with the given history cap
func NewMonitor(maxHistory int, logger *zap.Logger) *Monitor {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Monitor{
		maxHistory: maxHistory,
		thresholds: DefaultThresholds(),
		diskUsage:  50, // no portable disk probe; fed externally when available
		startedAt:  time.Now(),
		logger:     logger,
	}
}

// Start begins periodic collection. Calling Start on a running monitor
// is a no-op.
func (m *Monitor) Start(interval time.Duration) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	stop, done := m.stop, m.done
	m.mu.Unlock()

	m.logger.Info("Monitoring started", zap.Duration("interval", interval))

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.Collect()
			case <-stop:
				return
			}
		}
	}()
}

// Stop halts collection and waits for the sampling goroutine to exit.
// Calling Stop on a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.stop)
	done := m.done
	m.mu.Unlock()

	<-done
	m.logger.Info("Monitoring stopped")
}

// Running reports whether periodic collection is active
func (m *Monitor) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// Collect takes one snapshot, runs anomaly analysis against the
// previous snapshot, and checks thresholds. Called by the sampling
// loop; safe to call directly.
func (m *Monitor) Collect() Snapshot {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	m.mu.Lock()
	defer m.mu.Unlock()

	memUsage := 0.0
	if ms.Sys > 0 {
		memUsage = float64(ms.HeapAlloc) / float64(ms.Sys) * 100
	}

	snap := Snapshot{
		System: SystemMetrics{
			CPUUsage:    m.cpuUsage,
			CPUCores:    runtime.NumCPU(),
			MemoryTotal: ms.Sys,
			MemoryUsed:  ms.HeapAlloc,
			MemoryUsage: memUsage,
			DiskUsage:   m.diskUsage,
			Uptime:      time.Since(m.startedAt).Seconds(),
			Platform:    runtime.GOOS,
			Arch:        runtime.GOARCH,
		},
		Process: ProcessMetrics{
			HeapAlloc:    ms.HeapAlloc,
			HeapSys:      ms.HeapSys,
			NumGoroutine: runtime.NumGoroutine(),
			NumGC:        ms.NumGC,
			Uptime:       time.Since(m.startedAt).Seconds(),
			PID:          os.Getpid(),
			GoVersion:    runtime.Version(),
		},
		Blockchain: m.blockchain,
		Database:   m.database,
		API:        m.api,
		Timestamp:  time.Now(),
	}

	previous := m.current
	hadPrevious := len(m.history) > 0

	m.current = snap
	m.history = append(m.history, snap)
	if len(m.history) > m.maxHistory {
		excess := len(m.history) - m.maxHistory
		m.history = m.history[excess:]
		m.evicted += uint64(excess)
	}

	if hadPrevious {
		m.analyzeLocked(snap, previous)
	}
	m.checkThresholdsLocked(snap)

	return snap
}

// Gauge setters for the subsystems that own these figures.

func (m *Monitor) SetSystemUsage(cpuPercent, diskPercent float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cpuUsage = cpuPercent
	m.diskUsage = diskPercent
}

func (m *Monitor) SetBlockchainMetrics(bm BlockchainMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockchain = bm
}

func (m *Monitor) SetDatabaseMetrics(dm DatabaseMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.database = dm
}

func (m *Monitor) SetAPIMetrics(am APIMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.api = am
}

// CurrentMetrics returns the latest snapshot
func (m *Monitor) CurrentMetrics() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// MetricsHistory returns up to limit snapshots, newest first
func (m *Monitor) MetricsHistory(limit int) []Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	n := len(m.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Snapshot, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.history[n-1-i]
	}
	return out
}

// GetAlerts returns alerts matching the filter, newest first
func (m *Monitor) GetAlerts(filter AlertFilter) []Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Alert
	for _, a := range m.alerts {
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.Acknowledged != nil && a.Acknowledged != *filter.Acknowledged {
			continue
		}
		out = append(out, *a)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// GetAnomalies returns anomalies matching the filter, newest first
func (m *Monitor) GetAnomalies(filter AnomalyFilter) []Anomaly {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Anomaly
	for _, a := range m.anomalies {
		if filter.Type != "" && a.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && a.Severity != filter.Severity {
			continue
		}
		if filter.Status != "" && a.Status != filter.Status {
			continue
		}
		out = append(out, *a)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// AcknowledgeAlert marks an alert as seen by an operator
func (m *Monitor) AcknowledgeAlert(alertID, userID string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.alerts {
		if a.ID == alertID {
			now := time.Now()
			a.Acknowledged = true
			a.AcknowledgedBy = userID
			a.AcknowledgedAt = &now
			return *a, nil
		}
	}
	return Alert{}, ErrAlertNotFound
}

// ResolveAlert closes an alert
func (m *Monitor) ResolveAlert(alertID, userID string) (Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.alerts {
		if a.ID == alertID {
			now := time.Now()
			a.Status = "resolved"
			a.ResolvedBy = userID
			a.ResolvedAt = &now
			return *a, nil
		}
	}
	return Alert{}, ErrAlertNotFound
}

// SystemHealth rolls the latest snapshot up against the thresholds.
// Disk and error-rate breaches are critical; the rest degrade to
// warning.
func (m *Monitor) SystemHealth() Health {
	m.mu.RLock()
	defer m.mu.RUnlock()

	current := m.current
	status := HealthHealthy
	var issues []string

	warn := func(issue string) {
		if status == HealthHealthy {
			status = HealthWarning
		}
		issues = append(issues, issue)
	}
	critical := func(issue string) {
		status = HealthCritical
		issues = append(issues, issue)
	}

	if current.System.CPUUsage > m.thresholds.CPU {
		warn("High CPU usage")
	}
	if current.System.MemoryUsage > m.thresholds.Memory {
		warn("High memory usage")
	}
	if current.System.DiskUsage > m.thresholds.Disk {
		critical("High disk usage")
	}
	if current.API.AvgResponseTimeMs > m.thresholds.ResponseTimeMs {
		warn("High response time")
	}
	if current.API.ErrorRate > m.thresholds.ErrorRate {
		critical("High error rate")
	}

	return Health{
		Status:    status,
		Issues:    issues,
		Timestamp: time.Now(),
		Metrics:   current,
	}
}

// Stats summarizes monitor activity over the last hour
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	oneHourAgo := time.Now().Add(-time.Hour)

	stats := MonitorStats{
		Running:          m.running,
		Uptime:           time.Since(m.startedAt).Seconds(),
		TotalAlerts:      len(m.alerts),
		TotalAnomalies:   len(m.anomalies),
		HistorySize:      len(m.history),
		EvictedSnapshots: m.evicted,
		Thresholds:       m.thresholds,
	}
	for _, a := range m.alerts {
		if a.Status == "active" {
			stats.ActiveAlerts++
		}
		if a.Timestamp.After(oneHourAgo) {
			stats.RecentAlerts++
		}
	}
	for _, a := range m.anomalies {
		if a.Timestamp.After(oneHourAgo) {
			stats.RecentAnomalies++
		}
	}
	return stats
}

// UpdateThresholds replaces the alerting limits. Zero fields keep
// their current values.
func (m *Monitor) UpdateThresholds(t Thresholds) Thresholds {
	m.mu.Lock()
	defer m.mu.Unlock()

	if t.CPU > 0 {
		m.thresholds.CPU = t.CPU
	}
	if t.Memory > 0 {
		m.thresholds.Memory = t.Memory
	}
	if t.Disk > 0 {
		m.thresholds.Disk = t.Disk
	}
	if t.ResponseTimeMs > 0 {
		m.thresholds.ResponseTimeMs = t.ResponseTimeMs
	}
	if t.ErrorRate > 0 {
		m.thresholds.ErrorRate = t.ErrorRate
	}

	m.logger.Info("Monitoring thresholds updated",
		zap.Float64("cpu", m.thresholds.CPU),
		zap.Float64("memory", m.thresholds.Memory),
		zap.Float64("disk", m.thresholds.Disk))
	return m.thresholds
}

// CleanupOlderThan removes alerts, anomalies, and snapshots older than
// the retention window
func (m *Monitor) CleanupOlderThan(retention time.Duration) CleanupResult {
	cutoff := time.Now().Add(-retention)

	m.mu.Lock()
	defer m.mu.Unlock()

	result := CleanupResult{}

	alerts := m.alerts[:0]
	for _, a := range m.alerts {
		if a.Timestamp.After(cutoff) {
			alerts = append(alerts, a)
		} else {
			result.AlertsRemoved++
		}
	}
	m.alerts = alerts

	anomalies := m.anomalies[:0]
	for _, a := range m.anomalies {
		if a.Timestamp.After(cutoff) {
			anomalies = append(anomalies, a)
		} else {
			result.AnomaliesRemoved++
		}
	}
	m.anomalies = anomalies

	history := m.history[:0]
	for _, s := range m.history {
		if s.Timestamp.After(cutoff) {
			history = append(history, s)
		} else {
			result.MetricsRemoved++
		}
	}
	m.history = history

	return result
}

// Export serializes monitoring data. Supports "json" and "csv".
func (m *Monitor) Export(format string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch format {
	case "json":
		payload := struct {
			Metrics    []Snapshot `json:"metrics"`
			Alerts     []*Alert   `json:"alerts"`
			Anomalies  []*Anomaly `json:"anomalies"`
			Thresholds Thresholds `json:"thresholds"`
			ExportedAt time.Time  `json:"exported_at"`
		}{m.history, m.alerts, m.anomalies, m.thresholds, time.Now()}
		return json.MarshalIndent(payload, "", "  ")
	case "csv":
		var b strings.Builder
		b.WriteString("timestamp,metric,value\n")
		for _, s := range m.history {
			fmt.Fprintf(&b, "%s,system.cpu.usage,%.2f\n", s.Timestamp.Format(time.RFC3339), s.System.CPUUsage)
		}
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

// Internal methods. Callers hold m.mu.

func (m *Monitor) analyzeLocked(current, previous Snapshot) {
	if current.System.CPUUsage-previous.System.CPUUsage > cpuSpikeDelta {
		m.recordAnomalyLocked("cpu_spike", AnomalyMedium, map[string]any{
			"current":  current.System.CPUUsage,
			"previous": previous.System.CPUUsage,
		})
	}
	if current.System.MemoryUsage-previous.System.MemoryUsage > memorySpikeDelta {
		m.recordAnomalyLocked("memory_spike", AnomalyMedium, map[string]any{
			"current":  current.System.MemoryUsage,
			"previous": previous.System.MemoryUsage,
		})
	}
	if current.API.ErrorRate > errorRateAnomaly {
		m.recordAnomalyLocked("high_error_rate", AnomalyHigh, map[string]any{
			"errorRate": current.API.ErrorRate,
		})
	}
	if current.API.AvgResponseTimeMs > responseTimeLimit {
		m.recordAnomalyLocked("response_time_spike", AnomalyHigh, map[string]any{
			"responseTime": current.API.AvgResponseTimeMs,
		})
	}
}

func (m *Monitor) recordAnomalyLocked(kind string, severity AnomalySeverity, data map[string]any) {
	anomaly := &Anomaly{
		ID:        uuid.New().String(),
		Type:      kind,
		Data:      data,
		Severity:  severity,
		Timestamp: time.Now(),
		Status:    "active",
	}
	m.anomalies = append(m.anomalies, anomaly)

	m.logger.Warn("Anomaly detected",
		zap.String("type", kind),
		zap.String("severity", string(severity)))

	// High anomalies surface as alerts so operators notice them.
	if severity == AnomalyHigh {
		m.createAlertLocked("anomaly", "Anomaly detected: "+kind, data, SeverityHigh)
	}
}

func (m *Monitor) checkThresholdsLocked(snap Snapshot) {
	if snap.System.CPUUsage > m.thresholds.CPU {
		m.createAlertLocked("cpu", "High CPU usage", map[string]any{
			"usage":     snap.System.CPUUsage,
			"threshold": m.thresholds.CPU,
		}, SeverityWarning)
	}
	if snap.System.MemoryUsage > m.thresholds.Memory {
		m.createAlertLocked("memory", "High memory usage", map[string]any{
			"usage":     snap.System.MemoryUsage,
			"threshold": m.thresholds.Memory,
		}, SeverityWarning)
	}
	if snap.System.DiskUsage > m.thresholds.Disk {
		m.createAlertLocked("disk", "High disk usage", map[string]any{
			"usage":     snap.System.DiskUsage,
			"threshold": m.thresholds.Disk,
		}, SeverityWarning)
	}
	if snap.API.AvgResponseTimeMs > m.thresholds.ResponseTimeMs {
		m.createAlertLocked("response_time", "High response time", map[string]any{
			"responseTime": snap.API.AvgResponseTimeMs,
			"threshold":    m.thresholds.ResponseTimeMs,
		}, SeverityWarning)
	}
	if snap.API.ErrorRate > m.thresholds.ErrorRate {
		m.createAlertLocked("error_rate", "High error rate", map[string]any{
			"errorRate": snap.API.ErrorRate,
			"threshold": m.thresholds.ErrorRate,
		}, SeverityCritical)
	}
}

func (m *Monitor) createAlertLocked(kind, message string, data map[string]any, severity AlertSeverity) *Alert {
	alert := &Alert{
		ID:        uuid.New().String(),
		Type:      kind,
		Message:   message,
		Data:      data,
		Severity:  severity,
		Timestamp: time.Now(),
		Status:    "active",
	}
	m.alerts = append(m.alerts, alert)

	m.logger.Warn("Alert created",
		zap.String("type", kind),
		zap.String("severity", string(severity)),
		zap.String("message", message))
	return alert
}
