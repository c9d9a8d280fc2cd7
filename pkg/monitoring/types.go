package monitoring

import (
	"errors"
	"time"
)

var (
	ErrAlertNotFound     = errors.New("alert not found")
	ErrUnsupportedFormat = errors.New("unsupported export format")
)

// AlertSeverity orders alerts by urgency
type AlertSeverity string

const (
	SeverityInfo     AlertSeverity = "info"
	SeverityWarning  AlertSeverity = "warning"
	SeverityHigh     AlertSeverity = "high"
	SeverityCritical AlertSeverity = "critical"
)

// AnomalySeverity classifies detected anomalies
type AnomalySeverity string

const (
	AnomalyMedium AnomalySeverity = "medium"
	AnomalyHigh   AnomalySeverity = "high"
)

// HealthStatus is the overall system rollup
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// SystemMetrics covers host-level figures
type SystemMetrics struct {
	CPUUsage    float64 `json:"cpu_usage"`
	CPUCores    int     `json:"cpu_cores"`
	MemoryTotal uint64  `json:"memory_total"`
	MemoryUsed  uint64  `json:"memory_used"`
	MemoryUsage float64 `json:"memory_usage"`
	DiskUsage   float64 `json:"disk_usage"`
	Uptime      float64 `json:"uptime_seconds"`
	Platform    string  `json:"platform"`
	Arch        string  `json:"arch"`
}

// ProcessMetrics covers the running process
type ProcessMetrics struct {
	HeapAlloc    uint64  `json:"heap_alloc"`
	HeapSys      uint64  `json:"heap_sys"`
	NumGoroutine int     `json:"num_goroutine"`
	NumGC        uint32  `json:"num_gc"`
	Uptime       float64 `json:"uptime_seconds"`
	PID          int     `json:"pid"`
	GoVersion    string  `json:"go_version"`
}

// BlockchainMetrics are gauges fed by the chain integration
type BlockchainMetrics struct {
	NetworkID           int64     `json:"network_id"`
	BlockNumber         uint64    `json:"block_number"`
	GasPrice            float64   `json:"gas_price"`
	PeerCount           int       `json:"peer_count"`
	IsConnected         bool      `json:"is_connected"`
	LastBlockTime       time.Time `json:"last_block_time"`
	PendingTransactions int       `json:"pending_transactions"`
	TotalTransactions   int       `json:"total_transactions"`
}

// DatabaseMetrics are gauges fed by the persistence layer
type DatabaseMetrics struct {
	Connections  int     `json:"connections"`
	Queries      int64   `json:"queries"`
	SlowQueries  int64   `json:"slow_queries"`
	Errors       int64   `json:"errors"`
	ResponseTime float64 `json:"response_time_ms"`
	IsConnected  bool    `json:"is_connected"`
}

// APIMetrics are gauges fed by the request layer
type APIMetrics struct {
	RequestsTotal       int64   `json:"requests_total"`
	RequestsSuccessful  int64   `json:"requests_successful"`
	RequestsFailed      int64   `json:"requests_failed"`
	AvgResponseTimeMs   float64 `json:"avg_response_time_ms"`
	MaxResponseTimeMs   float64 `json:"max_response_time_ms"`
	ErrorsTotal         int64   `json:"errors_total"`
	ErrorRate           float64 `json:"error_rate"`
}

// Snapshot is one full metrics collection
type Snapshot struct {
	System     SystemMetrics     `json:"system"`
	Process    ProcessMetrics    `json:"process"`
	Blockchain BlockchainMetrics `json:"blockchain"`
	Database   DatabaseMetrics   `json:"database"`
	API        APIMetrics        `json:"api"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Thresholds drive alerting
type Thresholds struct {
	CPU            float64 `json:"cpu"`
	Memory         float64 `json:"memory"`
	Disk           float64 `json:"disk"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	ErrorRate      float64 `json:"error_rate"`
}

// Alert is a threshold or anomaly notification awaiting operator action
type Alert struct {
	ID             string         `json:"id"`
	Type           string         `json:"type"`
	Message        string         `json:"message"`
	Data           map[string]any `json:"data,omitempty"`
	Severity       AlertSeverity  `json:"severity"`
	Timestamp      time.Time      `json:"timestamp"`
	Status         string         `json:"status"`
	Acknowledged   bool           `json:"acknowledged"`
	AcknowledgedBy string         `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at,omitempty"`
	ResolvedBy     string         `json:"resolved_by,omitempty"`
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// Anomaly is a detected deviation between consecutive snapshots
type Anomaly struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Data      map[string]any  `json:"data,omitempty"`
	Severity  AnomalySeverity `json:"severity"`
	Timestamp time.Time       `json:"timestamp"`
	Status    string          `json:"status"`
}

// AlertFilter narrows GetAlerts results
type AlertFilter struct {
	Status       string
	Severity     AlertSeverity
	Type         string
	Acknowledged *bool
}

// AnomalyFilter narrows GetAnomalies results
type AnomalyFilter struct {
	Type     string
	Severity AnomalySeverity
	Status   string
}

// Health is the rollup returned by SystemHealth
type Health struct {
	Status    HealthStatus `json:"status"`
	Issues    []string     `json:"issues"`
	Timestamp time.Time    `json:"timestamp"`
	Metrics   Snapshot     `json:"metrics"`
}

// MonitorStats summarizes monitor activity
type MonitorStats struct {
	Running            bool       `json:"running"`
	Uptime             float64    `json:"uptime_seconds"`
	TotalAlerts        int        `json:"total_alerts"`
	ActiveAlerts       int        `json:"active_alerts"`
	RecentAlerts       int        `json:"recent_alerts"`
	TotalAnomalies     int        `json:"total_anomalies"`
	RecentAnomalies    int        `json:"recent_anomalies"`
	HistorySize        int        `json:"history_size"`
	EvictedSnapshots   uint64     `json:"evicted_snapshots"`
	Thresholds         Thresholds `json:"thresholds"`
}

// CleanupResult reports what a retention sweep removed
type CleanupResult struct {
	AlertsRemoved    int `json:"alerts_removed"`
	AnomaliesRemoved int `json:"anomalies_removed"`
	MetricsRemoved   int `json:"metrics_removed"`
}
