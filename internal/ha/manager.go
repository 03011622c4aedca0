// Package ha implements domain health monitoring for the partition
// control plane: the operator-facing heartbeat channel that drives
// spec.md's "healthy" flag on a DomainRecord.
package ha

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arinc653/partitiond/internal/config"
	"github.com/arinc653/partitiond/internal/domain"
)

// Instance is the subset of partition.Instance the health monitor
// drives: flipping a domain's healthy flag is exactly
// SetDomainParams(domainID, parent=-1, healthy=...), per spec.md §4.6
// and the S3 scenario's "mark A unhealthy via domain control" step.
type Instance interface {
	SetDomainParams(domainID int32, parent int32, healthy bool) error
}

// AlertService creates alerts for domain health transitions.
type AlertService interface {
	PartitionAlert(ctx context.Context, severity domain.AlertSeverity, domainID, partitionName, title, message string) (*domain.Alert, error)
}

// EventPublisher broadcasts domain health transitions for real-time
// dashboards, without this package importing the redis package directly.
type EventPublisher interface {
	PublishHealthEvent(ctx context.Context, domainID int32, healthy bool) error
}

// LeaderChecker reports whether this control-plane replica currently
// holds the etcd leader election. Only the leader's Manager is allowed
// to push health transitions, so two replicas never race to flip the
// same domain's healthy flag in opposite directions.
type LeaderChecker interface {
	IsLeader() bool
}

// HealthStatus is the monitor's own view of a domain's liveness,
// distinct from DomainRecord.Healthy: Unknown/Failed describe the
// missed-heartbeat count climbing toward FailureThreshold, which only
// then flips the scheduler's Healthy flag to false.
type HealthStatus string

const (
	HealthStatusHealthy HealthStatus = "HEALTHY"
	HealthStatusUnknown HealthStatus = "UNKNOWN"
	HealthStatusFailed  HealthStatus = "FAILED"
)

// domainState tracks one watched domain's heartbeat history.
type domainState struct {
	DomainID      int32
	Name          string
	LastHeartbeat time.Time
	FailedChecks  int
	Status        HealthStatus
}

// Manager polls registered domains for missed heartbeats and, once a
// domain's last heartbeat has been at least Config.HeartbeatTimeout old
// on Config.FailureThreshold consecutive checks, calls
// Instance.SetDomainParams to mark it unhealthy. Recovery (a heartbeat arriving again) flips it back.
type Manager struct {
	config   config.HAConfig
	instance Instance
	alerts   AlertService
	events   EventPublisher
	leader   LeaderChecker
	logger   *zap.Logger

	mu        sync.Mutex
	domains   map[int32]*domainState
	isRunning bool
}

// NewManager creates a domain health Manager. events may be nil, in
// which case health transitions are simply not published.
func NewManager(cfg config.HAConfig, instance Instance, alerts AlertService, events EventPublisher, leader LeaderChecker, logger *zap.Logger) *Manager {
	return &Manager{
		config:   cfg,
		instance: instance,
		alerts:   alerts,
		events:   events,
		leader:   leader,
		logger:   logger.With(zap.String("component", "ha")),
		domains:  make(map[int32]*domainState),
	}
}

// RegisterDomain starts tracking domainID's heartbeat. Called by the
// partition registration service when a partition becomes active.
// Registration starts the heartbeat clock: a domain that never calls
// Heartbeat counts as missing once Config.HeartbeatTimeout has passed
// since it was registered.
func (m *Manager) RegisterDomain(domainID int32, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.domains[domainID]; exists {
		return
	}
	m.domains[domainID] = &domainState{
		DomainID:      domainID,
		Name:          name,
		LastHeartbeat: time.Now(),
		Status:        HealthStatusHealthy,
	}
}

// UnregisterDomain stops tracking domainID, e.g. on partition removal.
func (m *Manager) UnregisterDomain(domainID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.domains, domainID)
}

// Heartbeat records a liveness report for domainID. This is the
// operator's health-reporting channel spec.md leaves external to the
// scheduler core: a partition (or an agent inside it) calls this
// periodically, and missing enough of them is what eventually calls
// SetDomainParams(healthy=false).
func (m *Manager) Heartbeat(domainID int32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, exists := m.domains[domainID]
	if !exists {
		state = &domainState{DomainID: domainID, Status: HealthStatusHealthy}
		m.domains[domainID] = state
	}
	state.LastHeartbeat = time.Now()
}

// Start begins the monitoring loop. It blocks until ctx is cancelled.
func (m *Manager) Start(ctx context.Context) {
	if !m.config.Enabled {
		m.logger.Info("domain health monitor disabled")
		return
	}

	m.mu.Lock()
	if m.isRunning {
		m.mu.Unlock()
		return
	}
	m.isRunning = true
	m.mu.Unlock()

	m.logger.Info("starting domain health monitor",
		zap.Duration("check_interval", m.config.CheckInterval),
		zap.Duration("heartbeat_timeout", m.config.HeartbeatTimeout),
		zap.Int("failure_threshold", m.config.FailureThreshold),
	)

	ticker := time.NewTicker(m.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.mu.Lock()
			m.isRunning = false
			m.mu.Unlock()
			m.logger.Info("domain health monitor stopped")
			return
		case <-ticker.C:
			m.checkDomains(ctx)
		}
	}
}

// checkDomains evaluates every registered domain's heartbeat age.
// Skipped entirely when this replica isn't the etcd-elected leader.
func (m *Manager) checkDomains(ctx context.Context) {
	if m.leader != nil && !m.leader.IsLeader() {
		return
	}

	m.mu.Lock()
	states := make([]*domainState, 0, len(m.domains))
	for _, s := range m.domains {
		states = append(states, s)
	}
	m.mu.Unlock()

	for _, s := range states {
		m.checkDomain(ctx, s)
	}
}

func (m *Manager) checkDomain(ctx context.Context, s *domainState) {
	age := time.Since(s.LastHeartbeat)
	healthy := age < m.config.HeartbeatTimeout

	m.mu.Lock()
	if healthy {
		recovered := s.Status != HealthStatusHealthy
		s.FailedChecks = 0
		s.Status = HealthStatusHealthy
		m.mu.Unlock()

		if recovered {
			m.logger.Info("domain recovered", zap.Int32("domain_id", s.DomainID), zap.String("name", s.Name))
			m.setHealthy(ctx, s, true)
		}
		return
	}

	s.FailedChecks++
	failed := s.FailedChecks >= m.config.FailureThreshold
	alreadyFailed := s.Status == HealthStatusFailed
	if failed {
		s.Status = HealthStatusFailed
	} else {
		s.Status = HealthStatusUnknown
	}
	checks := s.FailedChecks
	m.mu.Unlock()

	m.logger.Warn("domain heartbeat missing",
		zap.Int32("domain_id", s.DomainID),
		zap.String("name", s.Name),
		zap.Duration("heartbeat_age", age),
		zap.Int("failed_checks", checks),
	)

	if failed && !alreadyFailed {
		m.logger.Error("domain declared unhealthy", zap.Int32("domain_id", s.DomainID), zap.String("name", s.Name))
		m.setHealthy(ctx, s, false)
	}
}

// setHealthy pushes the transition through SetDomainParams and raises
// an alert. parent is left unchanged (-1): health monitoring never
// touches the parent/primary relationship, only Healthy.
func (m *Manager) setHealthy(ctx context.Context, s *domainState, healthy bool) {
	if err := m.instance.SetDomainParams(s.DomainID, -1, healthy); err != nil {
		m.logger.Error("failed to update domain health",
			zap.Int32("domain_id", s.DomainID), zap.Bool("healthy", healthy), zap.Error(err))
		return
	}

	if m.events != nil {
		if err := m.events.PublishHealthEvent(ctx, s.DomainID, healthy); err != nil {
			m.logger.Warn("failed to publish health event", zap.Error(err))
		}
	}

	if m.alerts == nil {
		return
	}

	severity := domain.AlertSeverityInfo
	title, msg := "Domain Recovered", fmt.Sprintf("Domain %s resumed heartbeats and was marked healthy.", s.Name)
	if !healthy {
		severity = domain.AlertSeverityCritical
		title = "Domain Unhealthy"
		msg = fmt.Sprintf("Domain %s missed %d consecutive heartbeats and was marked unhealthy.", s.Name, m.config.FailureThreshold)
	}
	if _, err := m.alerts.PartitionAlert(ctx, severity, fmt.Sprintf("%d", s.DomainID), s.Name, title, msg); err != nil {
		m.logger.Warn("failed to create health alert", zap.Error(err))
	}
}

// State returns a snapshot of one domain's current health tracking
// state, for status endpoints.
func (m *Manager) State(domainID int32) (HealthStatus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.domains[domainID]
	if !ok {
		return "", false
	}
	return s.Status, true
}

// IsRunning reports whether the monitoring loop is active.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.isRunning
}
