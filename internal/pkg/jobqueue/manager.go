package jobqueue

import (
	"context"
	"sync"
	"time"

	"github.com/ManuelReschke/SectionsStack/internal/pkg/billing"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/database"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/env"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/metrics"
	"github.com/ManuelReschke/SectionsStack/internal/pkg/metrics/counter"
	"github.com/gofiber/fiber/v2/log"
)

// unreconciledWindow is how far back the webhook sweep looks.
const unreconciledWindow = 24 * time.Hour

// FlushFunc applies buffered counters to the database.
type FlushFunc func(ctx context.Context) error

// UnreconciledCounter counts purchase webhooks that finished with an error.
type UnreconciledCounter interface {
	CountUnreconciled(ctx context.Context, since time.Time) (int64, error)
}

// GaugeSetter receives the result of the webhook sweep.
type GaugeSetter interface {
	SetUnreconciled(n int64)
}

// Config holds the worker intervals.
type Config struct {
	CounterFlushInterval time.Duration
	WebhookSweepInterval time.Duration
}

// Manager runs the background tasks of the app
type Manager struct {
	flush        FlushFunc
	unreconciled UnreconciledCounter
	gauge        GaugeSetter
	cfg          Config

	counterFlushTicker *time.Ticker
	webhookSweepTicker *time.Ticker
	stopCh             chan struct{}
	wg                 sync.WaitGroup
	mu                 sync.Mutex
	running            bool
}

var (
	globalManager *Manager
	managerOnce   sync.Once
)

// GetManager returns the global manager (singleton) wired to the shared
// database and Redis connections.
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = NewManager(counter.FlushAll, dbUnreconciled{}, metrics.Get(), ConfigFromEnv())
	})
	return globalManager
}

// NewManager creates a manager with explicit collaborators.
func NewManager(flush FlushFunc, unreconciled UnreconciledCounter, gauge GaugeSetter, cfg Config) *Manager {
	if cfg.CounterFlushInterval <= 0 {
		cfg.CounterFlushInterval = 5 * time.Second
	}
	if cfg.WebhookSweepInterval <= 0 {
		cfg.WebhookSweepInterval = 5 * time.Minute
	}
	return &Manager{
		flush:        flush,
		unreconciled: unreconciled,
		gauge:        gauge,
		cfg:          cfg,
		stopCh:       make(chan struct{}),
	}
}

// ConfigFromEnv reads JOBS_COUNTER_FLUSH_SECONDS and JOBS_WEBHOOK_SWEEP_MINUTES.
func ConfigFromEnv() Config {
	return Config{
		CounterFlushInterval: time.Duration(env.GetEnvInt("JOBS_COUNTER_FLUSH_SECONDS", 5)) * time.Second,
		WebhookSweepInterval: time.Duration(env.GetEnvInt("JOBS_WEBHOOK_SWEEP_MINUTES", 5)) * time.Minute,
	}
}

// Start starts the background tasks
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	m.running = true
	log.Info("[JobQueue Manager] Starting background tasks")

	// Counter flush worker (Redis -> DB)
	m.counterFlushTicker = time.NewTicker(m.cfg.CounterFlushInterval)
	m.wg.Add(1)
	go m.counterFlushWorker(m.stopCh)

	m.webhookSweepTicker = time.NewTicker(m.cfg.WebhookSweepInterval)
	m.wg.Add(1)
	go m.webhookSweepWorker(m.stopCh)

	log.Info("[JobQueue Manager] Started successfully")
}

// Stop stops the background tasks and flushes counters one last time.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[JobQueue Manager] Stopping background tasks...")

	if m.counterFlushTicker != nil {
		m.counterFlushTicker.Stop()
	}
	if m.webhookSweepTicker != nil {
		m.webhookSweepTicker.Stop()
	}

	// Signal workers to stop
	close(m.stopCh)
	m.running = false

	// Wait for background workers to finish
	m.wg.Wait()

	if err := m.flushCountersOnce(); err != nil {
		log.Errorf("[JobQueue Manager] Final counter flush error: %v", err)
	}

	log.Info("[JobQueue Manager] Stopped successfully")
}

// counterFlushWorker periodically flushes buffered counters from Redis to DB
func (m *Manager) counterFlushWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Counter flush worker stopping")
			return
		case <-m.counterFlushTicker.C:
			if err := m.flushCountersOnce(); err != nil {
				log.Errorf("[JobQueue Manager] Counter flush error: %v", err)
			}
		}
	}
}

// webhookSweepWorker keeps the unreconciled-payments gauge current.
func (m *Manager) webhookSweepWorker(stopCh <-chan struct{}) {
	defer m.wg.Done()
	log.Infof("[JobQueue Manager] Started webhook sweep worker (interval: %s)", m.cfg.WebhookSweepInterval)

	// Run once right away so the gauge is populated after a restart.
	m.sweepOnce()
	for {
		select {
		case <-stopCh:
			log.Info("[JobQueue Manager] Webhook sweep worker stopping")
			return
		case <-m.webhookSweepTicker.C:
			m.sweepOnce()
		}
	}
}

func (m *Manager) flushCountersOnce() error {
	if m.flush == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return m.flush(ctx)
}

func (m *Manager) sweepOnce() {
	if m.unreconciled == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := m.unreconciled.CountUnreconciled(ctx, time.Now().Add(-unreconciledWindow))
	if err != nil {
		log.Errorf("[JobQueue Manager] Webhook sweep error: %v", err)
		return
	}
	if m.gauge != nil {
		m.gauge.SetUnreconciled(n)
	}
	if n > 0 {
		log.Warnf("[JobQueue Manager] %d purchase webhooks in the last %s are unreconciled", n, unreconciledWindow)
	}
}

// IsRunning returns whether the manager is currently running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// dbUnreconciled resolves the billing service per sweep so the manager can be
// created before the database is connected.
type dbUnreconciled struct{}

func (dbUnreconciled) CountUnreconciled(ctx context.Context, since time.Time) (int64, error) {
	db := database.GetDB()
	if db == nil {
		return 0, nil
	}
	return billing.NewServiceFromDB(db).CountUnreconciled(ctx, since)
}
