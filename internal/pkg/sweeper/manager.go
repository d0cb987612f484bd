package sweeper

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/vdcapital/billing/internal/pkg/billing"
)

// Sweeper runs one pass over due upgrades.
type Sweeper interface {
	ProcessDueUpgrades(ctx context.Context) (billing.SweepResult, error)
}

// Manager runs the upgrade sweep on a fixed interval in the background. It
// complements the HTTP cron trigger for deployments without an external
// scheduler.
type Manager struct {
	sweeper  Sweeper
	interval time.Duration
	timeout  time.Duration
	ticker   *time.Ticker
	stopCh   chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mu       sync.Mutex
	running  bool
}

func NewManager(s Sweeper, interval time.Duration) *Manager {
	return &Manager{sweeper: s, interval: interval}
}

// WithTimeout bounds each tick's sweep. Zero leaves ticks unbounded apart
// from Stop.
func (m *Manager) WithTimeout(d time.Duration) *Manager {
	m.timeout = d
	return m
}

// Start launches the sweep worker. A non-positive interval leaves the manager
// stopped.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	if m.interval <= 0 {
		log.Info("[Sweeper] Interval not set, in-process sweep disabled")
		return
	}

	// Recreate stop channel for each start cycle so manager can be restarted safely.
	m.stopCh = make(chan struct{})
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.ticker = time.NewTicker(m.interval)
	m.running = true

	m.wg.Add(1)
	go m.worker(ctx, m.ticker, m.stopCh)

	log.Infof("[Sweeper] Started (interval: %s)", m.interval)
}

// Stop signals the worker, cancels an in-flight sweep and waits for it to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return
	}

	log.Info("[Sweeper] Stopping...")
	m.ticker.Stop()
	close(m.stopCh)
	m.cancel()
	m.stopCh = nil
	m.running = false

	m.wg.Wait()
	log.Info("[Sweeper] Stopped")
}

func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) worker(ctx context.Context, ticker *time.Ticker, stopCh <-chan struct{}) {
	defer m.wg.Done()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.runOnce(ctx)
		}
	}
}

func (m *Manager) runOnce(ctx context.Context) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	result, err := m.sweeper.ProcessDueUpgrades(ctx)
	switch {
	case errors.Is(err, billing.ErrSweepInProgress):
		log.Debug("[Sweeper] Another sweep holds the lock, skipping tick")
	case err != nil:
		log.Errorf("[Sweeper] Sweep failed: %v", err)
	case result.Total > 0:
		log.Infof("[Sweeper] Tick processed=%d errors=%d skipped=%d total=%d",
			result.Processed, result.Errors, result.Skipped, result.Total)
	}
}
