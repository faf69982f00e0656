package monitor

import (
	"context"
	"sync"
	"time"
)

// Start begins the polling goroutine. Every cycle probes all regions and then
// evaluates alert rules.
func (m *Monitor) Start() {
	m.ctx, m.cancel = context.WithCancel(context.Background())

	m.wg.Add(1)
	go m.run()

	m.logger.Info("monitor started",
		"interval", m.config.Interval,
		"max_concurrent", m.config.MaxConcurrent,
	)
}

// Stop stops polling and waits for the current cycle to finish.
func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	m.logger.Info("monitor stopped")
}

func (m *Monitor) run() {
	defer m.wg.Done()

	// Run immediately on start
	m.RunCycle(m.ctx)

	ticker := time.NewTicker(m.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.RunCycle(m.ctx)
		}
	}
}

// RunCycle probes every registered region once and evaluates alerts.
func (m *Monitor) RunCycle(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, m.config.Interval)
	defer cancel()

	regions := m.regions.List()
	if len(regions) == 0 {
		m.logger.Debug("no regions to check")
		return
	}

	sem := make(chan struct{}, m.config.MaxConcurrent)
	var wg sync.WaitGroup

	for _, region := range regions {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()

			select {
			case <-ctx.Done():
				return
			case sem <- struct{}{}:
				defer func() { <-sem }()
			}

			if _, err := m.CheckHealth(ctx, id); err != nil {
				m.logger.Error("health check failed", "region", id, "error", err)
			}
		}(region.ID)
	}

	wg.Wait()
	m.EvaluateAlerts(ctx)
	m.logger.Debug("completed health check cycle", "region_count", len(regions))
}
