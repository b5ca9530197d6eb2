// gps-sub001 - Live GPS Fleet Tracking Client
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/iammayankpratapsingh/gps-sub001

package tracker

import (
	"context"
	"sync"
	"time"

	"github.com/iammayankpratapsingh/gps-sub001/internal/logging"
)

// Poller periodically forces a baseline refresh so the reconciled state
// cannot drift when the stream is quiet or down. Live pushes applied between
// polls are never rolled back by the refresh for devices that keep pushing;
// a refresh only realigns devices the stream has gone silent on.
type Poller struct {
	tracker  *Tracker
	interval time.Duration

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// DefaultPollInterval matches the durable snapshot TTL so a healthy poller
// keeps the cache permanently fresh.
const DefaultPollInterval = 5 * time.Minute

// NewPoller creates a baseline refresh poller.
func NewPoller(t *Tracker, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{
		tracker:  t,
		interval: interval,
		stopChan: make(chan struct{}),
	}
}

// Start begins the polling loop. Starting a running poller is a no-op.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.stopChan = make(chan struct{})
	p.mu.Unlock()

	logging.Info().Dur("interval", p.interval).Msg("starting baseline poller")

	p.wg.Add(1)
	go p.pollLoop(ctx)
	return nil
}

// Serve implements suture.Service for supervisor integration.
func (p *Poller) Serve(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return ctx.Err()
}

// Stop gracefully stops the polling loop and waits for it to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopChan)
	p.mu.Unlock()

	p.wg.Wait()
	logging.Info().Msg("baseline poller stopped")
}

// IsRunning reports whether the polling loop is active.
func (p *Poller) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

func (p *Poller) pollLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	// Prime the state immediately rather than waiting a full interval.
	p.refresh(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopChan:
			return
		case <-ticker.C:
			p.refresh(ctx)
		}
	}
}

func (p *Poller) refresh(ctx context.Context) {
	devices, err := p.tracker.LoadDevices(ctx, true)
	if err != nil {
		logging.Warn().Err(err).Msg("baseline refresh failed, keeping previous state")
		return
	}
	logging.Debug().Int("devices", len(devices)).Msg("baseline refresh complete")
}
