package client

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

// Prober polls the backend's /system_stats on a fixed schedule and remembers whether
// the last probe succeeded.
type Prober struct {
	session  *Session
	interval time.Duration
	timeout  time.Duration
	online   atomic.Bool
	cron     *cron.Cron
	log      *slog.Logger

	// OnChange is called whenever the online state flips
	OnChange func(online bool)
}

func NewProber(session *Session, interval time.Duration, log *slog.Logger) *Prober {
	if log == nil {
		log = slog.Default()
	}
	timeout := interval
	if timeout <= 0 || timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Prober{
		session:  session,
		interval: interval,
		timeout:  timeout,
		log:      log,
		cron: cron.New(cron.WithChain(
			cron.Recover(cron.DefaultLogger),
			cron.SkipIfStillRunning(cron.DefaultLogger),
		)),
	}
}

// Start schedules the probe and runs one immediately
func (p *Prober) Start(ctx context.Context) error {
	spec := fmt.Sprintf("@every %s", p.interval)
	_, err := p.cron.AddFunc(spec, func() {
		jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		_ = p.CheckNow(jobCtx)
	})
	if err != nil {
		return fmt.Errorf("scheduling liveness probe: %w", err)
	}

	p.cron.Start()
	go func() {
		jobCtx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()
		_ = p.CheckNow(jobCtx)
	}()
	return nil
}

// Stop halts the schedule and waits for a running probe to finish
func (p *Prober) Stop() {
	<-p.cron.Stop().Done()
}

func (p *Prober) Online() bool {
	return p.online.Load()
}

// CheckNow probes the current endpoint once and records the result
func (p *Prober) CheckNow(ctx context.Context) error {
	c := p.session.Client()
	var err error
	if c == nil {
		err = fmt.Errorf("no backend configured")
	} else {
		err = c.CheckConnection(ctx)
	}

	online := err == nil
	if p.online.Swap(online) != online {
		if online {
			p.log.Info("backend online", "endpoint", c.Endpoint())
		} else {
			p.log.Warn("backend offline", "endpoint", p.session.Endpoint(), "error", err)
		}
		if p.OnChange != nil {
			p.OnChange(online)
		}
	}
	return err
}
