package session

import (
	"context"
	"time"

	"github.com/shrimpsizemoose/trekker/logger"
)

// Sweeper runs the time-driven transitions on a fixed interval.
type Sweeper struct {
	svc      *Service
	interval time.Duration
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sweeper{svc: svc, interval: interval}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	logger.Info.Printf("session sweeper started, interval %s", w.interval)
	for {
		w.Sweep(ctx)
		select {
		case <-ctx.Done():
			logger.Info.Println("session sweeper stopped")
			return
		case <-ticker.C:
		}
	}
}

// Sweep expires overdue sessions first so a lecturer's finished session no
// longer blocks activation of their next one.
func (w *Sweeper) Sweep(ctx context.Context) {
	if _, err := w.svc.ExpireDue(ctx); err != nil {
		logger.Error.Printf("expire sessions: %v", err)
	}
	if _, err := w.svc.ActivateDue(ctx); err != nil {
		logger.Error.Printf("activate sessions: %v", err)
	}
}
