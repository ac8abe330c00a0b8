package widget

import (
	"context"
	"time"

	"github.com/shopglue/chatwidget/pkg/logger"
	"github.com/shopglue/chatwidget/pkg/session"
)

// startWelcomeBackPoll launches the bounded check for a pending
// "welcome back" message. It runs at most once per widget instance, polls
// on a fixed period, and stops on the first hit, after the attempt bound,
// at the deadline, or on Shutdown — whichever comes first.
func (w *Widget) startWelcomeBackPoll() {
	w.welcomeOnce.Do(func() {
		if w.backend == nil {
			return
		}

		period := time.Duration(w.cfg.Widget.WelcomeBackPollMS) * time.Millisecond
		if period <= 0 {
			period = 500 * time.Millisecond
		}
		maxAttempts := w.cfg.Widget.WelcomeBackAttempts
		if maxAttempts <= 0 {
			maxAttempts = 20
		}
		deadline := time.Duration(w.cfg.Widget.WelcomeBackDeadlineS) * time.Second
		if deadline <= 0 {
			deadline = 10 * time.Second
		}

		ctx, cancel := context.WithTimeout(context.Background(), deadline)
		w.mu.Lock()
		w.welcomeStop = cancel
		w.mu.Unlock()

		go w.pollWelcomeBack(ctx, cancel, period, maxAttempts)
	})
}

func (w *Widget) pollWelcomeBack(ctx context.Context, cancel context.CancelFunc, period time.Duration, maxAttempts int) {
	defer cancel()

	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		msg, err := w.backend.WelcomeBack(ctx, w.store.SessionID())
		if err != nil {
			logger.DebugCF("widget", "welcome-back poll failed",
				map[string]interface{}{"attempt": attempt, "error": err.Error()})
			continue
		}
		if msg == "" {
			continue
		}

		w.store.RecordLocalMessage(session.RoleAssistant, msg)
		logger.InfoCF("widget", "welcome-back message delivered",
			map[string]interface{}{"attempt": attempt})
		return
	}
}
