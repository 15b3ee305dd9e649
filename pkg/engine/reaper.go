package engine

import (
	"context"
	"time"
)

// runReaper is §4.4: every reapInterval, atomically read-and-clear each
// peer's used flag, evicting it if the flag was already false. A peer is
// born with used=true (see newPeer), so a genuinely idle peer survives
// exactly one grace sweep (the birth flag consumes the first sweep) and
// is evicted on the second — the two full idle intervals the design
// notes and S6 both require.
func (e *Engine) runReaper(ctx context.Context) error {
	ticker := time.NewTicker(e.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			e.sweep(now)
		}
	}
}

func (e *Engine) sweep(now time.Time) {
	evicted := e.table.sweep(func(p *peer) bool {
		return !p.used.Swap(false)
	})

	for _, p := range evicted {
		p.destroy(e.readiness)
	}

	if len(evicted) > 0 {
		e.reapedTotal.Add(uint64(len(evicted)))
		e.metrics.peersReapedTotal.Add(len(evicted))
	}

	if err := e.recorder.Record(now, e.table.size(), int(e.reapedTotal.Load()), int(e.createdTotal.Load())); err != nil {
		e.log.Warn().Err(err).Msg("reaper: record diagnostics snapshot failed")
	}
}
