package parallel

import (
	"context"
	"fmt"
	"time"

	"github.com/dshills/handshake-go/workflow/emit"
)

// watch samples the completed and active counters every watchdogTick. When
// neither changed for watchdogTimeout it runs the recovery hook. It returns
// when done is closed, when ctx is done, or with ErrWatchdogFailed when the
// hook reports a non-zero exit code.
func (e *Executor) watch(ctx context.Context, done <-chan struct{}) error {
	ticker := time.NewTicker(e.watchdogTick)
	defer ticker.Stop()

	lastCompleted, lastActive := e.completed.Load(), e.active.Load()
	lastChange := time.Now()

	for {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			completed, active := e.completed.Load(), e.active.Load()
			if completed != lastCompleted || active != lastActive {
				lastCompleted, lastActive = completed, active
				lastChange = now
				continue
			}
			if now.Sub(lastChange) < e.watchdogTimeout {
				continue
			}

			lastChange = now
			e.metrics.IncrementWatchdogTrips()
			e.logger.Warn().
				Int64("completed", completed).
				Int64("active", active).
				Dur("timeout", e.watchdogTimeout).
				Msg("no task progress, running recovery")
			e.emitter.Emit(emit.Event{
				Msg:  emit.MsgWatchdogTrip,
				Meta: map[string]interface{}{"completed": completed, "active": active},
			})

			if e.recovery == nil {
				continue
			}
			code, err := e.recovery(ctx)
			if err != nil {
				e.logger.Error().Err(err).Msg("watchdog recovery hook failed")
				continue
			}
			if code != 0 {
				return fmt.Errorf("%w: exit code %d", ErrWatchdogFailed, code)
			}
		}
	}
}
