package watch

import "time"

// ScheduleConfig holds the adaptive chat poll cadence knobs.
type ScheduleConfig struct {
	ActiveInterval time.Duration // cadence while chat has recent traffic
	IdleInterval   time.Duration // cadence once chat has gone quiet
	IdleAfter      time.Duration // silence required before slowing down
}

// ChatActivity is the per-video poll state the scheduler advances after every
// chat poll.
type ChatActivity struct {
	LastMessage time.Time
	Interval    time.Duration
}

// NewActivity starts a video at the active cadence, treating now as the last
// message so a silent stream still gets the full IdleAfter grace period.
func NewActivity(now time.Time, cfg ScheduleConfig) ChatActivity {
	return ChatActivity{LastMessage: now, Interval: cfg.ActiveInterval}
}

// NextInterval advances the activity state after a poll that returned the
// given number of messages. Any traffic snaps back to the active cadence;
// sustained silence past IdleAfter slows to the idle cadence exactly once.
// In between, the interval is left untouched so a single quiet gap does not
// oscillate the cadence.
func NextInterval(a ChatActivity, messages int, now time.Time, cfg ScheduleConfig) ChatActivity {
	if messages > 0 {
		return ChatActivity{LastMessage: now, Interval: cfg.ActiveInterval}
	}
	if now.Sub(a.LastMessage) >= cfg.IdleAfter {
		a.Interval = cfg.IdleInterval
	}
	return a
}
