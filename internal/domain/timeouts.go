package domain

import "time"

// DefaultStageTimeout applies to any stage without a configured timeout.
const DefaultStageTimeout = 2 * time.Minute

// StageTimeouts configures per-stage deadlines. Timeouts are mandatory:
// an unset stage falls back to Default, and an unset Default falls back
// to DefaultStageTimeout.
type StageTimeouts struct {
	Gate    time.Duration
	Verify  time.Duration
	Default time.Duration
}

// For returns the effective timeout for a stage.
func (t StageTimeouts) For(stage Stage) time.Duration {
	var d time.Duration
	switch stage {
	case StageGate:
		d = t.Gate
	case StageVerify:
		d = t.Verify
	}
	if d <= 0 {
		d = t.Default
	}
	if d <= 0 {
		d = DefaultStageTimeout
	}
	return d
}
