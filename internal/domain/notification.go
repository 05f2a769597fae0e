package domain

// Severity grades notification events. Critical is reserved for
// conditions that require external intervention, such as a failed
// rollback.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// NotificationEvent is delivered on every terminal stage transition.
// Delivery is best-effort: failure never changes a run's outcome.
type NotificationEvent struct {
	RunID       RunID
	Environment Environment
	Stage       Stage
	Status      RunStatus
	Severity    Severity
	Summary     string
}
