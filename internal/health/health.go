// Package health probes subsystem availability, derives a weighted score,
// and applies proactive mitigations plus an escalating recovery ladder when
// operations keep failing.
package health

import "time"

// Status is the observed state of one component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusOffline   Status = "offline"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Component identifies a probed subsystem.
type Component string

const (
	ComponentDatabase  Component = "database"
	ComponentNetwork   Component = "network"
	ComponentStorage   Component = "storage"
	ComponentProviders Component = "providers"
)

// componentWeights sum to 1.0 so the score stays in [0,1].
var componentWeights = map[Component]float64{
	ComponentDatabase:  0.4,
	ComponentNetwork:   0.3,
	ComponentStorage:   0.2,
	ComponentProviders: 0.1,
}

// statusValues maps a status to its contribution factor.
var statusValues = map[Status]float64{
	StatusHealthy:   1.0,
	StatusDegraded:  0.5,
	StatusOffline:   0.3,
	StatusUnhealthy: 0.0,
}

// Value returns the score contribution factor for a status. Unknown
// statuses contribute nothing.
func (s Status) Value() float64 {
	return statusValues[s]
}

// Report is one completed health check.
type Report struct {
	Components map[Component]Status `json:"components"`
	Score      float64              `json:"score"`
	CheckedAt  time.Time            `json:"checked_at"`
}

// Score computes the weighted health score for a set of component
// statuses. Unprobed components count as unhealthy.
func Score(components map[Component]Status) float64 {
	var score float64

	for component, weight := range componentWeights {
		score += weight * components[component].Value()
	}

	return score
}
