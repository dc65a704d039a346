package health

import (
	"cmp"
	"slices"
	"time"
)

func newStatus(component, level, message string) Status {
	return Status{
		Component: component,
		Healthy:   level == LevelHealthy,
		Status:    level,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewHealthy creates a new healthy status
func NewHealthy(component, message string) Status {
	return newStatus(component, LevelHealthy, message)
}

// NewUnhealthy creates a new unhealthy status
func NewUnhealthy(component, message string) Status {
	return newStatus(component, LevelUnhealthy, message)
}

// NewDegraded creates a new degraded status
func NewDegraded(component, message string) Status {
	return newStatus(component, LevelDegraded, message)
}

// Aggregate combines sub-statuses, ordered by component name, into one
// status: unhealthy if any is unhealthy, else degraded if any is degraded,
// else healthy.
func Aggregate(component string, subStatuses []Status) Status {
	if len(subStatuses) == 0 {
		return NewHealthy(component, "No sub-components to aggregate")
	}

	var unhealthy, degraded int
	for _, sub := range subStatuses {
		switch {
		case sub.IsUnhealthy():
			unhealthy++
		case sub.IsDegraded():
			degraded++
		}
	}

	var status Status
	switch {
	case unhealthy > 0:
		status = NewUnhealthy(component, "One or more sub-components are unhealthy")
	case degraded > 0:
		status = NewDegraded(component, "One or more sub-components are degraded")
	default:
		status = NewHealthy(component, "All sub-components are healthy")
	}

	status.SubStatuses = slices.Clone(subStatuses)
	slices.SortFunc(status.SubStatuses, func(a, b Status) int { return cmp.Compare(a.Component, b.Component) })
	return status
}
