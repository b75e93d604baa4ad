package location

import "time"

// Accuracy is the criterion the legacy manager uses to choose a provider.
type Accuracy int

const (
	AccuracyFine Accuracy = iota + 1
	AccuracyCoarse
)

func (a Accuracy) String() string {
	switch a {
	case AccuracyFine:
		return "fine"
	case AccuracyCoarse:
		return "coarse"
	default:
		return "unknown"
	}
}

// Criteria drive provider selection on the legacy manager.
type Criteria struct {
	Accuracy Accuracy
}

// ProviderStatus is reported through Listener.OnStatusChanged.
type ProviderStatus int

const (
	OutOfService ProviderStatus = iota
	TemporarilyUnavailable
	Available
)

func (s ProviderStatus) String() string {
	switch s {
	case OutOfService:
		return "out_of_service"
	case TemporarilyUnavailable:
		return "temporarily_unavailable"
	case Available:
		return "available"
	default:
		return "unknown"
	}
}

// Listener receives callbacks from a ProviderManager. Implementations must be
// comparable; the manager keys registrations by listener identity.
type Listener interface {
	OnLocationChanged(loc Location)
	OnStatusChanged(provider string, status ProviderStatus)
	OnProviderEnabled(provider string)
	OnProviderDisabled(provider string)
}

// ProviderManager is the legacy, provider-based location back-end.
type ProviderManager interface {
	IsProviderEnabled(provider string) bool
	RequestLocationUpdates(minTime time.Duration, minDistance float64, c Criteria, l Listener) error
	RemoveUpdates(l Listener)
}

// Priority trades accuracy against power on the fused back-end.
type Priority int

const (
	PriorityHighAccuracy Priority = iota + 1
	PriorityBalancedPowerAccuracy
)

func (p Priority) String() string {
	switch p {
	case PriorityHighAccuracy:
		return "high_accuracy"
	case PriorityBalancedPowerAccuracy:
		return "balanced_power_accuracy"
	default:
		return "unknown"
	}
}

// Granularity of the fixes requested from the fused back-end.
type Granularity int

const (
	GranularityFine Granularity = iota + 1
	GranularityCoarse
)

func (g Granularity) String() string {
	switch g {
	case GranularityFine:
		return "fine"
	case GranularityCoarse:
		return "coarse"
	default:
		return "unknown"
	}
}

// UpdateRequest configures a fused subscription.
type UpdateRequest struct {
	Priority          Priority
	Interval          time.Duration
	Granularity       Granularity
	MinUpdateDistance float64 // meters
}

// LocationCallback receives batches from a FusedClient, oldest first.
// Implementations must be comparable.
type LocationCallback interface {
	OnLocationResult(batch []Location)
}

// FusedClient is the modern, batched location back-end.
type FusedClient interface {
	RequestLocationUpdates(req UpdateRequest, cb LocationCallback) error
	RemoveLocationUpdates(cb LocationCallback)
}

// PermissionChecker reports whether location access is currently granted.
// A denial is returned as an error wrapping ErrPermissionDenied.
type PermissionChecker interface {
	CheckPermission() error
}
