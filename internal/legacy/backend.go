// Package legacy drives the older positioning service: it acquires a
// master tracking session, follows provider selection, subscribes to the
// selected provider's telemetry, and merges the position and velocity
// streams into fix records.
package legacy

// ProviderChange is the backend's provider-selection notification. Empty
// Service or Path means the backend is still deciding.
type ProviderChange struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Service     string `json:"service"`
	Path        string `json:"path"`
}

// PositionSample is one position telemetry signal from the provider.
type PositionSample struct {
	Fields        int     `json:"fields"`
	Timestamp     int64   `json:"timestamp"`
	Latitude      float64 `json:"latitude"`
	Longitude     float64 `json:"longitude"`
	Altitude      float64 `json:"altitude"`
	AccuracyLevel int     `json:"accuracy_level"`
	AccuracyH     float64 `json:"accuracy_h"`
	AccuracyV     float64 `json:"accuracy_v"`
}

// VelocitySample is one velocity telemetry signal from the provider.
type VelocitySample struct {
	Fields    int     `json:"fields"`
	Timestamp int64   `json:"timestamp"`
	Speed     float64 `json:"speed"`
	Direction float64 `json:"direction"`
	Climb     float64 `json:"climb"`
}

// Requirements are submitted to the master session after creation.
type Requirements struct {
	AccuracyLevel    int  `json:"accuracy_level"`
	Time             int  `json:"time"`
	RequireUpdates   bool `json:"require_updates"`
	AllowedResources int  `json:"allowed_resources"`
}

// DefaultRequirements mirrors what reference clients of the legacy
// service submit: no accuracy constraint, no time limit, updates
// required, all resource kinds allowed.
func DefaultRequirements() Requirements {
	return Requirements{
		AccuracyLevel:    0,
		Time:             0,
		RequireUpdates:   true,
		AllowedResources: (1 << 10) - 1,
	}
}

// Backend is the outward contract to the legacy positioning service.
// Objects are addressed by opaque path strings; the master session path
// comes from CreateSession and provider objects from ProviderObject.
//
// Calls are request/response exchanges with a bounded wait; an error is a
// transport or protocol fault, handled locally by the Client.
type Backend interface {
	// CreateSession creates a master tracking session and registers the
	// provider-selection handler for it.
	CreateSession(onProviderChanged func(ProviderChange)) (string, error)

	SetRequirements(object string, req Requirements) error
	PositionStart(object string) error

	// AddReference and RemoveReference are implemented by both the master
	// session object and concrete providers.
	AddReference(object string) error
	RemoveReference(object string) error

	// SubscribeTelemetry subscribes the provider's position and velocity
	// signals.
	SubscribeTelemetry(service, path string, onPos func(PositionSample), onVel func(VelocitySample)) error
	UnsubscribeTelemetry(service, path string) error

	// ReleaseSession drops the provider-selection subscription and local
	// handles for a master session.
	ReleaseSession(object string) error
}
