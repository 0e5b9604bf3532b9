package notify

import "fmt"

// Kind identifies the lifecycle event a Notification reports.
type Kind int

const (
	// SyncStarted is emitted when a sync round begins.
	SyncStarted Kind = iota + 1
	// SyncCompleted is emitted when a sync round finishes, whatever the outcome.
	SyncCompleted
	// OfflineUpdate is emitted when a local change is queued while offline.
	OfflineUpdate
	// CollisionDetected is emitted when the cloud reports a collision for a change.
	CollisionDetected
	// RemoteUpdateFailed is emitted when the cloud rejected a change.
	RemoteUpdateFailed
	// RemoteUpdateApplied is emitted when the cloud applied a change.
	RemoteUpdateApplied
	// LocalUpdateApplied is emitted after a local edit or a snapshot load.
	LocalUpdateApplied
	// DeltaReceived is emitted for every record changed by a cloud delta.
	DeltaReceived
	// SyncFailed is emitted when a sync round could not reach the cloud.
	SyncFailed
	// ClientStorageFailed is emitted when persisting or loading a snapshot fails.
	ClientStorageFailed
)

var kindNames = map[Kind]string{
	SyncStarted:         "SYNC_STARTED",
	SyncCompleted:       "SYNC_COMPLETE",
	OfflineUpdate:       "OFFLINE_UPDATE",
	CollisionDetected:   "COLLISION_DETECTED",
	RemoteUpdateFailed:  "REMOTE_UPDATE_FAILED",
	RemoteUpdateApplied: "REMOTE_UPDATE_APPLIED",
	LocalUpdateApplied:  "LOCAL_UPDATE_APPLIED",
	DeltaReceived:       "DELTA_RECEIVED",
	SyncFailed:          "SYNC_FAILED",
	ClientStorageFailed: "CLIENT_STORAGE_FAILED",
}

// Kinds returns every notification kind in declaration order.
func Kinds() []Kind {
	return []Kind{
		SyncStarted, SyncCompleted, OfflineUpdate, CollisionDetected,
		RemoteUpdateFailed, RemoteUpdateApplied, LocalUpdateApplied,
		DeltaReceived, SyncFailed, ClientStorageFailed,
	}
}

// String returns the wire name of the kind, e.g. "SYNC_COMPLETE".
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind resolves a wire name back to its Kind.
func ParseKind(name string) (Kind, error) {
	for k, n := range kindNames {
		if n == name {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown notification kind %q", name)
}

// MarshalText implements encoding.TextMarshaler so kinds render by name in
// JSON output.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// Notification is one lifecycle event of one dataset.
type Notification struct {
	DatasetID string `json:"dataset_id"`
	UID       string `json:"uid,omitempty"`
	Kind      Kind   `json:"code"`
	Message   string `json:"message,omitempty"`
}

// Sink receives notifications. Implementations must not block and must not
// call back into the emitting dataset synchronously.
type Sink interface {
	Notify(n Notification)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Notification)

// Notify calls f(n).
func (f SinkFunc) Notify(n Notification) {
	f(n)
}

// Discard is a Sink that drops every notification.
var Discard Sink = SinkFunc(func(Notification) {})
