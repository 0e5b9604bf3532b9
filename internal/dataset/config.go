package dataset

import (
	"fmt"
	"time"

	"github.com/roach88/datasync/internal/notify"
	"github.com/roach88/datasync/internal/value"
)

// NotifySet is the set of notification kinds a dataset emits.
type NotifySet uint32

// NotifyAll enables every notification kind.
func NotifyAll() NotifySet {
	return NotifyOf(notify.Kinds()...)
}

// NotifyOf returns the set containing kinds.
func NotifyOf(kinds ...notify.Kind) NotifySet {
	var s NotifySet
	for _, k := range kinds {
		s |= 1 << uint(k)
	}
	return s
}

// Has reports whether k is in the set.
func (s NotifySet) Has(k notify.Kind) bool {
	return s&(1<<uint(k)) != 0
}

// Kinds lists the kinds in the set in declaration order.
func (s NotifySet) Kinds() []notify.Kind {
	var out []notify.Kind
	for _, k := range notify.Kinds() {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

// SyncConfig tunes scheduling, crash handling and notifications.
type SyncConfig struct {
	// Interval between the end of one round and the start of the next.
	Interval time.Duration
	// Notify selects the notification kinds that reach the sink.
	Notify NotifySet
	// CrashCountWait is the number of rounds a crashed change may stay
	// unresolved before it is resent or dropped.
	CrashCountWait int
	// ResendCrashedUpdates resends a change past CrashCountWait instead of
	// dropping it.
	ResendCrashedUpdates bool
	// AutoSyncLocalUpdates requests a round after every local edit.
	AutoSyncLocalUpdates bool
}

// DefaultSyncConfig returns the defaults: a 10 second interval, crashed
// changes resent after 10 unresolved rounds, no notifications.
func DefaultSyncConfig() SyncConfig {
	return SyncConfig{
		Interval:             10 * time.Second,
		CrashCountWait:       10,
		ResendCrashedUpdates: true,
	}
}

// Validate rejects configurations the scheduler cannot run.
func (c SyncConfig) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("sync interval must be positive, got %s", c.Interval)
	}
	if c.CrashCountWait < 0 {
		return fmt.Errorf("crash count wait must not be negative, got %d", c.CrashCountWait)
	}
	return nil
}

// snapshot keys for the notification flags.
var notifyFlagNames = map[notify.Kind]string{
	notify.SyncStarted:         "notifySyncStarted",
	notify.SyncCompleted:       "notifySyncComplete",
	notify.OfflineUpdate:       "notifyOfflineUpdate",
	notify.CollisionDetected:   "notifySyncCollision",
	notify.RemoteUpdateFailed:  "notifyRemoteUpdateFailed",
	notify.RemoteUpdateApplied: "notifyRemoteUpdateApplied",
	notify.LocalUpdateApplied:  "notifyLocalUpdateApplied",
	notify.DeltaReceived:       "notifyDeltaReceived",
	notify.SyncFailed:          "notifySyncFailed",
	notify.ClientStorageFailed: "notifyClientStorageFailed",
}

func (c SyncConfig) toValue() value.Object {
	obj := value.Object{
		"syncFrequency":        value.Number(fmt.Sprintf("%g", c.Interval.Seconds())),
		"crashCountWait":       value.Int(int64(c.CrashCountWait)),
		"resendCrashedUpdates": value.Bool(c.ResendCrashedUpdates),
		"autoSyncLocalUpdates": value.Bool(c.AutoSyncLocalUpdates),
	}
	for kind, name := range notifyFlagNames {
		obj[name] = value.Bool(c.Notify.Has(kind))
	}
	return obj
}

// syncConfigFromValue reads a stored config; absent members keep defaults.
func syncConfigFromValue(v value.Value) (SyncConfig, error) {
	cfg := DefaultSyncConfig()
	obj, ok := v.(value.Object)
	if !ok {
		return cfg, fmt.Errorf("syncConfig: expected object")
	}

	if n, ok := obj.GetNumber("syncFrequency"); ok {
		secs, err := n.Float64()
		if err != nil || secs <= 0 {
			return cfg, fmt.Errorf("syncConfig: invalid syncFrequency %q", string(n))
		}
		cfg.Interval = time.Duration(secs * float64(time.Second))
	}
	if n, ok := obj.GetInt("crashCountWait"); ok {
		cfg.CrashCountWait = int(n)
	}
	if b, ok := obj.GetBool("resendCrashedUpdates"); ok {
		cfg.ResendCrashedUpdates = b
	}
	if b, ok := obj.GetBool("autoSyncLocalUpdates"); ok {
		cfg.AutoSyncLocalUpdates = b
	}
	for kind, name := range notifyFlagNames {
		if b, _ := obj.GetBool(name); b {
			cfg.Notify |= NotifyOf(kind)
		}
	}
	return cfg, nil
}
