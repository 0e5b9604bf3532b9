package dataset

import (
	"fmt"
	"time"

	"github.com/roach88/datasync/internal/value"
)

// Action is the kind of mutation a PendingChange carries.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

func parseAction(s string) (Action, error) {
	switch Action(s) {
	case ActionCreate, ActionUpdate, ActionDelete:
		return Action(s), nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// PendingChange is one queued local mutation.
type PendingChange struct {
	Key    string
	UID    string
	Action Action
	Pre    *Record // required for Update and Delete
	Post   *Record // required for Create and Update

	InFlight   bool
	InFlightAt time.Time
	Crashed    bool
	CrashCount int
	Delayed    bool
	WaitingOn  string // key of the in-flight change this one waits for

	Seq       int64 // enqueue order within the dataset
	Timestamp time.Time
}

// validate checks the image requirements of the action.
func (p *PendingChange) validate() error {
	if p.Key == "" || p.UID == "" {
		return fmt.Errorf("pending change: key and uid are required")
	}
	switch p.Action {
	case ActionCreate:
		if p.Post == nil || p.Pre != nil {
			return fmt.Errorf("pending create %s: needs a post image only", p.Key)
		}
	case ActionUpdate:
		if p.Post == nil || p.Pre == nil {
			return fmt.Errorf("pending update %s: needs pre and post images", p.Key)
		}
	case ActionDelete:
		if p.Pre == nil || p.Post != nil {
			return fmt.Errorf("pending delete %s: needs a pre image only", p.Key)
		}
	default:
		return fmt.Errorf("pending change %s: unknown action %q", p.Key, p.Action)
	}
	return nil
}

// wireHash is the reference the cloud uses for this change in its
// resolution maps: the uid for a create, the change key otherwise.
func (p *PendingChange) wireHash() string {
	if p.Action == ActionCreate {
		return p.UID
	}
	return p.Key
}

// clone returns a copy that shares no mutable state with p.
func (p *PendingChange) clone() PendingChange {
	c := *p
	if p.Pre != nil {
		pre := *p.Pre
		c.Pre = &pre
	}
	if p.Post != nil {
		post := *p.Post
		c.Post = &post
	}
	return c
}

// remap rewrites the change and its images to a new record uid.
func (p *PendingChange) remap(uid string) {
	p.UID = uid
	if p.Pre != nil {
		pre := p.Pre.withUID(uid)
		p.Pre = &pre
	}
	if p.Post != nil {
		post := p.Post.withUID(uid)
		p.Post = &post
	}
}

// toValue renders the change as sent on the wire and stored in snapshots.
func (p *PendingChange) toValue() value.Object {
	obj := value.Object{
		"uid":          value.String(p.UID),
		"hash":         value.String(p.wireHash()),
		"action":       value.String(string(p.Action)),
		"inFlight":     value.Bool(p.InFlight),
		"crashed":      value.Bool(p.Crashed),
		"crashedCount": value.Int(int64(p.CrashCount)),
		"delayed":      value.Bool(p.Delayed),
		"seq":          value.Int(p.Seq),
		"timestamp":    value.Int(p.Timestamp.UnixMilli()),
	}
	if p.Pre != nil {
		obj["pre"] = p.Pre.payload
		obj["preHash"] = value.String(p.Pre.hash)
	}
	if p.Post != nil {
		obj["post"] = p.Post.payload
		obj["postHash"] = value.String(p.Post.hash)
	}
	if !p.InFlightAt.IsZero() {
		obj["inFlightDate"] = value.Int(p.InFlightAt.UnixMilli())
	}
	if p.WaitingOn != "" {
		obj["waitingFor"] = value.String(p.WaitingOn)
	}
	return obj
}

// pendingFromValue rebuilds a change stored under key in a snapshot.
func pendingFromValue(key string, v value.Value) (*PendingChange, error) {
	obj, ok := v.(value.Object)
	if !ok {
		return nil, fmt.Errorf("pending %s: expected object", key)
	}

	uid, ok := obj.GetString("uid")
	if !ok {
		return nil, fmt.Errorf("pending %s: missing uid", key)
	}
	actionName, _ := obj.GetString("action")
	action, err := parseAction(actionName)
	if err != nil {
		return nil, fmt.Errorf("pending %s: %w", key, err)
	}

	p := &PendingChange{Key: key, UID: uid, Action: action}

	if pre, ok := obj["pre"]; ok {
		rec, err := NewRecord(uid, pre)
		if err != nil {
			return nil, fmt.Errorf("pending %s: pre: %w", key, err)
		}
		p.Pre = &rec
	}
	if post, ok := obj["post"]; ok {
		rec, err := NewRecord(uid, post)
		if err != nil {
			return nil, fmt.Errorf("pending %s: post: %w", key, err)
		}
		p.Post = &rec
	}

	p.InFlight, _ = obj.GetBool("inFlight")
	p.Crashed, _ = obj.GetBool("crashed")
	p.Delayed, _ = obj.GetBool("delayed")
	p.WaitingOn, _ = obj.GetString("waitingFor")
	if n, ok := obj.GetInt("crashedCount"); ok {
		p.CrashCount = int(n)
	}
	p.Seq, _ = obj.GetInt("seq")
	if ms, ok := obj.GetInt("inFlightDate"); ok {
		p.InFlightAt = time.UnixMilli(ms)
	}
	if ms, ok := obj.GetInt("timestamp"); ok {
		p.Timestamp = time.UnixMilli(ms)
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}
