package dataset

import (
	"fmt"

	"github.com/roach88/datasync/internal/value"
)

// Record is one versioned record: uid, payload and the payload's content
// hash. Records are immutable: editing means building a new Record, so a
// stored record never aliases the image held by a pending change.
type Record struct {
	uid     string
	payload value.Value
	hash    string
}

// NewRecord builds a record from a copy of payload and computes its hash.
func NewRecord(uid string, payload value.Value) (Record, error) {
	if payload == nil {
		return Record{}, fmt.Errorf("record %q: payload is required", uid)
	}
	hash, err := value.Hash(payload)
	if err != nil {
		return Record{}, fmt.Errorf("record %q: %w", uid, err)
	}
	return Record{uid: uid, payload: value.Clone(payload), hash: hash}, nil
}

// UID returns the record identifier.
func (r Record) UID() string { return r.uid }

// Hash returns the content hash of the payload.
func (r Record) Hash() string { return r.hash }

// Payload returns a copy of the payload.
func (r Record) Payload() value.Value { return value.Clone(r.payload) }

func (r Record) withUID(uid string) Record {
	r.uid = uid
	return r
}

func (r Record) entry() Entry {
	return Entry{UID: r.uid, Data: r.Payload()}
}

// toValue renders the record in snapshot form: {uid, data, hashValue}.
func (r Record) toValue() value.Object {
	obj := value.Object{
		"data":      r.payload,
		"hashValue": value.String(r.hash),
	}
	if r.uid != "" {
		obj["uid"] = value.String(r.uid)
	}
	return obj
}

// recordFromValue rebuilds a record from snapshot form. The hash is always
// recomputed from data.
func recordFromValue(uid string, v value.Value) (Record, error) {
	obj, ok := v.(value.Object)
	if !ok {
		return Record{}, fmt.Errorf("record %q: expected object", uid)
	}
	data, ok := obj["data"]
	if !ok {
		return Record{}, fmt.Errorf("record %q: missing data", uid)
	}
	return NewRecord(uid, data)
}

// Entry is a (uid, payload) pair handed to callers. Data is always a copy.
type Entry struct {
	UID  string      `json:"uid"`
	Data value.Value `json:"data"`
}
