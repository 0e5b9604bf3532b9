package dataset

import (
	"github.com/roach88/datasync/internal/value"
)

// Resolution types used in the "hashes" map of a sync response.
const (
	resolutionApplied    = "applied"
	resolutionFailed     = "failed"
	resolutionCollisions = "collisions"
)

// updateEntry is one resolved change reported by the cloud.
type updateEntry struct {
	Key    string // member name in the response map
	UID    string
	Hash   string // change reference; defaults to Key
	Action Action
	Type   string
	Raw    value.Object
}

// syncResponse is a validated phase-1 response.
type syncResponse struct {
	Hash       string
	HasHash    bool
	HasUpdates bool
	Hashes     map[string]updateEntry
	Applied    []updateEntry
	Failed     []updateEntry
	Collisions []updateEntry
}

// parseSyncResponse validates the whole response before any of it is applied.
func parseSyncResponse(obj value.Object) (*syncResponse, error) {
	resp := &syncResponse{Hashes: map[string]updateEntry{}}

	hash, has, err := optionalString(obj, "hash", "sync", "hash")
	if err != nil {
		return nil, err
	}
	resp.Hash, resp.HasHash = hash, has

	updatesVal, ok := obj["updates"]
	if !ok || isNull(updatesVal) {
		return resp, nil
	}
	updates, ok := updatesVal.(value.Object)
	if !ok {
		return nil, &ResponseError{Fn: "sync", Field: "updates", Message: "expected object"}
	}
	resp.HasUpdates = true

	buckets := []struct {
		name string
		dst  *[]updateEntry
	}{
		{"hashes", nil},
		{"applied", &resp.Applied},
		{"failed", &resp.Failed},
		{"collisions", &resp.Collisions},
	}
	for _, b := range buckets {
		entries, err := parseUpdateBucket(updates, b.name)
		if err != nil {
			return nil, err
		}
		if b.dst == nil {
			for _, e := range entries {
				resp.Hashes[e.Key] = e
			}
			continue
		}
		*b.dst = entries
	}
	return resp, nil
}

func parseUpdateBucket(updates value.Object, name string) ([]updateEntry, error) {
	v, ok := updates[name]
	if !ok || isNull(v) {
		return nil, nil
	}
	bucket, ok := v.(value.Object)
	if !ok {
		return nil, &ResponseError{Fn: "sync", Field: "updates." + name, Message: "expected object"}
	}

	entries := make([]updateEntry, 0, len(bucket))
	for _, key := range bucket.SortedKeys() {
		field := "updates." + name + "." + key
		raw, ok := bucket[key].(value.Object)
		if !ok {
			return nil, &ResponseError{Fn: "sync", Field: field, Message: "expected object"}
		}

		uid, ok := raw.GetString("uid")
		if !ok {
			return nil, &ResponseError{Fn: "sync", Field: field + ".uid", Message: "expected string"}
		}
		entry := updateEntry{Key: key, UID: uid, Hash: key, Raw: raw}

		if h, has, err := optionalString(raw, "hash", "sync", field+".hash"); err != nil {
			return nil, err
		} else if has {
			entry.Hash = h
		}
		action, _, err := optionalString(raw, "action", "sync", field+".action")
		if err != nil {
			return nil, err
		}
		entry.Action = Action(action)
		if entry.Type, _, err = optionalString(raw, "type", "sync", field+".type"); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// recordDelta is one record delivered by a syncRecords response.
type recordDelta struct {
	UID  string
	Data value.Value
	Hash string // as reported by the cloud
}

// recordsResponse is a validated phase-2 response.
type recordsResponse struct {
	Hash    string
	HasHash bool
	Create  []recordDelta
	Update  []recordDelta
	Delete  []string
}

func parseRecordsResponse(obj value.Object) (*recordsResponse, error) {
	resp := &recordsResponse{}

	hash, has, err := optionalString(obj, "hash", "syncRecords", "hash")
	if err != nil {
		return nil, err
	}
	resp.Hash, resp.HasHash = hash, has

	if resp.Create, err = parseDeltaBucket(obj, "create"); err != nil {
		return nil, err
	}
	if resp.Update, err = parseDeltaBucket(obj, "update"); err != nil {
		return nil, err
	}

	if v, ok := obj["delete"]; ok && !isNull(v) {
		bucket, ok := v.(value.Object)
		if !ok {
			return nil, &ResponseError{Fn: "syncRecords", Field: "delete", Message: "expected object"}
		}
		resp.Delete = bucket.SortedKeys()
	}
	return resp, nil
}

func parseDeltaBucket(obj value.Object, name string) ([]recordDelta, error) {
	v, ok := obj[name]
	if !ok || isNull(v) {
		return nil, nil
	}
	bucket, ok := v.(value.Object)
	if !ok {
		return nil, &ResponseError{Fn: "syncRecords", Field: name, Message: "expected object"}
	}

	deltas := make([]recordDelta, 0, len(bucket))
	for _, uid := range bucket.SortedKeys() {
		field := name + "." + uid
		entry, ok := bucket[uid].(value.Object)
		if !ok {
			return nil, &ResponseError{Fn: "syncRecords", Field: field, Message: "expected object"}
		}
		data, ok := entry["data"]
		if !ok {
			return nil, &ResponseError{Fn: "syncRecords", Field: field + ".data", Message: "missing"}
		}
		hash, _, err := optionalString(entry, "hash", "syncRecords", field+".hash")
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, recordDelta{UID: uid, Data: data, Hash: hash})
	}
	return deltas, nil
}

// optionalString reads a string member that may be absent or null.
func optionalString(obj value.Object, key, fn, field string) (string, bool, error) {
	v, ok := obj[key]
	if !ok || isNull(v) {
		return "", false, nil
	}
	s, ok := v.(value.String)
	if !ok {
		return "", false, &ResponseError{Fn: fn, Field: field, Message: "expected string"}
	}
	return string(s), true, nil
}

func isNull(v value.Value) bool {
	_, ok := v.(value.Null)
	return ok
}
