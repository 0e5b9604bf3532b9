package dataset

import (
	"fmt"
	"time"

	"github.com/roach88/datasync/internal/value"
)

// snapshotVersion is written into every snapshot. Restore accepts snapshots
// without the member, which predate versioning.
const snapshotVersion = 1

// marshalSnapshotLocked renders the full dataset state as JSON.
func (d *Dataset) marshalSnapshotLocked() ([]byte, error) {
	records := make(value.Object, len(d.records))
	for uid, rec := range d.records {
		records[uid] = rec.toValue()
	}

	pending := make(value.Object, len(d.pending))
	for key, p := range d.pending {
		pending[key] = p.toValue()
	}

	meta := make(value.Object, len(d.meta))
	for uid, m := range d.meta {
		meta[uid] = value.Object{
			"fromPending": value.Bool(m.FromPending),
			"pendingUid":  value.String(m.PendingKey),
		}
	}

	snap := value.Object{
		"version":            value.Int(snapshotVersion),
		"dataSetId":          value.String(d.id),
		"syncConfig":         d.config.toValue(),
		"dataRecords":        records,
		"pendingDataRecords": pending,
		"metaData":           meta,
		"acknowledgements":   value.Clone(d.acks),
		"changeSeq":          value.Int(d.seq),
	}
	if d.globalHash != "" {
		snap["hashValue"] = value.String(d.globalHash)
	}
	if d.queryParams != nil {
		snap["queryParams"] = value.CloneObject(d.queryParams)
	}
	if d.metadata != nil {
		snap["customMetaData"] = value.CloneObject(d.metadata)
	}
	if !d.lastSyncStart.IsZero() {
		snap["syncLoopStart"] = value.Int(d.lastSyncStart.UnixMilli())
	}
	if !d.lastSyncEnd.IsZero() {
		snap["syncLoopEnd"] = value.Int(d.lastSyncEnd.UnixMilli())
	}

	data, err := value.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return data, nil
}

// restored holds a decoded snapshot before it replaces live state.
type restored struct {
	records       map[string]Record
	pending       map[string]*PendingChange
	meta          map[string]recordMeta
	globalHash    string
	queryParams   value.Object
	metadata      value.Object
	acks          value.Array
	lastSyncStart time.Time
	lastSyncEnd   time.Time
	config        SyncConfig
	seq           int64
}

// restoreLocked decodes raw and swaps it in. Live state is untouched when
// any part fails to decode.
func (d *Dataset) restoreLocked(raw []byte) error {
	snap, err := value.ParseObject(raw)
	if err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	r, err := decodeSnapshot(d.id, snap)
	if err != nil {
		return err
	}

	d.records = r.records
	d.pending = r.pending
	d.meta = r.meta
	d.globalHash = r.globalHash
	d.queryParams = r.queryParams
	d.metadata = r.metadata
	d.acks = r.acks
	d.lastSyncStart = r.lastSyncStart
	d.lastSyncEnd = r.lastSyncEnd
	d.config = r.config
	d.seq = r.seq
	return nil
}

func decodeSnapshot(id string, snap value.Object) (*restored, error) {
	if v, ok := snap.GetInt("version"); ok && v > snapshotVersion {
		return nil, fmt.Errorf("snapshot version %d is newer than supported version %d", v, snapshotVersion)
	}
	if stored, ok := snap.GetString("dataSetId"); ok && stored != id {
		return nil, fmt.Errorf("snapshot belongs to dataset %q", stored)
	}

	r := &restored{
		records: make(map[string]Record),
		pending: make(map[string]*PendingChange),
		meta:    make(map[string]recordMeta),
		acks:    value.Array{},
		config:  DefaultSyncConfig(),
	}

	if v, ok := snap["syncConfig"]; ok {
		cfg, err := syncConfigFromValue(v)
		if err != nil {
			return nil, err
		}
		r.config = cfg
	}

	if recs, ok := snap.GetObject("dataRecords"); ok {
		for uid, v := range recs {
			rec, err := recordFromValue(uid, v)
			if err != nil {
				return nil, err
			}
			r.records[uid] = rec
		}
	}

	if pending, ok := snap.GetObject("pendingDataRecords"); ok {
		for key, v := range pending {
			p, err := pendingFromValue(key, v)
			if err != nil {
				return nil, err
			}
			r.pending[key] = p
			r.seq = max(r.seq, p.Seq)
		}
	}

	if meta, ok := snap.GetObject("metaData"); ok {
		for uid, v := range meta {
			obj, ok := v.(value.Object)
			if !ok {
				return nil, fmt.Errorf("metaData %q: expected object", uid)
			}
			m := recordMeta{}
			m.FromPending, _ = obj.GetBool("fromPending")
			m.PendingKey, _ = obj.GetString("pendingUid")
			r.meta[uid] = m
		}
	}

	r.globalHash, _ = snap.GetString("hashValue")
	if qp, ok := snap.GetObject("queryParams"); ok {
		r.queryParams = value.CloneObject(qp)
	}
	if cm, ok := snap.GetObject("customMetaData"); ok {
		r.metadata = value.CloneObject(cm)
	}
	if acks, ok := snap.GetArray("acknowledgements"); ok {
		r.acks = value.Clone(acks).(value.Array)
	}
	if ms, ok := snap.GetInt("syncLoopStart"); ok {
		r.lastSyncStart = time.UnixMilli(ms)
	}
	if ms, ok := snap.GetInt("syncLoopEnd"); ok {
		r.lastSyncEnd = time.UnixMilli(ms)
	}
	if seq, ok := snap.GetInt("changeSeq"); ok {
		r.seq = max(r.seq, seq)
	}
	return r, nil
}
