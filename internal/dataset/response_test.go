package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/datasync/internal/value"
)

func TestParseSyncResponse(t *testing.T) {
	obj, err := value.ParseObject([]byte(`{
		"hash": "g1",
		"updates": {
			"hashes": {"k1": {"uid": "u1", "action": "update", "type": "failed"}},
			"applied": {"h2": {"uid": "srv-2", "hash": "h2", "action": "create", "type": "applied"}},
			"failed": null,
			"collisions": {"k3": {"uid": "u3", "action": "update", "type": "collisions"}}
		}
	}`))
	require.NoError(t, err)

	resp, err := parseSyncResponse(obj)
	require.NoError(t, err)

	assert.True(t, resp.HasHash)
	assert.Equal(t, "g1", resp.Hash)
	assert.True(t, resp.HasUpdates)

	require.Contains(t, resp.Hashes, "k1")
	assert.Equal(t, "k1", resp.Hashes["k1"].Hash, "hash defaults to the member name")
	assert.Equal(t, ActionUpdate, resp.Hashes["k1"].Action)

	require.Len(t, resp.Applied, 1)
	assert.Equal(t, "srv-2", resp.Applied[0].UID)
	assert.Empty(t, resp.Failed)
	require.Len(t, resp.Collisions, 1)
	assert.Equal(t, "collisions", resp.Collisions[0].Type)
}

func TestParseSyncResponse_Absent(t *testing.T) {
	resp, err := parseSyncResponse(value.Object{"hash": value.Null{}, "updates": value.Null{}})
	require.NoError(t, err)
	assert.False(t, resp.HasHash)
	assert.False(t, resp.HasUpdates)
}

func TestParseSyncResponse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{"hash not string", `{"hash":1}`, "hash"},
		{"updates not object", `{"updates":[]}`, "updates"},
		{"bucket not object", `{"updates":{"applied":"x"}}`, "updates.applied"},
		{"entry not object", `{"updates":{"failed":{"k":1}}}`, "updates.failed.k"},
		{"entry without uid", `{"updates":{"hashes":{"k":{"action":"create"}}}}`, "updates.hashes.k.uid"},
		{"action not string", `{"updates":{"applied":{"k":{"uid":"u","action":3}}}}`, "updates.applied.k.action"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := value.ParseObject([]byte(tt.input))
			require.NoError(t, err)

			_, err = parseSyncResponse(obj)
			require.Error(t, err)

			var re *ResponseError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "sync", re.Fn)
			assert.Equal(t, tt.field, re.Field)
		})
	}
}

func TestParseRecordsResponse(t *testing.T) {
	obj, err := value.ParseObject([]byte(`{
		"hash": "g2",
		"create": {"b": {"data": {"x": 1}, "hash": "hb"}, "a": {"data": [1, 2]}},
		"update": null,
		"delete": {"z": {}, "y": true}
	}`))
	require.NoError(t, err)

	resp, err := parseRecordsResponse(obj)
	require.NoError(t, err)

	assert.Equal(t, "g2", resp.Hash)
	require.Len(t, resp.Create, 2)
	assert.Equal(t, "a", resp.Create[0].UID)
	assert.Equal(t, "b", resp.Create[1].UID)
	assert.Equal(t, "hb", resp.Create[1].Hash)
	assert.Empty(t, resp.Update)
	assert.Equal(t, []string{"y", "z"}, resp.Delete)
}

func TestParseRecordsResponse_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
		field string
	}{
		{"create not object", `{"create":[]}`, "create"},
		{"missing data", `{"update":{"u":{"hash":"h"}}}`, "update.u.data"},
		{"delete not object", `{"delete":"u"}`, "delete"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := value.ParseObject([]byte(tt.input))
			require.NoError(t, err)

			_, err = parseRecordsResponse(obj)
			var re *ResponseError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "syncRecords", re.Fn)
			assert.Equal(t, tt.field, re.Field)
		})
	}
}
