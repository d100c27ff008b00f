package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDocument_KeepsIntegersExact(t *testing.T) {
	doc, err := ToDocument(struct{ RunId int64 }{RunId: 9007199254740993})
	require.NoError(t, err)

	id, ok := doc.Int("RunId")
	require.True(t, ok)
	assert.Equal(t, int64(9007199254740993), id)
}

func TestToDocument_RejectsNonObjects(t *testing.T) {
	_, err := ToDocument([]int{1, 2})
	assert.Error(t, err)

	_, err = ToDocument(nil)
	assert.Error(t, err)
}

func TestKeyString_ComparesAcrossSources(t *testing.T) {
	// Values read back from SQLite and values from incoming JSON must agree
	assert.Equal(t, keyString(int64(100001)), keyString(json.Number("100001")))
	assert.Equal(t, keyString(float64(100001)), keyString(100001))
	assert.NotEqual(t, keyString("100001"), keyString(int64(100001)))
}

func TestFilterWhere_StableOrder(t *testing.T) {
	where, args, err := Filter{"b": 2, "a": Gt(1)}.where("Job")
	require.NoError(t, err)
	assert.Equal(t, "collection = ? AND json_extract(body, '$.a') > ? AND json_extract(body, '$.b') = ?", where)
	assert.Equal(t, []interface{}{"Job", 1, 2}, args)
}

func TestFilterWhere_RangeOperators(t *testing.T) {
	where, args, err := Filter{"RunId": Lt(100010), "StartTime": Lte("2026-10-15 23:59:59")}.where("History")
	require.NoError(t, err)
	assert.Equal(t, "collection = ? AND json_extract(body, '$.RunId') < ? AND json_extract(body, '$.StartTime') <= ?", where)
	assert.Equal(t, []interface{}{"History", 100010, "2026-10-15 23:59:59"}, args)
}
