package entity

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/parts-intake/constants"
)

func TestFieldRecord_PreservesOrder(t *testing.T) {
	rec, err := ParseFieldRecord([]byte(`{"qty": 5, "part_no": "A1", "cond": "NE", "dual": true, "notes": null, "alt": ["B1","B2"]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"qty", "part_no", "cond", "dual", "alt"}, rec.Keys())
	assert.Equal(t, []string{"5", "A1", "NE", "true", `["B1","B2"]`}, rec.Values())

	b, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.Equal(t, `{"qty":"5","part_no":"A1","cond":"NE","dual":"true","alt":"[\"B1\",\"B2\"]"}`, string(b))

	var back FieldRecord
	require.NoError(t, json.Unmarshal(b, &back))
	assert.Equal(t, rec.Keys(), back.Keys())
}

func TestFieldRecord_DuplicateKeysCollapse(t *testing.T) {
	rec, err := ParseFieldRecord([]byte(`{"qty":"1","part_no":"A1","qty":"2"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"qty", "part_no"}, rec.Keys())
	v, _ := rec.Get("qty")
	assert.Equal(t, "2", v)
}

func TestParseFieldRecord_Errors(t *testing.T) {
	for _, in := range []string{``, `[1,2]`, `"x"`, `{"a":}`, `{"a":"b"} {"c":"d"}`} {
		_, err := ParseFieldRecord([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestNormalizedImage_HasText(t *testing.T) {
	assert.False(t, NormalizedImage{Text: " \n\t\f"}.HasText())
	assert.True(t, NormalizedImage{Text: " x "}.HasText())
}

func TestPartUnit_Transitions(t *testing.T) {
	p := NewPartUnit(3, 1, NewFieldRecord("part_no", "A1"))
	require.Equal(t, constants.PartBodyExtracted, p.State)

	assert.Error(t, p.Advance(constants.PartEmitted))
	require.NoError(t, p.Advance(constants.PartMerged))
	require.NoError(t, p.Advance(constants.PartNormalized))
	require.NoError(t, p.Advance(constants.PartEmitted))
	assert.Error(t, p.Advance(constants.PartMerged), "terminal states are final")

	q := NewPartUnit(3, 2, FieldRecord{})
	require.NoError(t, q.Advance(constants.PartMerged))
	require.NoError(t, q.Skip(constants.PartSkippedParseError, "normalize response was not JSON"))
	assert.Equal(t, "normalize response was not JSON", q.Reason)
	assert.Error(t, q.Skip(constants.PartSkippedEmpty, "again"))
}
