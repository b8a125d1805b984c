package record

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSet(t *testing.T) {
	set, err := ParseSet([]byte(`[{"id":"1","name":"a"},{"id":2,"name":"b","tags":["x"],"score":1.25}]`))
	require.NoError(t, err)
	require.Len(t, set, 2)

	assert.Equal(t, "1", set[0].ID)
	assert.Equal(t, "a", set[0].Name)
	assert.Nil(t, set[0].Fields)

	assert.Equal(t, "2", set[1].ID)
	assert.Equal(t, "b", set[1].Name)
	assert.Equal(t, Array{String("x")}, set[1].Fields["tags"])
	assert.Equal(t, Number("1.25"), set[1].Fields["score"])
}

func TestParseSetErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"not json", `nope`},
		{"not array", `{"id":"1"}`},
		{"element not object", `["x"]`},
		{"missing id", `[{"name":"a"}]`},
		{"bool id", `[{"id":true}]`},
		{"numeric name", `[{"id":"1","name":5}]`},
		{"trailing data", `[] []`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSet([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestParseSetDuplicateID(t *testing.T) {
	_, err := ParseSet([]byte(`[{"id":"1","name":"a"},{"id":"1","name":"b"}]`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestParseSetNullName(t *testing.T) {
	set, err := ParseSet([]byte(`[{"id":"1","name":null}]`))
	require.NoError(t, err)
	assert.Equal(t, "", set[0].Name)

	data, err := set.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1","name":null}]`, string(data))

	named, _, _ := set.WithName("1", "a")
	data, err = named.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"1","name":"a"}]`, string(data))
}

func TestParseSetKeepsWireForm(t *testing.T) {
	payload := `[{"id":7,"name":"a"},{"id":"8","name":null},{"id":1e2,"name":"c"}]`

	set, err := ParseSet([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "7", set[0].ID)
	assert.Equal(t, "1e2", set[2].ID)

	data, err := set.Canonical()
	require.NoError(t, err)
	assert.Equal(t, payload, string(data))

	// Renaming keeps the numeric id; the record is still found by its text.
	next, _, existed := set.WithName("7", "z")
	require.True(t, existed)
	data, err = next.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `[{"id":7,"name":"z"},{"id":"8","name":null},{"id":1e2,"name":"c"}]`, string(data))
}

func TestSetWithNameUpdatesInPlace(t *testing.T) {
	orig := Set{
		{ID: "1", Name: "a", Fields: Object{"n": Number("7")}},
		{ID: "2", Name: "b"},
	}

	next, prev, existed := orig.WithName("1", "z")

	assert.True(t, existed)
	assert.Equal(t, "a", prev.Name)
	assert.Equal(t, "z", next[0].Name)
	assert.Equal(t, Number("7"), next[0].Fields["n"])
	assert.Equal(t, "2", next[1].ID)

	// Original untouched.
	assert.Equal(t, "a", orig[0].Name)
}

func TestSetWithNameAppendsUnknownID(t *testing.T) {
	orig := Set{{ID: "1", Name: "a"}}

	next, prev, existed := orig.WithName("5", "x")

	assert.False(t, existed)
	assert.Equal(t, Record{}, prev)
	require.Len(t, next, 2)
	assert.Equal(t, Record{ID: "5", Name: "x"}, next[1])
	assert.Len(t, orig, 1)
	require.NoError(t, next.Validate())
}

func TestSetWithNameOnNilSet(t *testing.T) {
	var empty Set
	next, _, existed := empty.WithName("1", "a")
	assert.False(t, existed)
	assert.Equal(t, Set{{ID: "1", Name: "a"}}, next)
}

func TestSetWithout(t *testing.T) {
	orig := Set{{ID: "1", Name: "a"}, {ID: "2", Name: "b"}}

	next := orig.Without("1")

	assert.Equal(t, Set{{ID: "2", Name: "b"}}, next)
	assert.Len(t, orig, 2)
	assert.Equal(t, orig, orig.Without("missing"))
}

func TestSetGet(t *testing.T) {
	set := Set{{ID: "1", Name: "a", Fields: Object{"k": String("v")}}}

	r, ok := set.Get("1")
	require.True(t, ok)
	r.Fields["k"] = String("changed")
	assert.Equal(t, String("v"), set[0].Fields["k"])

	_, ok = set.Get("2")
	assert.False(t, ok)
}

func TestSetCanonical(t *testing.T) {
	set := Set{{ID: "2", Name: "b", Fields: Object{"extra": Bool(true)}}, {ID: "1", Name: "a"}}

	data, err := set.Canonical()
	require.NoError(t, err)
	assert.Equal(t, `[{"extra":true,"id":"2","name":"b"},{"id":"1","name":"a"}]`, string(data))

	var nilSet Set
	data, err = nilSet.Canonical()
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}

func TestSetCanonicalRoundTripIsStable(t *testing.T) {
	payload := []byte(`[ {"name":"a", "id":"1", "meta":{"b":2,"a":1}} ]`)

	set, err := ParseSet(payload)
	require.NoError(t, err)
	first, err := set.Canonical()
	require.NoError(t, err)

	again, err := ParseSet(first)
	require.NoError(t, err)
	second, err := again.Canonical()
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
	assert.Equal(t, `[{"id":"1","meta":{"a":1,"b":2},"name":"a"}]`, string(first))
}

func TestSetJSONInterop(t *testing.T) {
	var set Set
	require.NoError(t, json.Unmarshal([]byte(`[{"id":"1","name":"a"}]`), &set))
	assert.Equal(t, Set{{ID: "1", Name: "a"}}, set)

	err := json.Unmarshal([]byte(`[{"id":"1"},{"id":"1"}]`), &set)
	assert.ErrorIs(t, err, ErrDuplicateID)

	out, err := json.Marshal(struct {
		Items Set `json:"items"`
	}{Items: Set{{ID: "1", Name: "a"}}})
	require.NoError(t, err)
	assert.Equal(t, `{"items":[{"id":"1","name":"a"}]}`, string(out))
}

func TestSetDigest(t *testing.T) {
	a := Set{{ID: "1", Name: "a"}}
	b := Set{{ID: "1", Name: "a"}}
	c := Set{{ID: "1", Name: "b"}}

	da, err := a.Digest()
	require.NoError(t, err)
	db, err := b.Digest()
	require.NoError(t, err)
	dc, err := c.Digest()
	require.NoError(t, err)

	assert.Len(t, da, 64)
	assert.Equal(t, da, db)
	assert.NotEqual(t, da, dc)
}

func TestDecodeValueKeepsNumberLiterals(t *testing.T) {
	v, err := DecodeValue([]byte(`{"big":12345678901234567890,"f":0.1}`))
	require.NoError(t, err)

	obj := v.(Object)
	assert.Equal(t, Number("12345678901234567890"), obj["big"])
	assert.Equal(t, Number("0.1"), obj["f"])
}
