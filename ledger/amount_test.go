package ledger

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/nexus/errors"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want Amount
	}{
		{"120.50", 1205000},
		{"-20.00", -200000},
		{"0", 0},
		{"+3", 30000},
		{"0.0001", 1},
		{".5", 5000},
		{" 7.25 ", 72500},
		{"922337203685477.5807", Amount(math.MaxInt64)},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseAmount_Rejects(t *testing.T) {
	for _, in := range []string{"", "-", "abc", "1.", "1.23456", "1e3", "1,50", "--1", "922337203685477.5808", "99999999999999999999"} {
		t.Run(in, func(t *testing.T) {
			_, err := ParseAmount(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidAmount))
		})
	}
}

func TestAmountString(t *testing.T) {
	assert.Equal(t, "100.50", MustParseAmount("100.5").String())
	assert.Equal(t, "-20.00", MustParseAmount("-20").String())
	assert.Equal(t, "0.00", Amount(0).String())
	assert.Equal(t, "0.0125", Amount(125).String())
	assert.Equal(t, "-0.0001", Amount(-1).String())
	assert.Equal(t, "-922337203685477.5808", Amount(math.MinInt64).String())
}

func TestAmountAdd(t *testing.T) {
	sum, err := MustParseAmount("120.50").Add(MustParseAmount("-20.00"))
	require.NoError(t, err)
	assert.Equal(t, "100.50", sum.String())

	_, err = Amount(math.MaxInt64).Add(1)
	assert.True(t, errors.Is(err, ErrInvalidAmount))
	_, err = Amount(math.MinInt64).Add(-1)
	assert.True(t, errors.Is(err, ErrInvalidAmount))
}

func TestAmountJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		Total Amount `json:"total"`
	}{MustParseAmount("100.5")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"total":"100.50"}`, string(data))

	var v struct {
		A Amount `json:"a"`
		B Amount `json:"b"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"a":"12.34","b":0.1}`), &v))
	assert.Equal(t, Amount(123400), v.A)
	assert.Equal(t, Amount(1000), v.B, "number literals are parsed textually")

	assert.Error(t, json.Unmarshal([]byte(`{"a":1e2}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"a":null}`), &v))
	assert.Error(t, json.Unmarshal([]byte(`{"a":"0.33333"}`), &v))
}

func TestAmountProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("String then ParseAmount returns the same amount", prop.ForAll(
		func(v int64) bool {
			a := Amount(v)
			back, err := ParseAmount(a.String())
			return err == nil && back == a
		},
		gen.Int64Range(math.MinInt64+1, math.MaxInt64),
	))

	properties.Property("Add is exact integer addition when in range", prop.ForAll(
		func(a, b int32) bool {
			sum, err := Amount(a).Add(Amount(b))
			return err == nil && int64(sum) == int64(a)+int64(b)
		},
		gen.Int32(), gen.Int32(),
	))

	properties.TestingRun(t)
}
