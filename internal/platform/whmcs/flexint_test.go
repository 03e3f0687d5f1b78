package whmcs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlexIntUnmarshal(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{`42`, 42},
		{`"42"`, 42},
		{`"12.0"`, 12},
		{`null`, 0},
		{`""`, 0},
	}
	for _, tc := range cases {
		var f flexInt
		require.NoError(t, json.Unmarshal([]byte(tc.in), &f), "input %s", tc.in)
		require.Equal(t, tc.want, int(f), "input %s", tc.in)
	}

	var f flexInt
	require.Error(t, json.Unmarshal([]byte(`"abc"`), &f))
}

func TestFirstProductID(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{`[101, 102]`, 101},
		{`["101","102"]`, 101},
		{`"101,102"`, 101},
		{`"101"`, 101},
		{`101`, 101},
		{`[]`, 0},
		{`""`, 0},
		{``, 0},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, firstProductID(json.RawMessage(tc.in)), "input %s", tc.in)
	}
}
