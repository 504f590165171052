package indexer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextWindow(t *testing.T) {
	cases := []struct {
		name                  string
		from, target, maxSpan uint64
		want                  BlockRange
	}{
		{"capped", 100, 2000, 500, BlockRange{From: 100, To: 599}},
		{"reaches target", 100, 105, 500, BlockRange{From: 100, To: 105}},
		{"exact span", 1, 500, 500, BlockRange{From: 1, To: 500}},
		{"single block", 5, 5, 10, BlockRange{From: 5, To: 5}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := NextWindow(tc.from, tc.target, tc.maxSpan)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
			assert.LessOrEqual(t, got.Len(), tc.maxSpan)
		})
	}
}

func TestNextWindowInvalid(t *testing.T) {
	_, err := NextWindow(10, 9, 1)
	assert.Error(t, err)

	_, err = NextWindow(1, 10, 0)
	assert.Error(t, err)
}
