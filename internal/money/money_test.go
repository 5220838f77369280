package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToMinor(t *testing.T) {
	tests := []struct {
		amount string
		want   int64
	}{
		{amount: "40", want: 4000},
		{amount: "10.005", want: 1001},
		{amount: "10.004", want: 1000},
		{amount: "0.015", want: 2},
		{amount: "0", want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			assert.Equal(t, tt.want, ToMinor(decimal.RequireFromString(tt.amount)))
		})
	}
}

func TestFromMinor(t *testing.T) {
	assert.Equal(t, "12.34", FromMinor(1234).StringFixed(2))
	assert.True(t, FromMinor(5000).Equal(decimal.NewFromInt(50)))
}

func TestParse(t *testing.T) {
	d, err := Parse(" 12.345 ")
	require.NoError(t, err)
	assert.Equal(t, "12.35", d.StringFixed(2))

	_, err = Parse("twelve")
	assert.Error(t, err)

	assert.Equal(t, "eur", Currency(" EUR "))
}
