package store

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in      string
		want    Price
		wantErr string
	}{
		{in: "5", want: 500},
		{in: "5.5", want: 550},
		{in: "5.25", want: 525},
		{in: "0.01", want: 1},
		{in: "999.99", want: 99999},
		{in: "007.50", want: 750},
		{in: ".5", want: 50},
		{in: "-0", want: 0},
		{in: "", wantErr: "A valid number is required."},
		{in: "abc", wantErr: "A valid number is required."},
		{in: "1e2", wantErr: "A valid number is required."},
		{in: "1.2.3", wantErr: "A valid number is required."},
		{in: "1000", wantErr: "no more than 3 digits before the decimal point"},
		{in: "1.234", wantErr: "no more than 2 decimal places"},
		{in: "1234.56", wantErr: "no more than 5 digits in total"},
		{in: "-1.00", wantErr: "greater than or equal to 0"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParsePrice(tt.in)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)

				var priceErr *PriceError
				assert.ErrorAs(t, err, &priceErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPriceString(t *testing.T) {
	assert.Equal(t, "5.00", Price(500).String())
	assert.Equal(t, "0.05", Price(5).String())
	assert.Equal(t, "999.99", Price(99999).String())
}

func TestPriceJSON(t *testing.T) {
	var body struct {
		Price *Price `json:"price"`
	}

	require.NoError(t, json.Unmarshal([]byte(`{"price": 5.25}`), &body))
	require.NotNil(t, body.Price)
	assert.Equal(t, Price(525), *body.Price)

	require.NoError(t, json.Unmarshal([]byte(`{"price": "12.5"}`), &body))
	assert.Equal(t, Price(1250), *body.Price)

	err := json.Unmarshal([]byte(`{"price": true}`), &body)
	require.Error(t, err)

	out, err := json.Marshal(map[string]Price{"price": 500})
	require.NoError(t, err)
	assert.JSONEq(t, `{"price": "5.00"}`, string(out))
}

func TestPriceScan(t *testing.T) {
	var p Price

	require.NoError(t, p.Scan(int64(1999)))
	assert.Equal(t, Price(1999), p)

	require.NoError(t, p.Scan([]byte("250")))
	assert.Equal(t, Price(250), p)

	require.Error(t, p.Scan(1.5))
}
