package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qrattend/internal/apperr"
)

func TestDistanceSamePointIsZero(t *testing.T) {
	d, err := DistanceMeters(12.9716, 77.5946, 12.9716, 77.5946)
	require.NoError(t, err)
	assert.Equal(t, 0.0, d)
}

func TestDistanceHundredKilometresAtEquator(t *testing.T) {
	// 100 km of arc along the equator, expressed in degrees of longitude.
	deg := 100000.0 / EarthRadiusMeters * 180 / math.Pi
	d, err := DistanceMeters(0, 0, 0, deg)
	require.NoError(t, err)
	assert.InEpsilon(t, 100000.0, d, 0.01)
}

func TestDistanceSmallOffset(t *testing.T) {
	d, err := Distance(Point{0, 0}, Point{0, 0.002})
	require.NoError(t, err)
	assert.InDelta(t, 222.4, d, 0.5)
}

func TestWithinRadiusBoundaryIsInclusive(t *testing.T) {
	assert.True(t, WithinRadius(100, 100))
	assert.True(t, WithinRadius(99.9, 100))
	assert.False(t, WithinRadius(100.0001, 100))
}

func TestInvalidCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		lat, lon float64
	}{
		{"nan latitude", math.NaN(), 0},
		{"inf longitude", 0, math.Inf(1)},
		{"latitude too large", 91, 0},
		{"longitude too small", 0, -180.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DistanceMeters(0, 0, tt.lat, tt.lon)
			require.Error(t, err)
			assert.True(t, apperr.Is(err, apperr.InvalidCoordinates))
		})
	}
}
