package hwio_test

import (
	"testing"

	"codeberg.org/mutker/legionctl/internal/hwio"
	"github.com/stretchr/testify/assert"
)

func TestPowerLimitsNarrow(t *testing.T) {
	tests := []struct {
		name             string
		device           hwio.PowerLimits
		minW, maxW       int
		wantMin, wantMax int
	}{
		{"device inside configured range", hwio.PowerLimits{Min: 80, Max: 120}, 60, 140, 80, 120},
		{"device wider than configured range", hwio.PowerLimits{Min: 40, Max: 175}, 60, 140, 60, 140},
		{"only the ceiling tightens", hwio.PowerLimits{Min: 40, Max: 115}, 60, 140, 60, 115},
		{"unqueried device keeps config", hwio.PowerLimits{}, 60, 140, 60, 140},
		{"inverted device envelope keeps config", hwio.PowerLimits{Min: 120, Max: 80}, 60, 140, 60, 140},
		{"disjoint device envelope keeps config", hwio.PowerLimits{Min: 20, Max: 40}, 60, 140, 60, 140},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotMin, gotMax := tt.device.Narrow(tt.minW, tt.maxW)
			assert.Equal(t, tt.wantMin, gotMin)
			assert.Equal(t, tt.wantMax, gotMax)
		})
	}
}
