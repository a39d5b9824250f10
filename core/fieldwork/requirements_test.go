package fieldwork

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequirements(t *testing.T) {
	v1 := Template{Kind: "photo", Version: "1.0.3"}
	v2 := Template{Kind: "photo", Version: "2.1.0"}

	t.Run("photo v1", func(t *testing.T) {
		req, err := ParseRequirements(v1, []byte(photoV1Requirements))
		require.NoError(t, err)
		assert.Equal(t, Requirements{MinWidth: 1920, MinHeight: 1080, GPSRequired: true, Count: 1}, req)
	})

	t.Run("photo v2 carries bearing", func(t *testing.T) {
		raw := `{"resolution":{"min_width":800,"min_height":600},"gps_required":false,"count":3,"bearing":{"degrees":90,"tolerance":15}}`
		req, err := ParseRequirements(v2, []byte(raw))
		require.NoError(t, err)
		require.NotNil(t, req.Bearing)
		assert.Equal(t, 90.0, req.Bearing.Degrees)
		assert.Equal(t, 3, req.Count)
	})

	rejects := []struct {
		name string
		tpl  Template
		raw  string
	}{
		{"v2 without bearing", v2, photoV1Requirements},
		{"v1 with bearing", v1, `{"resolution":{"min_width":800,"min_height":600},"gps_required":false,"count":1,"bearing":{"degrees":1,"tolerance":1}}`},
		{"unknown property", v1, `{"resolution":{"min_width":800,"min_height":600},"gps_required":false,"count":1,"fee_tier":"gold"}`},
		{"zero count", v1, `{"resolution":{"min_width":800,"min_height":600},"gps_required":false,"count":0}`},
		{"unknown kind", Template{Kind: "audio", Version: "1.0.0"}, photoV1Requirements},
		{"unsupported version", Template{Kind: "photo", Version: "3.0.0"}, photoV1Requirements},
		{"bad version", Template{Kind: "photo", Version: "latest"}, photoV1Requirements},
		{"not json", v1, `resolution=high`},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRequirements(tt.tpl, []byte(tt.raw))
			assert.ErrorIs(t, err, ErrInvalidRequirements)
		})
	}
}
