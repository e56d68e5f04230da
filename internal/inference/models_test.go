package inference

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupModel(t *testing.T) {
	m, err := LookupModel(DefaultModelID)
	require.NoError(t, err)
	assert.Equal(t, 4, m.Scale)

	m, err = LookupModel("RealESRGAN_x2plus")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Scale)

	_, err = LookupModel("realesrgan_x4plus")
	assert.Error(t, err, "ids are case sensitive")
}

func TestModelIDs(t *testing.T) {
	ids := ModelIDs()
	require.Len(t, ids, len(UpscalingModels))
	assert.Equal(t, DefaultModelID, ids[0])
	assert.Equal(t, []string{
		"RealESRGAN_x4plus",
		"RealESRGAN_x2plus",
		"RealESRGAN_x4plus_anime_6B",
		"RealESRNet_x4plus",
	}, ids)
}

func TestTopologyFor(t *testing.T) {
	tests := []struct {
		id   string
		want Topology
	}{
		{"RealESRGAN_x4plus", Topology{NumBlock: 23, NumFeat: 64, NumGrowCh: 32}},
		{"RealESRGAN_x4plus_anime_6B", Topology{NumBlock: 6, NumFeat: 64, NumGrowCh: 32}},
		{"Custom_ANIME", Topology{NumBlock: 6, NumFeat: 64, NumGrowCh: 32}},
		{"RealESRNet_x4plus", Topology{NumBlock: 23, NumFeat: 64, NumGrowCh: 32}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TopologyFor(tt.id), tt.id)
	}
}

func TestEstimateMemory(t *testing.T) {
	tests := []struct {
		name        string
		w, h, scale int
		availableGB float64
		wantSafe    bool
	}{
		{"small frame plenty of memory", 640, 360, 4, 16, true},
		{"small frame little memory", 640, 360, 4, 2, false},
		{"4k frame at x4", 3840, 2160, 4, 8, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			est := estimateMemory(tt.w, tt.h, tt.scale, tt.availableGB)
			assert.Greater(t, est.EstimatedGB, 3.0, "model overhead dominates")
			assert.Equal(t, tt.availableGB, est.AvailableGB)
			assert.Equal(t, tt.wantSafe, est.RecommendedSafe)
		})
	}

	small := estimateMemory(640, 360, 2, 8)
	large := estimateMemory(640, 360, 4, 8)
	assert.Greater(t, large.EstimatedGB, small.EstimatedGB)
}
