package inference

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultModelID is used when a request names no model.
const DefaultModelID = "RealESRGAN_x4plus"

// Model describes a super-resolution model the engine can load.
type Model struct {
	ID          string
	Scale       int
	WeightsURL  string
	Description string
}

// Topology is the residual-in-residual dense block layout of a model.
type Topology struct {
	NumBlock  int
	NumFeat   int
	NumGrowCh int
}

// UpscalingModels lists the supported models keyed by id.
var UpscalingModels = map[string]Model{
	"RealESRGAN_x4plus": {
		ID:          "RealESRGAN_x4plus",
		Scale:       4,
		WeightsURL:  "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.1.0/RealESRGAN_x4plus.pth",
		Description: "General purpose, best quality/performance balance",
	},
	"RealESRGAN_x2plus": {
		ID:          "RealESRGAN_x2plus",
		Scale:       2,
		WeightsURL:  "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.2.1/RealESRGAN_x2plus.pth",
		Description: "Lighter upscaling",
	},
	"RealESRNet_x4plus": {
		ID:          "RealESRNet_x4plus",
		Scale:       4,
		WeightsURL:  "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.1.1/RealESRNet_x4plus.pth",
		Description: "Cleaner, less aggressive enhancement",
	},
	"RealESRGAN_x4plus_anime_6B": {
		ID:          "RealESRGAN_x4plus_anime_6B",
		Scale:       4,
		WeightsURL:  "https://github.com/xinntao/Real-ESRGAN/releases/download/v0.2.2.4/RealESRGAN_x4plus_anime_6B.pth",
		Description: "Optimized for anime/cartoon content",
	},
}

// LookupModel returns the model for id.
func LookupModel(id string) (Model, error) {
	m, ok := UpscalingModels[id]
	if !ok {
		return Model{}, fmt.Errorf("unknown model %q (available: %s)", id, strings.Join(ModelIDs(), ", "))
	}
	return m, nil
}

// ModelIDs returns the supported ids, default first then alphabetical.
func ModelIDs() []string {
	ids := make([]string, 0, len(UpscalingModels))
	for id := range UpscalingModels {
		if id != DefaultModelID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return append([]string{DefaultModelID}, ids...)
}

// TopologyFor derives the network layout from the model id. Anime models
// use the 6-block variant.
func TopologyFor(id string) Topology {
	t := Topology{NumBlock: 23, NumFeat: 64, NumGrowCh: 32}
	if strings.Contains(strings.ToLower(id), "anime") {
		t.NumBlock = 6
	}
	return t
}
