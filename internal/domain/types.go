package domain

// Segment is one timed unit of recognized text produced by the engine.
// Start and end are absolute offsets into the source media, in seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// ClipRange restricts transcription to a sub-range of the input media.
type ClipRange struct {
	StartSec float64
	EndSec   float64
	HasEnd   bool
}

// ModelOption describes one selectable whisper model preset.
type ModelOption struct {
	Name   string `json:"name"`
	SizeMB int    `json:"size_mb"`
}

// UsageInfo reports current compute utilization for the active device.
// Percent is nil when the probe failed or timed out.
type UsageInfo struct {
	Type    string `json:"type"`
	Percent *int   `json:"percent"`
}

// HealthInfo is the health endpoint response body.
type HealthInfo struct {
	Status        string `json:"status"`
	CUDAAvailable bool   `json:"cuda_available"`
	GPUName       string `json:"gpu_name"`
	ModelLoaded   string `json:"model_loaded"`
}
