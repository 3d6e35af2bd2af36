package dto

// ConfigView is the runtime configuration as served by GET /api/config.
type ConfigView struct {
	MinBoxConfidence float64 `json:"minBoxConfidence"`
	Provider         string  `json:"provider"`
	LabelColor       string  `json:"labelColor"`
	DisplayWidth     int     `json:"displayWidth"`
	DisplayHeight    int     `json:"displayHeight"`
}

// ConfigPatch carries the fields a POST /api/config may change. Nil fields
// keep their current value.
type ConfigPatch struct {
	MinBoxConfidence *float64 `json:"minBoxConfidence,omitempty"`
	Provider         *string  `json:"provider,omitempty"`
	LabelColor       *string  `json:"labelColor,omitempty"`
	DisplayWidth     *int     `json:"displayWidth,omitempty"`
	DisplayHeight    *int     `json:"displayHeight,omitempty"`
}
