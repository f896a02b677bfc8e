package model

// ProgressEvent is one push-delivered status update for a running check.
// Events are ephemeral: they are not persisted beyond the check's lifetime.
// Sequence numbers strictly increase per check so subscribers can detect
// and ignore out-of-order or duplicate delivery.
type ProgressEvent struct {
	CheckID string `json:"check_id"`
	Stage   string `json:"stage"`
	Percent int    `json:"percent"`
	Message string `json:"message"`
	Seq     int    `json:"seq"`
}
