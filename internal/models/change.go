package models

// AttributeOp is the kind of mutation inside an AttributeChange.
type AttributeOp string

// Supported attribute operations.
const (
	AttributeSet    AttributeOp = "set"
	AttributeRemove AttributeOp = "remove"
)

// AttributeChange is one entry of a change set applied to an asset's
// attribute bag. Changes that leave the bag unmodified are no-ops and
// must not advance the asset's last-updated time.
type AttributeChange struct {
	Op    AttributeOp `json:"op"`
	Key   string      `json:"key"`
	Value any         `json:"value,omitempty"`
}
