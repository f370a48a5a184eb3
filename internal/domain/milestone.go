package domain

import "time"

// MilestoneStatus is the conversion gate state. It only moves forward.
type MilestoneStatus string

const (
	MilestoneDisabled MilestoneStatus = "disabled"
	MilestoneEnabled  MilestoneStatus = "enabled"
)

// MilestoneState is the process-wide conversion gate singleton.
type MilestoneState struct {
	Status        MilestoneStatus `db:"status" json:"status"`
	Threshold     int64           `db:"threshold" json:"threshold"`
	ObservedCount int64           `db:"observed_count" json:"observed_count"`
	EnabledAt     *time.Time      `db:"enabled_at" json:"enabled_at,omitempty"`
}

func (m *MilestoneState) Enabled() bool {
	return m != nil && m.Status == MilestoneEnabled
}
