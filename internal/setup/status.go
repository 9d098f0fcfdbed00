// Package setup tracks how far installation has progressed.
//
// The install state is one of three variants. Only the latter two carry
// settings, so a status without settings cannot claim to be configured.
//
//	NotSetup -> InProgress(settings) -> Setup(settings)
package setup

import "grimm.is/hmdl/internal/state"

// Status is the derived installation status.
type Status interface {
	// Rank orders the variants; transitions only move to a higher rank.
	Rank() int
	String() string
	isStatus()
}

// NotSetup means no settings row exists yet.
type NotSetup struct{}

// InProgress means settings exist but HTTPS has never started.
type InProgress struct {
	Settings state.Settings
}

// Setup means HTTPS has started at least once.
type Setup struct {
	Settings state.Settings
}

func (NotSetup) Rank() int   { return 0 }
func (InProgress) Rank() int { return 1 }
func (Setup) Rank() int      { return 2 }

func (NotSetup) String() string   { return "Not Setup" }
func (InProgress) String() string { return "In Progress" }
func (Setup) String() string      { return "Setup" }

func (NotSetup) isStatus()   {}
func (InProgress) isStatus() {}
func (Setup) isStatus()      {}

// Classify derives the status from the stored settings (nil when absent).
func Classify(st *state.Settings) Status {
	switch {
	case st == nil:
		return NotSetup{}
	case st.HTTPSStarted:
		return Setup{Settings: *st}
	default:
		return InProgress{Settings: *st}
	}
}

// SettingsOf returns the settings carried by s, if any.
func SettingsOf(s Status) (state.Settings, bool) {
	switch v := s.(type) {
	case InProgress:
		return v.Settings, true
	case Setup:
		return v.Settings, true
	}
	return state.Settings{}, false
}
