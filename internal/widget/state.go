package widget

// State is the lifecycle state of the call widget.
type State string

const (
	StateNotLoaded   State = "not-loaded"
	StateIdle        State = "idle"
	StateConnecting  State = "connecting"
	StateActive      State = "active"
	StateActiveMuted State = "active-muted"
	StateError       State = "error"
)

// Messages shown to the user. They are fixed; details go to the log.
const (
	MsgScriptLoad = "Failed to load SDK"
	MsgClientInit = "Failed to initialize voice AI"
	MsgCallStart  = "Failed to start call. Please check your configuration."
	MsgCallFailed = "Call failed. Please try again."
)

// CanBeginCall reports whether a new call may be requested. The error state
// never blocks a retry.
func (s State) CanBeginCall() bool { return s == StateIdle || s == StateError }

// InCall reports whether a call is live.
func (s State) InCall() bool { return s == StateActive || s == StateActiveMuted }

// Loaded reports whether the SDK is ready, i.e. controls may be shown.
func (s State) Loaded() bool { return s != StateNotLoaded }

// Controls lists what the widget renders and which actions are clickable.
type Controls struct {
	Spinner      bool `json:"spinner"`
	BeginCall    bool `json:"begin_call"`
	CallDisabled bool `json:"call_disabled"`
	EndCall      bool `json:"end_call"`
	ToggleMute   bool `json:"toggle_mute"`
}

// Snapshot is the rendered view of the widget. Seq increases with every
// published change so consumers can drop stale copies.
type Snapshot struct {
	Seq      uint64   `json:"seq"`
	State    State    `json:"state"`
	Muted    bool     `json:"muted"`
	Loading  bool     `json:"loading"`
	Error    string   `json:"error,omitempty"`
	CallID   string   `json:"call_id,omitempty"`
	Controls Controls `json:"controls"`
}

func controlsFor(s State) Controls {
	switch s {
	case StateNotLoaded:
		return Controls{Spinner: true}
	case StateIdle, StateError:
		return Controls{BeginCall: true}
	case StateConnecting:
		return Controls{Spinner: true, CallDisabled: true}
	case StateActive, StateActiveMuted:
		return Controls{EndCall: true, ToggleMute: true}
	}
	return Controls{}
}
