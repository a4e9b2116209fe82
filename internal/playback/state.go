// Package playback owns the logical playback state of one viewing session and
// drives the embedded player through the embed command channel.
package playback

type State int

const (
	Uninitialized State = iota
	Loading
	Ready
	Playing
	Paused
	Buffering
	Ended
	Error
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Buffering:
		return "buffering"
	case Ended:
		return "ended"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Commands other than play and pause only make sense once the embed is up.
func (s State) acceptsCommands() bool {
	switch s {
	case Ready, Playing, Paused, Buffering:
		return true
	}
	return false
}

type Trigger int

const (
	TriggerEmbedCreated Trigger = iota + 1
	TriggerReady
	TriggerLoadError
	TriggerPlay
	TriggerPause
	TriggerBuffering
	TriggerResumed
	TriggerEnded
	// TriggerFault covers embed error events and unrecoverable session
	// failures such as a refused token.
	TriggerFault
	TriggerSelectLesson
)

func (t Trigger) String() string {
	switch t {
	case TriggerEmbedCreated:
		return "embed_created"
	case TriggerReady:
		return "ready"
	case TriggerLoadError:
		return "load_error"
	case TriggerPlay:
		return "play"
	case TriggerPause:
		return "pause"
	case TriggerBuffering:
		return "buffering"
	case TriggerResumed:
		return "resumed"
	case TriggerEnded:
		return "ended"
	case TriggerFault:
		return "fault"
	case TriggerSelectLesson:
		return "select_lesson"
	default:
		return "unknown"
	}
}

var transitions = map[State]map[Trigger]State{
	Uninitialized: {TriggerEmbedCreated: Loading},
	Loading: {
		TriggerReady:     Ready,
		TriggerLoadError: Error,
	},
	Ready: {TriggerPlay: Playing},
	Playing: {
		TriggerPause:     Paused,
		TriggerBuffering: Buffering,
		TriggerEnded:     Ended,
	},
	Paused: {
		TriggerPlay:      Playing,
		TriggerBuffering: Buffering,
	},
	Buffering: {
		TriggerResumed: Playing,
		TriggerPause:   Paused,
		TriggerEnded:   Ended,
	},
}

// Next returns the state reached from `from` on t, or false when t is not
// accepted there. Faults and lesson selection apply from any state.
func Next(from State, t Trigger) (State, bool) {
	switch t {
	case TriggerFault:
		return Error, true
	case TriggerSelectLesson:
		return Uninitialized, true
	}
	to, ok := transitions[from][t]
	return to, ok
}
