// Package embed speaks the remote-control protocol of the third-party video
// widget: outbound commands are fire-and-forget postMessage payloads and
// inbound events carry player state and position.
package embed

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

type Func string

const (
	FuncPlay      Func = "playVideo"
	FuncPause     Func = "pauseVideo"
	FuncSeek      Func = "seekTo"
	FuncSetVolume Func = "setVolume"
	FuncSetRate   Func = "setPlaybackRate"
	FuncMute      Func = "mute"
	FuncUnMute    Func = "unMute"
)

func (f Func) valid() bool {
	switch f {
	case FuncPlay, FuncPause, FuncSeek, FuncSetVolume, FuncSetRate, FuncMute, FuncUnMute:
		return true
	}
	return false
}

// Command is the outbound wire form.
type Command struct {
	Event string `json:"event"`
	Func  Func   `json:"func"`
	Args  []any  `json:"args"`
}

func NewCommand(fn Func, args ...any) Command {
	if args == nil {
		args = []any{}
	}
	return Command{Event: "command", Func: fn, Args: args}
}

type handshake struct {
	Event   string `json:"event"`
	ID      string `json:"id"`
	Channel string `json:"channel"`
}

// PlayerState is the embed's numeric player state.
type PlayerState int

const (
	PlayerUnstarted PlayerState = -1
	PlayerEnded     PlayerState = 0
	PlayerPlaying   PlayerState = 1
	PlayerPaused    PlayerState = 2
	PlayerBuffering PlayerState = 3
	PlayerCued      PlayerState = 5
)

type EventKind int

const (
	EventReady EventKind = iota + 1
	EventProgress
	EventStateChange
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReady:
		return "ready"
	case EventProgress:
		return "progress"
	case EventStateChange:
		return "state_change"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is a validated inbound notification. Has* flags tell which of the
// optional fields the embed actually sent.
type Event struct {
	Kind        EventKind
	State       PlayerState
	HasState    bool
	CurrentTime float64
	HasTime     bool
	Duration    float64
	HasDuration bool
	ErrorCode   int
}

var ErrUnrecognized = errors.New("unrecognized embed payload")

type envelope struct {
	Event string          `json:"event"`
	Info  json.RawMessage `json:"info"`

	PlayerState *float64 `json:"playerState"`
	CurrentTime *float64 `json:"currentTime"`
	Duration    *float64 `json:"duration"`
}

type progressInfo struct {
	PlayerState *float64 `json:"playerState"`
	CurrentTime *float64 `json:"currentTime"`
	Duration    *float64 `json:"duration"`
}

// ParseEvent decodes one inbound payload. Payloads may be a JSON object, a
// bare number meaning current time, or either of those wrapped in a JSON
// string.
func ParseEvent(data []byte) (Event, error) {
	return parseEvent(bytes.TrimSpace(data), true)
}

func parseEvent(data []byte, unwrap bool) (Event, error) {
	if len(data) == 0 {
		return Event{}, ErrUnrecognized
	}

	switch data[0] {
	case '"':
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil || !unwrap {
			return Event{}, ErrUnrecognized
		}
		inner = strings.TrimSpace(inner)
		if t, err := strconv.ParseFloat(inner, 64); err == nil {
			return timeEvent(t)
		}
		return parseEvent([]byte(inner), false)
	case '{':
		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Event{}, ErrUnrecognized
		}
		return fromEnvelope(env)
	default:
		var t float64
		if err := json.Unmarshal(data, &t); err != nil {
			return Event{}, ErrUnrecognized
		}
		return timeEvent(t)
	}
}

func timeEvent(t float64) (Event, error) {
	if t < 0 {
		return Event{}, ErrUnrecognized
	}
	return Event{Kind: EventProgress, CurrentTime: t, HasTime: true}, nil
}

func fromEnvelope(env envelope) (Event, error) {
	switch env.Event {
	case "onReady":
		return Event{Kind: EventReady}, nil

	case "initialDelivery", "infoDelivery", "video-progress":
		ev := Event{Kind: EventProgress}
		applyProgress(&ev, progressInfo{env.PlayerState, env.CurrentTime, env.Duration})
		if len(env.Info) > 0 && env.Info[0] == '{' {
			var info progressInfo
			if err := json.Unmarshal(env.Info, &info); err == nil {
				applyProgress(&ev, info)
			}
		}
		if !ev.HasState && !ev.HasTime && !ev.HasDuration {
			return Event{}, ErrUnrecognized
		}
		return ev, nil

	case "onStateChange":
		var state float64
		if err := json.Unmarshal(env.Info, &state); err == nil {
			return Event{Kind: EventStateChange, State: PlayerState(state), HasState: true}, nil
		}
		var info progressInfo
		if err := json.Unmarshal(env.Info, &info); err == nil && info.PlayerState != nil {
			ev := Event{Kind: EventStateChange}
			applyProgress(&ev, info)
			return ev, nil
		}
		return Event{}, ErrUnrecognized

	case "onError":
		var code float64
		_ = json.Unmarshal(env.Info, &code)
		return Event{Kind: EventError, ErrorCode: int(code)}, nil
	}
	return Event{}, ErrUnrecognized
}

func applyProgress(ev *Event, info progressInfo) {
	if info.PlayerState != nil {
		ev.State = PlayerState(*info.PlayerState)
		ev.HasState = true
	}
	if info.CurrentTime != nil && *info.CurrentTime >= 0 {
		ev.CurrentTime = *info.CurrentTime
		ev.HasTime = true
	}
	if info.Duration != nil && *info.Duration >= 0 {
		ev.Duration = *info.Duration
		ev.HasDuration = true
	}
}
