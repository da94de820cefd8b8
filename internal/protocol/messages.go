package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// MessageType identifies message payload variants on the control channel.
type MessageType string

const (
	TypeGenerateAudio         MessageType = "GENERATE_AUDIO"
	TypeCancelAudioGeneration MessageType = "CANCEL_AUDIO_GENERATION"
	TypeAudioReady            MessageType = "AUDIO_READY"
	TypeLoadAudio             MessageType = "LOAD_AUDIO"
	TypePlayAudio             MessageType = "PLAY_AUDIO"
	TypeAudioPause            MessageType = "AUDIO_PAUSE"
	TypeAudioResume           MessageType = "AUDIO_RESUME"
	TypeAudioStop             MessageType = "AUDIO_STOP"
	TypeAudioSeek             MessageType = "AUDIO_SEEK"
	TypeAudioSetRate          MessageType = "AUDIO_SET_RATE"
	TypeAudioSetVolume        MessageType = "AUDIO_SET_VOLUME"
	TypeGetAudioState         MessageType = "GET_AUDIO_STATE"
	TypeAudioStateUpdate      MessageType = "AUDIO_STATE_UPDATE"
	TypeAudioTimeUpdate       MessageType = "AUDIO_TIME_UPDATE"
	TypeAudioPlaying          MessageType = "AUDIO_PLAYING"
	TypeKeepAlivePing         MessageType = "KEEP_ALIVE_PING"
)

var ErrUnsupportedType = errors.New("unsupported message type")

type Envelope struct {
	Type MessageType `json:"type"`
}

// Request-style messages. Every one expects exactly one Response.

type GenerateAudio struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"jobId"`
}

type CancelAudioGeneration struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"jobId"`
}

type LoadAudio struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"jobId"`
	Force bool        `json:"forceLoad,omitempty"`
}

type PlayAudio struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"jobId"`
}

type AudioPause struct {
	Type MessageType `json:"type"`
}

type AudioResume struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"jobId,omitempty"`
}

type AudioStop struct {
	Type MessageType `json:"type"`
}

type AudioSeek struct {
	Type MessageType `json:"type"`
	Time float64     `json:"time"`
}

type AudioSetRate struct {
	Type MessageType `json:"type"`
	Rate float64     `json:"rate"`
}

type AudioSetVolume struct {
	Type   MessageType `json:"type"`
	Volume float64     `json:"volume"`
}

type GetAudioState struct {
	Type MessageType `json:"type"`
}

// Broadcast-style messages. Best-effort, no response expected; observers
// treat the most recent GET_AUDIO_STATE response as authoritative over any
// stale broadcast.

type AudioReady struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"jobId"`
}

type AudioStateUpdate struct {
	Type        MessageType `json:"type"`
	State       string      `json:"state"`
	JobID       string      `json:"jobId,omitempty"`
	CurrentTime float64     `json:"currentTime"`
	Duration    float64     `json:"duration"`
}

type AudioTimeUpdate struct {
	Type        MessageType `json:"type"`
	JobID       string      `json:"jobId,omitempty"`
	CurrentTime float64     `json:"currentTime"`
	Duration    float64     `json:"duration"`
}

type AudioPlaying struct {
	Type  MessageType `json:"type"`
	JobID string      `json:"jobId"`
}

type KeepAlivePing struct {
	Type    MessageType `json:"type"`
	Counter int         `json:"counter"`
}

// PlaybackState is the authoritative playback host snapshot.
type PlaybackState struct {
	LoadedJobID  string  `json:"loadedJobId"`
	Playing      bool    `json:"playing"`
	CurrentTime  float64 `json:"currentTime"`
	Duration     float64 `json:"duration"`
	PlaybackRate float64 `json:"playbackRate"`
	Volume       float64 `json:"volume"`
}

// Response is the single success/error envelope for request-style messages.
type Response struct {
	OK        bool           `json:"ok"`
	Error     string         `json:"error,omitempty"`
	Completed bool           `json:"completed,omitempty"`
	Cancelled bool           `json:"cancelled,omitempty"`
	Message   string         `json:"message,omitempty"`
	JobID     string         `json:"jobId,omitempty"`
	State     *PlaybackState `json:"state,omitempty"`
}

func OK() Response                { return Response{OK: true} }
func Fail(err error) Response     { return Response{OK: false, Error: err.Error()} }
func FailMsg(msg string) Response { return Response{OK: false, Error: msg} }
func Completed(jobID string) Response {
	return Response{OK: true, Completed: true, JobID: jobID}
}

// ParseClientMessage decodes an inbound request-style message by its
// envelope type and validates required fields.
func ParseClientMessage(raw []byte) (any, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("invalid envelope: %w", err)
	}

	switch env.Type {
	case TypeGenerateAudio:
		var msg GenerateAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.JobID) == "" {
			return nil, errors.New("invalid GENERATE_AUDIO: jobId is required")
		}
		return msg, nil
	case TypeCancelAudioGeneration:
		var msg CancelAudioGeneration
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.JobID) == "" {
			return nil, errors.New("invalid CANCEL_AUDIO_GENERATION: jobId is required")
		}
		return msg, nil
	case TypeLoadAudio:
		var msg LoadAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.JobID) == "" {
			return nil, errors.New("invalid LOAD_AUDIO: jobId is required")
		}
		return msg, nil
	case TypePlayAudio:
		var msg PlayAudio
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if strings.TrimSpace(msg.JobID) == "" {
			return nil, errors.New("invalid PLAY_AUDIO: jobId is required")
		}
		return msg, nil
	case TypeAudioPause:
		var msg AudioPause
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioResume:
		var msg AudioResume
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioStop:
		var msg AudioStop
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioSeek:
		var msg AudioSeek
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	case TypeAudioSetRate:
		var msg AudioSetRate
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Rate <= 0 {
			return nil, errors.New("invalid AUDIO_SET_RATE: rate must be positive")
		}
		return msg, nil
	case TypeAudioSetVolume:
		var msg AudioSetVolume
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		if msg.Volume < 0 {
			return nil, errors.New("invalid AUDIO_SET_VOLUME: volume must not be negative")
		}
		return msg, nil
	case TypeGetAudioState:
		var msg GetAudioState
		if err := json.Unmarshal(raw, &msg); err != nil {
			return nil, err
		}
		return msg, nil
	default:
		return nil, ErrUnsupportedType
	}
}
