package player

import (
	"fmt"
	"strings"
)

// ErrorCode is the decoder's classification of a playback failure.
type ErrorCode int

const (
	ErrUnspecified ErrorCode = iota
	ErrBehindLiveWindow
	ErrCleartextNotPermitted
	ErrMalformedPlaylist
	ErrUnsupportedFormat
	ErrSourceIO
	ErrBadHTTPStatus
	ErrNetworkConnectionFailed
	ErrNetworkTimeout
	ErrAudioTrackInit
	ErrDecoderInit
)

var codeNames = map[ErrorCode]string{
	ErrUnspecified:             "UNSPECIFIED",
	ErrBehindLiveWindow:        "BEHIND_LIVE_WINDOW",
	ErrCleartextNotPermitted:   "IO_CLEARTEXT_NOT_PERMITTED",
	ErrMalformedPlaylist:       "PARSING_MANIFEST_MALFORMED",
	ErrUnsupportedFormat:       "PARSING_CONTAINER_UNSUPPORTED",
	ErrSourceIO:                "IO_UNSPECIFIED",
	ErrBadHTTPStatus:           "IO_BAD_HTTP_STATUS",
	ErrNetworkConnectionFailed: "IO_NETWORK_CONNECTION_FAILED",
	ErrNetworkTimeout:          "IO_NETWORK_CONNECTION_TIMEOUT",
	ErrAudioTrackInit:          "AUDIO_TRACK_INIT_FAILED",
	ErrDecoderInit:             "DECODER_INIT_FAILED",
}

func (c ErrorCode) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return fmt.Sprintf("ERROR_%d", int(c))
}

// PlaybackError is reported by the decoder host through Engine.OnError.
type PlaybackError struct {
	Code    ErrorCode
	Message string
	Cause   error
}

func (e PlaybackError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if msg == "" {
		return e.Code.String()
	}
	return e.Code.String() + ": " + msg
}

func (e PlaybackError) Unwrap() error { return e.Cause }

// diagnostic is the full text used for message-based classification.
func (e PlaybackError) diagnostic() string {
	var b strings.Builder
	b.WriteString(e.Message)
	for err := e.Cause; err != nil; {
		b.WriteString(" | ")
		b.WriteString(err.Error())
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return b.String()
}

type errorClass int

const (
	classTerminal errorClass = iota
	classBehindLive
	classCleartext
	classMalformed
	classFormat
)

// classify maps an error onto the recovery chain. Codes win; for an
// unspecified code the decoder's message text is inspected.
func classify(e PlaybackError) errorClass {
	switch e.Code {
	case ErrBehindLiveWindow:
		return classBehindLive
	case ErrCleartextNotPermitted:
		return classCleartext
	case ErrMalformedPlaylist:
		return classMalformed
	case ErrUnsupportedFormat, ErrSourceIO, ErrBadHTTPStatus, ErrDecoderInit:
		return classFormat
	case ErrUnspecified:
	default:
		return classTerminal
	}
	d := e.diagnostic()
	switch {
	case strings.Contains(d, "Cleartext HTTP traffic"):
		return classCleartext
	case strings.Contains(d, "Input does not start with the #EXTM3U header"), strings.Contains(d, "contentIsMalformed=true"):
		return classMalformed
	case strings.Contains(d, "Format"), strings.Contains(d, "No decoder"):
		return classFormat
	}
	return classTerminal
}

// User-facing categories of a terminal error.
const (
	CategoryNetwork   = "network"
	CategoryFormat    = "format"
	CategoryAudioInit = "audio-init"
	CategoryGeneric   = "generic"
)

const (
	msgNetwork         = "Network error. Please check your connection."
	msgInsecure        = "Insecure connection not allowed. Try using an HTTPS stream or check app settings."
	msgInvalidStream   = "Invalid stream format. This stream may not be available."
	msgFormat          = "This media format is not supported on your device."
	msgFormatExhausted = "Unable to play this stream. Format not supported."
	msgAudioInit       = "Audio format not supported by your device."
)

// UserError is a terminal failure as shown to the viewer.
type UserError struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	// Diagnostic is the raw decoder error for logs.
	Diagnostic string `json:"diagnostic"`
}

func (e *UserError) Error() string { return e.Category + ": " + e.Message }

func userError(e PlaybackError) *UserError {
	ue := &UserError{Category: CategoryGeneric, Diagnostic: e.Error()}
	switch classify(e) {
	case classMalformed:
		ue.Category, ue.Message = CategoryFormat, msgInvalidStream
		return ue
	case classCleartext:
		ue.Category, ue.Message = CategoryNetwork, msgInsecure
		return ue
	case classFormat:
		ue.Category, ue.Message = CategoryFormat, msgFormat
		return ue
	}
	switch e.Code {
	case ErrNetworkConnectionFailed, ErrNetworkTimeout:
		ue.Category, ue.Message = CategoryNetwork, msgNetwork
	case ErrAudioTrackInit:
		ue.Category, ue.Message = CategoryAudioInit, msgAudioInit
	default:
		ue.Message = "Playback error: " + e.Code.String()
	}
	return ue
}
