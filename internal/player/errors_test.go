package player

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  PlaybackError
		want errorClass
	}{
		{"behind live", PlaybackError{Code: ErrBehindLiveWindow}, classBehindLive},
		{"cleartext code", PlaybackError{Code: ErrCleartextNotPermitted}, classCleartext},
		{"cleartext message", PlaybackError{Cause: fmt.Errorf("source: %w", errors.New("Cleartext HTTP traffic to x not permitted"))}, classCleartext},
		{"malformed code", PlaybackError{Code: ErrMalformedPlaylist}, classMalformed},
		{"malformed message", PlaybackError{Message: "Input does not start with the #EXTM3U header"}, classMalformed},
		{"malformed flag", PlaybackError{Message: "contentIsMalformed=true, dataType=4"}, classMalformed},
		{"format code", PlaybackError{Code: ErrUnsupportedFormat}, classFormat},
		{"source io", PlaybackError{Code: ErrSourceIO}, classFormat},
		{"bad status", PlaybackError{Code: ErrBadHTTPStatus}, classFormat},
		{"no decoder", PlaybackError{Message: "No decoder for video/hevc"}, classFormat},
		{"network", PlaybackError{Code: ErrNetworkConnectionFailed, Message: "Format"}, classTerminal},
		{"unknown", PlaybackError{Message: "boom"}, classTerminal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.err))
		})
	}
}

func TestUserError(t *testing.T) {
	tests := []struct {
		err      PlaybackError
		category string
		message  string
	}{
		{PlaybackError{Code: ErrNetworkTimeout}, CategoryNetwork, msgNetwork},
		{PlaybackError{Code: ErrAudioTrackInit}, CategoryAudioInit, msgAudioInit},
		{PlaybackError{Code: ErrUnsupportedFormat}, CategoryFormat, msgFormat},
		{PlaybackError{Code: ErrMalformedPlaylist}, CategoryFormat, msgInvalidStream},
		{PlaybackError{Code: ErrCleartextNotPermitted}, CategoryNetwork, msgInsecure},
		{PlaybackError{Code: ErrBehindLiveWindow}, CategoryGeneric, "Playback error: BEHIND_LIVE_WINDOW"},
	}
	for _, tt := range tests {
		ue := userError(tt.err)
		assert.Equal(t, tt.category, ue.Category, tt.err.Code.String())
		assert.Equal(t, tt.message, ue.Message)
		assert.Equal(t, tt.err.Error(), ue.Diagnostic)
	}
}
