package types

import (
	"strings"
)

type MimeType string
type SessionState string
type EncoderState string
type TrackKind string
type ProcessingStatus string
type FileExtension string

const (
	// container mime types, in order of preference
	MimeTypeWebMVP8Opus MimeType = "video/webm;codecs=vp8,opus"
	MimeTypeWebMVP9Opus MimeType = "video/webm;codecs=vp9,opus"
	MimeTypeWebM        MimeType = "video/webm"
	MimeTypeMP4         MimeType = "video/mp4"

	// session states
	SessionStateIdle      SessionState = "idle"
	SessionStateStarting  SessionState = "starting"
	SessionStateRecording SessionState = "recording"
	SessionStateStopping  SessionState = "stopping"
	SessionStateStopped   SessionState = "stopped"
	SessionStateFailed    SessionState = "failed"

	// encoder states
	EncoderStateInactive  EncoderState = "inactive"
	EncoderStateRecording EncoderState = "recording"

	// track kinds
	TrackKindAudio TrackKind = "audio"
	TrackKindVideo TrackKind = "video"

	// backend processing status
	ProcessingStatusProcessing ProcessingStatus = "PROCESSING"
	ProcessingStatusReady      ProcessingStatus = "READY"
	ProcessingStatusFailed     ProcessingStatus = "FAILED"

	// file extensions
	FileExtensionWebM FileExtension = ".webm"
	FileExtensionMP4  FileExtension = ".mp4"

	DefaultMimeType = MimeTypeWebM
	DefaultFilename = "recording.webm"
)

var (
	DefaultMimeTypes = []MimeType{
		MimeTypeWebMVP8Opus,
		MimeTypeWebMVP9Opus,
		MimeTypeWebM,
		MimeTypeMP4,
	}

	FileExtensionForBaseType = map[MimeType]FileExtension{
		MimeTypeWebM: FileExtensionWebM,
		MimeTypeMP4:  FileExtensionMP4,
	}

	// DefaultCodecs applies when a mime type carries no codecs parameter
	DefaultCodecs = map[MimeType][]string{
		MimeTypeWebM: {"vp8", "opus"},
		MimeTypeMP4:  {"h264", "aac"},
	}
)

// BaseType strips parameters, e.g. "video/webm;codecs=vp8,opus" -> "video/webm".
func (m MimeType) BaseType() MimeType {
	base, _, _ := strings.Cut(string(m), ";")
	return MimeType(strings.ToLower(strings.TrimSpace(base)))
}

// Codecs returns the codecs parameter, falling back to the container defaults.
func (m MimeType) Codecs() []string {
	_, params, _ := strings.Cut(string(m), ";")
	for _, param := range strings.Split(params, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(param), "=")
		if !ok || strings.ToLower(key) != "codecs" {
			continue
		}

		var codecs []string
		for _, c := range strings.Split(strings.Trim(value, `"`), ",") {
			if c = strings.ToLower(strings.TrimSpace(c)); c != "" {
				codecs = append(codecs, c)
			}
		}
		return codecs
	}

	return DefaultCodecs[m.BaseType()]
}

func (m MimeType) FileExtension() FileExtension {
	if ext, ok := FileExtensionForBaseType[m.BaseType()]; ok {
		return ext
	}
	return FileExtensionWebM
}

// IsTerminal reports whether a session in this state can only be left by starting a new one.
func (s SessionState) IsTerminal() bool {
	return s == SessionStateStopped || s == SessionStateFailed
}

// IsActive reports whether a session in this state owns capture resources.
func (s SessionState) IsActive() bool {
	return s == SessionStateStarting || s == SessionStateRecording || s == SessionStateStopping
}

func (p ProcessingStatus) IsFinal() bool {
	return p == ProcessingStatusReady || p == ProcessingStatusFailed
}
