// Package wsproto defines the tagged-union wire messages exchanged over
// the session and node WebSocket connections, in the spirit of the
// original implementation's #[serde(tag = "type")] enums.
package wsproto

import "encoding/json"

// Session message type tags (client <-> scheduler, §6.1).
const (
	SessionTypeInit              = "session_init"
	SessionTypeAudioChunk        = "audio_chunk"
	SessionTypeManualCut         = "manual_cut"
	SessionTypeReady             = "ready"
	SessionTypeUtterance         = "utterance"
	SessionTypeTranslationResult = "translation_result"
	SessionTypeMissingResult     = "missing_result"
	SessionTypeAsrPartial        = "asr_partial"
	SessionTypeUiEvent           = "ui_event"
	SessionTypeError             = "error"
	SessionTypeClose             = "close"
)

// Envelope is the outer shape every session message shares: a discriminator
// plus a raw payload decoded according to Type.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// SessionInit is sent by the client as the first message on a session
// connection.
type SessionInit struct {
	ParticipantID  string   `json:"participant_id"`
	SourceLanguage string   `json:"source_language"`
	TargetLangs    []string `json:"target_languages"`
	RoomID         string   `json:"room_id,omitempty"`
	AuthToken      string   `json:"auth_token,omitempty"`
}

// Ready acknowledges a successful session_init.
type Ready struct {
	SessionID string `json:"session_id"`
}

// ManualCut tells the session actor to finalize the current utterance now,
// regardless of pause/max-duration triggers.
type ManualCut struct{}

// UtteranceNotice reports a finalized utterance back to the client (mostly
// diagnostic — the actual translation arrives as TranslationResult).
type UtteranceNotice struct {
	UtteranceID string `json:"utterance_id"`
	Trigger     string `json:"trigger"`
}

// TranslationResultMsg carries one completed job's result to the client.
type TranslationResultMsg struct {
	JobID          string `json:"job_id"`
	UtteranceID    string `json:"utterance_id"`
	UtteranceIndex int    `json:"utterance_index"`
	OriginalText   string `json:"original_text"`
	TranslatedText string `json:"translated_text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
	IsFinal        bool   `json:"is_final"`
	AudioURL       string `json:"audio_url,omitempty"`
}

// MissingResultMsg fills a gap in the utterance_index sequence: either a
// job completed with no text to deliver (CompletedNoText), or the
// reorder buffer gave up waiting for a still-missing index.
type MissingResultMsg struct {
	SessionID      string `json:"session_id"`
	UtteranceIndex int    `json:"utterance_index"`
	Reason         string `json:"reason"`
	CreatedAtMs    int64  `json:"created_at_ms"`
}

// AsrPartialMsg streams an interim (non-final) ASR transcript for the
// utterance currently in progress, ahead of its eventual translation_result.
type AsrPartialMsg struct {
	SessionID      string `json:"session_id"`
	UtteranceIndex int    `json:"utterance_index"`
	Text           string `json:"text"`
	IsFinal        bool   `json:"is_final"`
}

// UiEventMsg carries a diagnostic/progress event for client-side UI
// feedback (e.g. dispatch started, model loading, job stage transitions).
type UiEventMsg struct {
	SessionID      string `json:"session_id"`
	JobID          string `json:"job_id,omitempty"`
	UtteranceIndex int    `json:"utterance_index,omitempty"`
	Event          string `json:"event"`
	Status         string `json:"status,omitempty"`
	ElapsedMs      int64  `json:"elapsed_ms,omitempty"`
	ErrorCode      string `json:"error_code,omitempty"`
	Hint           string `json:"hint,omitempty"`
}

// ErrorMsg is the error envelope sent to a session or node on failure.
type ErrorMsg struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode wraps a payload in an Envelope and marshals it.
func Encode(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: msgType, Payload: raw})
}

// Decode unmarshals the outer envelope only; callers then unmarshal
// Payload according to Type.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
