package bridge

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sweeney/voip-mqtt/internal/call"
)

// Error codes returned to the application.
const (
	CodeInvalidOptions       = "INVALID_OPTIONS"
	CodeCallAlreadyActive    = "CALL_ALREADY_ACTIVE"
	CodeConnectError         = "CONNECT_ERROR"
	CodeHangUpError          = "HANGUP_ERROR"
	CodeMuteError            = "MUTE_ERROR"
	CodeSpeakerError         = "SPEAKER_ERROR"
	CodeInvalidDigits        = "INVALID_DIGITS"
	CodeNoCall               = "NO_CALL"
	CodeDigitsError          = "DIGITS_ERROR"
	CodeSIDError             = "SID_ERROR"
	CodeMethodNotImplemented = "METHOD_NOT_IMPLEMENTED"
	CodeInvalidRequest       = "INVALID_REQUEST"
)

// Request is a method call from the application.
type Request struct {
	ID     string                     `json:"id"`
	Method string                     `json:"method"`
	Args   map[string]json.RawMessage `json:"args,omitempty"`
}

// Response answers a Request. Result is null on success for methods
// without a value.
type Response struct {
	ID     string `json:"id"`
	Result any    `json:"result"`
	Error  *Error `json:"error,omitempty"`
}

// Error is a failed method call.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// fallbackCodes are used when a method could not reach the main sequence.
var fallbackCodes = map[string]string{
	"connect":       CodeConnectError,
	"hangUp":        CodeHangUpError,
	"toggleMute":    CodeMuteError,
	"toggleSpeaker": CodeSpeakerError,
	"sendDigits":    CodeDigitsError,
	"getSid":        CodeSIDError,
}

// Dispatch runs req on the main sequence and builds the response.
func (b *Bridge) Dispatch(ctx context.Context, req Request) Response {
	log := b.log.WithField("method", req.Method)
	fallback, ok := fallbackCodes[req.Method]
	if !ok {
		log.Warn("method not implemented")
		return failure(req, CodeMethodNotImplemented, "method "+req.Method+" is not implemented")
	}

	var result any
	var err error
	execErr := b.exec.Do(ctx, func() {
		switch req.Method {
		case "connect":
			err = b.calls.Connect(stringArg(req.Args, "from"), stringArg(req.Args, "to"), stringArg(req.Args, "token"))
		case "hangUp":
			b.calls.HangUp()
		case "toggleMute":
			b.calls.ToggleMute(boolArg(req.Args, "isMuted"))
		case "toggleSpeaker":
			b.calls.ToggleSpeaker(boolArg(req.Args, "isSpeakerOn"))
		case "sendDigits":
			err = b.calls.SendDigits(stringArg(req.Args, "digits"))
		case "getSid":
			if sid, ok := b.calls.SID(); ok {
				result = sid
			}
		}
	})
	if execErr != nil {
		log.WithError(execErr).Error("main sequence unavailable")
		return failure(req, fallback, execErr.Error())
	}
	if err != nil {
		code := errorCode(err, fallback)
		var te *call.TransportError
		if errors.As(err, &te) {
			log = log.WithField("op", te.Op)
		}
		log.WithError(err).WithField("code", code).Warn("method failed")
		return failure(req, code, err.Error())
	}
	return Response{ID: req.ID, Result: result}
}

func errorCode(err error, fallback string) string {
	switch {
	case errors.Is(err, call.ErrInvalidArguments):
		return CodeInvalidOptions
	case errors.Is(err, call.ErrCallAlreadyActive):
		return CodeCallAlreadyActive
	case errors.Is(err, call.ErrInvalidDigits):
		return CodeInvalidDigits
	case errors.Is(err, call.ErrNoActiveCall):
		return CodeNoCall
	default:
		return fallback
	}
}

func failure(req Request, code, msg string) Response {
	return Response{ID: req.ID, Error: &Error{Code: code, Message: msg}}
}

// stringArg returns args[key] as a string, or "" when missing or not a
// string.
func stringArg(args map[string]json.RawMessage, key string) string {
	var s string
	if raw, ok := args[key]; ok {
		_ = json.Unmarshal(raw, &s)
	}
	return s
}

// boolArg returns args[key] as a bool, defaulting to false.
func boolArg(args map[string]json.RawMessage, key string) bool {
	var v bool
	if raw, ok := args[key]; ok {
		_ = json.Unmarshal(raw, &v)
	}
	return v
}
