package call

// Entry points for actions taken on the OS call UI (notification buttons,
// native call screen). They share the application command paths but are
// ignored when no call exists.

func (h *Handler) HangUpFromCallUI() {
	if h.call == nil {
		h.log.WithField("method", "hangUpFromCallUI").Warn("no active call")
		return
	}
	h.HangUp()
}

func (h *Handler) ToggleMuteFromCallUI() {
	if h.call == nil {
		h.log.WithField("method", "toggleMuteFromCallUI").Warn("no active call")
		return
	}
	h.ToggleMute(!h.muted)
}

func (h *Handler) ToggleSpeakerFromCallUI() {
	if h.call == nil {
		h.log.WithField("method", "toggleSpeakerFromCallUI").Warn("no active call")
		return
	}
	h.ToggleSpeaker(!h.speakerOn)
}

// SetMutedFromCallUI applies an explicit mute state, as the native call
// screen reports it.
func (h *Handler) SetMutedFromCallUI(muted bool) {
	if h.call == nil {
		h.log.WithField("method", "setMutedFromCallUI").Warn("no active call")
		return
	}
	if muted == h.muted {
		return
	}
	h.ToggleMute(muted)
}

func (h *Handler) SendDigitsFromCallUI(digits string) {
	if err := h.SendDigits(digits); err != nil {
		h.log.WithField("method", "sendDigitsFromCallUI").WithError(err).Warn("digits not sent")
	}
}
