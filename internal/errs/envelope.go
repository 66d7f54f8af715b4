package errs

// Envelope is the caller-facing shape of an Error (spec.md §6 response
// envelope's `error` field). For Internal errors the message is replaced
// with a generic string — the real message belongs in the server log,
// not the response — matching spec.md §7's "generic message; full detail
// logged" rule.
type Envelope struct {
	Tag     Tag            `json:"tag"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ToEnvelope renders e into the caller-facing shape.
func (e *Error) ToEnvelope() Envelope {
	msg := e.Message
	if e.Tag == Internal {
		msg = "an internal error occurred"
	}
	return Envelope{Tag: e.Tag, Code: e.Code, Message: msg, Details: e.Details}
}
