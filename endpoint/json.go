package endpoint

import (
	"encoding/json"
	"io"
	"net/http"
)

// JSONRenderer serializes a value as JSON and writes it to the response.
//
// Content-Type is always set to "application/json".
//
// Values that are already encoded (string, []byte, json.RawMessage) are
// written verbatim.
//
// This renderer uses json.Encoder which appends a trailing newline.
type JSONRenderer struct {
	Status int
	Value  any

	// EncoderFactory optionally customizes encoder creation.
	// When nil, json.NewEncoder is used with HTML escaping disabled.
	EncoderFactory func(w io.Writer) *json.Encoder
}

func (jr *JSONRenderer) Render(w http.ResponseWriter, _ *http.Request) error {
	w.Header().Set("Content-Type", "application/json")

	status := jr.Status
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)

	switch v := jr.Value.(type) {
	case string:
		_, err := io.WriteString(w, v)
		return err
	case json.RawMessage:
		_, err := w.Write(v)
		return err
	case []byte:
		_, err := w.Write(v)
		return err
	}

	var enc *json.Encoder
	if jr.EncoderFactory != nil {
		enc = jr.EncoderFactory(w)
	} else {
		enc = json.NewEncoder(w)
		enc.SetEscapeHTML(false)
	}
	if enc == nil {
		// Treat a nil factory return as a programming error.
		return io.ErrUnexpectedEOF
	}
	return enc.Encode(jr.Value)
}
