package jsonrpc

import (
	"bytes"
	"encoding/json"
	"errors"
	"sync"
)

// Version is the default protocol version.
const Version = "2.0"

var errNotObject = errors.New("request must be a JSON object")

// Request is one parsed call of a batch.
//
// ID is nil when the caller omitted it. Numeric ids are json.Number so they
// are echoed back exactly as sent.
type Request struct {
	ID      any             `json:"id,omitempty"`
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// parseRequest decodes a single batch element. The id is recovered even if
// other members are malformed, so that the error envelope can carry it.
func parseRequest(raw json.RawMessage) (*Request, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return &Request{}, errNotObject
	}

	var members map[string]json.RawMessage
	if err := json.Unmarshal(raw, &members); err != nil {
		return &Request{}, err
	}

	req := &Request{}
	if rawID, ok := members["id"]; ok {
		id, err := decodeID(rawID)
		if err != nil {
			return req, err
		}
		req.ID = id
	}
	if v, ok := members["jsonrpc"]; ok {
		if err := json.Unmarshal(v, &req.JSONRPC); err != nil {
			return req, err
		}
	}
	if v, ok := members["method"]; ok {
		if err := json.Unmarshal(v, &req.Method); err != nil {
			return req, err
		}
	}
	if v, ok := members["params"]; ok && !bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		req.Params = v
	}
	return req, nil
}

func decodeID(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var id any
	if err := dec.Decode(&id); err != nil {
		return nil, err
	}
	return id, nil
}

// Response is the envelope for one call: either a result or an error.
//
// AfterCall hooks of the same stage run concurrently; hooks that change a
// Response should do so through Modify.
type Response struct {
	ID      any
	JSONRPC string
	Result  any
	Error   *Error

	mu sync.Mutex
}

// Modify runs fn while holding the response lock.
func (r *Response) Modify(fn func(r *Response)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

// MarshalJSON emits {id, jsonrpc, result} on success and {id?, error} on
// failure. A successful result is always present, even when null.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.Error != nil {
		return json.Marshal(struct {
			ID    any    `json:"id,omitempty"`
			Error *Error `json:"error"`
		}{r.ID, r.Error})
	}
	return json.Marshal(struct {
		ID      any    `json:"id"`
		JSONRPC string `json:"jsonrpc"`
		Result  any    `json:"result"`
	}{r.ID, r.JSONRPC, r.Result})
}
