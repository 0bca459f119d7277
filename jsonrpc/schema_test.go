package jsonrpc

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestSchemaValidator(t *testing.T) {
	v := NewSchemaValidator()

	tests := []struct {
		name     string
		params   string
		wantMsgs bool
	}{
		{"valid", `{"a":1,"b":2.5}`, false},
		{"missing b", `{"a":1}`, true},
		{"wrong type", `{"a":"1","b":2}`, true},
		{"not an object", `[1,2]`, true},
		{"absent", ``, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := v.Validate(addSchema, json.RawMessage(tt.params))
			if err != nil {
				t.Fatal(err)
			}
			if got := len(msgs) > 0; got != tt.wantMsgs {
				t.Errorf("got messages %q, want messages: %v", msgs, tt.wantMsgs)
			}
			for _, m := range msgs {
				if strings.TrimSpace(m) == "" {
					t.Error("empty validation message")
				}
			}
		})
	}
}

func TestSchemaValidatorCachesResolution(t *testing.T) {
	v := NewSchemaValidator()
	for i := 0; i < 3; i++ {
		if _, err := v.Validate(addSchema, json.RawMessage(`{"a":1,"b":2}`)); err != nil {
			t.Fatal(err)
		}
	}
	n := 0
	v.resolved.Range(func(_, _ any) bool { n++; return true })
	if n != 1 {
		t.Errorf("got %d cached schemas, want 1", n)
	}
}

func TestMustSchemaPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic for malformed schema")
		}
	}()
	MustSchema(`{"type":`)
}
