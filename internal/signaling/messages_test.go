package signaling

import (
	"encoding/json"
	"testing"
)

func TestParseRequest(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
		wantID  *uint64
	}{
		{
			name:   "with id",
			input:  `{"id":7,"event":"join","data":{"token":"t"}}`,
			wantID: ptrUint64(7),
		},
		{
			name:  "without id",
			input: `{"event":"typing","data":{"to_id":2,"isTyping":true}}`,
		},
		{
			name:    "missing event",
			input:   `{"id":1,"data":{}}`,
			wantErr: true,
		},
		{
			name:    "unknown field",
			input:   `{"id":1,"event":"join","data":{},"junk":1}`,
			wantErr: true,
		},
		{
			name:    "trailing data",
			input:   `{"id":1,"event":"join","data":{}}{"again":true}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			input:   `[1,2,3]`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req, err := parseRequest([]byte(tc.input))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", req)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (req.ID == nil) != (tc.wantID == nil) {
				t.Fatalf("id presence: got %v, want %v", req.ID, tc.wantID)
			}
			if req.ID != nil && *req.ID != *tc.wantID {
				t.Fatalf("id: got %d, want %d", *req.ID, *tc.wantID)
			}
		})
	}
}

func TestMessagePayloadValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload messagePayload
		ok      bool
	}{
		{"valid text", messagePayload{ToID: 2, MessageType: "text", MessageBody: "hi"}, true},
		{"valid media", messagePayload{ToID: 2, MessageType: "media", Attachments: json.RawMessage(`["a"]`), MediaType: "image"}, true},
		{"media with optional body", messagePayload{ToID: 2, MessageType: "media", MessageBody: "caption", Attachments: json.RawMessage(`["a"]`), MediaType: "video"}, true},
		{"text empty body", messagePayload{ToID: 2, MessageType: "text"}, false},
		{"media null attachments", messagePayload{ToID: 2, MessageType: "media", Attachments: json.RawMessage(`null`), MediaType: "image"}, false},
		{"negative to_id", messagePayload{ToID: -1, MessageType: "text", MessageBody: "hi"}, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			wireErr := tc.payload.validate()
			if tc.ok && wireErr != nil {
				t.Fatalf("unexpected error: %+v", wireErr)
			}
			if !tc.ok && wireErr == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func ptrUint64(v uint64) *uint64 { return &v }
