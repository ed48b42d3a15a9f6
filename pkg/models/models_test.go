package models

import (
	"encoding/json"
	"testing"
)

func TestEventJSON(t *testing.T) {
	tests := []struct {
		name string
		in   Event
		want string
	}{
		{
			name: "progress at zero keeps its value",
			in:   Event{Type: EventProgress, Value: 0, Text: "Analyzing..."},
			want: `{"type":"progress","value":0,"text":"Analyzing..."}`,
		},
		{
			name: "progress",
			in:   Event{Type: EventProgress, Value: 42.5},
			want: `{"type":"progress","value":42.5}`,
		},
		{
			name: "done",
			in:   Event{Type: EventDone, Value: 100, DownloadURL: "/compressed/a.mp4"},
			want: `{"type":"done","downloadUrl":"/compressed/a.mp4"}`,
		},
		{
			name: "error",
			in:   Event{Type: EventError, Message: "Compression failed unexpectedly"},
			want: `{"type":"error","message":"Compression failed unexpectedly"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.in)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}
