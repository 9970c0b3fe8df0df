package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

type event struct {
	ID      string `json:"id" validate:"required,uuid"`
	Channel string `json:"channel" validate:"required,channel"`
	Ref     string `json:"ref" validate:"required"`
}

func TestValidator_TableDriven(t *testing.T) {
	v := New("twitter", "farcaster")
	id := uuid.NewString()

	cases := []struct {
		name    string
		evt     event
		wantErr string
	}{
		{"ok", event{ID: id, Channel: "twitter", Ref: "1"}, ""},
		{"missing id", event{Channel: "twitter", Ref: "1"}, "ID"},
		{"bad uuid", event{ID: "p1", Channel: "twitter", Ref: "1"}, `"uuid"`},
		{"unknown channel", event{ID: id, Channel: "telegram", Ref: "1"}, `"channel"`},
		{"missing ref", event{ID: id, Channel: "farcaster"}, "Ref"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.Struct(tc.evt)
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected error containing %s, got %v", tc.wantErr, err)
			}
		})
	}
}
