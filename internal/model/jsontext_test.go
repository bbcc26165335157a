package model

import (
	"errors"
	"testing"
)

func TestExtractJSONObject(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: `{"status":"READY"}`, want: `{"status":"READY"}`},
		{name: "fenced", in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{name: "prose prefix", in: "Here is my answer: {\"a\": {\"b\": 2}} thanks", want: `{"a": {"b": 2}}`},
		{name: "brace in prose", in: "use {curly} then {\"ok\":true}", want: `{"ok":true}`},
	}
	for _, tc := range cases {
		got, err := ExtractJSONObject(tc.in)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if string(got) != tc.want {
			t.Fatalf("%s: want %s got %s", tc.name, tc.want, got)
		}
	}
}

func TestExtractJSONObjectMissing(t *testing.T) {
	if _, err := ExtractJSONObject("no json here"); !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("expected ErrNoJSONObject, got %v", err)
	}
	if _, err := ExtractJSONObject(`["array"]`); !errors.Is(err, ErrNoJSONObject) {
		t.Fatalf("arrays are not objects, got %v", err)
	}
}
