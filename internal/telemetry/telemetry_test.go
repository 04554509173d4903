package telemetry

import (
	"encoding/json"
	"testing"
)

func TestFormatPayload(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{72.5, `{"value":72.5}`},
		{"ON", `{"value":"ON"}`},
		{"Sunrise started", `{"value":"Sunrise started"}`},
		{69, `{"value":69}`},
	}

	for _, tt := range tests {
		got, err := FormatPayload(tt.value)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(got) != tt.want {
			t.Errorf("FormatPayload(%v) = %s, want %s", tt.value, got, tt.want)
		}
	}
}

func TestFormatPayloadValidJSON(t *testing.T) {
	payload, err := FormatPayload(71.25)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var parsed Payload
	if err := json.Unmarshal(payload, &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if v, ok := parsed.Value.(float64); !ok || v != 71.25 {
		t.Errorf("unexpected value: %v", parsed.Value)
	}
}

func TestParseFloatValue(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"69", 69, false},
		{"64.5", 64.5, false},
		{`"70"`, 70, false},
		{"  68.2\n", 68.2, false},
		{"", 0, true},
		{"warm", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseFloatValue(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFloatValue(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFloatValue(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestKeys(t *testing.T) {
	keys := DefaultKeys()
	for _, f := range Feeds {
		if keys.Key(f) == "" {
			t.Errorf("no key for feed %s", f)
		}
	}
	if got := keys.Key(FeedLampState); got != "lamp-gecko" {
		t.Errorf("lamp key = %s", got)
	}

	custom := Keys{FeedTemperature: ""}
	if got := custom.Key(FeedTemperature); got != "temperature" {
		t.Errorf("empty key should fall back to feed name, got %s", got)
	}
}

func TestTopic(t *testing.T) {
	if got := Topic("gecko", "temperature-gecko"); got != "gecko/feeds/temperature-gecko" {
		t.Errorf("unexpected topic: %s", got)
	}
}

func TestOnOff(t *testing.T) {
	if OnOff(true) != "ON" || OnOff(false) != "OFF" {
		t.Error("unexpected relay rendering")
	}
}
