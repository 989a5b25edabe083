package snowflake

import (
	"testing"
	"time"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ID
		wantErr bool
	}{
		{"valid", "175928847299117063", 175928847299117063, false},
		{"zero", "0", 0, false},
		{"empty", "", 0, true},
		{"negative", "-5", 0, true},
		{"not a number", "abc", 0, true},
		{"overflow", "99999999999999999999", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("Parse(%q) = %d, want %d", tt.input, got, tt.want)
			}
		})
	}
}

func TestTime(t *testing.T) {
	// 1 ms past the epoch, shifted into the timestamp bits.
	id := ID(1 << 22)
	want := time.UnixMilli(Epoch + 1).UTC()
	if got := id.Time(); !got.Equal(want) {
		t.Errorf("Time() = %v, want %v", got, want)
	}

	if !Zero.Time().IsZero() {
		t.Errorf("zero id yields a timestamp: %v", Zero.Time())
	}
}

func TestStringRoundTrip(t *testing.T) {
	id := ID(175928847299117063)
	parsed, err := Parse(id.String())
	if err != nil {
		t.Fatalf("Parse(String()): unexpected error: %v", err)
	}
	if parsed != id {
		t.Errorf("round trip = %d, want %d", parsed, id)
	}
}

func TestIsZero(t *testing.T) {
	if !Zero.IsZero() {
		t.Errorf("Zero.IsZero() = false")
	}
	if ID(1).IsZero() {
		t.Errorf("ID(1).IsZero() = true")
	}
}
