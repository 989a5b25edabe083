package feed

import (
	"encoding/json"
	"testing"
)

type gameCarrier struct {
	GameID Field[int64] `json:"game_id,omitzero"`
}

func TestFieldDecodeTriState(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantSet   bool
		wantNull  bool
		wantValue int64
	}{
		{"absent", `{}`, false, false, 0},
		{"explicit null", `{"game_id":null}`, true, true, 0},
		{"value", `{"game_id":42}`, true, false, 42},
		{"zero value", `{"game_id":0}`, true, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var c gameCarrier
			if err := json.Unmarshal([]byte(tt.input), &c); err != nil {
				t.Fatalf("Unmarshal(%s): unexpected error: %v", tt.input, err)
			}
			if got := c.GameID.IsSet(); got != tt.wantSet {
				t.Errorf("IsSet() = %v, want %v", got, tt.wantSet)
			}
			if got := c.GameID.IsNull(); got != tt.wantNull {
				t.Errorf("IsNull() = %v, want %v", got, tt.wantNull)
			}
			v, ok := c.GameID.Value()
			if wantOK := tt.wantSet && !tt.wantNull; ok != wantOK {
				t.Errorf("Value() ok = %v, want %v", ok, wantOK)
			}
			if v != tt.wantValue {
				t.Errorf("Value() = %d, want %d", v, tt.wantValue)
			}
		})
	}
}

func TestFieldEncode(t *testing.T) {
	tests := []struct {
		name  string
		field Field[int64]
		want  string
	}{
		{"absent drops the key", Field[int64]{}, `{}`},
		{"null encodes literally", Null[int64](), `{"game_id":null}`},
		{"value encodes plainly", Set[int64](7), `{"game_id":7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(gameCarrier{GameID: tt.field})
			if err != nil {
				t.Fatalf("Marshal: unexpected error: %v", err)
			}
			if string(data) != tt.want {
				t.Errorf("Marshal = %s, want %s", data, tt.want)
			}
		})
	}
}

func TestFieldDecodeError(t *testing.T) {
	var c gameCarrier
	if err := json.Unmarshal([]byte(`{"game_id":"nope"}`), &c); err == nil {
		t.Fatal("expected type error decoding string into int64 field")
	}
}
