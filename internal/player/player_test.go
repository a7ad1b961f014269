package player

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/aelira-dev/aelira/internal/source"
	"github.com/aelira-dev/aelira/internal/track"
)

func newTestPlayer(t *testing.T) *Player {
	t.Helper()
	reg := source.NewRegistry(slog.Default())
	reg.Register(source.NewLocalSource())
	return New("42", "100000000000000000", reg, slog.Default())
}

func ptr[T any](v T) *T { return &v }

func TestApplyUpdateReadYourWrites(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t)
	if err := p.ApplyUpdate(context.Background(), Update{Paused: ptr(true), Volume: ptr(uint16(50))}); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	snap := p.Snapshot()
	if !snap.Paused {
		t.Error("paused not visible after update")
	}
	if snap.Volume != 50 {
		t.Errorf("volume = %d, want 50", snap.Volume)
	}
}

func TestDefaultVolume(t *testing.T) {
	t.Parallel()

	if v := newTestPlayer(t).Snapshot().Volume; v != 100 {
		t.Errorf("volume = %d, want 100", v)
	}
}

func TestApplyUpdateSetsTrackWithoutConnection(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t)
	encoded := track.Encode(track.Info{
		Title: "t", Author: "a", Identifier: "id", SourceName: "local",
	})
	raw, _ := json.Marshal(encoded)

	if err := p.ApplyUpdate(context.Background(), Update{EncodedTrack: raw}); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}

	snap := p.Snapshot()
	if snap.Track == nil || snap.Track.Info.Title != "t" {
		t.Fatalf("track not set: %+v", snap.Track)
	}
	if snap.State.Connected {
		t.Error("connected without a voice connection")
	}
	if !p.Playing() {
		t.Error("Playing() = false with a loaded track")
	}
}

func TestApplyUpdateNullStopsPlayback(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t)
	encoded := track.Encode(track.Info{Title: "t", Author: "a", Identifier: "id", SourceName: "local"})
	raw, _ := json.Marshal(encoded)
	if err := p.ApplyUpdate(context.Background(), Update{EncodedTrack: raw}); err != nil {
		t.Fatalf("load: %v", err)
	}

	if err := p.ApplyUpdate(context.Background(), Update{EncodedTrack: json.RawMessage("null")}); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if p.Playing() {
		t.Error("track still set after null update")
	}
}

func TestApplyUpdateBadEncodedTrack(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t)
	raw, _ := json.Marshal("this is not base64 track data")
	err := p.ApplyUpdate(context.Background(), Update{EncodedTrack: raw})
	if !errors.Is(err, ErrTrackResolution) {
		t.Fatalf("got %v, want ErrTrackResolution", err)
	}
}

func TestApplyUpdateUnresolvableIdentifier(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t)
	err := p.ApplyUpdate(context.Background(), Update{Identifier: ptr("local:/no/such/file.webm")})
	if !errors.Is(err, ErrTrackResolution) {
		t.Fatalf("got %v, want ErrTrackResolution", err)
	}
}

func TestTrackReference(t *testing.T) {
	t.Parallel()

	quoted := func(s string) json.RawMessage {
		raw, _ := json.Marshal(s)
		return raw
	}

	tests := []struct {
		name       string
		upd        Update
		encoded    string
		stop       bool
		identifier string
	}{
		{"empty update", Update{}, "", false, ""},
		{"top-level encoded", Update{EncodedTrack: quoted("abc")}, "abc", false, ""},
		{"top-level null", Update{EncodedTrack: json.RawMessage("null")}, "", true, ""},
		{"nested encoded", Update{Track: &TrackUpdate{Encoded: quoted("xyz")}}, "xyz", false, ""},
		{"nested null", Update{Track: &TrackUpdate{Encoded: json.RawMessage("null")}}, "", true, ""},
		{"nested identifier", Update{Track: &TrackUpdate{Identifier: ptr("local:a")}}, "", false, "local:a"},
		{"top-level identifier", Update{Identifier: ptr("local:b")}, "", false, "local:b"},
		{
			"nested wins over top-level",
			Update{EncodedTrack: quoted("outer"), Track: &TrackUpdate{Encoded: quoted("inner")}},
			"inner", false, "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			encoded, stop, identifier := trackReference(tc.upd)
			if encoded != tc.encoded || stop != tc.stop || identifier != tc.identifier {
				t.Errorf("got (%q, %v, %q), want (%q, %v, %q)",
					encoded, stop, identifier, tc.encoded, tc.stop, tc.identifier)
			}
		})
	}
}

func TestSnapshotShape(t *testing.T) {
	t.Parallel()

	p := newTestPlayer(t)
	data, err := json.Marshal(p.Snapshot())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"guildId", "track", "volume", "paused", "state", "voice", "filters"} {
		if _, ok := decoded[key]; !ok {
			t.Errorf("snapshot JSON missing %q", key)
		}
	}
	state := decoded["state"].(map[string]any)
	if state["ping"].(float64) != -1 {
		t.Errorf("ping = %v, want -1", state["ping"])
	}
}
