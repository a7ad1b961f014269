// Package track defines the Lavalink track model and the versioned binary
// codec used for `encodedTrack` strings.
package track

// Info describes a single resolved track. Field names follow the Lavalink v4
// wire contract.
type Info struct {
	// Title is the display title of the track.
	Title string `json:"title"`

	// Author is the artist or uploader name. Local files report "unknown".
	Author string `json:"author"`

	// Length is the track duration in milliseconds.
	Length uint64 `json:"length"`

	// Identifier is the source-specific identifier (e.g. a file path).
	Identifier string `json:"identifier"`

	// IsStream reports whether the track is a live stream without a known end.
	IsStream bool `json:"isStream"`

	// URI is the original location of the track, when known.
	URI *string `json:"uri"`

	// ArtworkURL points at cover art, when known.
	ArtworkURL *string `json:"artworkUrl"`

	// ISRC is the International Standard Recording Code, when known.
	ISRC *string `json:"isrc"`

	// SourceName names the source manager that resolved this track.
	SourceName string `json:"sourceName"`

	// Position is the playback position in milliseconds.
	Position uint64 `json:"position"`
}

// Track pairs the base64 encoded form of a track with its decoded info.
// PluginInfo and UserData are always present on the wire as empty objects;
// this gateway has no plugin mechanism.
type Track struct {
	Encoded    string         `json:"encoded"`
	Info       Info           `json:"info"`
	PluginInfo map[string]any `json:"pluginInfo"`
	UserData   map[string]any `json:"userData"`
}

// New builds a Track from info, encoding it in the process.
func New(info Info) Track {
	return Track{
		Encoded:    Encode(info),
		Info:       info,
		PluginInfo: map[string]any{},
		UserData:   map[string]any{},
	}
}
