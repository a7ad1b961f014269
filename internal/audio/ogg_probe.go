package audio

import (
	"errors"
	"fmt"
	"io"

	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// OggDuration walks every page of an Ogg/Opus stream and reports the
// granule position of the last completed page as milliseconds. Opus
// granules tick at 48 kHz regardless of the original input rate.
func OggDuration(r io.Reader) (uint64, error) {
	ogg, _, err := oggreader.NewWith(r)
	if err != nil {
		return 0, fmt.Errorf("audio: open ogg: %w", err)
	}

	var lastGranule uint64
	for {
		_, header, err := ogg.ParseNextPage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, fmt.Errorf("audio: read ogg page: %w", err)
		}
		// -1 marks a page with no completed packet.
		if header.GranulePosition != ^uint64(0) {
			lastGranule = header.GranulePosition
		}
	}
	return lastGranule / 48, nil
}
