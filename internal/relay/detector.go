package relay

import (
	"bytes"

	"github.com/pscheid92/audiorelay/internal/domain"
)

// webmTracksID is the EBML element ID of the WebM/Matroska Tracks element.
// Once it has been seen, the stream header carries everything a decoder needs.
var webmTracksID = []byte{0x16, 0x54, 0xAE, 0x6B}

// DetectorFunc adapts a plain function to domain.InitDetector.
type DetectorFunc func(buf []byte) bool

func (f DetectorFunc) Detect(buf []byte) bool { return f(buf) }

// MarkerDetector matches when marker appears anywhere in the buffer.
type MarkerDetector struct {
	marker []byte
}

func NewMarkerDetector(marker []byte) *MarkerDetector {
	return &MarkerDetector{marker: bytes.Clone(marker)}
}

func (d *MarkerDetector) Detect(buf []byte) bool {
	if len(d.marker) == 0 {
		return false
	}
	return bytes.Contains(buf, d.marker)
}

// WebMTracksDetector finalizes as soon as the WebM Tracks element ID is present.
// The same four bytes appearing inside an earlier payload also match.
func WebMTracksDetector() domain.InitDetector {
	return NewMarkerDetector(webmTracksID)
}

// NeverDetect leaves finalization to the collector's wait budget.
var NeverDetect domain.InitDetector = DetectorFunc(func([]byte) bool { return false })
