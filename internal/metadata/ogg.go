package metadata

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/dhowden/tag"
)

// extractOGG uses dhowden/tag for the Vorbis comment descriptive fields
// and artwork (it decodes the METADATA_BLOCK_PICTURE comment itself), and
// a direct Ogg page walk for the technical fields that dhowden/tag does
// not expose: the Vorbis identification header carries sample rate and
// channel count, and duration is derived from the final page's granule
// position, which counts total PCM samples.
func extractOGG(path string) (*TrackMetadata, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil && err != tag.ErrNoTagsFound {
		return nil, err
	}

	md := &TrackMetadata{}
	if m != nil {
		md.Descriptive = descriptiveFromTag(m)
		md.Artwork = artworkFromTag(m)
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	technical, err := readOggTechnical(f)
	if err == nil {
		md.Technical = technical
	}
	return md, nil
}

func readOggTechnical(f *os.File) (Technical, error) {
	var t Technical
	var lastGranule int64
	buf := make([]byte, 27)

	first := true
	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			break
		}
		if string(buf[0:4]) != "OggS" {
			break
		}
		granule := int64(binary.LittleEndian.Uint64(buf[6:14]))
		if granule > 0 {
			lastGranule = granule
		}
		segCount := int(buf[26])
		segTable := make([]byte, segCount)
		if _, err := io.ReadFull(f, segTable); err != nil {
			break
		}
		pageBodyLen := 0
		for _, s := range segTable {
			pageBodyLen += int(s)
		}
		body := make([]byte, pageBodyLen)
		if _, err := io.ReadFull(f, body); err != nil {
			break
		}
		if first && len(body) >= 30 && string(body[0:7]) == "\x01vorbis" {
			t.Channels = int(body[11])
			t.SampleRateHz = int(binary.LittleEndian.Uint32(body[12:16]))
			t.BitrateKbps = int(int32(binary.LittleEndian.Uint32(body[20:24]))) / 1000
			first = false
		}
	}
	if t.SampleRateHz > 0 && lastGranule > 0 {
		t.DurationSeconds = float64(lastGranule) / float64(t.SampleRateHz)
	}
	return t, nil
}
