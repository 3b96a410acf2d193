package metadata

import (
	"encoding/binary"
	"io"
	"os"

	"github.com/dhowden/tag"
)

// extractM4A uses dhowden/tag for descriptive fields and artwork (it
// already walks the MP4 atom tree for ©ART/©nam/©alb/©gen/covr), and a
// second, narrower atom walk of its own for the technical fields
// dhowden/tag does not expose: movie duration/timescale from mvhd, and
// channel count / sample rate from the mp4a sample description inside
// stsd.
func extractM4A(path string) (*TrackMetadata, error) {
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
	data, err := io.ReadAll(f)
	if err != nil {
		return md, nil
	}
	md.Technical = parseM4ATechnical(data)
	return md, nil
}

type mp4Box struct {
	fourcc string
	body   []byte
}

// walkBoxes splits a contiguous MP4 atom region into its immediate
// children. 64-bit "largesize" extended boxes are supported; zero-sized
// boxes extending to EOF are treated as consuming the remainder.
func walkBoxes(data []byte) []mp4Box {
	var boxes []mp4Box
	for len(data) >= 8 {
		size := int64(binary.BigEndian.Uint32(data[0:4]))
		fourcc := string(data[4:8])
		header := 8
		if size == 1 {
			if len(data) < 16 {
				break
			}
			size = int64(binary.BigEndian.Uint64(data[8:16]))
			header = 16
		}
		if size == 0 {
			size = int64(len(data))
		}
		if size < int64(header) || size > int64(len(data)) {
			break
		}
		boxes = append(boxes, mp4Box{fourcc: fourcc, body: data[header:size]})
		data = data[size:]
	}
	return boxes
}

func findBox(boxes []mp4Box, fourcc string) (mp4Box, bool) {
	for _, b := range boxes {
		if b.fourcc == fourcc {
			return b, true
		}
	}
	return mp4Box{}, false
}

func parseM4ATechnical(data []byte) Technical {
	var t Technical
	var top []mp4Box
	func() {
		defer func() { recover() }()
		top = walkBoxes(data)
	}()

	moov, ok := findBox(top, "moov")
	if !ok {
		return t
	}
	moovChildren := walkBoxes(moov.body)

	if mvhd, ok := findBox(moovChildren, "mvhd"); ok && len(mvhd.body) >= 20 {
		version := mvhd.body[0]
		if version == 1 && len(mvhd.body) >= 32 {
			timescale := binary.BigEndian.Uint32(mvhd.body[20:24])
			duration := binary.BigEndian.Uint64(mvhd.body[24:32])
			if timescale > 0 {
				t.DurationSeconds = float64(duration) / float64(timescale)
			}
		} else if len(mvhd.body) >= 20 {
			timescale := binary.BigEndian.Uint32(mvhd.body[12:16])
			duration := binary.BigEndian.Uint32(mvhd.body[16:20])
			if timescale > 0 {
				t.DurationSeconds = float64(duration) / float64(timescale)
			}
		}
	}

	for _, trak := range moovChildren {
		if trak.fourcc != "trak" {
			continue
		}
		mp4a, ok := findMP4ASampleEntry(trak.body)
		if !ok {
			continue
		}
		// mp4a sample entry, after the 8-byte SampleEntry header and
		// 8 reserved bytes: version(2) revision(2) vendor(4)
		// channels(2) samplesize(2) predefined(2) reserved(2) samplerate(4, 16.16 fixed).
		if len(mp4a) >= 8+20 {
			fields := mp4a[8:]
			t.Channels = int(binary.BigEndian.Uint16(fields[8:10]))
			t.BitDepth = int(binary.BigEndian.Uint16(fields[10:12]))
			t.SampleRateHz = int(binary.BigEndian.Uint32(fields[16:20]) >> 16)
		}
		break
	}
	return t
}

// findMP4ASampleEntry descends trak -> mdia -> minf -> stbl -> stsd and
// returns the body of the mp4a box within the sample description table,
// if present.
func findMP4ASampleEntry(trakBody []byte) ([]byte, bool) {
	mdia, ok := findBox(walkBoxes(trakBody), "mdia")
	if !ok {
		return nil, false
	}
	minf, ok := findBox(walkBoxes(mdia.body), "minf")
	if !ok {
		return nil, false
	}
	stbl, ok := findBox(walkBoxes(minf.body), "stbl")
	if !ok {
		return nil, false
	}
	stsd, ok := findBox(walkBoxes(stbl.body), "stsd")
	if !ok || len(stsd.body) < 8 {
		return nil, false
	}
	// stsd body: version(1) flags(3) entry-count(4), then entries.
	entries := walkBoxes(stsd.body[8:])
	mp4a, ok := findBox(entries, "mp4a")
	if !ok {
		return nil, false
	}
	return mp4a.body, true
}
