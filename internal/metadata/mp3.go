package metadata

import (
	"io"
	"os"

	"github.com/dhowden/tag"
)

// mpegBitratesV1L3 and mpegBitratesV2L3 map a bitrate index to kbps for
// Layer III of MPEG1 and of MPEG2/2.5 respectively. Index 0 is "free", 15
// is reserved; both yield 0 (unknown).
var mpegBitratesV1L3 = [16]int{0, 32, 40, 48, 56, 64, 80, 96, 112, 128, 160, 192, 224, 256, 320, 0}
var mpegBitratesV2L3 = [16]int{0, 8, 16, 24, 32, 40, 48, 56, 64, 80, 96, 112, 128, 144, 160, 0}

var mpegSampleRatesV1 = [4]int{44100, 48000, 32000, 0}
var mpegSampleRatesV2 = [4]int{22050, 24000, 16000, 0}

func extractMP3(path string) (*TrackMetadata, error) {
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
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	technical, err := readMP3Technical(f, fi.Size())
	if err != nil {
		// A frame-header parse failure doesn't invalidate the descriptive
		// tags already read; technical fields are simply left at zero.
		return md, nil
	}
	md.Technical = technical
	return md, nil
}

// readMP3Technical skips any ID3v2 header (synchsafe size) and parses the
// first valid MPEG frame header to recover sample rate, channel count, and
// bitrate; duration is estimated assuming a constant bitrate across the
// remainder of the file, which is exact for CBR and a reasonable
// approximation for most VBR encodes without a Xing/VBRI header.
func readMP3Technical(f *os.File, fileSize int64) (Technical, error) {
	header := make([]byte, 10)
	if _, err := io.ReadFull(f, header); err != nil {
		return Technical{}, err
	}

	offset := int64(0)
	if string(header[0:3]) == "ID3" {
		size := synchsafeToUint32(header[6:10])
		offset = 10 + int64(size)
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return Technical{}, err
	}

	frame := make([]byte, 4)
	buf := make([]byte, 4096)
	n, _ := f.Read(buf)
	for i := 0; i+4 <= n; i++ {
		copy(frame, buf[i:i+4])
		if frame[0] != 0xff || frame[1]&0xe0 != 0xe0 {
			continue
		}
		versionBits := (frame[1] >> 3) & 0x03
		layerBits := (frame[1] >> 1) & 0x03
		if layerBits != 0x01 { // Layer III only
			continue
		}
		bitrateIndex := (frame[2] >> 4) & 0x0f
		sampleRateIndex := (frame[2] >> 2) & 0x03
		channelMode := (frame[3] >> 6) & 0x03

		var bitrate, sampleRate int
		if versionBits == 0x03 { // MPEG1
			bitrate = mpegBitratesV1L3[bitrateIndex]
			sampleRate = mpegSampleRatesV1[sampleRateIndex]
		} else { // MPEG2/2.5
			bitrate = mpegBitratesV2L3[bitrateIndex]
			sampleRate = mpegSampleRatesV2[sampleRateIndex]
			if versionBits == 0x00 { // MPEG2.5 rates are half of MPEG2's
				sampleRate /= 2
			}
		}
		if bitrate == 0 || sampleRate == 0 {
			continue
		}
		channels := 2
		if channelMode == 0x03 {
			channels = 1
		}
		audioBytes := fileSize - offset
		duration := float64(audioBytes*8) / float64(bitrate*1000)
		return Technical{
			DurationSeconds: duration,
			Channels:        channels,
			SampleRateHz:    sampleRate,
			BitrateKbps:     bitrate,
		}, nil
	}
	return Technical{}, errNoFrameSync
}

var errNoFrameSync = wrapf("no valid MPEG frame sync found")

func synchsafeToUint32(b []byte) uint32 {
	return uint32(b[0])<<21 | uint32(b[1])<<14 | uint32(b[2])<<7 | uint32(b[3])
}
