package metadata

import (
	flac "github.com/go-flac/go-flac"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
)

// extractFLAC reads FLAC metadata blocks directly rather than through
// dhowden/tag: the STREAMINFO block's bit-packed technical fields (sample
// rate, channels, bit depth, total samples) are not exposed by any tag
// library, so this function parses them itself and uses flacvorbis /
// flacpicture for the descriptive and artwork blocks while it already has
// the file open.
func extractFLAC(path string) (*TrackMetadata, error) {
	f, err := flac.ParseFile(path)
	if err != nil {
		return nil, err
	}

	md := &TrackMetadata{}
	for _, block := range f.Meta {
		switch block.Type {
		case flac.StreamInfo:
			md.Technical = parseStreamInfo(block.Data)
		case flac.VorbisComment:
			comment, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err == nil {
				md.Descriptive = descriptiveFromVorbis(comment)
			}
		case flac.Picture:
			pic, err := flacpicture.ParseFromMetaDataBlock(*block)
			if err == nil && len(pic.ImageData) > 0 {
				if md.Artwork == nil || pic.PictureType == 3 { // 3 = front cover
					md.Artwork = &Artwork{MIMEType: pic.MIME, Data: pic.ImageData}
				}
			}
		}
	}
	return md, nil
}

// parseStreamInfo decodes the 34-byte METADATA_BLOCK_STREAMINFO payload.
// Bit layout (big-endian, FLAC format spec):
//
//	bits  80- 99: sample rate            (20 bits)
//	bits 100-102: channels - 1           ( 3 bits)
//	bits 103-107: bits per sample - 1    ( 5 bits)
//	bits 108-143: total samples          (36 bits)
func parseStreamInfo(si []byte) Technical {
	if len(si) < 18 {
		return Technical{}
	}
	sampleRate := int(uint32(si[10])<<12 | uint32(si[11])<<4 | uint32(si[12])>>4)
	channels := int((si[12]>>1)&0x07) + 1
	bitDepth := int((si[12]&0x01)<<4|si[13]>>4) + 1
	totalSamples := int64(si[13]&0x0F)<<32 |
		int64(si[14])<<24 | int64(si[15])<<16 |
		int64(si[16])<<8 | int64(si[17])

	var duration float64
	if sampleRate > 0 && totalSamples > 0 {
		duration = float64(totalSamples) / float64(sampleRate)
	}
	return Technical{
		DurationSeconds: duration,
		Channels:        channels,
		SampleRateHz:    sampleRate,
		BitDepth:        bitDepth,
	}
}

func descriptiveFromVorbis(c *flacvorbis.MetaDataBlockVorbisComment) Descriptive {
	get := func(key string) string {
		vals, err := c.Get(key)
		if err != nil || len(vals) == 0 {
			return ""
		}
		return vals[0]
	}
	d := Descriptive{
		Artist: get("ARTIST"),
		Title:  get("TITLE"),
		Album:  get("ALBUM"),
		Genre:  get("GENRE"),
	}
	d.Year = yearFromDateString(get("DATE"))
	return d
}
