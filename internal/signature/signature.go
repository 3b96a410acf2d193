// Package signature classifies an audio file's format from its header
// bytes, independent of any claimed file extension.
package signature

import (
	"bytes"
	"strings"

	apperrors "github.com/loistio/loist-mcp/internal/errors"
)

// Format is one of the closed set of audio formats this system handles.
type Format string

const (
	MP3  Format = "MP3"
	FLAC Format = "FLAC"
	M4A  Format = "M4A"
	AAC  Format = "AAC"
	OGG  Format = "OGG"
	WAV  Format = "WAV"
)

// magic is one (offset, pattern) tuple in the classification table.
type magic struct {
	offset int
	bytes  []byte
	format Format
}

// table lists the magic-byte tuples from spec §4.A. WAV additionally
// requires "WAVE" at offset 8, checked separately below.
var table = []magic{
	{0, []byte("ID3"), MP3},
	{0, []byte{0xff, 0xfb}, MP3},
	{0, []byte{0xff, 0xf3}, MP3},
	{0, []byte{0xff, 0xf2}, MP3},
	{0, []byte("fLaC"), FLAC},
	{4, []byte("ftyp"), M4A},
	{0, []byte{0xff, 0xf1}, AAC},
	{0, []byte{0xff, 0xf9}, AAC},
	{0, []byte("OggS"), OGG},
}

// extensionFormats maps a lowercase extension (without the leading dot)
// to the formats it is allowed to claim to be.
var extensionFormats = map[string][]Format{
	"mp3":  {MP3},
	"flac": {FLAC},
	"m4a":  {M4A, AAC},
	"aac":  {AAC},
	"ogg":  {OGG},
	"oga":  {OGG},
	"wav":  {WAV},
}

// Classify returns the Format implied by header, the first 12+ bytes of a
// file. It fails with FORMAT_INVALID when no tuple matches.
func Classify(header []byte) (Format, error) {
	if len(header) >= 12 && bytes.HasPrefix(header, []byte("RIFF")) && bytes.Equal(header[8:12], []byte("WAVE")) {
		return WAV, nil
	}
	for _, m := range table {
		if len(header) < m.offset+len(m.bytes) {
			continue
		}
		if bytes.Equal(header[m.offset:m.offset+len(m.bytes)], m.bytes) {
			return m.format, nil
		}
	}
	return "", apperrors.New(apperrors.FormatInvalid, "unrecognized file signature")
}

// Validate classifies header and additionally confirms the claimed
// extension agrees with the classification, per spec §4.A.
func Validate(header []byte, claimedExt string) (Format, error) {
	format, err := Classify(header)
	if err != nil {
		return "", err
	}
	ext := strings.ToLower(strings.TrimPrefix(claimedExt, "."))
	allowed, ok := extensionFormats[ext]
	if !ok {
		return "", apperrors.New(apperrors.FormatInvalid, "unrecognized file extension: "+claimedExt)
	}
	for _, f := range allowed {
		if f == format {
			return format, nil
		}
	}
	return "", apperrors.New(apperrors.FormatInvalid, "extension "+claimedExt+" disagrees with detected format "+string(format))
}
