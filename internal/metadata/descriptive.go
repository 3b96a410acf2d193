package metadata

import (
	"regexp"

	"github.com/dhowden/tag"
)

var leadingYear = regexp.MustCompile(`^\d{4}`)

// descriptiveFromTag maps a dhowden/tag Metadata value onto our
// format-independent Descriptive fields, per spec §4.B's per-frame
// mapping (TPE1/TIT2/TALB/TCON for MP3, case-insensitive Vorbis comment
// keys for OGG, ©ART/©nam/©alb/©gen for M4A — all unified by the
// library's own Artist/Title/Album/Genre/Year accessors). FLAC does not
// pass through here; extractFLAC reads its Vorbis comments with flacvorbis.
func descriptiveFromTag(m tag.Metadata) Descriptive {
	return Descriptive{
		Artist: m.Artist(),
		Title:  m.Title(),
		Album:  m.Album(),
		Genre:  m.Genre(),
		Year:   m.Year(),
	}
}

// artworkFromTag extracts embedded cover art, preferring the library's own
// picture selection (dhowden/tag already prefers front-cover-typed frames
// when more than one embedded picture is present).
func artworkFromTag(m tag.Metadata) *Artwork {
	pic := m.Picture()
	if pic == nil || len(pic.Data) == 0 {
		return nil
	}
	return &Artwork{MIMEType: pic.MIMEType, Data: pic.Data}
}

// yearFromDateString derives a year as the leading 4-digit run of a Vorbis
// DATE comment, per spec §4.B.
func yearFromDateString(date string) int {
	match := leadingYear.FindString(date)
	if match == "" {
		return 0
	}
	year := 0
	for _, c := range match {
		year = year*10 + int(c-'0')
	}
	return year
}
