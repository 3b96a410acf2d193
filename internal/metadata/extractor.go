package metadata

import (
	"fmt"
	"path/filepath"
	"strings"

	apperrors "github.com/loistio/loist-mcp/internal/errors"
	"github.com/loistio/loist-mcp/internal/signature"
)

// Extract dispatches on format and reads descriptive, technical, and
// artwork fields from the file at path. sourceName is the original
// source's filename (the request's explicit filename, or the ingestion
// URL's path) — used only for the title fallback, never for decoding, so
// a randomly-named temporary download path never leaks into metadata.
// Any failure during parsing is captured and surfaced as
// METADATA_EXTRACTION_FAILED; missing descriptive fields are not errors
// and are reported as zero values.
func Extract(path, sourceName string, format signature.Format) (*TrackMetadata, error) {
	var (
		md  *TrackMetadata
		err error
	)
	switch format {
	case signature.MP3:
		md, err = extractMP3(path)
	case signature.FLAC:
		md, err = extractFLAC(path)
	case signature.OGG:
		md, err = extractOGG(path)
	case signature.M4A, signature.AAC:
		md, err = extractM4A(path)
	case signature.WAV:
		md, err = extractWAV(path)
	default:
		return nil, apperrors.New(apperrors.FormatInvalid, "no extractor for format "+string(format))
	}
	if err != nil {
		if _, ok := apperrors.As(err); ok {
			return nil, err
		}
		return nil, apperrors.Wrap(apperrors.MetadataExtractionFailed, "extraction failed", err)
	}
	if md.Title == "" {
		md.Title = filenameStem(sourceName)
	}
	return md, nil
}

// filenameStem strips the extension from name, per spec §4.B's "title
// defaults to the source filename stem".
func filenameStem(name string) string {
	if name == "" {
		return ""
	}
	base := filepath.Base(name)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func wrapf(format string, args ...any) error {
	return fmt.Errorf(format, args...)
}
