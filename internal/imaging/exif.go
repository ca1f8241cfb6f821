// Package imaging extracts EXIF metadata and renders preview thumbnails from
// raw image bytes.
package imaging

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/rwcarlsen/goexif/exif"
)

// Metadata is the subset of EXIF data the archive records.
type Metadata struct {
	TakenAt   time.Time // zero when absent
	HasGPS    bool
	Latitude  float64
	Longitude float64
	Tags      []string // descriptive fields: description, artist, camera
}

// ReadEXIF decodes EXIF metadata from image bytes. Images without EXIF data
// return an error; callers treat that as "no metadata", not a failure.
func ReadEXIF(data []byte) (*Metadata, error) {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode exif: %w", err)
	}

	md := &Metadata{}
	if t, err := x.DateTime(); err == nil {
		md.TakenAt = t
	}

	lat, latErr := coordinate(x, exif.GPSLatitude, exif.GPSLatitudeRef)
	lon, lonErr := coordinate(x, exif.GPSLongitude, exif.GPSLongitudeRef)
	if latErr == nil && lonErr == nil {
		md.HasGPS = true
		md.Latitude = lat
		md.Longitude = lon
	}

	for _, field := range []exif.FieldName{exif.ImageDescription, exif.Artist, exif.Make, exif.Model} {
		tag, err := x.Get(field)
		if err != nil {
			continue
		}
		s, err := tag.StringVal()
		if err != nil {
			continue
		}
		s = strings.TrimSpace(strings.TrimRight(s, "\x00"))
		if s != "" {
			md.Tags = append(md.Tags, s)
		}
	}

	return md, nil
}

// coordinate reads a degree/minute/second rational triple and its hemisphere
// reference and converts them to signed decimal degrees.
func coordinate(x *exif.Exif, field, refField exif.FieldName) (float64, error) {
	tag, err := x.Get(field)
	if err != nil {
		return 0, err
	}
	if tag.Count < 3 {
		return 0, fmt.Errorf("%s: expected 3 rationals, got %d", field, tag.Count)
	}
	var dms [3]float64
	for i := range dms {
		num, den, err := tag.Rat2(i)
		if err != nil {
			return 0, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		if den == 0 {
			return 0, fmt.Errorf("%s[%d]: zero denominator", field, i)
		}
		dms[i] = float64(num) / float64(den)
	}

	ref := ""
	if refTag, err := x.Get(refField); err == nil {
		if s, err := refTag.StringVal(); err == nil {
			ref = s
		}
	}
	return DMSToDecimal(dms[0], dms[1], dms[2], ref), nil
}

// DMSToDecimal converts degrees, minutes and seconds to decimal degrees.
// References "S" and "W" yield negative values; "N", "E" or an empty
// reference yield non-negative values.
func DMSToDecimal(deg, min, sec float64, ref string) float64 {
	v := deg + min/60 + sec/3600
	if v < 0 {
		v = -v
	}
	switch strings.ToUpper(strings.TrimSpace(strings.TrimRight(ref, "\x00"))) {
	case "S", "W":
		return -v
	default:
		return v
	}
}
