package crop

import (
	"bytes"
	"encoding/json"
	"fmt"

	exif "github.com/dsoprea/go-exif/v3"
	exifcommon "github.com/dsoprea/go-exif/v3/common"
	exifundefined "github.com/dsoprea/go-exif/v3/undefined"
	jpegstructure "github.com/dsoprea/go-jpeg-image-structure/v2"
)

// Provenance is the record embedded into every derived crop, tying it
// back to its source image. It rides in the EXIF UserComment field so the
// crop stays self-describing when re-uploaded through other tooling.
type Provenance struct {
	OriginalURI string    `json:"original_s3_uri"`
	CropURI     string    `json:"s3_file_path"`
	Coordinates []float64 `json:"coordinates"`
}

// embedProvenance writes the provenance record into the JPEG's EXIF
// UserComment and returns the rewritten image bytes.
func embedProvenance(jpegData []byte, p Provenance) ([]byte, error) {
	payload, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal provenance: %w", err)
	}

	jmp := jpegstructure.NewJpegMediaParser()
	intfc, err := jmp.ParseBytes(jpegData)
	if err != nil {
		return nil, fmt.Errorf("parse jpeg: %w", err)
	}
	sl := intfc.(*jpegstructure.SegmentList)

	rootIb, err := sl.ConstructExifBuilder()
	if err != nil {
		// Freshly encoded crops have no EXIF segment yet.
		im, mapErr := exifcommon.NewIfdMappingWithStandard()
		if mapErr != nil {
			return nil, fmt.Errorf("build ifd mapping: %w", mapErr)
		}
		rootIb = exif.NewIfdBuilder(im, exif.NewTagIndex(), exifcommon.IfdStandardIfdIdentity, exifcommon.EncodeDefaultByteOrder)
	}

	exifIb, err := exif.GetOrCreateIbFromRootIb(rootIb, "IFD/Exif")
	if err != nil {
		return nil, fmt.Errorf("get exif ifd builder: %w", err)
	}

	comment := exifundefined.Tag9286UserComment{
		EncodingType:  exifundefined.TagUndefinedType_9286_UserComment_Encoding_ASCII,
		EncodingBytes: payload,
	}
	if err := exifIb.SetStandardWithName("UserComment", comment); err != nil {
		return nil, fmt.Errorf("set user comment: %w", err)
	}

	if err := sl.SetExif(rootIb); err != nil {
		return nil, fmt.Errorf("set exif segment: %w", err)
	}

	var buf bytes.Buffer
	if err := sl.Write(&buf); err != nil {
		return nil, fmt.Errorf("write jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// ReadProvenance extracts the provenance record from an image's EXIF
// UserComment. Returns ok=false when the image carries none.
func ReadProvenance(imageData []byte) (Provenance, bool) {
	rawExif, err := exif.SearchAndExtractExif(imageData)
	if err != nil {
		return Provenance{}, false
	}
	entries, _, err := exif.GetFlatExifData(rawExif, nil)
	if err != nil {
		return Provenance{}, false
	}
	for _, entry := range entries {
		if entry.TagName != "UserComment" {
			continue
		}
		comment, ok := entry.Value.(exifundefined.Tag9286UserComment)
		if !ok {
			continue
		}
		var p Provenance
		if err := json.Unmarshal(comment.EncodingBytes, &p); err != nil {
			return Provenance{}, false
		}
		return p, true
	}
	return Provenance{}, false
}
