// Package geometry provides the bounding box type shared by the labeling
// endpoints, the identity key builder and the crop materializer.
package geometry

import (
	"errors"
	"fmt"
	"image"
	"math"
)

var (
	// ErrInvalidBox is returned for boxes with the wrong arity or an
	// empty/inverted area.
	ErrInvalidBox = errors.New("invalid bounding box")

	// ErrNormalizedBox is returned when the box looks normalized ([0,1]
	// coordinates) and the configured policy rejects normalized input.
	ErrNormalizedBox = errors.New("bounding box is normalized, absolute pixel coordinates required")
)

// BoundingBox is an axis-aligned box in absolute pixel coordinates.
// Coordinates are kept as float64 because the identity key derivation
// depends on the exact values the client sent.
type BoundingBox struct {
	XMin float64
	YMin float64
	XMax float64
	YMax float64
}

// ParseBox validates arity and ordering and returns the box.
func ParseBox(coords []float64) (BoundingBox, error) {
	if len(coords) != 4 {
		return BoundingBox{}, fmt.Errorf("%w: expected 4 coordinates, got %d", ErrInvalidBox, len(coords))
	}
	b := BoundingBox{XMin: coords[0], YMin: coords[1], XMax: coords[2], YMax: coords[3]}
	if b.XMax <= b.XMin || b.YMax <= b.YMin {
		return BoundingBox{}, fmt.Errorf("%w: xmax/ymax must exceed xmin/ymin", ErrInvalidBox)
	}
	return b, nil
}

// Coords returns the box as [xmin, ymin, xmax, ymax].
func (b BoundingBox) Coords() []float64 {
	return []float64{b.XMin, b.YMin, b.XMax, b.YMax}
}

// Normalized reports whether all four coordinates lie in [0,1], i.e. the
// box was produced by a detector emitting relative coordinates.
func (b BoundingBox) Normalized() bool {
	for _, v := range b.Coords() {
		if v < 0 || v > 1 {
			return false
		}
	}
	return true
}

// Rescale maps a normalized box onto an image of the given dimensions.
func (b BoundingBox) Rescale(width, height int) BoundingBox {
	return BoundingBox{
		XMin: b.XMin * float64(width),
		YMin: b.YMin * float64(height),
		XMax: b.XMax * float64(width),
		YMax: b.YMax * float64(height),
	}
}

// Rect converts the box to an image.Rectangle, rounding outward so the
// crop never loses edge pixels, clamped to the image bounds.
func (b BoundingBox) Rect(bounds image.Rectangle) image.Rectangle {
	r := image.Rect(
		int(math.Floor(b.XMin)),
		int(math.Floor(b.YMin)),
		int(math.Ceil(b.XMax)),
		int(math.Ceil(b.YMax)),
	)
	return r.Intersect(bounds)
}

// BoxPolicy decides how normalized boxes are handled. Two deployment
// generations disagreed on this, so it is a configuration choice.
type BoxPolicy string

const (
	// PolicyReject refuses normalized boxes with a validation error.
	PolicyReject BoxPolicy = "reject"
	// PolicyRescale silently scales normalized boxes by the image size.
	PolicyRescale BoxPolicy = "rescale"
)

// ParsePolicy validates a policy name from configuration.
func ParsePolicy(s string) (BoxPolicy, error) {
	switch BoxPolicy(s) {
	case PolicyReject, PolicyRescale:
		return BoxPolicy(s), nil
	}
	return "", fmt.Errorf("unknown box policy %q (want %q or %q)", s, PolicyReject, PolicyRescale)
}

// Validate rejects boxes the policy can never resolve, independent of
// image dimensions. Callers use it to fail before any durable write;
// rescaling still needs the image and happens in Apply.
func (p BoxPolicy) Validate(b BoundingBox) error {
	if p != PolicyRescale && b.Normalized() {
		return ErrNormalizedBox
	}
	return nil
}

// Apply resolves a possibly-normalized box against the image dimensions
// according to the policy.
func (p BoxPolicy) Apply(b BoundingBox, width, height int) (BoundingBox, error) {
	if !b.Normalized() {
		return b, nil
	}
	switch p {
	case PolicyRescale:
		return b.Rescale(width, height), nil
	default:
		return BoundingBox{}, ErrNormalizedBox
	}
}
