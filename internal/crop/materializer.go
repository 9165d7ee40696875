// Package crop materializes derived crop images from source images and
// bounding boxes.
package crop

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	xdraw "golang.org/x/image/draw"

	"github.com/endwaste/db-of-objects/internal/geometry"
	"github.com/endwaste/db-of-objects/internal/storage"
	"github.com/endwaste/db-of-objects/internal/task"
)

const jpegQuality = 90

// Materializer creates and uploads crop images. Crop creation is
// idempotent per task: once a task carries a crop URI, the stored crop is
// reused forever.
type Materializer struct {
	store   storage.Storage
	prefix  string
	policy  geometry.BoxPolicy
	maxEdge int
	logger  zerolog.Logger
}

// NewMaterializer creates a crop materializer. prefix is the URI folder
// crops are uploaded under. maxEdge, when positive, downscales crops
// whose longer edge exceeds it; the embedding model never benefits from
// more pixels than its input resolution.
func NewMaterializer(store storage.Storage, prefix string, policy geometry.BoxPolicy, maxEdge int, logger zerolog.Logger) *Materializer {
	return &Materializer{
		store:   store,
		prefix:  prefix,
		policy:  policy,
		maxEdge: maxEdge,
		logger:  logger,
	}
}

// EnsureCrop returns the task's crop URI, materializing the crop first if
// the task has none. The new URI is written back onto the task; the
// caller is responsible for persisting the record.
func (m *Materializer) EnsureCrop(ctx context.Context, t *task.Task) (string, error) {
	if t.CropURI != "" {
		return t.CropURI, nil
	}

	source, err := m.store.Get(ctx, t.SourceURI)
	if err != nil {
		return "", fmt.Errorf("fetch source image %s: %w", t.SourceURI, err)
	}

	img, _, err := image.Decode(bytes.NewReader(source))
	if err != nil {
		return "", fmt.Errorf("decode source image %s: %w", t.SourceURI, err)
	}

	bounds := img.Bounds()
	box, err := m.policy.Apply(t.Box, bounds.Dx(), bounds.Dy())
	if err != nil {
		return "", err
	}

	rect := box.Rect(bounds)
	if rect.Empty() {
		return "", fmt.Errorf("%w: box lies outside the image", geometry.ErrInvalidBox)
	}

	cropped := extract(img, rect)
	if m.maxEdge > 0 {
		cropped = downscale(cropped, m.maxEdge)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, cropped, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return "", fmt.Errorf("encode crop: %w", err)
	}

	name := fmt.Sprintf("%s_%s.jpg", storage.BaseName(t.SourceURI), uuid.New().String())
	cropURI := m.prefix + name

	stamped, err := embedProvenance(buf.Bytes(), Provenance{
		OriginalURI: t.SourceURI,
		CropURI:     cropURI,
		Coordinates: t.Box.Coords(),
	})
	if err != nil {
		return "", fmt.Errorf("embed provenance: %w", err)
	}

	if err := m.store.Put(ctx, cropURI, stamped, "image/jpeg"); err != nil {
		return "", fmt.Errorf("upload crop: %w", err)
	}

	m.logger.Debug().Str("source_uri", t.SourceURI).Str("crop_uri", cropURI).Msg("Materialized crop")
	t.CropURI = cropURI
	return cropURI, nil
}

// extract copies the crop region into a standalone image.
func extract(img image.Image, rect image.Rectangle) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), img, rect.Min, draw.Src)
	return dst
}

// downscale shrinks the crop so its longer edge is at most maxEdge,
// preserving aspect ratio. Smaller crops pass through untouched.
func downscale(img *image.RGBA, maxEdge int) *image.RGBA {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	long := max(w, h)
	if long <= maxEdge {
		return img
	}
	scale := float64(maxEdge) / float64(long)
	dst := image.NewRGBA(image.Rect(0, 0, int(float64(w)*scale), int(float64(h)*scale)))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), xdraw.Over, nil)
	return dst
}
