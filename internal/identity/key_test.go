package identity

import (
	"reflect"
	"testing"

	"github.com/endwaste/db-of-objects/internal/geometry"
)

const sourceURI = "s3://raw-images/robot-7/frame_000123.jpg"

func TestCanonicalKey(t *testing.T) {
	tests := []struct {
		name string
		box  geometry.BoundingBox
		want string
	}{
		{
			"Fractional coordinates keep full precision",
			geometry.BoundingBox{XMin: 100.4, YMin: 150.6, XMax: 400.2, YMax: 600.9},
			sourceURI + "|100.4,150.6,400.2,600.9",
		},
		{
			"Integer coordinates have no trailing zeros",
			geometry.BoundingBox{XMin: 100, YMin: 150, XMax: 400, YMax: 600},
			sourceURI + "|100,150,400,600",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanonicalKey(sourceURI, tt.box); got != tt.want {
				t.Errorf("CanonicalKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLegacyKey(t *testing.T) {
	// Half-away-from-zero rounding: 150.6 -> 151, 400.2 -> 400.
	box := geometry.BoundingBox{XMin: 100.4, YMin: 150.6, XMax: 400.2, YMax: 600.9}
	want := sourceURI + "|100,151,400,601"
	if got := LegacyKey(sourceURI, box); got != want {
		t.Errorf("LegacyKey() = %q, want %q", got, want)
	}
}

func TestCandidateKeys(t *testing.T) {
	t.Run("Fractional box yields both encodings in order", func(t *testing.T) {
		box := geometry.BoundingBox{XMin: 100.4, YMin: 150.6, XMax: 400.2, YMax: 600.9}
		got := CandidateKeys(sourceURI, box)
		want := []string{
			sourceURI + "|100.4,150.6,400.2,600.9",
			sourceURI + "|100,151,400,601",
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("CandidateKeys() = %v, want %v", got, want)
		}
	})

	t.Run("Integer box deduplicates to a single key", func(t *testing.T) {
		box := geometry.BoundingBox{XMin: 100, YMin: 150, XMax: 400, YMax: 600}
		got := CandidateKeys(sourceURI, box)
		want := []string{sourceURI + "|100,150,400,600"}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("CandidateKeys() = %v, want %v", got, want)
		}
	})
}
