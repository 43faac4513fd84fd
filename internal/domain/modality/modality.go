package modality

import (
	"fmt"
	"slices"
	"strings"
)

// Modality is the content type of an indexed item or a query.
// Each modality lives in its own partition of a collection.
type Modality string

// Supported modalities.
const (
	Video Modality = "video"
	Audio Modality = "audio"
	Image Modality = "image"
	// Text is stored under the "language" partition.
	Text Modality = "language"
	// Hybrid is a pre-averaged combination of an item's modalities.
	Hybrid Modality = "hybrid"
)

// order is the display order used by index listings.
var order = []Modality{Hybrid, Video, Image, Audio, Text}

// All returns every modality in display order.
func All() []Modality {
	return slices.Clone(order)
}

// IsValid checks if the modality is one of the supported values.
func (m Modality) IsValid() bool {
	return slices.Contains(order, m)
}

// Parse converts a user-supplied name into a Modality. "text" is accepted as an alias of Text.
func Parse(s string) (Modality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "text" {
		return Text, nil
	}
	m := Modality(s)
	if !m.IsValid() {
		return "", fmt.Errorf("unknown modality %q", s)
	}
	return m, nil
}

// FromMIME picks the modality of an uploaded file by its MIME type.
func FromMIME(mimeType string) (Modality, bool) {
	switch {
	case strings.HasPrefix(mimeType, "image/"):
		return Image, true
	case strings.HasPrefix(mimeType, "video/"):
		return Video, true
	case strings.HasPrefix(mimeType, "audio/"):
		return Audio, true
	default:
		return "", false
	}
}

// Set is an unordered set of modalities.
type Set map[Modality]struct{}

// NewSet builds a set from the given modalities.
func NewSet(ms ...Modality) Set {
	s := make(Set, len(ms))
	for _, m := range ms {
		s[m] = struct{}{}
	}
	return s
}

// ParseSet parses a list of modality names. Duplicates collapse.
func ParseSet(names []string) (Set, error) {
	s := make(Set, len(names))
	for _, n := range names {
		m, err := Parse(n)
		if err != nil {
			return nil, err
		}
		s[m] = struct{}{}
	}
	return s, nil
}

// Has reports whether m is in the set.
func (s Set) Has(m Modality) bool {
	_, ok := s[m]
	return ok
}

// Intersect returns the modalities present in both sets.
func (s Set) Intersect(other Set) Set {
	out := make(Set)
	for m := range s {
		if other.Has(m) {
			out[m] = struct{}{}
		}
	}
	return out
}

// Sorted returns the members in display order.
func (s Set) Sorted() []Modality {
	out := make([]Modality, 0, len(s))
	for _, m := range order {
		if s.Has(m) {
			out = append(out, m)
		}
	}
	return out
}

// Strings returns the member names in display order.
func (s Set) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, m := range sorted {
		out[i] = string(m)
	}
	return out
}
