package collection

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kailas-cloud/mediasearch/internal/domain/modality"
)

// separator joins dataset and version into the vector store collection name.
const separator = "__"

var partRegex = regexp.MustCompile(`^[a-zA-Z0-9-]+(_[a-zA-Z0-9-]+)*$`)

// Collection identifies one independently indexed dataset version.
// It is comparable and safe to use as a map key.
type Collection struct {
	Dataset string
	Version string
}

func validatePart(kind, s string) error {
	if s == "" {
		return fmt.Errorf("%s is required", kind)
	}
	if len(s) > 64 {
		return fmt.Errorf("%s too long (max 64)", kind)
	}
	if strings.Contains(s, separator) || !partRegex.MatchString(s) {
		return fmt.Errorf("%s must be alphanumeric with single underscores and hyphens", kind)
	}
	return nil
}

// New validates and creates a Collection.
func New(dataset, version string) (Collection, error) {
	if err := validatePart("dataset", dataset); err != nil {
		return Collection{}, err
	}
	if err := validatePart("version", version); err != nil {
		return Collection{}, err
	}
	return Collection{Dataset: dataset, Version: version}, nil
}

// Parse reverses Name: "MSVD__5sec" -> {MSVD, 5sec}.
func Parse(name string) (Collection, error) {
	dataset, version, ok := strings.Cut(name, separator)
	if !ok {
		return Collection{}, fmt.Errorf("collection name %q has no %q separator", name, separator)
	}
	return New(dataset, version)
}

// Name returns the vector store collection name.
func (c Collection) Name() string {
	return c.Dataset + separator + c.Version
}

func (c Collection) String() string {
	return c.Dataset + "/" + c.Version
}

// Info describes a served collection as reported by the vector store.
type Info struct {
	Collection Collection
	RowCount   int64
	// Modalities are in display order.
	Modalities []modality.Modality
}
