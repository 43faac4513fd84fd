package mediasearch

import "github.com/kailas-cloud/mediasearch/internal/domain/modality"

// Modality is the content type of an indexed item or a query.
type Modality = modality.Modality

// Modality constants.
const (
	ModalityVideo  = modality.Video
	ModalityAudio  = modality.Audio
	ModalityImage  = modality.Image
	ModalityText   = modality.Text
	ModalityHybrid = modality.Hybrid
)

// Collection names one dataset version.
type Collection struct {
	Dataset string
	Version string
}

// Request scopes a search. Zero values mean every served collection,
// every modality and the default page size.
type Request struct {
	Collections []Collection
	Modalities  []Modality
	PageSize    int
}

// Hit is one search result. Lower Score means more similar.
type Hit struct {
	ID       string
	Dataset  string
	Version  string
	Path     string
	Score    float64
	Modality Modality
	// Span is the [start, end] second range of a clip; zero for still content.
	Span [2]int
}

// Page is one page of a search session.
type Page struct {
	SessionID string
	Hits      []Hit
}

// IndexInfo describes a searchable collection.
type IndexInfo struct {
	Collection Collection
	RowCount   int64
	Modalities []Modality
}
