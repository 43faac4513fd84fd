package domain

// VectorConfig holds internal vectorization settings, not exposed to clients.
type VectorConfig struct {
	Model          string
	Dimensions     int
	DistanceMetric string
	Algorithm      string
}

// DefaultVectorConfig returns the defaults of the LanguageBind indexes.
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Model:          "LanguageBind",
		Dimensions:     768,
		DistanceMetric: "COSINE",
		Algorithm:      "hnsw",
	}
}

// KeyPrefix namespaces every key this service writes to the KV store.
const KeyPrefix = "mediasearch:"
