package mediasearch

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Option configures the Client.
type Option interface {
	apply(*clientConfig)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*clientConfig)

func (f optionFunc) apply(c *clientConfig) { f(c) }

type clientConfig struct {
	driver   string // "milvus" or "qdrant"
	address  string
	username string
	password string
	apiKey   string
	dbName   string
	useTLS   bool

	indexType   string
	searchParam int

	datasets []Collection
	embedder Embedder

	sessionTTL  time.Duration
	maxSessions int
	searchLimit int
	pageSize    int
	maxPageSize int

	logger     *slog.Logger
	metricsReg prometheus.Registerer
}

// WithMilvus configures the client to search a Milvus instance.
func WithMilvus(addr, username, password string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = driverMilvus
		c.address = addr
		c.username = username
		c.password = password
	})
}

// WithQdrant configures the client to search a Qdrant instance over gRPC (host:port).
func WithQdrant(addr, apiKey string) Option {
	return optionFunc(func(c *clientConfig) {
		c.driver = driverQdrant
		c.address = addr
		c.apiKey = apiKey
	})
}

// WithDatabase selects a Milvus database other than the default.
func WithDatabase(name string) Option {
	return optionFunc(func(c *clientConfig) {
		c.dbName = name
	})
}

// WithMilvusIndex sets the index type (flat, ivf_flat or hnsw) and its search parameter
// (nprobe for ivf_flat, ef for hnsw). Default: flat.
func WithMilvusIndex(indexType string, param int) Option {
	return optionFunc(func(c *clientConfig) {
		c.indexType = indexType
		c.searchParam = param
	})
}

// WithTLS enables TLS on the vector store connection.
func WithTLS() Option {
	return optionFunc(func(c *clientConfig) {
		c.useTLS = true
	})
}

// WithDatasets sets the collections the client serves. At least one is required.
func WithDatasets(cols ...Collection) Option {
	return optionFunc(func(c *clientConfig) {
		c.datasets = append(c.datasets, cols...)
	})
}

// WithEmbedder sets the query embedding provider.
// Required for text and file searches; reference searches work without it.
func WithEmbedder(e Embedder) Option {
	return optionFunc(func(c *clientConfig) {
		c.embedder = e
	})
}

// WithSessionTTL sets how long an idle search session stays resumable.
func WithSessionTTL(ttl time.Duration) Option {
	return optionFunc(func(c *clientConfig) {
		c.sessionTTL = ttl
	})
}

// WithMaxSessions caps the number of live sessions; the least recently used is evicted.
func WithMaxSessions(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.maxSessions = n
	})
}

// WithSearchLimit caps how many hits one collection contributes to a session.
func WithSearchLimit(n int) Option {
	return optionFunc(func(c *clientConfig) {
		c.searchLimit = n
	})
}

// WithPageSize overrides the default and maximum page sizes.
func WithPageSize(def, maxSize int) Option {
	return optionFunc(func(c *clientConfig) {
		c.pageSize = def
		c.maxPageSize = maxSize
	})
}

// WithLogger enables structured logging for SDK operations.
// Pass nil to disable (default). Uses standard library slog.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *clientConfig) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *clientConfig) {
		c.metricsReg = reg
	})
}
