package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	vocabapp "eqas-cloud/internal/vocab/application"
)

// ReadCache caches JSON responses of mapping reads. Values are stored only if
// no invalidation happened since Version was read.
type ReadCache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	Version(ctx context.Context) (int64, error)
	SetJSONIfVersion(ctx context.Context, key string, value any, version int64) (bool, error)
	Invalidate(ctx context.Context, keys ...string) error
	Clear(ctx context.Context) error
}

// Handler serves the /vocab routes.
type Handler struct {
	mappings *vocabapp.MappingService
	catalog  *vocabapp.CatalogService
	cache    ReadCache
	logger   *zap.Logger
}

// Option configures the handler.
type Option func(*Handler)

// WithReadCache enables read-through caching of mapping reads.
func WithReadCache(cache ReadCache) Option {
	return func(h *Handler) {
		h.cache = cache
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler constructs a handler.
func NewHandler(mappings *vocabapp.MappingService, catalog *vocabapp.CatalogService, opts ...Option) (*Handler, error) {
	if mappings == nil {
		return nil, errors.New("vocab handler: nil mapping service")
	}
	if catalog == nil {
		return nil, errors.New("vocab handler: nil catalog service")
	}
	h := &Handler{mappings: mappings, catalog: catalog, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Routes returns the router to mount at /vocab.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/", h.createVocabulary)
	r.Post("/batch", h.createVocabularies)
	r.Delete("/batch", h.deleteVocabularies)
	r.Get("/cefr-levels", h.cefrLevels)
	r.Get("/pos-options", h.posOptions)
	r.Get("/frequency-levels", h.frequencyLevels)
	r.Get("/difficulty-levels", h.difficultyLevels)
	r.Post("/cache/clear-mappings", h.clearMappingCache)
	r.Post("/cache/clear-all", h.clearAllCache)

	r.Route("/topics", func(r chi.Router) {
		r.Post("/", h.createTopic)
		r.Get("/roots", h.rootTopics)
		r.Get("/hierarchy", h.topicHierarchy)
		r.Get("/by-parent/{parentId}", h.topicChildren)
		r.Get("/by-code/{code}", h.topicByCode)
		r.Post("/batch", h.createTopics)
		r.Delete("/batch", h.deleteTopics)
		r.Get("/{id}", h.getTopic)
		r.Put("/{id}", h.updateTopic)
		r.Delete("/{id}", h.deleteTopic)
	})

	r.Route("/mappings", func(r chi.Router) {
		r.Post("/", h.createMapping)
		r.Get("/", h.listMappings)
		r.Get("/statistics", h.statistics)
		r.Get("/integrity-check", h.checkIntegrity)
		r.Post("/repair-integrity", h.repairIntegrity)
		r.Get("/integrity-report.xlsx", h.integrityReportXLSX)
		r.Get("/integrity-report.pdf", h.integrityReportPDF)
		r.Get("/by-vocab/{vocabId}", h.mappingsByVocabulary)
		r.Get("/by-topic/{topicId}", h.mappingsByTopic)
		r.Get("/primary-topic/{vocabId}", h.primaryTopic)
		r.Post("/set-primary/{vocabId}/{topicId}", h.setPrimaryTopic)
		r.Post("/add-vocabs-to-topic/{topicId}", h.addVocabulariesToTopic)
		r.Delete("/remove-vocabs-from-topic/{topicId}", h.removeVocabulariesFromTopic)
		r.Post("/add-topics-to-vocab/{vocabId}", h.addTopicsToVocabulary)
		r.Delete("/remove-topics-from-vocab/{vocabId}", h.removeTopicsFromVocabulary)
		r.Get("/{id}", h.getMapping)
		r.Put("/{id}", h.updateMapping)
		r.Delete("/{id}", h.deleteMapping)
	})

	r.Get("/{id}", h.getVocabulary)
	r.Put("/{id}", h.updateVocabulary)
	r.Delete("/{id}", h.deleteVocabulary)
	return r
}

// cached serves key from the read cache, loading and storing it on a miss.
// The result is not stored when a mutation invalidated the cache while it
// was loading. Cache failures degrade to a direct load.
func cached[T any](ctx context.Context, h *Handler, key string, load func(context.Context) (T, error)) (T, error) {
	if h.cache == nil {
		return load(ctx)
	}
	var out T
	hit, err := h.cache.GetJSON(ctx, key, &out)
	if err != nil {
		h.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
		return load(ctx)
	}
	if hit {
		return out, nil
	}
	version, err := h.cache.Version(ctx)
	if err != nil {
		h.logger.Warn("cache version read failed", zap.String("key", key), zap.Error(err))
		return load(ctx)
	}
	out, err = load(ctx)
	if err != nil {
		return out, err
	}
	stored, err := h.cache.SetJSONIfVersion(ctx, key, out, version)
	if err != nil {
		h.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	} else if !stored {
		h.logger.Debug("cache write skipped after invalidation", zap.String("key", key))
	}
	return out, nil
}
