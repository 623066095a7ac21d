package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"eqas-cloud/internal/observability/metrics"
	vocabapp "eqas-cloud/internal/vocab/application"
	vocab "eqas-cloud/internal/vocab/domain"
	"eqas-cloud/internal/vocab/interfaces/export"
)

const (
	contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	contentTypePDF  = "application/pdf"
)

func (h *Handler) createMapping(w http.ResponseWriter, r *http.Request) {
	var in vocabapp.MappingInput
	if err := decodeBody(r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	m, err := h.mappings.CreateMapping(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *Handler) getMapping(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	m, err := h.mappings.GetMapping(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) listMappings(w http.ResponseWriter, r *http.Request) {
	req, err := pageRequest(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	req = req.Normalize()
	key := fmt.Sprintf("%s:page:%d:%d:%s:%t", vocabapp.RegionMappings, req.Page, req.Size, req.Sort, req.Ascending)
	page, err := cached(r.Context(), h, key, func(ctx context.Context) (vocab.Page[vocab.Mapping], error) {
		return h.mappings.ListMappings(ctx, req)
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) updateMapping(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var in vocabapp.MappingUpdate
	if err := decodeBody(r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	m, err := h.mappings.UpdateMapping(r.Context(), id, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) deleteMapping(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.mappings.DeleteMapping(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) mappingsByVocabulary(w http.ResponseWriter, r *http.Request) {
	vocabID, err := pathID(r, "vocabId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	list, err := cached(r.Context(), h, vocabapp.VocabularyKey(vocabID)+":mappings", func(ctx context.Context) ([]vocab.Mapping, error) {
		return h.mappings.MappingsByVocabulary(ctx, vocabID)
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) mappingsByTopic(w http.ResponseWriter, r *http.Request) {
	topicID, err := pathID(r, "topicId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	list, err := cached(r.Context(), h, vocabapp.TopicKey(topicID)+":mappings", func(ctx context.Context) ([]vocab.Mapping, error) {
		return h.mappings.MappingsByTopic(ctx, topicID)
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// primaryTopic answers 404 when the vocabulary has no primary mapping.
func (h *Handler) primaryTopic(w http.ResponseWriter, r *http.Request) {
	vocabID, err := pathID(r, "vocabId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	m, err := cached(r.Context(), h, vocabapp.PrimaryKey(vocabID), func(ctx context.Context) (*vocab.Mapping, error) {
		return h.mappings.PrimaryMapping(ctx, vocabID)
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if m == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: fmt.Sprintf("vocabulary %d has no primary topic", vocabID)})
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) setPrimaryTopic(w http.ResponseWriter, r *http.Request) {
	vocabID, err := pathID(r, "vocabId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	topicID, err := pathID(r, "topicId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	m, err := h.mappings.SetPrimaryTopic(r.Context(), vocabID, topicID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) addVocabulariesToTopic(w http.ResponseWriter, r *http.Request) {
	topicID, err := pathID(r, "topicId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	isPrimary, err := boolQuery(r, "isPrimary")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ids, err := decodeIDs(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	list, err := h.mappings.AddVocabulariesToTopic(r.Context(), topicID, ids, isPrimary)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) removeVocabulariesFromTopic(w http.ResponseWriter, r *http.Request) {
	topicID, err := pathID(r, "topicId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ids, err := decodeIDs(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	removed, err := h.mappings.RemoveVocabulariesFromTopic(r.Context(), topicID, ids)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (h *Handler) addTopicsToVocabulary(w http.ResponseWriter, r *http.Request) {
	vocabID, err := pathID(r, "vocabId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	primaryTopicID, err := optionalIDQuery(r, "primaryTopicId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ids, err := decodeIDs(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	list, err := h.mappings.AddTopicsToVocabulary(r.Context(), vocabID, ids, primaryTopicID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) removeTopicsFromVocabulary(w http.ResponseWriter, r *http.Request) {
	vocabID, err := pathID(r, "vocabId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	ids, err := decodeIDs(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	removed, err := h.mappings.RemoveTopicsFromVocabulary(r.Context(), vocabID, ids)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

func (h *Handler) checkIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.mappings.CheckIntegrity(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *Handler) repairIntegrity(w http.ResponseWriter, r *http.Request) {
	summary, err := h.mappings.RepairIntegrity(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := cached(r.Context(), h, vocabapp.RegionMappingStats, h.mappings.Statistics)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) integrityReportXLSX(w http.ResponseWriter, r *http.Request) {
	h.integrityReport(w, r, "xlsx", contentTypeXLSX, export.BuildIntegrityReportXLSX)
}

func (h *Handler) integrityReportPDF(w http.ResponseWriter, r *http.Request) {
	h.integrityReport(w, r, "pdf", contentTypePDF, export.BuildIntegrityReportPDF)
}

func (h *Handler) integrityReport(w http.ResponseWriter, r *http.Request, format, contentType string, build func(vocabapp.IntegrityReport) ([]byte, error)) {
	start := time.Now()
	report, err := h.mappings.CheckIntegrity(r.Context())
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.respondError(w, r, err)
		return
	}
	data, err := build(report)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.respondError(w, r, vocab.Storage("export_"+format, err))
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))
	filename := fmt.Sprintf("mapping-integrity-%s.%s", report.CheckedAt.Format("20060102-150405"), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

// mappingRegions covers every cached mapping read.
var mappingRegions = []string{
	vocabapp.RegionMappings,
	vocabapp.RegionMappingStats,
	"vocab",
	"topic",
	"primary",
}

func (h *Handler) clearMappingCache(w http.ResponseWriter, r *http.Request) {
	h.clearCache(w, r, "clear_mapping_cache", func(ctx context.Context) error {
		return h.cache.Invalidate(ctx, mappingRegions...)
	})
}

func (h *Handler) clearAllCache(w http.ResponseWriter, r *http.Request) {
	h.clearCache(w, r, "clear_all_cache", func(ctx context.Context) error {
		return h.cache.Clear(ctx)
	})
}

func (h *Handler) clearCache(w http.ResponseWriter, r *http.Request, op string, clear func(context.Context) error) {
	if h.cache != nil {
		err := clear(r.Context())
		metrics.IncCacheInvalidation(metrics.Result(err))
		if err != nil {
			h.respondError(w, r, vocab.Storage(op, err))
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cleared": true})
}
