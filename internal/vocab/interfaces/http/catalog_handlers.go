package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	vocab "eqas-cloud/internal/vocab/domain"
)

func (h *Handler) createVocabulary(w http.ResponseWriter, r *http.Request) {
	var in vocab.Vocabulary
	if err := decodeBody(r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	v, err := h.catalog.CreateVocabulary(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *Handler) createVocabularies(w http.ResponseWriter, r *http.Request) {
	var in []vocab.Vocabulary
	if err := decodeBody(r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	list, err := h.catalog.CreateVocabularies(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

func (h *Handler) getVocabulary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	v, err := h.catalog.GetVocabulary(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) updateVocabulary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var in vocab.Vocabulary
	if err := decodeBody(r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	v, err := h.catalog.UpdateVocabulary(r.Context(), id, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) deleteVocabulary(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.catalog.DeleteVocabulary(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteVocabularies(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDs(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	n, err := h.catalog.DeleteVocabularies(r.Context(), ids)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) createTopic(w http.ResponseWriter, r *http.Request) {
	var in vocab.Topic
	if err := decodeBody(r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	t, err := h.catalog.CreateTopic(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *Handler) createTopics(w http.ResponseWriter, r *http.Request) {
	var in []vocab.Topic
	if err := decodeBody(r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	list, err := h.catalog.CreateTopics(r.Context(), in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, list)
}

func (h *Handler) topicByCode(w http.ResponseWriter, r *http.Request) {
	t, err := h.catalog.TopicByCode(r.Context(), chi.URLParam(r, "code"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) getTopic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	t, err := h.catalog.GetTopic(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) updateTopic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	var in vocab.Topic
	if err := decodeBody(r, &in); err != nil {
		h.respondError(w, r, err)
		return
	}
	t, err := h.catalog.UpdateTopic(r.Context(), id, in)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *Handler) deleteTopic(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.catalog.DeleteTopic(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteTopics(w http.ResponseWriter, r *http.Request) {
	ids, err := decodeIDs(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	n, err := h.catalog.DeleteTopics(r.Context(), ids)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"deleted": n})
}

func (h *Handler) rootTopics(w http.ResponseWriter, r *http.Request) {
	list, err := h.catalog.RootTopics(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) topicHierarchy(w http.ResponseWriter, r *http.Request) {
	tree, err := h.catalog.TopicHierarchy(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tree)
}

func (h *Handler) topicChildren(w http.ResponseWriter, r *http.Request) {
	parentID, err := pathID(r, "parentId")
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	list, err := h.catalog.TopicChildren(r.Context(), parentID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) cefrLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vocab.CEFRLevels)
}

func (h *Handler) posOptions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vocab.POSOptions)
}

func (h *Handler) frequencyLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vocab.FrequencyLevels)
}

func (h *Handler) difficultyLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vocab.DifficultyLevels)
}
