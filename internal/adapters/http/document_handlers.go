package httpadapter

import (
	"net/http"
	"time"

	"github.com/hyperdrive-eng/meilisearch/internal/core/domain"
)

type taskSummary struct {
	TaskUID    string            `json:"taskUid"`
	IndexUID   string            `json:"indexUid"`
	Status     domain.TaskStatus `json:"status"`
	Type       string            `json:"type"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
}

func (rt *Router) addDocuments(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	task, err := rt.services.Ingest.AddDocuments(r.Context(), r.PathValue("uid"), body)
	if err != nil {
		writeError(w, r, err)
		return
	}
	rt.metrics.RecordDocumentsEnqueued(serviceName, task.IndexUID, task.ReceivedDocuments)
	requestLogger(r).Info("documents_enqueued",
		"index", task.IndexUID,
		"task_uid", task.UID,
		"documents", task.ReceivedDocuments,
	)

	writeJSON(w, http.StatusAccepted, taskSummary{
		TaskUID:    task.UID,
		IndexUID:   task.IndexUID,
		Status:     task.Status,
		Type:       task.Type,
		EnqueuedAt: task.EnqueuedAt,
	})
}

func (rt *Router) getDocument(w http.ResponseWriter, r *http.Request) {
	retrieveVectors, err := boolParam(r.URL.Query(), "retrieveVectors")
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := rt.services.Documents.GetDocument(r.Context(), r.PathValue("uid"), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := domain.Hit{Fields: doc.Fields}
	if retrieveVectors {
		out.Vectors = doc.Vectors
		if out.Vectors == nil {
			out.Vectors = map[string][][]float32{}
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (rt *Router) getSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := rt.services.Documents.GetSettings(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (rt *Router) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := rt.services.Tasks.GetTask(r.Context(), r.PathValue("uid"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, task)
}
