package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mwantia/lakesync/internal/rebuild"
	"github.com/mwantia/lakesync/pkg/db/models"
	"github.com/mwantia/lakesync/pkg/db/store"
	"github.com/mwantia/lakesync/pkg/objstore"
)

const maxBodySize = 1 << 20

type keysRequest struct {
	Keys []string `json:"keys"`
}

type rebuildResponse struct {
	Status    string   `json:"status"`
	Attempts  int      `json:"attempts"`
	Created   int      `json:"created"`
	Updated   int      `json:"updated"`
	Deleted   int      `json:"deleted"`
	Affected  []string `json:"affected"`
	Dirtied   int      `json:"dirtied"`
	Refreshed int      `json:"refreshed"`
	Error     string   `json:"error,omitempty"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

type fileResponse struct {
	Key          string `json:"key"`
	Size         int64  `json:"size"`
	Version      int64  `json:"version"`
	LastModified string `json:"last_modified"`
	URL          string `json:"url"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(v)
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	h.logger.Error("Request failed: %v", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}

func toRebuildResponse(outcome *rebuild.Outcome) rebuildResponse {
	result := outcome.Result
	resp := rebuildResponse{
		Status:    string(result.Status),
		Attempts:  result.Attempts,
		Created:   result.Count(rebuild.ChangeCreated),
		Updated:   result.Count(rebuild.ChangeUpdated),
		Deleted:   result.Count(rebuild.ChangeDeleted),
		Affected:  result.Keys(),
		Dirtied:   outcome.Dirtied,
		Refreshed: outcome.Refreshed,
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
	}
	return resp
}

// rebuildAccount runs detached from the request so a client disconnect does not
// abort a pass halfway.
func (h *Handler) rebuildAccount(w http.ResponseWriter, r *http.Request) {
	trigger := rebuild.TriggerWebhook
	if r.URL.Query().Get("trigger") == rebuild.TriggerManual {
		trigger = rebuild.TriggerManual
	}

	outcome, err := h.service.Rebuild(context.WithoutCancel(r.Context()), chi.URLParam(r, "account"), trigger)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRebuildResponse(outcome))
}

func (h *Handler) uploads(w http.ResponseWriter, r *http.Request) {
	var req keysRequest
	if err := decode(w, r, &req); err != nil || len(req.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "expected a JSON body with at least one key")
		return
	}

	outcome, err := h.service.Notify(context.WithoutCancel(r.Context()), chi.URLParam(r, "account"), req.Keys)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRebuildResponse(outcome))
}

func (h *Handler) deleteFiles(w http.ResponseWriter, r *http.Request) {
	var req keysRequest
	if err := decode(w, r, &req); err != nil || len(req.Keys) == 0 {
		writeError(w, http.StatusBadRequest, "expected a JSON body with at least one key")
		return
	}

	account, err := h.catalog.GetAccount(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	creds := objstore.Credentials{
		AccessKey: h.cfg.AdminAccessKey,
		SecretKey: h.cfg.AdminSecretKey,
		Bucket:    account.Bucket,
		Region:    account.Region,
	}
	if creds.AccessKey == "" || creds.SecretKey == "" {
		creds.AccessKey, creds.SecretKey = account.AccessKey, account.SecretKey
	}

	files := make([]models.File, 0, len(req.Keys))
	for _, key := range req.Keys {
		files = append(files, models.File{AccountID: account.ID, Key: key})
	}

	ok, err := h.deleter.DeleteFiles(context.WithoutCancel(r.Context()), creds, account.ID, files)
	resp := deleteResponse{Success: ok}
	if err != nil {
		resp.Error = err.Error()
	}

	status := http.StatusOK
	if !ok {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (h *Handler) callback(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "source"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}

	var cb rebuild.Callback
	if err := decode(w, r, &cb); err != nil {
		writeError(w, http.StatusBadRequest, "invalid callback body")
		return
	}

	source, err := h.lifecycle.HandleCallback(r.Context(), uint(id), cb)
	switch {
	case errors.Is(err, models.ErrSourceNotRunning):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, rebuild.ErrInvalidCallback):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.As(err, new(*objstore.Error)):
		writeError(w, http.StatusBadGateway, err.Error())
		return
	case err != nil:
		h.writeStoreError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":    source.ID,
		"state": source.State,
	})
}

func (h *Handler) listFiles(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, _ := strconv.Atoi(query.Get("limit"))
	offset, _ := strconv.Atoi(query.Get("offset"))

	accountID := chi.URLParam(r, "account")
	if _, err := h.catalog.GetAccount(r.Context(), accountID); err != nil {
		h.writeStoreError(w, err)
		return
	}

	files, err := h.catalog.ListFiles(r.Context(), accountID, store.FileFilter{
		Prefix:        query.Get("prefix"),
		IncludeHidden: query.Get("hidden") == "true",
		Limit:         limit,
		Offset:        offset,
	})
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	resp := make([]fileResponse, 0, len(files))
	for _, file := range files {
		resp = append(resp, toFileResponse(file, file.URL))
	}
	writeJSON(w, http.StatusOK, resp)
}

// sourceFiles lists the files a source currently matches with presigned
// download URLs.
func (h *Handler) sourceFiles(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "source"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid source id")
		return
	}

	account, err := h.catalog.GetAccount(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	source, err := h.catalog.GetSource(r.Context(), uint(id))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if source.AccountID != account.ID {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	files, err := h.catalog.ListAccountFiles(r.Context(), account.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}

	client, err := h.factory.New(objstore.Credentials{
		AccessKey: account.AccessKey,
		SecretKey: account.SecretKey,
		Bucket:    account.Bucket,
		Region:    account.Region,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	matched := rebuild.MatchFiles(files, rebuild.FilterOf(source))
	resp := make([]fileResponse, 0, len(matched))
	for _, file := range matched {
		url, err := client.PresignGet(r.Context(), account.Bucket, file.Key, h.cfg.PresignTTL)
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}
		resp = append(resp, toFileResponse(file, url))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 20
	}

	runs, err := h.catalog.ListRebuildRuns(r.Context(), chi.URLParam(r, "account"), limit)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func toFileResponse(file models.File, url string) fileResponse {
	return fileResponse{
		Key:          file.Key,
		Size:         file.Size,
		Version:      file.Version,
		LastModified: file.LastModified.UTC().Format(time.RFC3339),
		URL:          url,
	}
}
