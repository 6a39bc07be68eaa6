// Copyright (c) 2025 Nishisan. All rights reserved.
// Use of this source code is governed by the N-Backup License (Non-Commercial Evaluation)
// that can be found in the LICENSE file.

package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"

	"github.com/gorilla/mux"

	"github.com/nishisan-dev/n-upload/internal/observability"
	"github.com/nishisan-dev/n-upload/internal/publish"
	"github.com/nishisan-dev/n-upload/internal/staging"
)

// maxJSONBody limita corpos JSON de controle (open, merge).
const maxJSONBody = 1 << 20

// Deps reúne o que o Handler precisa. Events, Publisher, Disk e ACL são opcionais.
type Deps struct {
	Staging       *staging.Service
	Events        observability.EventLog
	Publisher     publish.Publisher
	Disk          observability.DiskReporter
	ACL           *observability.ACL
	MaxChunkSize  int64
	MaxBatchFiles int
	Logger        *slog.Logger
}

// Handler traduz as requisições HTTP para operações do staging.
type Handler struct {
	svc           *staging.Service
	events        observability.EventLog
	publisher     publish.Publisher
	disk          observability.DiskReporter
	acl           *observability.ACL
	maxChunkSize  int64
	maxBatchFiles int
	logger        *slog.Logger

	// Métricas observáveis pelo stats reporter
	TrafficIn      atomic.Int64 // bytes de corpo recebidos (acumulado desde último reset)
	DiskWrite      atomic.Int64 // bytes gravados em staging (acumulado desde último reset)
	ActiveRequests atomic.Int32
}

// NewHandler cria um Handler.
func NewHandler(d Deps) *Handler {
	if d.MaxBatchFiles <= 0 {
		d.MaxBatchFiles = 10
	}
	return &Handler{
		svc:           d.Staging,
		events:        d.Events,
		publisher:     d.Publisher,
		disk:          d.Disk,
		acl:           d.ACL,
		maxChunkSize:  d.MaxChunkSize,
		maxBatchFiles: d.MaxBatchFiles,
		logger:        d.Logger.With("component", "http"),
	}
}

// Router monta as rotas da API, as rotas legadas multipart e as administrativas.
func (h *Handler) Router() http.Handler {
	r := mux.NewRouter()
	r.Use(h.instrument)

	api := r.PathPrefix("/api/v1/uploads").Subrouter()
	api.HandleFunc("", h.handleOpen).Methods(http.MethodPost)
	api.HandleFunc("/{uploadID}", h.handleInspect).Methods(http.MethodGet)
	api.HandleFunc("/{uploadID}", h.handleAbort).Methods(http.MethodDelete)
	api.HandleFunc("/{uploadID}/chunks/{index}", h.handlePutChunk).Methods(http.MethodPut)
	api.HandleFunc("/{uploadID}/merge", h.handleMerge).Methods(http.MethodPost)

	legacy := r.PathPrefix("/file-upload/upload").Subrouter()
	legacy.HandleFunc("/large-files", h.handleLegacyChunk).Methods(http.MethodPost)
	legacy.HandleFunc("/large-files/2", h.handleLegacyBatch).Methods(http.MethodPost)
	legacy.HandleFunc("/large-files/merge", h.handleLegacyMerge).Methods(http.MethodPost)

	observability.Register(r, h.events, h.disk, h.acl)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "NotFound", Message: "no route for " + r.URL.Path})
	})
	return r
}

type openRequest struct {
	UploadID         string `json:"upload_id"`
	DeclaredFilename string `json:"name_file"`
	ExpectedChunks   int    `json:"expected_chunks"`
}

type openResponse struct {
	Success  bool             `json:"success"`
	Message  string           `json:"message"`
	UploadID string           `json:"upload_id"`
	Session  *staging.Session `json:"session"`
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	sess, err := h.svc.Open(r.Context(), staging.OpenRequest{
		UploadID:         req.UploadID,
		DeclaredFilename: req.DeclaredFilename,
		ExpectedChunks:   req.ExpectedChunks,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.push("info", observability.EventSessionOpened, sess.UploadID,
		fmt.Sprintf("opened upload %s for file %s", sess.UploadID, sess.DeclaredFilename))
	writeJSON(w, http.StatusCreated, openResponse{
		Success:  true,
		Message:  fmt.Sprintf("opened upload %s", sess.UploadID),
		UploadID: sess.UploadID,
		Session:  sess,
	})
}

type inspectResponse struct {
	Success bool `json:"success"`
	*staging.UploadStatus
}

func (h *Handler) handleInspect(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Inspect(r.Context(), mux.Vars(r)["uploadID"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inspectResponse{Success: true, UploadStatus: st})
}

func (h *Handler) handleAbort(w http.ResponseWriter, r *http.Request) {
	uploadID := mux.Vars(r)["uploadID"]
	if err := h.svc.Abort(r.Context(), uploadID); err != nil {
		writeError(w, err)
		return
	}
	msg := fmt.Sprintf("aborted upload %s", uploadID)
	h.push("info", observability.EventAborted, uploadID, msg)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg, "upload_id": uploadID})
}

// handlePutChunk grava o corpo cru da requisição como um chunk.
func (h *Handler) handlePutChunk(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	uploadID := vars["uploadID"]

	index, err := strconv.Atoi(vars["index"])
	if err != nil {
		writeError(w, badRequest("chunk index must be an integer, got %q", vars["index"]))
		return
	}
	q := r.URL.Query()
	total := 0
	if raw := q.Get("total_chunks"); raw != "" {
		if total, err = strconv.Atoi(raw); err != nil {
			writeError(w, badRequest("total_chunks must be an integer, got %q", raw))
			return
		}
	}

	if h.maxChunkSize > 0 {
		if r.ContentLength > h.maxChunkSize {
			writeError(w, fmt.Errorf("chunk of %d bytes: %w", r.ContentLength, errChunkTooLarge))
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkSize)
	}
	body, err := decodeBody(r.Header.Get("Content-Encoding"), r.Body)
	if err != nil {
		writeError(w, err)
		return
	}
	defer body.Close()

	res, err := h.svc.WriteChunk(r.Context(), staging.ChunkWrite{
		UploadID:         uploadID,
		Index:            index,
		TotalChunks:      total,
		DeclaredFilename: q.Get("name_file"),
		Source:           staging.ReaderSource{R: newLimitedReader(body, h.maxChunkSize), Size: r.ContentLength},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.DiskWrite.Add(res.Size)
	h.push("info", observability.EventChunkSaved, uploadID, res.Message)
	writeJSON(w, http.StatusOK, res)
}

type mergeBody struct {
	UploadID       string `json:"upload_id"`
	ExpectedChunks int    `json:"expected_chunks"`
}

func (h *Handler) handleMerge(w http.ResponseWriter, r *http.Request) {
	var body mergeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	h.merge(w, r, staging.MergeRequest{UploadID: mux.Vars(r)["uploadID"], ExpectedChunks: body.ExpectedChunks})
}

// handleLegacyChunk atende POST /file-upload/upload/large-files: campo "file" e
// os campos upload_id, chunk_index, total_chunks e name_file.
func (h *Handler) handleLegacyChunk(w http.ResponseWriter, r *http.Request) {
	if h.maxChunkSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkSize+maxJSONBody)
	}
	form, err := readSpooledForm(r, h.svc.Fs(), h.svc.Resolver().IncomingPath(), "file", 1, h.maxChunkSize)
	if err != nil {
		writeError(w, err)
		return
	}
	defer form.cleanup()

	if len(form.files) == 0 {
		writeError(w, badRequest("No file uploaded"))
		return
	}
	index, present, err := form.intField("chunk_index")
	if err != nil {
		writeError(w, err)
		return
	}
	if !present {
		writeError(w, badRequest("chunk_index is required"))
		return
	}
	total, _, err := form.intField("total_chunks")
	if err != nil {
		writeError(w, err)
		return
	}
	name := form.fields["name_file"]
	if name == "" {
		name = form.filenames[0]
	}

	uploadID := form.fields["upload_id"]
	res, err := h.svc.WriteChunk(r.Context(), staging.ChunkWrite{
		UploadID:         uploadID,
		Index:            index,
		TotalChunks:      total,
		DeclaredFilename: name,
		Source:           form.files[0],
	})
	if err != nil {
		writeError(w, err)
		return
	}

	h.DiskWrite.Add(res.Size)
	h.push("info", observability.EventChunkSaved, uploadID, res.Message)
	writeJSON(w, http.StatusOK, res)
}

// handleLegacyBatch atende POST /file-upload/upload/large-files/2: várias partes "chunks"
// e os campos upload_id, part_index, total_parts, name_file e chunk_start_index.
func (h *Handler) handleLegacyBatch(w http.ResponseWriter, r *http.Request) {
	if h.maxChunkSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxChunkSize*int64(h.maxBatchFiles)+maxJSONBody)
	}
	form, err := readSpooledForm(r, h.svc.Fs(), h.svc.Resolver().IncomingPath(), "chunks", h.maxBatchFiles, h.maxChunkSize)
	if err != nil {
		writeError(w, err)
		return
	}
	defer form.cleanup()

	if len(form.files) == 0 {
		writeError(w, badRequest("No files uploaded"))
		return
	}

	uploadID := form.fields["upload_id"]
	part, hasPart, err := form.intField("part_index")
	if err != nil {
		writeError(w, err)
		return
	}
	totalParts, hasTotal, err := form.intField("total_parts")
	if err != nil {
		writeError(w, err)
		return
	}
	if uploadID == "" || !hasPart || !hasTotal || form.fields["name_file"] == "" {
		writeError(w, badRequest("Missing required information: upload_id, part_index, total_parts, and name_file are required"))
		return
	}

	var start *int
	if v, ok, err := form.intField("chunk_start_index"); err != nil {
		writeError(w, err)
		return
	} else if ok {
		start = &v
	}

	res, err := h.svc.WriteBatch(r.Context(), staging.BatchWrite{
		UploadID:         uploadID,
		StartIndex:       start,
		PartIndex:        part,
		TotalParts:       totalParts,
		DeclaredFilename: form.fields["name_file"],
		Sources:          form.sources(),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	for _, c := range res.Chunks {
		h.DiskWrite.Add(c.Size)
	}
	h.push("info", observability.EventBatchSaved, uploadID, res.Message)
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleLegacyMerge(w http.ResponseWriter, r *http.Request) {
	var body mergeBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.UploadID == "" {
		writeError(w, badRequest("Upload ID is required"))
		return
	}
	h.merge(w, r, staging.MergeRequest{UploadID: body.UploadID, ExpectedChunks: body.ExpectedChunks})
}

type mergeResponse struct {
	*staging.MergeResult
	CleanupError string          `json:"cleanup_error,omitempty"`
	Published    *publish.Result `json:"published,omitempty"`
	PublishError string          `json:"publish_error,omitempty"`
}

// merge monta o upload e, se configurado, publica o resultado.
// Falhas de limpeza e de publicação não invalidam o merge.
func (h *Handler) merge(w http.ResponseWriter, r *http.Request, req staging.MergeRequest) {
	res, err := h.svc.Merge(r.Context(), req)
	if err != nil {
		h.push("error", observability.EventMergeFailed, req.UploadID, err.Error())
		writeError(w, err)
		return
	}

	resp := mergeResponse{MergeResult: res}
	h.push("info", observability.EventMerged, req.UploadID, res.Message)
	if res.CleanupErr != nil {
		resp.CleanupError = res.CleanupErr.Error()
		h.push("warn", observability.EventCleanupFailed, req.UploadID, resp.CleanupError)
	}

	if h.publisher != nil {
		pub, err := h.publisher.Publish(r.Context(), req.UploadID, res.FilePath)
		if err != nil {
			resp.PublishError = err.Error()
			h.logger.Error("publishing merged file", "uploadID", req.UploadID, "error", err)
			h.push("error", observability.EventPublishFailed, req.UploadID, err.Error())
		} else {
			resp.Published = pub
			h.push("info", observability.EventPublished, req.UploadID,
				fmt.Sprintf("published %s to %s/%s", res.FilePath, pub.Bucket, pub.Key))
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) push(level, eventType, uploadID, msg string) {
	if h.events != nil {
		h.events.PushEvent(level, eventType, uploadID, msg)
	}
}

// decodeJSON lê um corpo JSON opcional; corpo vazio deixa v intacto.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}
