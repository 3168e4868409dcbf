package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/carecoord/carecoord/internal/entity"
	"github.com/carecoord/carecoord/internal/identity"
	"github.com/carecoord/carecoord/internal/record"
	"github.com/carecoord/carecoord/internal/repository"
	"github.com/carecoord/carecoord/internal/storage"
	"github.com/carecoord/carecoord/internal/store"
	"github.com/carecoord/carecoord/internal/subscription"
	"github.com/carecoord/carecoord/pkg/logger"
)

// maxAttachmentSize bounds multipart uploads.
const maxAttachmentSize = 32 << 20

// EntityHandler serves the record API of every entity kind.
type EntityHandler struct {
	repos       *repository.Factory
	blobs       storage.BlobStore
	loadTimeout time.Duration
	now         func() time.Time
}

func NewEntityHandler(repos *repository.Factory, blobs storage.BlobStore, loadTimeout time.Duration) *EntityHandler {
	return &EntityHandler{
		repos:       repos,
		blobs:       blobs,
		loadTimeout: loadTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Register mounts the routes on rg, which is expected to carry the auth
// middleware.
func (h *EntityHandler) Register(rg *gin.RouterGroup) {
	rg.GET("/stream/:kind", h.Stream)
	rg.GET("/:kind", h.List)
	rg.POST("/:kind", h.Create)
	rg.GET("/:kind/:id", h.Get)
	rg.PATCH("/:kind/:id", h.Update)
	rg.DELETE("/:kind/:id", h.Delete)
	rg.POST("/:kind/:id/intakes", h.AddIntake)
	rg.POST("/:kind/:id/attachments", h.AddAttachment)
}

// writeError maps repository errors onto HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, repository.ErrUnknownEntityType):
		status = http.StatusNotFound
	case errors.Is(err, identity.ErrUnauthenticated):
		status = http.StatusUnauthorized
	case errors.Is(err, store.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, entity.ErrInvalidField):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		logger.Errorf("%s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		c.AbortWithStatusJSON(status, gin.H{"error": "internal error"})
		return
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

func (h *EntityHandler) repo(c *gin.Context) (*repository.Repository, bool) {
	r, err := h.repos.Lookup(c.Param("kind"))
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return r, true
}

// filter reads the optional field/value query pair. ok is false when a
// response has already been written.
func filter(c *gin.Context, r *repository.Repository) (field, value string, ok bool) {
	field = c.Query("field")
	if field == "" {
		return "", "", true
	}
	if !r.Config().AllowsFilter(field) {
		writeError(c, fmt.Errorf("%w: %s cannot be filtered on", entity.ErrInvalidField, field))
		return "", "", false
	}
	return field, c.Query("value"), true
}

// caller returns the request identity set by the auth middleware.
func caller(c *gin.Context) (string, bool) {
	uid, err := identity.Current(c.Request.Context(), identity.ContextProvider{})
	if err != nil {
		writeError(c, err)
		return "", false
	}
	return uid, true
}

// reachable loads the record named by :id if the caller may reach it. ok is
// false when a response has already been written.
func (h *EntityHandler) reachable(c *gin.Context, r *repository.Repository) (record.Record, bool) {
	uid, ok := caller(c)
	if !ok {
		return nil, false
	}
	rec, err := h.repos.Authorize(c.Request.Context(), r, c.Param("id"), uid)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	if rec == nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "not found"})
		return nil, false
	}
	return rec, true
}

func bindFields(c *gin.Context) (store.Fields, bool) {
	var body store.Fields
	if err := c.ShouldBindJSON(&body); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return body, true
}

// List returns the caller's records, or the reachable records matching
// ?field=&value=.
func (h *EntityHandler) List(c *gin.Context) {
	r, ok := h.repo(c)
	if !ok {
		return
	}
	field, value, ok := filter(c, r)
	if !ok {
		return
	}
	uid, ok := caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	var (
		recs []record.Record
		err  error
	)
	if field != "" {
		recs, err = h.listFiltered(c, r, field, value, uid)
	} else {
		recs, err = r.ListOwned(ctx, uid)
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, recs)
}

func (h *EntityHandler) listFiltered(c *gin.Context, r *repository.Repository, field, value, uid string) ([]record.Record, error) {
	ctx := c.Request.Context()
	perRecord, err := h.repos.AuthorizeFilter(ctx, r, field, value, uid)
	if err != nil {
		return nil, err
	}
	recs, err := r.ListFiltered(ctx, field, value)
	if err != nil || !perRecord {
		return recs, err
	}
	return h.repos.Reachable(ctx, r, recs, uid)
}

func (h *EntityHandler) Create(c *gin.Context) {
	r, ok := h.repo(c)
	if !ok {
		return
	}
	body, ok := bindFields(c)
	if !ok {
		return
	}
	id, err := r.Create(c.Request.Context(), body)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (h *EntityHandler) Get(c *gin.Context) {
	r, ok := h.repo(c)
	if !ok {
		return
	}
	rec, ok := h.reachable(c, r)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (h *EntityHandler) Update(c *gin.Context) {
	r, ok := h.repo(c)
	if !ok {
		return
	}
	if _, ok := h.reachable(c, r); !ok {
		return
	}
	body, ok := bindFields(c)
	if !ok {
		return
	}
	id := c.Param("id")
	if err := r.Update(c.Request.Context(), id, body); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id})
}

func (h *EntityHandler) Delete(c *gin.Context) {
	r, ok := h.repo(c)
	if !ok {
		return
	}
	if _, ok := h.reachable(c, r); !ok {
		return
	}
	if err := r.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// appendItem merges item onto the end of field of rec.
func appendItem(c *gin.Context, r *repository.Repository, rec record.Record, field string, item store.Fields) bool {
	var items []any
	if existing, ok := rec[field].([]any); ok {
		items = append(items, existing...)
	}
	items = append(items, item)
	if err := r.Update(c.Request.Context(), rec.ID(), store.Fields{field: items}); err != nil {
		writeError(c, err)
		return false
	}
	return true
}

// AddIntake records one dosage intake on a prescription.
func (h *EntityHandler) AddIntake(c *gin.Context) {
	r, ok := h.repo(c)
	if !ok {
		return
	}
	if r.Config().Kind != entity.Prescriptions {
		c.JSON(http.StatusNotFound, gin.H{"error": "intakes are recorded on prescriptions only"})
		return
	}
	rec, ok := h.reachable(c, r)
	if !ok {
		return
	}
	body, ok := bindFields(c)
	if !ok {
		return
	}
	uid, _ := identity.FromContext(c.Request.Context())
	intake, err := entity.Intake(uid, body, h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	if !appendItem(c, r, rec, "intakes", intake) {
		return
	}
	c.JSON(http.StatusCreated, intake)
}

// AddAttachment stores the multipart "file" in the blob store and lists it
// under the record's attachments.
func (h *EntityHandler) AddAttachment(c *gin.Context) {
	r, ok := h.repo(c)
	if !ok {
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxAttachmentSize)
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart field \"file\" is required"})
		return
	}
	rec, ok := h.reachable(c, r)
	if !ok {
		return
	}
	id := rec.ID()
	ctx := c.Request.Context()

	f, err := fh.Open()
	if err != nil {
		writeError(c, fmt.Errorf("open upload: %w", err))
		return
	}
	defer f.Close()

	contentType := fh.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	key := storage.AttachmentKey(r.Config().Collection, id, fh.Filename)
	url, err := h.blobs.Put(ctx, key, f, fh.Size, contentType)
	if err != nil {
		writeError(c, fmt.Errorf("store attachment: %w", err))
		return
	}
	att := store.Fields{
		"name":        fh.Filename,
		"path":        key,
		"url":         url,
		"contentType": contentType,
		"size":        fh.Size,
	}
	if !appendItem(c, r, rec, "attachments", att) {
		return
	}
	c.JSON(http.StatusCreated, att)
}

type streamView struct {
	Data    []record.Record `json:"data"`
	Loading bool            `json:"loading"`
	Error   string          `json:"error,omitempty"`
}

// Stream pushes every view of a live list as a server-sent "snapshot" event
// until the client goes away.
func (h *EntityHandler) Stream(c *gin.Context) {
	r, ok := h.repo(c)
	if !ok {
		return
	}
	field, value, ok := filter(c, r)
	if !ok {
		return
	}
	uid, ok := caller(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	perRecord := false
	if field != "" {
		var err error
		if perRecord, err = h.repos.AuthorizeFilter(ctx, r, field, value, uid); err != nil {
			writeError(c, err)
			return
		}
	}

	list := subscription.NewList(ctx, r,
		subscription.WithLoadTimeout(h.loadTimeout),
		subscription.WithLabel(r.Config().Collection))
	defer list.Close()
	if field != "" {
		list.Filtered(field, value)
	} else {
		list.Owned(uid)
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-list.Updated():
		}
		v := list.View()
		out := streamView{Data: v.Data, Loading: v.Loading}
		if v.Err == nil && perRecord {
			out.Data, v.Err = h.repos.Reachable(ctx, r, v.Data, uid)
		}
		if v.Err != nil {
			out.Data = []record.Record{}
			out.Error = v.Err.Error()
		}
		c.SSEvent("snapshot", out)
		return true
	})
}
