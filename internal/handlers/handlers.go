package handlers

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/imgsearch/internal/auth"
	"github.com/example/imgsearch/internal/logging"
	"github.com/example/imgsearch/internal/render"
	"github.com/example/imgsearch/internal/search"
	"github.com/example/imgsearch/internal/ui"
	"github.com/example/imgsearch/internal/usecase"
)

// MaxUploadSize caps the uploaded image size in bytes.
const MaxUploadSize = 10 << 20

const (
	multipartOverhead = 1 << 20
	inProgressMessage = "A SEARCH IS ALREADY RUNNING."
)

// DefaultLimits are the result-count choices offered when none are configured.
var DefaultLimits = []int{5, 10, 20}

// Options configures the gateway routes.
type Options struct {
	// Limits are the result-count choices of the selector.
	Limits []int
	// ImageProxy serves /images/*; the route is omitted when nil.
	ImageProxy http.Handler
}

type upload struct {
	data     []byte
	filename string
}

type handler struct {
	uc     *usecase.SearchUseCase
	limits []int
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.SearchUseCase, opts Options, authMiddleware gin.HandlerFunc) {
	h := &handler{uc: uc, limits: opts.Limits}
	if len(h.limits) == 0 {
		h.limits = DefaultLimits
	}

	router.SetHTMLTemplate(render.PageTemplate())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	if opts.ImageProxy != nil {
		router.GET("/images/*filename", gin.WrapH(opts.ImageProxy))
	}

	page := router.Group("/", auth.SessionMiddleware())
	page.GET("/", h.showPage)
	page.POST("/", h.submitPage)

	api := router.Group("/api", authMiddleware)
	api.POST("/search", h.searchAPI)
	api.GET("/result/:id", h.getResult)
	api.GET("/result/:id/repeats", h.getRepeats)
	api.GET("/metrics/summary", h.getMetrics)
}

func (h *handler) showPage(c *gin.Context) {
	view := render.NewPageView(h.limits, h.limits[0])
	c.HTML(http.StatusOK, render.PageTemplateName, view.Page)
}

func (h *handler) submitPage(c *gin.Context) {
	file, status, err := readUpload(c)
	if err != nil {
		c.String(status, err.Error())
		return
	}
	limit, err := h.parseLimit(c)
	if err != nil {
		c.String(http.StatusBadRequest, err.Error())
		return
	}
	view := render.NewPageView(h.limits, limit)

	sessionID, _ := auth.GetSessionID(c.Request.Context())
	outcome, err := h.uc.Search(c.Request.Context(), sessionID, view, selection(file, limit))
	switch {
	case errors.Is(err, search.ErrNoInputSelected):
		c.HTML(http.StatusBadRequest, render.PageTemplateName, view.Page)
		return
	case errors.Is(err, ui.ErrSearchInProgress):
		view.Notify(inProgressMessage)
		c.HTML(http.StatusConflict, render.PageTemplateName, view.Page)
		return
	}
	if outcome != nil {
		view.Page.RequestID = outcome.RequestID
	}
	c.HTML(http.StatusOK, render.PageTemplateName, view.Page)
}

func (h *handler) searchAPI(c *gin.Context) {
	file, status, err := readUpload(c)
	if err != nil {
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	limit, err := h.parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	sessionID, _ := auth.GetSessionID(c.Request.Context())
	view := render.NewPageView(h.limits, limit)
	outcome, err := h.uc.Search(c.Request.Context(), sessionID, view, selection(file, limit))
	switch {
	case errors.Is(err, search.ErrNoInputSelected):
		c.JSON(http.StatusBadRequest, gin.H{"error": "image file is required"})
		return
	case errors.Is(err, ui.ErrSearchInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": ui.ErrSearchInProgress.Error()})
		return
	case outcome == nil:
		body := gin.H{"error": "search failed"}
		if op, ok := logging.OperationOf(err); ok {
			body["operation"] = op
		}
		c.JSON(http.StatusInternalServerError, body)
		return
	case outcome.State.Phase == ui.PhaseError:
		c.JSON(http.StatusBadGateway, gin.H{
			"request_id": outcome.RequestID,
			"state":      outcome.State.Phase.String(),
			"error":      outcome.State.Message,
		})
		return
	}

	body := gin.H{
		"request_id": outcome.RequestID,
		"state":      outcome.State.Phase.String(),
		"count":      outcome.State.Count,
		"entries":    view.Page.Entries,
	}
	if outcome.Empty() {
		body["message"] = view.Page.Empty
	}
	c.JSON(http.StatusOK, body)
}

func (h *handler) getResult(c *gin.Context) {
	requestID := c.Param("id")
	sessionID, _ := auth.GetSessionID(c.Request.Context())

	log, err := h.uc.GetResult(c.Request.Context(), sessionID, requestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"request_id":     log.RequestID,
		"topk":           log.TopK,
		"returned_count": log.ReturnedCount,
		"visible_count":  log.VisibleCount,
		"status":         log.Status,
		"message":        log.Message,
		"latency_ms":     log.LatencyMs,
		"created_at":     log.CreatedAt,
	})
}

func (h *handler) getRepeats(c *gin.Context) {
	requestID := c.Param("id")
	sessionID, _ := auth.GetSessionID(c.Request.Context())

	report, err := h.uc.GetRepeatReport(c.Request.Context(), sessionID, requestID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
		return
	}

	repeats := make([]gin.H, 0, len(report.Repeats))
	for _, r := range report.Repeats {
		repeats = append(repeats, gin.H{
			"request_id":    r.RequestID,
			"topk":          r.TopK,
			"visible_count": r.VisibleCount,
			"status":        r.Status,
			"created_at":    r.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id": report.Request.RequestID,
		"sha1_hash":  report.Request.SHA1Hash,
		"repeats":    repeats,
	})
}

func (h *handler) getMetrics(c *gin.Context) {
	summary, err := h.uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "metrics unavailable"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// parseLimit reads topk from the form or query string. Only the selector's
// choices are accepted; an absent value selects the first choice.
func (h *handler) parseLimit(c *gin.Context) (int, error) {
	raw := c.Query(search.LimitParam)
	if raw == "" {
		raw = c.PostForm(search.LimitParam)
	}
	if raw == "" {
		return h.limits[0], nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New("topk must be an integer")
	}
	for _, allowed := range h.limits {
		if limit == allowed {
			return limit, nil
		}
	}
	return 0, errors.New("topk is not an offered choice")
}

// readUpload returns the uploaded image, or nil when no file was selected.
func readUpload(c *gin.Context) (*upload, int, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxUploadSize+multipartOverhead)

	header, err := c.FormFile(search.FileField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return nil, http.StatusRequestEntityTooLarge, errors.New("image exceeds upload limit")
		case errors.Is(err, http.ErrMissingFile):
			return nil, 0, nil
		default:
			return nil, http.StatusBadRequest, errors.New("invalid multipart form")
		}
	}
	if header.Size > MaxUploadSize {
		return nil, http.StatusRequestEntityTooLarge, errors.New("image exceeds upload limit")
	}

	src, err := header.Open()
	if err != nil {
		return nil, http.StatusBadRequest, errors.New("unable to open image")
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, http.StatusInternalServerError, errors.New("failed to read image")
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if len(data) > 0 && !strings.HasPrefix(contentType, "image/") {
		return nil, http.StatusUnsupportedMediaType, errors.New("unsupported content type")
	}

	return &upload{data: data, filename: header.Filename}, 0, nil
}

func selection(file *upload, limit int) ui.Selection {
	sel := ui.Selection{Limit: limit}
	if file != nil {
		sel.Image = file.data
		sel.Filename = file.filename
	}
	return sel
}
