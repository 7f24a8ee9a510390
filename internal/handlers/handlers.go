package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Brownie44l1/damage-detector/internal/apperr"
	"github.com/Brownie44l1/damage-detector/internal/detect"
	"github.com/Brownie44l1/damage-detector/internal/vision"
)

const imageField = "image"

type Handler struct {
	detector       *detect.Service
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewHandler(detector *detect.Service, maxUploadBytes int64, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		detector:       detector,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

type healthResponse struct {
	Status string   `json:"status"`
	Model  string   `json:"model"`
	Labels []string `json:"labels"`
}

func (h *Handler) Health(c *gin.Context) {
	p := h.detector.Provider()
	c.JSON(http.StatusOK, healthResponse{
		Status: "healthy",
		Model:  p.Name(),
		Labels: p.Labels(),
	})
}

// Detect handles POST /detect with a multipart "image" file.
func (h *Handler) Detect(c *gin.Context) {
	// Multipart framing needs a little room above the file limit.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxUploadBytes+64<<10)

	header, err := c.FormFile(imageField)
	if err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			abortDetail(c, http.StatusRequestEntityTooLarge, "File too large")
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			abortDetail(c, http.StatusUnprocessableEntity, "Field 'image' is required")
		default:
			abortDetail(c, http.StatusBadRequest, "Failed to parse form")
		}
		return
	}
	if header.Size > h.maxUploadBytes {
		abortDetail(c, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	file, err := header.Open()
	if err != nil {
		abortDetail(c, http.StatusBadRequest, "Failed to read upload")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		abortDetail(c, http.StatusBadRequest, "Failed to read upload")
		return
	}

	h.logger.Debug("received upload",
		"request_id", requestIDFrom(c),
		"filename", header.Filename,
		"content_type", header.Header.Get("Content-Type"),
		"bytes", len(data),
	)

	resp, err := h.detector.Detect(c.Request.Context(), vision.Payload{
		Data:        data,
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

type predictRequest struct {
	PixelValues []float32 `json:"pixel_values"`
}

type predictResponse struct {
	DamageType    string             `json:"damageType"`
	Confidence    float64            `json:"confidence"`
	Probabilities map[string]float64 `json:"probabilities"`
}

// Predict classifies an already preprocessed NCHW tensor.
func (h *Handler) Predict(c *gin.Context) {
	var req predictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortDetail(c, http.StatusBadRequest, "Invalid JSON")
		return
	}

	if want := h.detector.InputSize(); len(req.PixelValues) != want {
		abortDetail(c, http.StatusBadRequest, fmt.Sprintf("Expected %d values, got %d", want, len(req.PixelValues)))
		return
	}

	shape := h.detector.Provider().InputShape()
	result, err := h.detector.Classify(c.Request.Context(), vision.Tensor{Data: req.PixelValues, Shape: shape})
	if err != nil {
		h.writeError(c, err)
		return
	}

	probs := make(map[string]float64, len(result.Probabilities))
	for i, p := range result.Probabilities {
		label, ok := h.detector.Provider().Label(i)
		if !ok {
			label = fmt.Sprint(i)
		}
		probs[label] = detect.Round4(p)
	}

	c.JSON(http.StatusOK, predictResponse{
		DamageType:    result.Label,
		Confidence:    result.Confidence,
		Probabilities: probs,
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidContentType:
		abortDetail(c, http.StatusBadRequest, "File must be an image")
	case apperr.KindInvalidImage:
		abortDetail(c, http.StatusBadRequest, "Invalid image")
	case apperr.KindPayload:
		abortDetail(c, http.StatusBadRequest, "Invalid input")
	default:
		h.logger.Error("request failed", "request_id", requestIDFrom(c), "error", err)
		abortDetail(c, http.StatusInternalServerError, "Inference failed")
	}
}

func abortDetail(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}
