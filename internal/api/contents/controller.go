package contents

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/soycharroup/memoryreel/internal/content"
	"github.com/soycharroup/memoryreel/internal/processor"
	"github.com/soycharroup/memoryreel/internal/validation"
	"github.com/soycharroup/memoryreel/pkg/logger"
)

var controllerLogger = logger.Get("ContentsController")

type (
	// ContentDto is the response shape for content items (list, get,
	// submit).
	ContentDto struct {
		Id         uuid.UUID             `json:"id"`
		LibraryId  uuid.UUID             `json:"library_id"`
		MediaType  content.MediaType     `json:"media_type"`
		Stage      content.Stage         `json:"stage"`
		Progress   int                   `json:"progress"`
		RetryCount int                   `json:"retry_count"`
		LastError  *ProcessingErrorDto   `json:"last_error"`
		Metadata   *content.Metadata     `json:"metadata"`
		Analysis   *content.AIAnalysis   `json:"analysis"`
		Renditions *content.RenditionSet `json:"renditions"`
		CreatedAt  time.Time             `json:"created_at"`
	}

	ProcessingErrorDto struct {
		Kind    string        `json:"kind"`
		Stage   content.Stage `json:"stage"`
		Message string        `json:"message"`
	}

	Service interface {
		Submit(ctx context.Context, request processor.SubmitRequest) (*content.Item, error)
		CancelItem(id uuid.UUID) error
		GetItem(id uuid.UUID) *processor.ProcessItem
		GetAllItems() []*processor.ProcessItem
	}

	// Controller defines the routes for the content endpoints and
	// translates between HTTP and the orchestrator service.
	Controller struct {
		service Service
	}
)

func New(service Service) *Controller {
	return &Controller{service: service}
}

// SetRoutes accepts the Echo group for the content endpoints and sets the
// routes on it.
func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/", controller.submit)
	eg.GET("/", controller.list)
	eg.GET("/:id/", controller.get)
	eg.DELETE("/:id/", controller.cancel)
}

// submit accepts a multipart upload (a 'file' part plus a 'library_id'
// form value) and hands the payload to the orchestrator. Duplicate
// submissions return the existing item.
func (controller *Controller) submit(ec echo.Context) error {
	libraryID, err := uuid.Parse(ec.FormValue("library_id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "library_id must be a valid UUID")
	}

	fileHeader, err := ec.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "a 'file' part is required")
	}

	file, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to open uploaded file")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read uploaded file")
	}

	item, err := controller.service.Submit(ec.Request().Context(), processor.SubmitRequest{
		LibraryID:        libraryID,
		Filename:         fileHeader.Filename,
		DeclaredMimeType: fileHeader.Header.Get("Content-Type"),
		Data:             data,
	})
	if err != nil {
		var validationErr *validation.ValidationError
		switch {
		case errors.As(err, &validationErr):
			return echo.NewHTTPError(http.StatusBadRequest, validationErr.Message)
		case errors.Is(err, processor.ErrMemoryPressure):
			return echo.NewHTTPError(http.StatusServiceUnavailable, "service is shedding load; retry later")
		default:
			controllerLogger.Errorf("Submission of '%s' failed: %v\n", fileHeader.Filename, err)
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to accept submission")
		}
	}

	return ec.JSON(http.StatusAccepted, NewDto(item))
}

// list returns every item known to the orchestrator, represented as DTOs.
func (controller *Controller) list(ec echo.Context) error {
	items := controller.service.GetAllItems()
	dtos := make([]*ContentDto, len(items))
	for k, v := range items {
		dtos[k] = NewDto(v.Item)
	}

	return ec.JSON(http.StatusOK, dtos)
}

func (controller *Controller) get(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "content ID is not a valid UUID")
	}

	item := controller.service.GetItem(id)
	if item == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no content item with that ID")
	}

	return ec.JSON(http.StatusOK, NewDto(item.Item))
}

func (controller *Controller) cancel(ec echo.Context) error {
	id, err := uuid.Parse(ec.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "content ID is not a valid UUID")
	}

	if err := controller.service.CancelItem(id); err != nil {
		switch {
		case errors.Is(err, processor.ErrItemNotFound):
			return echo.NewHTTPError(http.StatusNotFound, "no content item with that ID")
		case errors.Is(err, processor.ErrItemTerminal):
			return echo.NewHTTPError(http.StatusConflict, "content item has already finished processing")
		default:
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}

	return ec.NoContent(http.StatusOK)
}

// NewDto maps a content record to its response shape.
func NewDto(item *content.Item) *ContentDto {
	dto := &ContentDto{
		Id:         item.ID,
		LibraryId:  item.LibraryID,
		MediaType:  item.MediaType,
		Stage:      item.Status.Stage,
		Progress:   item.Status.Progress,
		RetryCount: item.Status.RetryCount,
		Metadata:   item.Metadata,
		Analysis:   item.Analysis,
		Renditions: item.Renditions,
		CreatedAt:  item.CreatedAt,
	}

	if item.Status.LastError != nil {
		dto.LastError = &ProcessingErrorDto{
			Kind:    item.Status.LastError.Kind,
			Stage:   item.Status.LastError.Stage,
			Message: item.Status.LastError.Message,
		}
	}

	return dto
}
