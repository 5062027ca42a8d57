// Package api exposes the board engine over HTTP. Handlers authenticate the
// caller, decode the request, delegate to the engine and translate domain
// errors into status codes. Conflicts are surfaced as 409 so the client can
// refresh and retry; nothing is retried server-side.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskboard-api/board"
	"taskboard-api/domain"
)

const requestMaxSize = 1 << 20

// Board is the engine surface the handlers call.
type Board interface {
	Move(ctx context.Context, actor, taskID, targetColumnID string, targetOrder int) (board.MoveResult, error)
	MoveColumn(ctx context.Context, actor, columnID string, targetOrder int) (board.MoveResult, error)
	CreateTask(ctx context.Context, actor, columnID string, draft board.TaskDraft) (*domain.Task, error)
	CreateColumn(ctx context.Context, actor, boardID, name string) (*domain.Column, error)
	UpdateTask(ctx context.Context, actor, taskID string, upd domain.TaskUpdate) (*domain.Task, error)
	DeleteTask(ctx context.Context, actor, taskID string) error
	DeleteColumn(ctx context.Context, actor, columnID string) error
	AddComment(ctx context.Context, actor, taskID, text string) (*domain.Comment, error)
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	ListTasks(ctx context.Context, columnID string) ([]domain.Task, error)
	ListColumns(ctx context.Context, boardID string) ([]domain.Column, error)
	GetActivity(ctx context.Context, taskID string) ([]domain.ActivityRecord, error)
}

// Snapshots serves whole-board reads, possibly from cache.
type Snapshots interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

// Authenticator resolves the acting user from the Authorization header.
type Authenticator interface {
	UserIDFromAuthHeader(h string) (string, error)
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, svc Board, snapshots Snapshots, auth Authenticator, logger *log.Logger) {
	e.GET("/healthz", healthz())

	e.GET("/api/boards/:boardId", getBoard(snapshots, auth))
	e.GET("/api/boards/:boardId/columns", listColumns(svc, auth))
	e.POST("/api/boards/:boardId/columns", postColumn(svc, auth))
	e.PATCH("/api/columns/:id/move", moveColumn(svc, auth))
	e.DELETE("/api/columns/:id", deleteColumn(svc, auth))
	e.GET("/api/columns/:columnId/tasks", listTasks(svc, auth))
	e.POST("/api/columns/:columnId/tasks", postTask(svc, auth))
	e.GET("/api/tasks/:id", getTask(svc, auth))
	e.PUT("/api/tasks/:id", putTask(svc, auth))
	e.DELETE("/api/tasks/:id", deleteTask(svc, auth))
	e.PATCH("/api/tasks/:id/move", moveTask(svc, auth, logger))
	e.POST("/api/tasks/:id/comments", postComment(svc, auth))
	e.GET("/api/tasks/:id/activity", getActivity(svc, auth))
}

type createTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Priority    string `json:"priority"`
	DueDate     string `json:"dueDate"`
	AssignedTo  string `json:"assignedTo"`
}

type moveTaskRequest struct {
	ColumnID string `json:"columnId"`
	Order    int    `json:"order"`
}

type moveColumnRequest struct {
	Order int `json:"order"`
}

type createColumnRequest struct {
	Name string `json:"name"`
}

type commentRequest struct {
	Text string `json:"text"`
}

func decodeBody(c echo.Context, dst any) error {
	lr := io.LimitReader(c.Request().Body, requestMaxSize)
	dec := sonic.ConfigStd.NewDecoder(lr)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// writeDomainError maps engine errors onto the HTTP surface. Missing
// entities are 404, unusable targets 422, version races 409. The 409 body
// tells the client what to do; the server never retries on its behalf.
func writeDomainError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrColumnNotFound):
		return c.String(http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrColumnDeleted), errors.Is(err, domain.ErrCrossBoard):
		return c.String(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return c.String(http.StatusConflict, "board changed concurrently, refresh and retry")
	default:
		c.Logger().Error(err)
		return c.String(http.StatusInternalServerError, err.Error())
	}
}

func healthz() echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}
}

func getBoard(snapshots Snapshots, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		snapshot, err := snapshots.FetchBoard(ctx, c.Param("boardId"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, snapshot)
	}
}

func listColumns(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		columns, err := svc.ListColumns(ctx, c.Param("boardId"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, columns)
	}
}

func postColumn(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createColumnRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Name == "" {
			return c.String(http.StatusBadRequest, "name is required")
		}
		column, err := svc.CreateColumn(ctx, actor, c.Param("boardId"), req.Name)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusCreated, column)
	}
}

func moveColumn(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req moveColumnRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		res, err := svc.MoveColumn(ctx, actor, c.Param("id"), req.Order)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, res)
	}
}

func deleteColumn(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := svc.DeleteColumn(ctx, actor, c.Param("id")); err != nil {
			return writeDomainError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func listTasks(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		tasks, err := svc.ListTasks(ctx, c.Param("columnId"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, tasks)
	}
}

func postTask(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req createTaskRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Title == "" {
			return c.String(http.StatusBadRequest, "title is required")
		}
		task, err := svc.CreateTask(ctx, actor, c.Param("columnId"), board.TaskDraft{
			Title:       req.Title,
			Description: req.Description,
			Priority:    req.Priority,
			DueDate:     req.DueDate,
			AssignedTo:  req.AssignedTo,
		})
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusCreated, task)
	}
}

func getTask(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		task, err := svc.GetTask(ctx, c.Param("id"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func putTask(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var upd domain.TaskUpdate
		if err := decodeBody(c, &upd); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		task, err := svc.UpdateTask(ctx, actor, c.Param("id"), upd)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, task)
	}
}

func deleteTask(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		if err := svc.DeleteTask(ctx, actor, c.Param("id")); err != nil {
			return writeDomainError(c, err)
		}
		return c.NoContent(http.StatusNoContent)
	}
}

func moveTask(svc Board, auth Authenticator, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		metrics, spanCtx := newMoveRequestMetrics(ctx, logger)
		if spanCtx != nil {
			c.SetRequest(c.Request().WithContext(spanCtx))
			ctx = spanCtx
		}
		var failure error
		defer func() {
			metrics.Log(c.Response().Status, failure)
		}()

		authStart := time.Now()
		actor, authErr := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		metrics.ObserveAuth(time.Since(authStart))
		if authErr != nil {
			metrics.SetErrorStage("auth")
			return c.String(http.StatusUnauthorized, authErr.Error())
		}

		var req moveTaskRequest
		if decodeErr := decodeBody(c, &req); decodeErr != nil {
			metrics.SetErrorStage("decode")
			return c.String(http.StatusBadRequest, "invalid body")
		}
		metrics.SetTargetColumnProvided(req.ColumnID != "")

		applyStart := time.Now()
		res, moveErr := svc.Move(ctx, actor, c.Param("id"), req.ColumnID, req.Order)
		metrics.ObserveApply(time.Since(applyStart))
		if moveErr != nil {
			switch {
			case errors.Is(moveErr, domain.ErrConflict):
				metrics.SetConflict(true)
				metrics.SetErrorStage("conflict")
			case errors.Is(moveErr, domain.ErrTaskNotFound), errors.Is(moveErr, domain.ErrColumnNotFound):
				metrics.SetErrorStage("not_found")
			case errors.Is(moveErr, domain.ErrColumnDeleted), errors.Is(moveErr, domain.ErrCrossBoard):
				metrics.SetErrorStage("invalid_target")
			default:
				metrics.SetErrorStage("storage")
				failure = moveErr
			}
			return writeDomainError(c, moveErr)
		}

		return c.JSON(http.StatusOK, res)
	}
}

func postComment(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization"))
		if err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		var req commentRequest
		if err := decodeBody(c, &req); err != nil {
			return c.String(http.StatusBadRequest, "invalid body")
		}
		if req.Text == "" {
			return c.String(http.StatusBadRequest, "text is required")
		}
		comment, err := svc.AddComment(ctx, actor, c.Param("id"), req.Text)
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusCreated, comment)
	}
}

func getActivity(svc Board, auth Authenticator) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if _, err := auth.UserIDFromAuthHeader(c.Request().Header.Get("Authorization")); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}
		records, err := svc.GetActivity(ctx, c.Param("id"))
		if err != nil {
			return writeDomainError(c, err)
		}
		return c.JSON(http.StatusOK, records)
	}
}
