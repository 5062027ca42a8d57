package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"taskboard-api/domain"
)

// Snapshots serves the initial whole-board state for a new connection.
type Snapshots interface {
	FetchBoard(ctx context.Context, boardID string) (domain.BoardSnapshot, error)
}

type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Register wires up the stream endpoint on the given Echo instance.
func Register(e *echo.Echo, snapshots Snapshots, auth Authenticator, broker *Broker) {
	e.GET("/api/boards/:boardId/stream", streamBoard(snapshots, auth, broker))
}

func streamBoard(snapshots Snapshots, auth Authenticator, broker *Broker) echo.HandlerFunc {
	return func(c echo.Context) error {
		// EventSource cannot set headers, so the token may arrive as a
		// query parameter instead.
		authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
		if authHeader == "" {
			if token := c.QueryParam("token"); token != "" {
				authHeader = "Bearer " + token
			}
		}
		if _, err := auth.UserIDFromAuthHeader(authHeader); err != nil {
			return c.String(http.StatusUnauthorized, err.Error())
		}

		c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
		c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
		c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
		c.Response().Header().Set("X-Accel-Buffering", "no")
		flusher, ok := c.Response().Writer.(http.Flusher)
		if !ok {
			return c.String(http.StatusInternalServerError, "stream unsupported")
		}

		boardID := c.Param("boardId")
		ctx := c.Request().Context()

		// Subscribe before reading the snapshot so nothing committed after
		// the read is missed; the client may see an update it already has
		// in the snapshot, which reconciliation tolerates.
		ch := broker.Subscribe(boardID)
		defer broker.Unsubscribe(boardID, ch)

		snapshot, err := snapshots.FetchBoard(ctx, boardID)
		if err != nil {
			c.Logger().Error(err)
			return err
		}
		data, err := json.Marshal(snapshot)
		if err != nil {
			c.Logger().Error(err)
			return err
		}
		if err := writeEvent(c.Response(), "snapshot", data); err != nil {
			return err
		}
		flusher.Flush()

		for {
			select {
			case <-ctx.Done():
				return nil
			case data := <-ch:
				if err := writeEvent(c.Response(), "update", data); err != nil {
					c.Logger().Error(err)
					return err
				}
				flusher.Flush()
			}
		}
	}
}

func writeEvent(w io.Writer, event string, data []byte) error {
	if _, err := w.Write([]byte("event: " + event + "\ndata: ")); err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return err
	}
	_, err := w.Write([]byte("\n\n"))
	return err
}
