// Package api exposes the board service over HTTP.
package api

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"board-api/domain"
	"board-api/reorder"
)

const (
	headerIdempotencyKey = "Idempotency-Key"
	routeMoveCard        = "/api/boards/:boardId/moves/cards"
	routeMoveList        = "/api/boards/:boardId/moves/lists"
)

var (
	errInvalidBody  = errors.New("invalid body")
	errBodyTooLarge = errors.New("body too large")
)

type handlers struct {
	boards  Boards
	auth    Authenticator
	deduper Deduper
	log     *log.Logger
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, boards Boards, auth Authenticator, deduper Deduper, logger *log.Logger) {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if deduper == nil {
		deduper = NoopDeduper{}
	}
	h := &handlers{boards: boards, auth: auth, deduper: deduper, log: logger}

	e.GET("/healthz", healthz)

	g := e.Group("/api/boards", RequestBodyMiddleware(maxBodySize))
	g.GET("", h.listBoards)
	g.POST("", h.createBoard)
	g.GET("/:boardId", h.getBoard)
	g.POST("/:boardId/lists", h.addList)
	g.PATCH("/:boardId/lists/:listId", h.renameList)
	g.DELETE("/:boardId/lists/:listId", h.deleteList)
	g.POST("/:boardId/lists/:listId/cards", h.addCard)
	g.PATCH("/:boardId/lists/:listId/cards/:cardId", h.renameCard)
	g.DELETE("/:boardId/lists/:listId/cards/:cardId", h.deleteCard)
	g.POST("/:boardId/moves/cards", h.moveCard)
	g.POST("/:boardId/moves/lists", h.moveList)
}

func healthz(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

func (h *handlers) listBoards(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	boards, err := h.boards.Boards(c.Request().Context(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, boards)
}

func (h *handlers) createBoard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req titleRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(bodyStatus(err), err.Error())
	}
	b, err := h.boards.CreateBoard(c.Request().Context(), userID, req.Title)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *handlers) getBoard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	view, err := h.boards.Board(c.Request().Context(), userID, c.Param("boardId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, view)
}

func (h *handlers) addList(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req titleRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(bodyStatus(err), err.Error())
	}
	list, err := h.boards.AddList(c.Request().Context(), userID, c.Param("boardId"), req.Title)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, list)
}

func (h *handlers) renameList(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req titleRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(bodyStatus(err), err.Error())
	}
	if err := h.boards.RenameList(c.Request().Context(), userID, c.Param("boardId"), c.Param("listId"), req.Title); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) deleteList(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	if err := h.boards.DeleteList(c.Request().Context(), userID, c.Param("boardId"), c.Param("listId")); err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) addCard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req titleRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(bodyStatus(err), err.Error())
	}
	card, err := h.boards.AddCard(c.Request().Context(), userID, c.Param("boardId"), c.Param("listId"), req.Title)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, card)
}

func (h *handlers) renameCard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	var req titleRequest
	if err := decodeBody(c, &req); err != nil {
		return c.String(bodyStatus(err), err.Error())
	}
	err = h.boards.RenameCard(c.Request().Context(), userID, c.Param("boardId"), c.Param("listId"), c.Param("cardId"), req.Title)
	if err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) deleteCard(c echo.Context) error {
	userID, err := h.userID(c)
	if err != nil {
		return c.String(http.StatusUnauthorized, err.Error())
	}
	err = h.boards.DeleteCard(c.Request().Context(), userID, c.Param("boardId"), c.Param("listId"), c.Param("cardId"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// moveCard answers 202 once the plan has settled, whatever its writes did.
func (h *handlers) moveCard(c echo.Context) (err error) {
	metrics, ctx := newMoveRequestMetrics(c.Request().Context(), h.log, routeMoveCard, "card")
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	userID, authErr := h.userID(c)
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		return c.String(http.StatusUnauthorized, authErr.Error())
	}

	var req moveCardRequest
	if derr := decodeBody(c, &req); derr != nil {
		metrics.SetErrorStage("decode")
		return c.String(bodyStatus(derr), derr.Error())
	}
	if req.CardID == "" || req.SourceListID == "" || req.TargetListID == "" {
		metrics.SetErrorStage("validate")
		return c.String(http.StatusBadRequest, "cardId, sourceListId and targetListId are required")
	}

	return h.runMove(c, metrics, userID, func(ctx context.Context) (moveResponse, error) {
		res, err := h.boards.MoveCard(ctx, userID, c.Param("boardId"), req.CardID, req.SourceListID, req.TargetListID, targetIndex(req.TargetIndex))
		metrics.SetResult(res.Writes, res.Applied, res.Failed)
		return moveResponse{Applied: res.Applied, Writes: res.Writes, NewID: res.NewID}, err
	})
}

func (h *handlers) moveList(c echo.Context) (err error) {
	metrics, ctx := newMoveRequestMetrics(c.Request().Context(), h.log, routeMoveList, "list")
	c.SetRequest(c.Request().WithContext(ctx))
	defer func() {
		metrics.Log(c.Response().Status, err)
	}()

	authStart := time.Now()
	userID, authErr := h.userID(c)
	metrics.ObserveAuth(time.Since(authStart))
	if authErr != nil {
		metrics.SetErrorStage("auth")
		return c.String(http.StatusUnauthorized, authErr.Error())
	}

	var req moveListRequest
	if derr := decodeBody(c, &req); derr != nil {
		metrics.SetErrorStage("decode")
		return c.String(bodyStatus(derr), derr.Error())
	}
	if req.ListID == "" {
		metrics.SetErrorStage("validate")
		return c.String(http.StatusBadRequest, "listId is required")
	}

	return h.runMove(c, metrics, userID, func(ctx context.Context) (moveResponse, error) {
		res, err := h.boards.MoveList(ctx, userID, c.Param("boardId"), req.ListID, targetIndex(req.TargetIndex))
		metrics.SetResult(res.Writes, res.Applied, res.Failed)
		return moveResponse{Applied: res.Applied, Writes: res.Writes}, err
	})
}

// runMove applies the idempotency key, if any, around move. A key is released
// again when the move could not be planned so the client may retry.
func (h *handlers) runMove(c echo.Context, metrics *moveRequestMetrics, userID string, move func(context.Context) (moveResponse, error)) error {
	ctx := c.Request().Context()
	key := strings.TrimSpace(c.Request().Header.Get(headerIdempotencyKey))
	if key != "" {
		added, err := h.deduper.Add(ctx, userID, key)
		if err != nil {
			h.log.Warnf("deduper unavailable, processing move without it: %v", err)
			key = ""
		} else if !added {
			metrics.SetDuplicate()
			return c.JSON(http.StatusAccepted, moveResponse{Duplicate: true})
		}
	}

	planStart := time.Now()
	resp, err := move(ctx)
	metrics.ObservePlan(time.Since(planStart))
	if err != nil {
		metrics.SetErrorStage("snapshot")
		if key != "" {
			if rerr := h.deduper.Remove(context.Background(), userID, key); rerr != nil {
				h.log.Errorf("dedupe rollback failed, err: %v, key: %s, user: %s", rerr, key, userID)
			}
		}
		h.log.Errorf("move failed: %v", err)
		return c.String(http.StatusInternalServerError, "failed to load board")
	}
	return c.JSON(http.StatusAccepted, resp)
}

func (h *handlers) userID(c echo.Context) (string, error) {
	return h.auth.UserIDFromAuthHeader(c.Request().Header.Get(echo.HeaderAuthorization))
}

func (h *handlers) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, domain.ErrEmptyTitle):
		return c.String(http.StatusBadRequest, domain.ErrEmptyTitle.Error())
	case errors.Is(err, domain.ErrNotFound):
		return c.String(http.StatusNotFound, domain.ErrNotFound.Error())
	default:
		h.log.Errorf("%s %s: %v", c.Request().Method, c.Path(), err)
		return c.String(http.StatusInternalServerError, "internal error")
	}
}

// decodeBody reads a JSON body and rejects unknown fields. The size cap is
// enforced by RequestBodyMiddleware.
func decodeBody(c echo.Context, v any) error {
	body := c.Request().Body
	if body == nil {
		return errInvalidBody
	}
	data, err := io.ReadAll(body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return errInvalidBody
	}
	dec := sonic.ConfigStd.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errInvalidBody
	}
	return nil
}

func bodyStatus(err error) int {
	if errors.Is(err, errBodyTooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusBadRequest
}

func targetIndex(idx *int) int {
	if idx == nil {
		return reorder.End
	}
	return *idx
}
