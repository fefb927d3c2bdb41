package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/messageboard/internal/http/middleware"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// HeaderPosition carries the read model position a query was answered at.
const HeaderPosition = "X-Feed-Position"

type handlers struct {
	deps Deps
	log  *zap.Logger
}

type createBoardReq struct {
	Name string `json:"name"`
}

type postMessageReq struct {
	Text    string `json:"text"`
	ReplyTo *int64 `json:"reply_to"`
}

type postRef struct {
	BoardID   string `json:"board_id"`
	MessageID int64  `json:"message_id"`
}

type moderateUserReq struct {
	UserID string `json:"user_id"`
}

func (h *handlers) createBoard(c echo.Context) error {
	var req createBoardReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	actor, _ := middleware.UserIDFromCtx(c)

	id, err := h.deps.Commands.CreateBoard(c.Request().Context(), strings.TrimSpace(req.Name), actor)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, map[string]string{"id": id})
}

func (h *handlers) postMessage(c echo.Context) error {
	var req postMessageReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	actor, _ := middleware.UserIDFromCtx(c)
	boardID := c.Param("board")

	id, err := h.deps.Commands.PostMessage(c.Request().Context(), boardID, strings.TrimSpace(req.Text), req.ReplyTo, actor)
	if err != nil {
		return writeError(c, h.log, err)
	}
	return c.JSON(http.StatusCreated, map[string]any{"board_id": boardID, "message_id": id})
}

func (h *handlers) moderateUser(c echo.Context) error {
	var req moderateUserReq
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid body")
	}
	if req.UserID == "" {
		return badRequest(c, "user_id is required")
	}
	actor, _ := middleware.UserIDFromCtx(c)

	if err := h.deps.Commands.ModerateUser(c.Request().Context(), c.Param("board"), req.UserID, actor); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) approveMessage(c echo.Context) error {
	id, ok := messageParam(c)
	if !ok {
		return badRequest(c, "invalid message id")
	}
	actor, _ := middleware.UserIDFromCtx(c)

	if err := h.deps.Commands.ApproveMessage(c.Request().Context(), c.Param("board"), id, actor); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) rejectMessage(c echo.Context) error {
	id, ok := messageParam(c)
	if !ok {
		return badRequest(c, "invalid message id")
	}
	actor, _ := middleware.UserIDFromCtx(c)

	if err := h.deps.Commands.RejectMessage(c.Request().Context(), c.Param("board"), id, actor); err != nil {
		return writeError(c, h.log, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *handlers) postsForUser(c echo.Context) error {
	userID := c.Param("user")
	keys := h.deps.PostsByUser.PostsForUser(userID)
	posts := make([]postRef, 0, len(keys))
	for _, k := range keys {
		posts = append(posts, postRef{BoardID: k.BoardID, MessageID: k.MessageID})
	}
	c.Response().Header().Set(HeaderPosition, strconv.FormatInt(h.deps.PostsByUser.Position(), 10))
	return c.JSON(http.StatusOK, map[string]any{"user_id": userID, "posts": posts})
}

func (h *handlers) getPost(c echo.Context) error {
	id, ok := messageParam(c)
	if !ok {
		return badRequest(c, "invalid message id")
	}
	c.Response().Header().Set(HeaderPosition, strconv.FormatInt(h.deps.Posts.Position(), 10))

	post, found := h.deps.Posts.Post(c.Param("board"), id)
	if !found {
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
	}
	return c.JSON(http.StatusOK, post)
}

func messageParam(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("message"), 10, 64)
	return id, err == nil && id >= 0
}
