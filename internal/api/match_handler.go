package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/game"
	"github.com/wfunc/tile-arena/internal/middleware"
	"github.com/wfunc/tile-arena/internal/store"
)

// MatchHandler 对局REST接口
type MatchHandler struct {
	coordinator *game.Coordinator
	log         *zap.Logger
}

// NewMatchHandler 创建对局处理器
func NewMatchHandler(coordinator *game.Coordinator, log *zap.Logger) *MatchHandler {
	return &MatchHandler{coordinator: coordinator, log: log}
}

// CreateMatchBody 创建对局请求
type CreateMatchBody struct {
	Wager           int64 `json:"wager" binding:"min=0"`
	MaxPlayers      int   `json:"maxPlayers" binding:"omitempty,min=2,max=4"`
	DurationSeconds int   `json:"durationSeconds" binding:"omitempty,min=10,max=3600"`
}

// JoinByCodeBody 房间码加入请求
type JoinByCodeBody struct {
	RoomCode string `json:"roomCode" binding:"required"`
}

// CancelMatchBody 取消对局请求
type CancelMatchBody struct {
	Reason string `json:"reason" binding:"max=200"`
}

// ListMatchesQuery 对局列表查询参数
type ListMatchesQuery struct {
	Status string `form:"status"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
	Offset int    `form:"offset" binding:"omitempty,min=0"`
}

// MatchListResponse 对局列表
type MatchListResponse struct {
	Matches []*game.MatchView `json:"matches"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
}

// CreateMatch 创建对局
// @Summary 创建对局
// @Tags Match
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body CreateMatchBody true "对局参数"
// @Success 201 {object} game.MatchView
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/matches [post]
func (h *MatchHandler) CreateMatch(c *gin.Context) {
	var body CreateMatchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}
	host, _ := middleware.GetParticipantID(c)

	view, err := h.coordinator.CreateMatch(c.Request.Context(), game.CreateMatchRequest{
		HostID:     host,
		Wager:      body.Wager,
		MaxPlayers: body.MaxPlayers,
		Duration:   time.Duration(body.DurationSeconds) * time.Second,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

// ListMatches 对局列表
// @Summary 对局列表
// @Tags Match
// @Produce json
// @Param status query string false "open|starting|in_progress|ended|cancelled"
// @Param limit query int false "每页数量"
// @Param offset query int false "偏移"
// @Success 200 {object} MatchListResponse
// @Router /api/v1/matches [get]
func (h *MatchHandler) ListMatches(c *gin.Context) {
	var q ListMatchesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindError(c, err)
		return
	}
	status := store.Status(q.Status)
	if q.Status != "" && !status.Valid() {
		respondError(c, h.log, apperrors.Newf(apperrors.ErrInvalidParam, "status=%s", q.Status))
		return
	}
	if q.Limit == 0 {
		q.Limit = 20
	}

	views, err := h.coordinator.ListMatches(c.Request.Context(), store.Filter{
		Status: status,
		Limit:  q.Limit,
		Offset: q.Offset,
	})
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, MatchListResponse{Matches: views, Limit: q.Limit, Offset: q.Offset})
}

// GetMatch 对局快照
// @Summary 对局快照
// @Tags Match
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {object} game.MatchView
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/matches/{id} [get]
func (h *MatchHandler) GetMatch(c *gin.Context) {
	view, err := h.coordinator.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetPlayers 对局玩家
// @Summary 对局玩家列表
// @Tags Match
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {array} game.PlayerView
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/matches/{id}/players [get]
func (h *MatchHandler) GetPlayers(c *gin.Context) {
	view, err := h.coordinator.Snapshot(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view.Players)
}

// JoinMatch 加入对局
// @Summary 加入对局
// @Tags Match
// @Security Bearer
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {object} game.MatchView
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/matches/{id}/join [post]
func (h *MatchHandler) JoinMatch(c *gin.Context) {
	pid, _ := middleware.GetParticipantID(c)
	view, err := h.coordinator.JoinMatch(c.Request.Context(), c.Param("id"), pid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// JoinByCode 通过房间码加入
// @Summary 通过房间码加入
// @Tags Match
// @Security Bearer
// @Accept json
// @Produce json
// @Param request body JoinByCodeBody true "房间码"
// @Success 200 {object} game.MatchView
// @Failure 400 {object} ErrorResponse
// @Router /api/v1/matches/join-by-code [post]
func (h *MatchHandler) JoinByCode(c *gin.Context) {
	var body JoinByCodeBody
	if err := c.ShouldBindJSON(&body); err != nil {
		bindError(c, err)
		return
	}
	pid, _ := middleware.GetParticipantID(c)
	view, err := h.coordinator.JoinByCode(c.Request.Context(), body.RoomCode, pid)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// CancelMatch 房主取消对局
// @Summary 取消对局
// @Description 仅房主可取消，且只能在open或starting状态
// @Tags Match
// @Security Bearer
// @Accept json
// @Produce json
// @Param id path string true "对局ID"
// @Param request body CancelMatchBody false "取消原因"
// @Success 200 {object} game.MatchView
// @Failure 403 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Router /api/v1/matches/{id}/cancel [post]
func (h *MatchHandler) CancelMatch(c *gin.Context) {
	var body CancelMatchBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			bindError(c, err)
			return
		}
	}
	pid, _ := middleware.GetParticipantID(c)
	view, err := h.coordinator.CancelMatch(c.Request.Context(), c.Param("id"), pid, body.Reason)
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// AuditMatch 用种子复盘对局
// @Summary 复盘校验
// @Description 用对局种子与已记录的移动重放每位玩家，比较得分与棋盘
// @Tags Match
// @Produce json
// @Param id path string true "对局ID"
// @Success 200 {array} game.AuditReport
// @Failure 404 {object} ErrorResponse
// @Router /api/v1/matches/{id}/audit [get]
func (h *MatchHandler) AuditMatch(c *gin.Context) {
	reports, err := h.coordinator.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, h.log, err)
		return
	}
	c.JSON(http.StatusOK, reports)
}
