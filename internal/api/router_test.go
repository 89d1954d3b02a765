package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/suite"

	"github.com/wfunc/tile-arena/internal/config"
	"github.com/wfunc/tile-arena/internal/game"
	"github.com/wfunc/tile-arena/internal/repository"
	"github.com/wfunc/tile-arena/internal/store"
	"github.com/wfunc/tile-arena/internal/utils"
	ws "github.com/wfunc/tile-arena/internal/websocket"
)

type RouterTestSuite struct {
	suite.Suite
	cfg    *config.Config
	hub    *ws.Hub
	coord  *game.Coordinator
	tokens *utils.JWTManager
	router *Router
	cancel context.CancelFunc
}

func TestRouterTestSuite(t *testing.T) {
	suite.Run(t, new(RouterTestSuite))
}

func (s *RouterTestSuite) SetupTest() {
	gin.SetMode(gin.TestMode)
	s.cfg = &config.Config{}
	s.cfg.Security.DevTokens = true
	s.cfg.WebSocket.Path = "/ws"

	s.hub = ws.NewHub(nil)
	s.coord = game.NewCoordinator(store.NewMemoryStore(), s.hub, game.Options{
		Countdown: time.Hour,
		Duration:  time.Hour,
	})
	s.hub.SetMessageHandler(ws.NewMatchHandler(s.hub, s.coord, game.NewMovePipeline(s.coord), nil))
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	go s.hub.Run(ctx)

	s.tokens = utils.NewJWTManager("router-test", time.Hour)
	s.router = NewRouter(Dependencies{
		Config:      s.cfg,
		Coordinator: s.coord,
		Hub:         s.hub,
		Tokens:      s.tokens,
		DB:          repository.SetupTestDB(s.T()),
	})
}

func (s *RouterTestSuite) TearDownTest() {
	s.cancel()
	s.coord.Shutdown()
}

func (s *RouterTestSuite) token(pid string) string {
	tok, err := s.tokens.GenerateToken(pid, "")
	s.Require().NoError(err)
	return tok
}

func (s *RouterTestSuite) do(method, path, token string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.GetEngine().ServeHTTP(w, req)
	return w
}

func (s *RouterTestSuite) decode(w *httptest.ResponseRecorder, v interface{}) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), v), w.Body.String())
}

func (s *RouterTestSuite) errorCode(w *httptest.ResponseRecorder) string {
	var resp ErrorResponse
	s.decode(w, &resp)
	return resp.Code
}

func (s *RouterTestSuite) createMatch(host string, body CreateMatchBody) *game.MatchView {
	w := s.do(http.MethodPost, "/api/v1/matches", s.token(host), body)
	s.Require().Equal(http.StatusCreated, w.Code, w.Body.String())
	var view game.MatchView
	s.decode(w, &view)
	return &view
}

func (s *RouterTestSuite) TestHealth() {
	w := s.do(http.MethodGet, "/health", "", nil)
	s.Equal(http.StatusOK, w.Code)

	var resp map[string]interface{}
	s.decode(w, &resp)
	s.Equal("healthy", resp["status"])
	s.Equal("ok", resp["checks"].(map[string]interface{})["database"])
}

func (s *RouterTestSuite) TestIssueToken() {
	w := s.do(http.MethodPost, "/api/v1/auth/token", "", TokenRequest{ParticipantID: "alice"})
	s.Require().Equal(http.StatusOK, w.Code)

	var resp TokenResponse
	s.decode(w, &resp)
	s.Equal("alice", resp.ParticipantID)
	s.Equal(int64(3600), resp.ExpiresIn)

	pid, err := s.tokens.VerifyParticipant(resp.Token)
	s.Require().NoError(err)
	s.Equal("alice", pid)

	w = s.do(http.MethodPost, "/api/v1/auth/token", "", map[string]string{})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestIssueTokenDisabled() {
	s.cfg.Security.DevTokens = false
	s.router = NewRouter(Dependencies{Config: s.cfg, Coordinator: s.coord, Hub: s.hub, Tokens: s.tokens})

	w := s.do(http.MethodPost, "/api/v1/auth/token", "", TokenRequest{ParticipantID: "alice"})
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *RouterTestSuite) TestCreateMatch() {
	view := s.createMatch("host", CreateMatchBody{Wager: 50, MaxPlayers: 3, DurationSeconds: 60})
	s.Equal("host", view.HostID)
	s.Equal(store.StatusOpen, view.Status)
	s.Equal(int64(50), view.Wager)
	s.Equal(3, view.MaxPlayers)
	s.Equal(60, view.DurationSeconds)
	s.Len(view.RoomCode, 6)
}

func (s *RouterTestSuite) TestCreateMatchValidation() {
	w := s.do(http.MethodPost, "/api/v1/matches", "", CreateMatchBody{})
	s.Equal(http.StatusUnauthorized, w.Code)

	tests := []struct {
		name string
		body CreateMatchBody
	}{
		{"负数押注", CreateMatchBody{Wager: -1}},
		{"人数过多", CreateMatchBody{MaxPlayers: 5}},
		{"人数过少", CreateMatchBody{MaxPlayers: 1}},
		{"时长过短", CreateMatchBody{DurationSeconds: 3}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			w := s.do(http.MethodPost, "/api/v1/matches", s.token("host"), tt.body)
			s.Equal(http.StatusBadRequest, w.Code)
			s.Equal("invalid_param", s.errorCode(w))
		})
	}
}

func (s *RouterTestSuite) TestJoinFlow() {
	view := s.createMatch("p1", CreateMatchBody{Wager: 10, MaxPlayers: 2})

	w := s.do(http.MethodPost, "/api/v1/matches/"+view.ID+"/join", s.token("p1"), nil)
	s.Require().Equal(http.StatusOK, w.Code)

	// 房间码大小写不敏感
	w = s.do(http.MethodPost, "/api/v1/matches/join-by-code", s.token("p2"), JoinByCodeBody{RoomCode: strings.ToLower(view.RoomCode)})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var joined game.MatchView
	s.decode(w, &joined)
	s.Equal(2, joined.CurrentPlayers)
	s.Equal(int64(20), joined.TotalPot)

	w = s.do(http.MethodPost, "/api/v1/matches/"+view.ID+"/join", s.token("p3"), nil)
	s.Equal(http.StatusConflict, w.Code)
	s.Equal("match_full", s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/matches/"+view.ID+"/join", s.token("p1"), nil)
	s.Equal("already_joined", s.errorCode(w))

	w = s.do(http.MethodGet, "/api/v1/matches/"+view.ID+"/players", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var players []game.PlayerView
	s.decode(w, &players)
	s.Require().Len(players, 2)
	s.Equal("p1", players[0].ParticipantID)
	s.Equal(2, players[1].JoinOrder)
}

func (s *RouterTestSuite) TestJoinByCodeInvalid() {
	w := s.do(http.MethodPost, "/api/v1/matches/join-by-code", s.token("p1"), JoinByCodeBody{RoomCode: "??"})
	s.Equal(http.StatusBadRequest, w.Code)
	s.Equal("invalid_room_code", s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/matches/join-by-code", s.token("p1"), JoinByCodeBody{RoomCode: "ABC234"})
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *RouterTestSuite) TestGetMatch() {
	view := s.createMatch("p1", CreateMatchBody{})

	w := s.do(http.MethodGet, "/api/v1/matches/"+view.ID, "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var got game.MatchView
	s.decode(w, &got)
	s.Equal(view.ID, got.ID)
	s.Equal(view.RoomCode, got.RoomCode)

	w = s.do(http.MethodGet, "/api/v1/matches/missing", "", nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("match_not_found", s.errorCode(w))
}

func (s *RouterTestSuite) TestListMatches() {
	a := s.createMatch("p1", CreateMatchBody{})
	s.createMatch("p2", CreateMatchBody{})
	w := s.do(http.MethodPost, "/api/v1/matches/"+a.ID+"/cancel", s.token("p1"), nil)
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/api/v1/matches", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var all MatchListResponse
	s.decode(w, &all)
	s.Len(all.Matches, 2)
	s.Equal(20, all.Limit)

	w = s.do(http.MethodGet, "/api/v1/matches?status=open", "", nil)
	var open MatchListResponse
	s.decode(w, &open)
	s.Require().Len(open.Matches, 1)
	s.Equal("p2", open.Matches[0].HostID)

	w = s.do(http.MethodGet, "/api/v1/matches?status=bogus", "", nil)
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/api/v1/matches?limit=500", "", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *RouterTestSuite) TestCancelMatch() {
	view := s.createMatch("p1", CreateMatchBody{})

	w := s.do(http.MethodPost, "/api/v1/matches/"+view.ID+"/cancel", s.token("p2"), CancelMatchBody{Reason: "nope"})
	s.Equal(http.StatusForbidden, w.Code)
	s.Equal("not_host", s.errorCode(w))

	w = s.do(http.MethodPost, "/api/v1/matches/"+view.ID+"/cancel", s.token("p1"), CancelMatchBody{Reason: "凑不齐人"})
	s.Require().Equal(http.StatusOK, w.Code)
	var cancelled game.MatchView
	s.decode(w, &cancelled)
	s.Equal(store.StatusCancelled, cancelled.Status)

	w = s.do(http.MethodPost, "/api/v1/matches/"+view.ID+"/cancel", s.token("p1"), nil)
	s.Equal(http.StatusConflict, w.Code)
}

func (s *RouterTestSuite) TestAuditMatch() {
	view := s.createMatch("p1", CreateMatchBody{})
	s.do(http.MethodPost, "/api/v1/matches/"+view.ID+"/join", s.token("p1"), nil)

	w := s.do(http.MethodGet, "/api/v1/matches/"+view.ID+"/audit", "", nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var reports []game.AuditReport
	s.decode(w, &reports)
	s.Require().Len(reports, 1)
	s.Equal("p1", reports[0].ParticipantID)
	s.Equal(0, reports[0].Moves)
}

func (s *RouterTestSuite) TestNoRoute() {
	w := s.do(http.MethodGet, "/api/v1/nothing", "", nil)
	s.Equal(http.StatusNotFound, w.Code)
	s.Equal("not_found", s.errorCode(w))
}

func (s *RouterTestSuite) TestWebSocketSession() {
	srv := httptest.NewServer(s.router.Handler())
	defer srv.Close()
	view := s.createMatch("p1", CreateMatchBody{})

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=" + s.token("p1")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().NoError(err)
	defer conn.Close()

	read := func() ws.Message {
		s.Require().NoError(conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
		var msg ws.Message
		s.Require().NoError(conn.ReadJSON(&msg))
		return msg
	}

	connected := read()
	s.Equal(ws.MessageTypeConnected, connected.Type)

	s.Require().NoError(conn.WriteJSON(map[string]interface{}{
		"type": ws.MessageTypeJoinRoom,
		"data": map[string]string{"matchId": view.ID},
	}))
	snapshot := read()
	s.Require().Equal(string(game.EventRoomSnapshot), snapshot.Type)
	var room game.MatchView
	s.Require().NoError(json.Unmarshal(snapshot.Data, &room))
	s.Equal(1, room.CurrentPlayers)

	// 另一名玩家通过REST加入，房间内收到广播
	w := s.do(http.MethodPost, "/api/v1/matches/"+view.ID+"/join", s.token("p2"), nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.Equal(string(game.EventPlayerJoined), read().Type)
}

func (s *RouterTestSuite) TestWebSocketRejectsBadToken() {
	srv := httptest.NewServer(s.router.Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?token=garbage"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	s.Require().Error(err)
	s.Require().NotNil(resp)
	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}
