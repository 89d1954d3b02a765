package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wfunc/tile-arena/internal/utils"
)

const roomCodeAttempts = 16

// matchEntry 单个对局，持有自己的锁
type matchEntry struct {
	mu    sync.Mutex
	match *Match
}

// MemoryStore 内存对局存储
type MemoryStore struct {
	mu      sync.RWMutex
	matches map[string]*matchEntry
	codes   map[string]string

	now      func() time.Time
	roomCode func() string
}

// MemoryOption 内存存储选项
type MemoryOption func(*MemoryStore)

// WithClock 指定时钟
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithRoomCodeGenerator 指定房间码生成器
func WithRoomCodeGenerator(gen func() string) MemoryOption {
	return func(s *MemoryStore) { s.roomCode = gen }
}

// NewMemoryStore 创建内存存储
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		matches:  make(map[string]*matchEntry),
		codes:    make(map[string]string),
		now:      time.Now,
		roomCode: utils.GenerateRoomCode,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateMatch 创建空对局
func (s *MemoryStore) CreateMatch(ctx context.Context, req NewMatch) (*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Wager < 0 {
		return nil, fmt.Errorf("%w: wager %d", ErrInvalidMatch, req.Wager)
	}
	if req.MaxPlayers < 2 || req.MaxPlayers > 4 {
		return nil, fmt.Errorf("%w: max players %d", ErrInvalidMatch, req.MaxPlayers)
	}
	if req.Duration <= 0 {
		return nil, fmt.Errorf("%w: duration %s", ErrInvalidMatch, req.Duration)
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	seed := req.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.matches[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateMatch, id)
	}
	code, err := s.allocateCode()
	if err != nil {
		return nil, err
	}

	m := &Match{
		ID:               id,
		RoomCode:         code,
		HostID:           req.HostID,
		Wager:            req.Wager,
		MaxPlayers:       req.MaxPlayers,
		Duration:         req.Duration,
		Status:           StatusOpen,
		Seed:             seed,
		RequiresApproval: req.Wager > 0,
		Authoritative:    true,
		CreatedAt:        s.now(),
	}
	s.matches[id] = &matchEntry{match: m}
	s.codes[code] = id
	return m.Clone(), nil
}

// allocateCode 调用方持有s.mu写锁
func (s *MemoryStore) allocateCode() (string, error) {
	for i := 0; i < roomCodeAttempts; i++ {
		code := s.roomCode()
		if _, taken := s.codes[code]; !taken {
			return code, nil
		}
	}
	return "", ErrRoomCodeExhausted
}

func (s *MemoryStore) entry(matchID string) (*matchEntry, error) {
	s.mu.RLock()
	e, ok := s.matches[matchID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	return e, nil
}

// GetMatch 返回对局快照
func (s *MemoryStore) GetMatch(ctx context.Context, matchID string) (*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.entry(matchID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.match.Clone(), nil
}

// GetMatchByRoomCode 按房间码查找
func (s *MemoryStore) GetMatchByRoomCode(ctx context.Context, code string) (*Match, error) {
	s.mu.RLock()
	id, ok := s.codes[utils.NormalizeRoomCode(code)]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: room %s", ErrMatchNotFound, code)
	}
	return s.GetMatch(ctx, id)
}

// ListMatches 按创建时间倒序
func (s *MemoryStore) ListMatches(ctx context.Context, filter Filter) ([]*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	entries := make([]*matchEntry, 0, len(s.matches))
	for _, e := range s.matches {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	out := make([]*Match, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if filter.Status == "" || e.match.Status == filter.Status {
			out = append(out, e.match.Clone())
		}
		e.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return []*Match{}, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// AddPlayer 加入对局
func (s *MemoryStore) AddPlayer(ctx context.Context, matchID, participantID string) (*Match, *Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	e, err := s.entry(matchID)
	if err != nil {
		return nil, nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.match
	if m.Status != StatusOpen {
		return nil, nil, &StatusError{MatchID: matchID, Status: m.Status}
	}
	if _, joined := m.Player(participantID); joined {
		return nil, nil, fmt.Errorf("%w: %s", ErrAlreadyJoined, participantID)
	}
	if m.Full() {
		return nil, nil, fmt.Errorf("%w: %d/%d", ErrMatchFull, m.CurrentPlayers(), m.MaxPlayers)
	}

	next := m.Clone()
	next.Players = append(next.Players, Player{
		ParticipantID: participantID,
		JoinOrder:     len(next.Players) + 1,
		JoinedAt:      s.now(),
	})
	next.TotalPot = next.Wager * int64(len(next.Players))
	e.match = next

	p := next.Players[len(next.Players)-1]
	return next.Clone(), &p, nil
}

// SetReady 修改准备状态，只允许在open状态
func (s *MemoryStore) SetReady(ctx context.Context, matchID, participantID string, ready bool) (*Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.entry(matchID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.match.Status != StatusOpen {
		return nil, &StatusError{MatchID: matchID, Status: e.match.Status}
	}
	next := e.match.Clone()
	p, ok := next.Player(participantID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, participantID)
	}
	p.Ready = ready
	e.match = next
	return next.Clone(), nil
}

// CompareAndTransitionStatus 状态CAS
func (s *MemoryStore) CompareAndTransitionStatus(ctx context.Context, matchID string, expected, next Status, mutate Mutation) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if !CanTransition(expected, next) {
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, expected, next)
	}
	e, err := s.entry(matchID)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.match.Status != expected {
		return false, nil
	}

	candidate := e.match.Clone()
	if mutate != nil {
		if err := mutate(candidate); err != nil {
			if errors.Is(err, ErrGuardFailed) {
				return false, nil
			}
			return false, err
		}
	}
	candidate.Status = next
	e.match = candidate
	return true, nil
}

// RecordMove 更新玩家棋局
func (s *MemoryStore) RecordMove(ctx context.Context, matchID, participantID string, fn MoveFunc) (*Player, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e, err := s.entry(matchID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.match.Status != StatusInProgress {
		return nil, &StatusError{MatchID: matchID, Status: e.match.Status}
	}
	idx := -1
	for i := range e.match.Players {
		if e.match.Players[i].ParticipantID == participantID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotParticipant, participantID)
	}

	p := e.match.Players[idx]
	if err := fn(&p); err != nil {
		return nil, err
	}
	next := e.match.Clone()
	next.Players[idx] = p
	e.match = next
	return &p, nil
}

// Finalize 写入终局结果
func (s *MemoryStore) Finalize(ctx context.Context, matchID string, result Result) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e, err := s.entry(matchID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	m := e.match
	if m.Status != StatusEnded {
		return &StatusError{MatchID: matchID, Status: m.Status}
	}
	if m.WinnerID != "" {
		if m.WinnerID == result.WinnerID {
			return nil
		}
		return fmt.Errorf("%w: %s != %s", ErrAlreadyFinalized, m.WinnerID, result.WinnerID)
	}

	next := m.Clone()
	next.WinnerID = result.WinnerID
	next.EndedAt = result.EndedAt
	for _, r := range result.Ranked {
		if p, ok := next.Player(r.ParticipantID); ok {
			p.Finalized = true
			p.FinalGrid = r.FinalGrid
		}
	}
	e.match = next
	return nil
}

// SetAuthoritative 标记对局状态是否与持久化存储一致
func (s *MemoryStore) SetAuthoritative(ctx context.Context, matchID string, authoritative bool) error {
	e, err := s.entry(matchID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.match.Authoritative == authoritative {
		return nil
	}
	next := e.match.Clone()
	next.Authoritative = authoritative
	e.match = next
	return nil
}

// Restore 载入持久化的对局，已存在则返回ErrDuplicateMatch
func (s *MemoryStore) Restore(ctx context.Context, m *Match) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m == nil || m.ID == "" || !m.Status.Valid() {
		return ErrInvalidMatch
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.matches[m.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMatch, m.ID)
	}
	c := m.Clone()
	sort.Slice(c.Players, func(i, j int) bool { return c.Players[i].JoinOrder < c.Players[j].JoinOrder })
	s.matches[c.ID] = &matchEntry{match: c}
	if c.RoomCode != "" {
		s.codes[c.RoomCode] = c.ID
	}
	return nil
}

var _ Store = (*MemoryStore)(nil)
