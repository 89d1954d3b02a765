package game

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/wfunc/tile-arena/internal/store"
)

// recordingPublisher 记录发布的事件
type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(ctx context.Context, matchID string, ev Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
}

func (p *recordingPublisher) Of(t EventType) []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (p *recordingPublisher) Types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]EventType, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

func (p *recordingPublisher) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = nil
}

type manualTask struct {
	delay time.Duration
	fn    func()
}

// manualScheduler 手动触发的调度器
type manualScheduler struct {
	mu        sync.Mutex
	tasks     map[taskKey]manualTask
	cancelled []taskKey
}

func newManualScheduler() *manualScheduler {
	return &manualScheduler{tasks: make(map[taskKey]manualTask)}
}

func (s *manualScheduler) Schedule(matchID string, kind TaskKind, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[taskKey{matchID: matchID, kind: kind}] = manualTask{delay: delay, fn: fn}
}

func (s *manualScheduler) Cancel(matchID string, kind TaskKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey{matchID: matchID, kind: kind}
	_, ok := s.tasks[key]
	delete(s.tasks, key)
	s.cancelled = append(s.cancelled, key)
	return ok
}

func (s *manualScheduler) CancelMatch(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.tasks {
		if key.matchID == matchID {
			delete(s.tasks, key)
			s.cancelled = append(s.cancelled, key)
		}
	}
}

func (s *manualScheduler) Pending(matchID string, kind TaskKind) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskKey{matchID: matchID, kind: kind}]
	return t.delay, ok
}

// Fire 触发并移除任务
func (s *manualScheduler) Fire(matchID string, kind TaskKind) bool {
	s.mu.Lock()
	key := taskKey{matchID: matchID, kind: kind}
	t, ok := s.tasks[key]
	delete(s.tasks, key)
	s.mu.Unlock()
	if ok {
		t.fn()
	}
	return ok
}

// recordingSettler 记录结算请求
type recordingSettler struct {
	mu       sync.Mutex
	requests []SettlementRequest
}

func (s *recordingSettler) Enqueue(ctx context.Context, req SettlementRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	return nil
}

func (s *recordingSettler) Requests() []SettlementRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SettlementRequest(nil), s.requests...)
}

// flakyPersister 前failSaves次SaveMatch失败
type flakyPersister struct {
	*MemoryPersister
	mu        sync.Mutex
	failSaves int
	saveCalls int

	playerEntered chan struct{}
	playerGate    chan struct{}
	afterSave     func(m *store.Match)
}

func (f *flakyPersister) SaveMatch(ctx context.Context, m *store.Match) error {
	f.mu.Lock()
	f.saveCalls++
	if f.failSaves > 0 {
		f.failSaves--
		f.mu.Unlock()
		return errors.New("数据库写入超时")
	}
	hook := f.afterSave
	f.mu.Unlock()
	if err := f.MemoryPersister.SaveMatch(ctx, m); err != nil {
		return err
	}
	if hook != nil {
		hook(m)
	}
	return nil
}

// AfterSave 每次SaveMatch成功后调用fn
func (f *flakyPersister) AfterSave(fn func(m *store.Match)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.afterSave = fn
}

func (f *flakyPersister) FailNext(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failSaves = n
	f.saveCalls = 0
}

func (f *flakyPersister) SaveCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saveCalls
}

// HoldPlayerSaves 让后续SavePlayer在释放前阻塞，entered在写入到达时收到通知
func (f *flakyPersister) HoldPlayerSaves() (entered <-chan struct{}, release func()) {
	in := make(chan struct{}, 1)
	gate := make(chan struct{})
	f.mu.Lock()
	f.playerEntered = in
	f.playerGate = gate
	f.mu.Unlock()
	return in, func() { close(gate) }
}

func (f *flakyPersister) SavePlayer(ctx context.Context, matchID string, pl *store.Player) error {
	f.mu.Lock()
	in, gate := f.playerEntered, f.playerGate
	f.mu.Unlock()
	if gate != nil {
		select {
		case in <- struct{}{}:
		default:
		}
		<-gate
	}
	return f.MemoryPersister.SavePlayer(ctx, matchID, pl)
}
