package game

import (
	"sync"
	"time"
)

// TaskKind 定时任务类型
type TaskKind string

const (
	TaskCountdown TaskKind = "countdown"
	TaskTimer     TaskKind = "timer"
)

// TaskScheduler 按(对局, 类型)调度的定时任务
type TaskScheduler interface {
	// Schedule 安排任务，同键已有任务会被替换
	Schedule(matchID string, kind TaskKind, delay time.Duration, fn func())
	Cancel(matchID string, kind TaskKind) bool
	CancelMatch(matchID string)
}

type taskKey struct {
	matchID string
	kind    TaskKind
}

type scheduledTask struct {
	timer *time.Timer
	gen   uint64
}

// Scheduler 基于time.AfterFunc的调度器
type Scheduler struct {
	mu      sync.Mutex
	tasks   map[taskKey]scheduledTask
	gen     uint64
	stopped bool
}

// NewScheduler 创建调度器
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[taskKey]scheduledTask)}
}

// Schedule 安排任务
func (s *Scheduler) Schedule(matchID string, kind TaskKind, delay time.Duration, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}

	key := taskKey{matchID: matchID, kind: kind}
	if old, ok := s.tasks[key]; ok {
		old.timer.Stop()
	}
	if delay < 0 {
		delay = 0
	}

	s.gen++
	gen := s.gen
	t := time.AfterFunc(delay, func() {
		s.mu.Lock()
		cur, ok := s.tasks[key]
		if !ok || cur.gen != gen {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
	s.tasks[key] = scheduledTask{timer: t, gen: gen}
}

// Cancel 取消任务，返回是否存在未触发的任务
func (s *Scheduler) Cancel(matchID string, kind TaskKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey{matchID: matchID, kind: kind}
	t, ok := s.tasks[key]
	if !ok {
		return false
	}
	delete(s.tasks, key)
	t.timer.Stop()
	return true
}

// CancelMatch 取消对局的全部任务
func (s *Scheduler) CancelMatch(matchID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, t := range s.tasks {
		if key.matchID == matchID {
			t.timer.Stop()
			delete(s.tasks, key)
		}
	}
}

// Pending 是否有未触发的任务
func (s *Scheduler) Pending(matchID string, kind TaskKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[taskKey{matchID: matchID, kind: kind}]
	return ok
}

// Len 未触发任务数
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop 停止所有任务，之后的Schedule被忽略
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for key, t := range s.tasks {
		t.timer.Stop()
		delete(s.tasks, key)
	}
}

var _ TaskScheduler = (*Scheduler)(nil)
