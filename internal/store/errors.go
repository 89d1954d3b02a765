package store

import (
	"errors"
	"fmt"
)

var (
	ErrMatchNotFound     = errors.New("match not found")
	ErrMatchFull         = errors.New("match is full")
	ErrAlreadyJoined     = errors.New("participant already joined")
	ErrNotParticipant    = errors.New("participant not in match")
	ErrWrongStatus       = errors.New("match status does not allow operation")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAlreadyFinalized  = errors.New("match already finalized with a different result")
	ErrInvalidMatch      = errors.New("invalid match parameters")
	ErrRoomCodeExhausted = errors.New("could not allocate a unique room code")
	ErrDuplicateMatch    = errors.New("match already exists")

	// ErrGuardFailed 由Mutation返回，表示转换条件在锁内复查时不成立
	ErrGuardFailed = errors.New("transition guard failed")
)

// StatusError 对局状态不满足操作要求
type StatusError struct {
	MatchID string
	Status  Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("match %s is %s", e.MatchID, e.Status)
}

// Is 与ErrWrongStatus匹配
func (e *StatusError) Is(target error) bool {
	return target == ErrWrongStatus
}
