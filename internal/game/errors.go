package game

import (
	"context"
	stderrors "errors"

	apperrors "github.com/wfunc/tile-arena/internal/errors"
	"github.com/wfunc/tile-arena/internal/store"
)

// operation 触发错误的操作，决定状态错误映射到哪个错误码
type operation int

const (
	opRead operation = iota
	opJoin
	opReady
	opMove
	opCancel
)

var errMoveUnchanged = stderrors.New("move did not change the grid")

// translate 把存储层错误转换为协议错误
func translate(err error, op operation) error {
	if err == nil {
		return nil
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}

	var se *store.StatusError
	switch {
	case stderrors.Is(err, context.DeadlineExceeded):
		return apperrors.Wrap(err, apperrors.ErrTimeout)
	case stderrors.Is(err, context.Canceled):
		return apperrors.Wrap(err, apperrors.ErrCanceled)
	case stderrors.Is(err, store.ErrMatchNotFound):
		return apperrors.Wrap(err, apperrors.ErrMatchNotFound)
	case stderrors.Is(err, store.ErrMatchFull):
		return apperrors.Wrap(err, apperrors.ErrMatchFull)
	case stderrors.Is(err, store.ErrAlreadyJoined):
		return apperrors.Wrap(err, apperrors.ErrAlreadyJoined)
	case stderrors.Is(err, store.ErrNotParticipant):
		return apperrors.Wrap(err, apperrors.ErrNotParticipant)
	case stderrors.Is(err, store.ErrInvalidMatch):
		return apperrors.Wrap(err, apperrors.ErrInvalidParam)
	case stderrors.Is(err, errMoveUnchanged):
		return apperrors.Wrap(err, apperrors.ErrMoveNotApplied)
	case stderrors.As(err, &se):
		return statusError(err, se.Status, op)
	default:
		return apperrors.Wrap(err, apperrors.ErrStoreUnavailable)
	}
}

func statusError(err error, status store.Status, op operation) error {
	if status.Terminal() {
		return apperrors.Wrap(err, apperrors.ErrMatchEnded)
	}
	switch op {
	case opMove:
		return apperrors.Wrap(err, apperrors.ErrMatchNotInProgress)
	case opReady:
		if status == store.StatusStarting {
			return apperrors.Wrap(err, apperrors.ErrMatchStarting)
		}
		return apperrors.Wrap(err, apperrors.ErrMatchNotOpen)
	case opCancel:
		return apperrors.Wrap(err, apperrors.ErrNotCancellable)
	default:
		return apperrors.Wrap(err, apperrors.ErrMatchNotOpen)
	}
}
