package room

import "errors"

var (
	ErrRoomNotFound    = errors.New("not_found")
	ErrBadPassword     = errors.New("bad_password")
	ErrRoomFull        = errors.New("full")
	ErrNotMember       = errors.New("unauthorized")
	ErrExecutionBusy   = errors.New("busy")
	ErrInvalidLanguage = errors.New("validation")
)
