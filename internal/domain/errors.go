package domain

import "errors"

// Domain errors
var (
	ErrRoomNotFound       = errors.New("room not found")
	ErrRoomNotJoinable    = errors.New("game already in progress")
	ErrRoomFull           = errors.New("room is full")
	ErrAlreadyInRoom      = errors.New("connection already in a room")
	ErrNotInRoom          = errors.New("connection not in room")
	ErrCodeSpaceExhausted = errors.New("no free room code")
	ErrIllegalTransition  = errors.New("illegal room status transition")
	ErrInvalidProfile     = errors.New("invalid user profile")
	ErrInvalidScore       = errors.New("invalid score value")
	ErrInvalidDifficulty  = errors.New("invalid difficulty")
	ErrInvalidRequest     = errors.New("invalid request")
	ErrPlayerNotFound     = errors.New("player not found in leaderboard")
	ErrCoordinatorStopped = errors.New("match coordinator stopped")
	ErrInternalError      = errors.New("internal server error")
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrPlayerNotFound) || errors.Is(err, ErrRoomNotFound)
}

// IsClientError reports whether err was caused by the caller's input
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrRoomNotFound, ErrRoomNotJoinable, ErrRoomFull, ErrAlreadyInRoom, ErrNotInRoom,
		ErrInvalidProfile, ErrInvalidScore, ErrInvalidDifficulty, ErrInvalidRequest,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// ClientMessage returns the text shown to players when a room request fails
func ClientMessage(err error) string {
	switch {
	case errors.Is(err, ErrRoomNotFound):
		return "Room not found"
	case errors.Is(err, ErrRoomNotJoinable):
		return "Game already in progress"
	case errors.Is(err, ErrRoomFull):
		return "Room is full"
	case errors.Is(err, ErrAlreadyInRoom):
		return "Already in a room"
	case errors.Is(err, ErrInvalidProfile):
		return "Invalid profile"
	case errors.Is(err, ErrInvalidRequest):
		return "Invalid request"
	default:
		return "Internal server error"
	}
}
