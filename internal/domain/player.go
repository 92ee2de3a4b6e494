package domain

import (
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// UserProfile is the identity a client presents when creating or joining a room
type UserProfile struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Avatar   string `json:"avatar"`
}

// Validate applies the same field rules as leaderboard submissions
func (p UserProfile) Validate() error {
	if err := validateIdentity(p.UserID, p.Username, p.Avatar); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidProfile, err)
	}
	return nil
}

func validateIdentity(userID, username, avatar string) error {
	if n := utf8.RuneCountInString(userID); n < 8 || n > 128 {
		return fmt.Errorf("user_id must be 8-128 characters, got %d", n)
	}
	if n := utf8.RuneCountInString(username); n < 3 || n > 15 {
		return fmt.Errorf("username must be 3-15 characters, got %d", n)
	}
	if !usernamePattern.MatchString(username) {
		return fmt.Errorf("username may only contain letters, digits and underscores")
	}
	if n := utf8.RuneCountInString(avatar); n < 1 || n > 64 {
		return fmt.Errorf("avatar must be 1-64 characters, got %d", n)
	}
	return nil
}

// Player is one connected participant of a room
type Player struct {
	ConnectionID string `json:"connectionId"`
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	Avatar       string `json:"avatar"`
	// Score is the last reported reaction time in milliseconds, 0 when unset
	Score    int  `json:"score"`
	IsReady  bool `json:"isReady"`
	Finished bool `json:"finished"`
	// LastActionTime is zero until the first score submission
	LastActionTime time.Time `json:"-"`
}

// NewPlayer creates a lobby player for a connection
func NewPlayer(connectionID string, profile UserProfile) *Player {
	return &Player{
		ConnectionID: connectionID,
		UserID:       profile.UserID,
		Username:     profile.Username,
		Avatar:       profile.Avatar,
	}
}

// ResetRound clears the round-local fields
func (p *Player) ResetRound() {
	p.Score = 0
	p.Finished = false
}
