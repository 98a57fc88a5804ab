package models

import (
	"strings"
	"time"
)

// CreateTimeLayout is the format of VerifiedUser.CreateTime, always rendered in UTC.
const CreateTimeLayout = "2006-01-02 15:04:05"

// VerifiedUser links a game-character handle to a chat-platform account id.
// Records written by this service always carry both identities as submitted,
// possibly empty; older files may hold null. CreateTime is set once when the
// record is added.
type VerifiedUser struct {
	SS13       *string `json:"ss13"`
	Discord    *string `json:"discord"`
	CreateTime string  `json:"create_time"`
}

// NewVerifiedUser builds a record stamped with now. Identities are stored as
// supplied, empty strings included.
func NewVerifiedUser(ckey, discord string, now time.Time) VerifiedUser {
	return VerifiedUser{
		SS13:       &ckey,
		Discord:    &discord,
		CreateTime: FormatCreateTime(now),
	}
}

// FormatCreateTime renders t in UTC using CreateTimeLayout.
func FormatCreateTime(t time.Time) string {
	return t.UTC().Format(CreateTimeLayout)
}

// Matches is the registry's existence predicate: the record holds discord or ckey.
// Empty arguments never match, so records with empty identities never collide.
func (u VerifiedUser) Matches(ckey, discord string) bool {
	if discord != "" && u.Discord != nil && *u.Discord == discord {
		return true
	}
	return ckey != "" && u.SS13 != nil && *u.SS13 == ckey
}

// CKey returns the ss13 handle or "" when unset.
func (u VerifiedUser) CKey() string {
	if u.SS13 == nil {
		return ""
	}
	return *u.SS13
}

// DiscordID returns the discord id or "" when unset.
func (u VerifiedUser) DiscordID() string {
	if u.Discord == nil {
		return ""
	}
	return *u.Discord
}

// Intent is the kind of mutation a POST /verified asks for.
type Intent string

const (
	IntentAdd    Intent = "add"
	IntentDelete Intent = "delete"
)

// MutateRequest is the decoded form payload of POST /verified.
type MutateRequest struct {
	Method  string
	CKey    string
	Discord string
	Token   string
}

// Intent selects delete when Method is "delete" (trimmed, any case) and add otherwise.
func (r MutateRequest) Intent() Intent {
	if strings.EqualFold(strings.TrimSpace(r.Method), string(IntentDelete)) {
		return IntentDelete
	}
	return IntentAdd
}

// Outcome reports what a successful mutation did.
type Outcome string

const (
	OutcomeAdded   Outcome = "added"
	OutcomeDeleted Outcome = "deleted"
)
