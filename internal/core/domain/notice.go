package domain

import "time"

type NoticeLevel string

const (
	NoticeInfo    NoticeLevel = "info"
	NoticeSuccess NoticeLevel = "success"
	NoticeWarning NoticeLevel = "warning"
	NoticeError   NoticeLevel = "error"
)

// Notice is a human readable status update meant for a toast-like surface.
type Notice struct {
	DuetID   DuetID      `json:"duet_id"`
	Level    NoticeLevel `json:"level"`
	Title    string      `json:"title"`
	Message  string      `json:"message,omitempty"`
	Progress *int        `json:"progress,omitempty"`
	At       time.Time   `json:"at"`
}
