package models

import "time"

// ReadState tracks whether the viewer has seen the newest item of a conversation.
type ReadState string

const (
	ReadStateRead   ReadState = "READ"
	ReadStateUnread ReadState = "UNREAD"
)

// Participant is a user taking part in a conversation.
type Participant struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name,omitempty"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// ItemSnapshot is the denormalized preview of the newest item of a conversation.
type ItemSnapshot struct {
	ItemID         string   `json:"item_id"`
	Type           ItemType `json:"item_type"`
	Text           string   `json:"text"`
	SenderID       string   `json:"sender_id,omitempty"`
	IsSentByViewer bool     `json:"is_sent_by_viewer"`
	Timestamp      int64    `json:"timestamp"`
	Payload        Payload  `json:"-"`
}

// Conversation represents a thread between the viewer and one or more participants.
type Conversation struct {
	ThreadID     string        `json:"thread_id"`
	Title        string        `json:"title"`
	Participants []Participant `json:"participants"`
	IsGroup      bool          `json:"is_group"`
	LastItem     *ItemSnapshot `json:"last_item,omitempty"`
	ReadState    ReadState     `json:"read_state"`
	// Items holds whatever message snapshot the backend embedded in the listing.
	Items []Message `json:"items,omitempty"`
}

// MergeKey is the fingerprint used to detect a material change between polls.
func (c Conversation) MergeKey() string {
	if c.LastItem == nil {
		return ""
	}
	return c.LastItem.ItemID
}

// LastActivity returns the timestamp of the newest known item in microseconds.
func (c Conversation) LastActivity() int64 {
	if c.LastItem == nil {
		return 0
	}
	return c.LastItem.Timestamp
}

// MessagePage is one page of history returned by the backend.
type MessagePage struct {
	Messages      []Message `json:"messages"`
	Cursor        string    `json:"cursor,omitempty"`
	MoreAvailable bool      `json:"more_available"`
}

// MicrosToTime converts a canonical microsecond timestamp to time.Time.
func MicrosToTime(ts int64) time.Time {
	return time.UnixMicro(ts)
}
