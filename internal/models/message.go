package models

// ItemType discriminates the payload carried by a Message.
type ItemType string

const (
	ItemTypeText        ItemType = "text"
	ItemTypeMedia       ItemType = "media"
	ItemTypeMediaShare  ItemType = "media_share"
	ItemTypeVoice       ItemType = "voice_media"
	ItemTypeStoryShare  ItemType = "story_share"
	ItemTypeAnimated    ItemType = "animated_media"
	ItemTypeActionLog   ItemType = "action_log"
	ItemTypeLink        ItemType = "link"
	ItemTypePoll        ItemType = "poll"
	ItemTypeProfile     ItemType = "profile"
	ItemTypeRaven       ItemType = "raven_media"
	ItemTypeReply       ItemType = "reply"
	ItemTypeUnsupported ItemType = "unsupported"
)

// Message represents a single item of a thread.
type Message struct {
	ItemID         string    `json:"item_id"`
	ThreadID       string    `json:"thread_id"`
	SenderID       string    `json:"sender_id,omitempty"`
	IsSentByViewer bool      `json:"is_sent_by_viewer"`
	Timestamp      int64     `json:"timestamp"`
	Type           ItemType  `json:"item_type"`
	Payload        Payload   `json:"payload"`
	RepliedTo      *ReplyRef `json:"replied_to,omitempty"`
	Provisional    bool      `json:"provisional,omitempty"`
}

// ReplyRef is a by-value copy of the message being replied to.
type ReplyRef struct {
	SenderID string `json:"sender_id"`
	Snippet  string `json:"snippet"`
}

// NewMessage builds a message whose Type matches its payload.
func NewMessage(itemID, threadID, senderID string, ts int64, viewer bool, payload Payload) Message {
	if payload == nil {
		payload = UnsupportedPayload{}
	}
	return Message{
		ItemID:         itemID,
		ThreadID:       threadID,
		SenderID:       senderID,
		IsSentByViewer: viewer,
		Timestamp:      ts,
		Type:           payload.Kind(),
		Payload:        payload,
	}
}

// Payload is the closed set of per-type message contents.
type Payload interface {
	Kind() ItemType
	sealed()
}

type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

type TextPayload struct {
	Text string `json:"text"`
}

type MediaPayload struct {
	MediaType MediaKind `json:"media_type"`
	URL       string    `json:"url"`
	Width     int       `json:"width,omitempty"`
	Height    int       `json:"height,omitempty"`
}

// MediaSharePayload is a shared post; Carousel is set for multi-media posts.
type MediaSharePayload struct {
	PostID   string         `json:"post_id,omitempty"`
	Owner    string         `json:"owner,omitempty"`
	Caption  string         `json:"caption,omitempty"`
	Cover    MediaPayload   `json:"cover"`
	Carousel []MediaPayload `json:"carousel,omitempty"`
}

type VoicePayload struct {
	URL        string `json:"url"`
	DurationMS int64  `json:"duration_ms,omitempty"`
}

type StorySharePayload struct {
	Owner   string        `json:"owner,omitempty"`
	Text    string        `json:"text,omitempty"`
	Media   *MediaPayload `json:"media,omitempty"`
	Expired bool          `json:"expired,omitempty"`
}

type AnimatedPayload struct {
	URL       string `json:"url"`
	IsSticker bool   `json:"is_sticker,omitempty"`
}

// ActionLogPayload is a system message without an attributable sender.
type ActionLogPayload struct {
	Description string `json:"description"`
}

type LinkPayload struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
}

type PollPayload struct {
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

type ProfilePayload struct {
	UserID   string `json:"user_id,omitempty"`
	Username string `json:"username"`
}

type RavenPayload struct {
	Media    *MediaPayload `json:"media,omitempty"`
	ViewMode string        `json:"view_mode,omitempty"`
	Expired  bool          `json:"expired,omitempty"`
}

// ReplyPayload is a text answer to another message, referenced by Message.RepliedTo.
type ReplyPayload struct {
	Text string `json:"text"`
}

// UnsupportedPayload stands in for unknown or malformed items.
type UnsupportedPayload struct {
	RawType string `json:"raw_type,omitempty"`
}

func (TextPayload) Kind() ItemType        { return ItemTypeText }
func (MediaPayload) Kind() ItemType       { return ItemTypeMedia }
func (MediaSharePayload) Kind() ItemType  { return ItemTypeMediaShare }
func (VoicePayload) Kind() ItemType       { return ItemTypeVoice }
func (StorySharePayload) Kind() ItemType  { return ItemTypeStoryShare }
func (AnimatedPayload) Kind() ItemType    { return ItemTypeAnimated }
func (ActionLogPayload) Kind() ItemType   { return ItemTypeActionLog }
func (LinkPayload) Kind() ItemType        { return ItemTypeLink }
func (PollPayload) Kind() ItemType        { return ItemTypePoll }
func (ProfilePayload) Kind() ItemType     { return ItemTypeProfile }
func (RavenPayload) Kind() ItemType       { return ItemTypeRaven }
func (ReplyPayload) Kind() ItemType       { return ItemTypeReply }
func (UnsupportedPayload) Kind() ItemType { return ItemTypeUnsupported }

func (TextPayload) sealed()        {}
func (MediaPayload) sealed()       {}
func (MediaSharePayload) sealed()  {}
func (VoicePayload) sealed()       {}
func (StorySharePayload) sealed()  {}
func (AnimatedPayload) sealed()    {}
func (ActionLogPayload) sealed()   {}
func (LinkPayload) sealed()        {}
func (PollPayload) sealed()        {}
func (ProfilePayload) sealed()     {}
func (RavenPayload) sealed()       {}
func (ReplyPayload) sealed()       {}
func (UnsupportedPayload) sealed() {}

// InboxEvent is pushed to inbox websocket subscribers.
type InboxEvent struct {
	Type          string         `json:"type"`
	Version       uint64         `json:"version,omitempty"`
	Conversations []Conversation `json:"conversations"`
	Query         string         `json:"query,omitempty"`
}

// ThreadEvent is pushed to thread websocket subscribers.
type ThreadEvent struct {
	Type     string    `json:"type"`
	ThreadID string    `json:"thread_id"`
	Version  uint64    `json:"version,omitempty"`
	Messages []Message `json:"messages,omitempty"`
	Error    string    `json:"error,omitempty"`
}
