package models

import "fmt"

// UsernameLookup resolves a participant id to a username.
type UsernameLookup interface {
	Username(userID string) (string, bool)
}

// Describe renders the one-line preview of a message payload, e.g.
// "alice sent a photo". names may be nil.
func Describe(senderID string, viewer bool, p Payload, names UsernameLookup) string {
	who := "Someone"
	switch {
	case viewer:
		who = "You"
	case names != nil:
		if name, ok := names.Username(senderID); ok && name != "" {
			who = name
		}
	}

	switch v := p.(type) {
	case TextPayload:
		return v.Text
	case ReplyPayload:
		return v.Text
	case LinkPayload:
		return v.Text
	case MediaPayload:
		if v.MediaType == MediaVideo {
			return who + " sent a video"
		}
		return who + " sent a photo"
	case MediaSharePayload:
		if v.Owner != "" {
			return fmt.Sprintf("%s sent a post by %s", who, v.Owner)
		}
		return who + " sent a post"
	case VoicePayload:
		return who + " sent a voice message"
	case StorySharePayload:
		if v.Expired {
			return "Story unavailable"
		}
		return who + " shared a story"
	case AnimatedPayload:
		if v.IsSticker {
			return who + " sent a sticker"
		}
		return who + " sent a GIF"
	case ActionLogPayload:
		return v.Description
	case PollPayload:
		return fmt.Sprintf("%s created a poll: %s", who, v.Question)
	case ProfilePayload:
		return fmt.Sprintf("%s shared a profile (@%s)", who, v.Username)
	case RavenPayload:
		if v.Media != nil && v.Media.MediaType == MediaVideo {
			return who + " sent a disappearing video"
		}
		return who + " sent a disappearing photo"
	case UnsupportedPayload:
		return who + " sent an attachment"
	default:
		return who + " sent an attachment"
	}
}

// Describe renders the preview of m.
func (m Message) Describe(names UsernameLookup) string {
	return Describe(m.SenderID, m.IsSentByViewer, m.Payload, names)
}
