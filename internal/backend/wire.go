package backend

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"chat-sync/internal/logger"
	"chat-sync/internal/models"
)

var validate = validator.New()

// flexString accepts both JSON strings and numbers (user pks are numeric on the wire).
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(string(b))
	return nil
}

// flexInt accepts numbers and numeric strings.
type flexInt int64

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = 0
		return nil
	}
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		fl, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return err
		}
		n = int64(fl)
	}
	*f = flexInt(n)
	return nil
}

// NormalizeMicros converts a wire timestamp of unknown unit to microseconds.
// Values below 1e11 are seconds and values below 1e14 are milliseconds.
func NormalizeMicros(v int64) int64 {
	switch {
	case v <= 0:
		return 0
	case v < 1e11:
		return v * 1_000_000
	case v < 1e14:
		return v * 1_000
	default:
		return v
	}
}

type wireUser struct {
	PK            flexString `json:"pk" validate:"required"`
	Username      string     `json:"username"`
	FullName      string     `json:"full_name"`
	ProfilePicURL string     `json:"profile_pic_url"`
}

func (u wireUser) participant() models.Participant {
	return models.Participant{
		UserID:      string(u.PK),
		Username:    u.Username,
		DisplayName: u.FullName,
		AvatarURL:   u.ProfilePicURL,
	}
}

type wireCandidate struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type wireMedia struct {
	MediaType      int `json:"media_type"`
	ImageVersions2 *struct {
		Candidates []wireCandidate `json:"candidates"`
	} `json:"image_versions2"`
	VideoVersions  []wireCandidate `json:"video_versions"`
	OriginalWidth  int             `json:"original_width"`
	OriginalHeight int             `json:"original_height"`
	Audio          *struct {
		AudioSrc string  `json:"audio_src"`
		Duration flexInt `json:"duration"`
	} `json:"audio"`
}

type wirePost struct {
	wireMedia
	ID      flexString `json:"id"`
	Code    string     `json:"code"`
	User    *wireUser  `json:"user"`
	Caption *struct {
		Text string `json:"text"`
	} `json:"caption"`
	ProductType   string      `json:"product_type"`
	CarouselMedia []wireMedia `json:"carousel_media"`
}

type wireItem struct {
	ItemID         flexString `json:"item_id" validate:"required"`
	ItemType       string     `json:"item_type"`
	UserID         flexString `json:"user_id"`
	Timestamp      flexInt    `json:"timestamp"`
	IsSentByViewer bool       `json:"is_sent_by_viewer"`
	Text           string     `json:"text"`
	Link           *struct {
		Text        string `json:"text"`
		LinkContext *struct {
			LinkURL string `json:"link_url"`
		} `json:"link_context"`
	} `json:"link"`
	Media      *wireMedia `json:"media"`
	MediaShare *wirePost  `json:"media_share"`
	Clip       *struct {
		Clip *wirePost `json:"clip"`
	} `json:"clip"`
	VoiceMedia *struct {
		Media *wireMedia `json:"media"`
	} `json:"voice_media"`
	StoryShare *struct {
		Media   *wirePost `json:"media"`
		Text    string    `json:"text"`
		Message string    `json:"message"`
	} `json:"story_share"`
	AnimatedMedia *struct {
		Images struct {
			FixedHeight *struct {
				URL string `json:"url"`
			} `json:"fixed_height"`
		} `json:"images"`
		IsSticker bool `json:"is_sticker"`
	} `json:"animated_media"`
	ActionLog *struct {
		Description string `json:"description"`
	} `json:"action_log"`
	Poll *struct {
		Question string `json:"question"`
		Options  []struct {
			Text string `json:"text"`
		} `json:"options"`
	} `json:"poll"`
	Profile     *wireUser `json:"profile"`
	VisualMedia *struct {
		Media    *wireMedia `json:"media"`
		ViewMode string     `json:"view_mode"`
	} `json:"visual_media"`
	RepliedToMessage *struct {
		UserID flexString `json:"user_id"`
		Text   string     `json:"text"`
	} `json:"replied_to_message"`
}

type wireThread struct {
	ThreadID          flexString        `json:"thread_id" validate:"required"`
	ThreadTitle       string            `json:"thread_title"`
	Users             []wireUser        `json:"users"`
	ReadState         *int              `json:"read_state"`
	LastPermanentItem json.RawMessage   `json:"last_permanent_item"`
	Items             []json.RawMessage `json:"items"`
}

type wirePage struct {
	Messages      *[]json.RawMessage `json:"messages"`
	Cursor        flexString         `json:"cursor"`
	MoreAvailable *bool              `json:"moreAvailable"`
}

func decodeThread(raw json.RawMessage) (models.Conversation, bool) {
	var wt wireThread
	if err := json.Unmarshal(raw, &wt); err != nil {
		logger.Warn("dropping undecodable thread", zap.Error(err))
		return models.Conversation{}, false
	}
	if err := validate.Struct(wt); err != nil {
		logger.Warn("dropping invalid thread", zap.Error(err))
		return models.Conversation{}, false
	}

	threadID := string(wt.ThreadID)
	conv := models.Conversation{
		ThreadID:  threadID,
		ReadState: models.ReadStateRead,
	}
	if wt.ReadState != nil && *wt.ReadState != 0 {
		conv.ReadState = models.ReadStateUnread
	}

	names := make([]string, 0, len(wt.Users))
	for _, u := range wt.Users {
		if err := validate.Struct(u); err != nil {
			continue
		}
		p := u.participant()
		conv.Participants = append(conv.Participants, p)
		names = append(names, p.Username)
	}
	conv.IsGroup = len(conv.Participants) > 1
	conv.Title = wt.ThreadTitle
	if conv.Title == "" {
		conv.Title = strings.Join(names, ", ")
	}

	conv.Items = decodeItems(threadID, wt.Items)

	var last *models.Message
	if len(wt.LastPermanentItem) > 0 && string(wt.LastPermanentItem) != "null" {
		if m, ok := decodeItem(threadID, wt.LastPermanentItem); ok {
			last = &m
		}
	}
	for i := range conv.Items {
		if last == nil || conv.Items[i].Timestamp > last.Timestamp {
			last = &conv.Items[i]
		}
	}
	if last != nil {
		conv.LastItem = snapshotOf(*last)
	}
	return conv, true
}

func snapshotOf(m models.Message) *models.ItemSnapshot {
	return &models.ItemSnapshot{
		ItemID:         m.ItemID,
		Type:           m.Type,
		Text:           models.Describe(m.SenderID, m.IsSentByViewer, m.Payload, nil),
		SenderID:       m.SenderID,
		IsSentByViewer: m.IsSentByViewer,
		Timestamp:      m.Timestamp,
		Payload:        m.Payload,
	}
}

func decodeItems(threadID string, raws []json.RawMessage) []models.Message {
	out := make([]models.Message, 0, len(raws))
	for _, raw := range raws {
		if m, ok := decodeItem(threadID, raw); ok {
			out = append(out, m)
		}
	}
	return out
}

// decodeItem never fails the whole fetch: unknown or malformed items become
// unsupported placeholders, and only items without an id are dropped.
func decodeItem(threadID string, raw json.RawMessage) (models.Message, bool) {
	var wi wireItem
	if err := json.Unmarshal(raw, &wi); err != nil {
		var minimal struct {
			ItemID    flexString `json:"item_id"`
			ItemType  string     `json:"item_type"`
			UserID    flexString `json:"user_id"`
			Timestamp flexInt    `json:"timestamp"`
		}
		if merr := json.Unmarshal(raw, &minimal); merr != nil || minimal.ItemID == "" {
			logger.Warn("dropping undecodable item", zap.String("thread_id", threadID), zap.Error(err))
			return models.Message{}, false
		}
		return models.NewMessage(string(minimal.ItemID), threadID, string(minimal.UserID),
			NormalizeMicros(int64(minimal.Timestamp)), false, models.UnsupportedPayload{RawType: minimal.ItemType}), true
	}
	if err := validate.StructPartial(wi, "ItemID"); err != nil {
		logger.Warn("dropping item without id", zap.String("thread_id", threadID), zap.Error(err))
		return models.Message{}, false
	}

	payload := payloadOf(wi)
	senderID := string(wi.UserID)
	if payload.Kind() == models.ItemTypeActionLog {
		senderID = ""
	}
	msg := models.NewMessage(string(wi.ItemID), threadID, senderID, NormalizeMicros(int64(wi.Timestamp)), wi.IsSentByViewer, payload)
	if wi.RepliedToMessage != nil {
		msg.RepliedTo = &models.ReplyRef{
			SenderID: string(wi.RepliedToMessage.UserID),
			Snippet:  snippet(wi.RepliedToMessage.Text),
		}
	}
	return msg, true
}

func payloadOf(wi wireItem) models.Payload {
	unsupported := models.UnsupportedPayload{RawType: wi.ItemType}
	switch wi.ItemType {
	case "text":
		if wi.RepliedToMessage != nil {
			return models.ReplyPayload{Text: wi.Text}
		}
		return models.TextPayload{Text: wi.Text}
	case "link":
		p := models.LinkPayload{Text: wi.Text}
		if wi.Link != nil {
			if wi.Link.Text != "" {
				p.Text = wi.Link.Text
			}
			if wi.Link.LinkContext != nil {
				p.URL = wi.Link.LinkContext.LinkURL
			}
		}
		return p
	case "media":
		if m, ok := mediaOf(wi.Media); ok {
			return m
		}
	case "media_share", "felix_share":
		if p, ok := postOf(wi.MediaShare); ok {
			return p
		}
	case "clip":
		if wi.Clip != nil {
			if p, ok := postOf(wi.Clip.Clip); ok {
				return p
			}
		}
	case "voice_media":
		if wi.VoiceMedia != nil && wi.VoiceMedia.Media != nil && wi.VoiceMedia.Media.Audio != nil {
			a := wi.VoiceMedia.Media.Audio
			return models.VoicePayload{URL: a.AudioSrc, DurationMS: int64(a.Duration)}
		}
	case "story_share", "reel_share":
		if wi.StoryShare == nil {
			break
		}
		p := models.StorySharePayload{Text: wi.StoryShare.Text}
		if p.Text == "" {
			p.Text = wi.StoryShare.Message
		}
		if post := wi.StoryShare.Media; post != nil {
			if post.User != nil {
				p.Owner = post.User.Username
			}
			if m, ok := mediaOf(&post.wireMedia); ok {
				p.Media = &m
			}
		}
		p.Expired = p.Media == nil
		return p
	case "animated_media":
		if wi.AnimatedMedia != nil && wi.AnimatedMedia.Images.FixedHeight != nil {
			return models.AnimatedPayload{URL: wi.AnimatedMedia.Images.FixedHeight.URL, IsSticker: wi.AnimatedMedia.IsSticker}
		}
	case "action_log":
		if wi.ActionLog != nil {
			return models.ActionLogPayload{Description: wi.ActionLog.Description}
		}
	case "poll":
		if wi.Poll != nil {
			p := models.PollPayload{Question: wi.Poll.Question}
			for _, o := range wi.Poll.Options {
				p.Options = append(p.Options, o.Text)
			}
			return p
		}
	case "profile":
		if wi.Profile != nil {
			return models.ProfilePayload{UserID: string(wi.Profile.PK), Username: wi.Profile.Username}
		}
	case "raven_media":
		if wi.VisualMedia == nil {
			break
		}
		p := models.RavenPayload{ViewMode: wi.VisualMedia.ViewMode}
		if m, ok := mediaOf(wi.VisualMedia.Media); ok {
			p.Media = &m
		}
		p.Expired = p.Media == nil
		return p
	}
	return unsupported
}

func mediaOf(m *wireMedia) (models.MediaPayload, bool) {
	if m == nil {
		return models.MediaPayload{}, false
	}
	if m.MediaType == 2 && len(m.VideoVersions) > 0 {
		c := m.VideoVersions[0]
		return models.MediaPayload{MediaType: models.MediaVideo, URL: c.URL, Width: pick(c.Width, m.OriginalWidth), Height: pick(c.Height, m.OriginalHeight)}, true
	}
	if m.ImageVersions2 != nil && len(m.ImageVersions2.Candidates) > 0 {
		c := m.ImageVersions2.Candidates[0]
		return models.MediaPayload{MediaType: models.MediaImage, URL: c.URL, Width: pick(c.Width, m.OriginalWidth), Height: pick(c.Height, m.OriginalHeight)}, true
	}
	if len(m.VideoVersions) > 0 {
		c := m.VideoVersions[0]
		return models.MediaPayload{MediaType: models.MediaVideo, URL: c.URL, Width: c.Width, Height: c.Height}, true
	}
	return models.MediaPayload{}, false
}

func postOf(post *wirePost) (models.MediaSharePayload, bool) {
	if post == nil {
		return models.MediaSharePayload{}, false
	}
	p := models.MediaSharePayload{PostID: string(post.ID)}
	if post.User != nil {
		p.Owner = post.User.Username
	}
	if post.Caption != nil {
		p.Caption = post.Caption.Text
	}
	for i := range post.CarouselMedia {
		if m, ok := mediaOf(&post.CarouselMedia[i]); ok {
			p.Carousel = append(p.Carousel, m)
		}
	}
	if cover, ok := mediaOf(&post.wireMedia); ok {
		p.Cover = cover
	} else if len(p.Carousel) > 0 {
		p.Cover = p.Carousel[0]
	} else {
		return models.MediaSharePayload{}, false
	}
	return p, true
}

func pick(v, fallback int) int {
	if v != 0 {
		return v
	}
	return fallback
}

func snippet(text string) string {
	const limit = 80
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "…"
}

func decodePage(body []byte, threadID string) (models.MessagePage, error) {
	var wp wirePage
	if err := json.Unmarshal(body, &wp); err != nil {
		return models.MessagePage{}, err
	}
	page := models.MessagePage{Cursor: string(wp.Cursor)}
	if wp.Messages == nil || len(*wp.Messages) == 0 {
		return page, nil
	}
	page.Messages = decodeItems(threadID, *wp.Messages)
	if wp.MoreAvailable != nil {
		page.MoreAvailable = *wp.MoreAvailable
	} else {
		page.MoreAvailable = page.Cursor != ""
	}
	return page, nil
}
