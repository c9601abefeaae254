package webhook

import (
	"strings"

	"conversation_backend/internal/conversation/domain"

	"github.com/google/uuid"
)

// GOWAPayload is the callback body sent by a go-whatsapp-web-multidevice gateway.
type GOWAPayload struct {
	SenderID  string       `json:"sender_id"`
	ChatID    string       `json:"chat_id"`
	From      string       `json:"from"`
	DeviceID  string       `json:"device_id"`
	Timestamp string       `json:"timestamp"`
	PushName  string       `json:"pushname"`
	IsFromMe  bool         `json:"is_from_me"`
	Event     string       `json:"event"`
	Message   GOWAMessage  `json:"message"`
	Image     *GOWAMedia   `json:"image,omitempty"`
	Video     *GOWAMedia   `json:"video,omitempty"`
	Audio     *GOWAMedia   `json:"audio,omitempty"`
	Document  *GOWAMedia   `json:"document,omitempty"`
	Payload   *GOWAReceipt `json:"payload,omitempty"`
}

type GOWAMessage struct {
	ID            string `json:"id"`
	Text          string `json:"text"`
	RepliedID     string `json:"replied_id"`
	QuotedMessage string `json:"quoted_message"`
}

type GOWAMedia struct {
	MediaPath string `json:"media_path"`
	MimeType  string `json:"mime_type"`
	Caption   string `json:"caption"`
}

// GOWAReceipt is set on delivery and read receipts, which carry no message.
type GOWAReceipt struct {
	IDs []string `json:"ids"`
}

// isGroup reports whether the chat is a group, which has no one-to-one session.
func (p GOWAPayload) isGroup() bool {
	return strings.HasSuffix(strings.ToLower(p.ChatID), "@g.us") || strings.HasSuffix(strings.ToLower(p.From), "@g.us")
}

func (p GOWAPayload) senderAddress() string {
	if p.From != "" {
		if sender, _, found := strings.Cut(p.From, " in "); found {
			return sender
		}
		return p.From
	}
	if p.SenderID != "" {
		return p.SenderID
	}
	return p.ChatID
}

func (p GOWAPayload) mediaRefs() []string {
	var refs []string
	for _, m := range []*GOWAMedia{p.Image, p.Video, p.Audio, p.Document} {
		if m != nil && m.MediaPath != "" {
			refs = append(refs, m.MediaPath)
		}
	}
	return refs
}

func (p GOWAPayload) body() string {
	if text := strings.TrimSpace(p.Message.Text); text != "" {
		return text
	}
	for _, m := range []*GOWAMedia{p.Image, p.Video, p.Document} {
		if m != nil && strings.TrimSpace(m.Caption) != "" {
			return strings.TrimSpace(m.Caption)
		}
	}
	return ""
}

// ToIncoming normalizes p for the lifecycle service. ownedAddr is used when
// the payload does not name the receiving device. The bool is false for
// callbacks that carry no conversational message.
func (p GOWAPayload) ToIncoming(tenantID uuid.UUID, ownedAddr string) (domain.IncomingMessage, bool) {
	if p.Payload != nil && p.Message.ID == "" {
		return domain.IncomingMessage{}, false
	}
	if p.isGroup() {
		return domain.IncomingMessage{}, false
	}

	body := p.body()
	media := p.mediaRefs()
	if body == "" && len(media) == 0 && p.Event == "" {
		return domain.IncomingMessage{}, false
	}

	owned := ownedAddr
	if p.DeviceID != "" {
		owned = p.DeviceID
	}
	external := p.senderAddress()
	if external == "" || owned == "" {
		return domain.IncomingMessage{}, false
	}

	in := domain.IncomingMessage{
		TenantID:          tenantID,
		FromAddr:          external,
		ToAddr:            owned,
		Channel:           domain.ChannelWhatsApp,
		Body:              body,
		AuthorRole:        domain.RoleUser,
		MediaRefs:         media,
		ProviderMessageID: p.Message.ID,
		Metadata:          map[string]any{},
	}
	if p.IsFromMe {
		// Sent from the business phone itself: the chat is the external party.
		in.AuthorRole = domain.RoleAgent
		in.FromAddr = owned
		in.ToAddr = p.ChatID
		if in.ToAddr == "" {
			in.ToAddr = external
		}
	}
	if p.PushName != "" {
		in.Metadata["push_name"] = p.PushName
	}
	if p.Event != "" {
		in.Metadata["event"] = p.Event
	}
	if p.Message.RepliedID != "" {
		in.Metadata["replied_id"] = p.Message.RepliedID
	}
	if p.Timestamp != "" {
		in.Metadata["provider_timestamp"] = p.Timestamp
	}
	return in, true
}
