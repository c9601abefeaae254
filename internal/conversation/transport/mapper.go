package transport

import (
	"conversation_backend/internal/conversation/domain"
)

// ToConversationResponse maps a domain conversation to its API shape.
func ToConversationResponse(conv domain.Conversation) ConversationResponse {
	return ConversationResponse{
		ID:             conv.ID,
		AssignedUserID: conv.AssignedUserID,
		Channel:        conv.Channel,
		SessionKey:     string(conv.SessionKey),
		FromAddr:       conv.FromAddr,
		ToAddr:         conv.ToAddr,
		Status:         string(conv.Status),
		Active:         conv.Status.IsActive(),
		StartedAt:      conv.StartedAt,
		UpdatedAt:      conv.UpdatedAt,
		EndedAt:        conv.EndedAt,
		ExpiresAt:      conv.ExpiresAt,
		Context:        conv.Context,
		Metadata:       conv.Metadata,
	}
}

// ToConversationResponses maps a slice, never returning nil.
func ToConversationResponses(convs []domain.Conversation) []ConversationResponse {
	items := make([]ConversationResponse, 0, len(convs))
	for _, c := range convs {
		items = append(items, ToConversationResponse(c))
	}
	return items
}

// ToMessageResponse maps a transcript entry.
func ToMessageResponse(msg domain.Message) MessageResponse {
	return MessageResponse{
		ID:                msg.ID,
		ConversationID:    msg.ConversationID,
		Direction:         string(msg.Direction),
		Role:              string(msg.Role),
		Body:              msg.Body,
		MediaRefs:         msg.MediaRefs,
		ProviderMessageID: msg.ProviderMessageID,
		Metadata:          msg.Metadata,
		CreatedAt:         msg.CreatedAt,
	}
}

// ToMessageResponses maps a transcript, never returning nil.
func ToMessageResponses(msgs []domain.Message) []MessageResponse {
	items := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		items = append(items, ToMessageResponse(m))
	}
	return items
}

// ToTransitionResponse maps a transition outcome.
func ToTransitionResponse(res domain.TransitionResult) TransitionResponse {
	out := TransitionResponse{
		Applied:  res.Applied,
		Override: res.Override,
		From:     string(res.From),
		To:       string(res.To),
		Reason:   res.Reason,
	}
	if res.Conversation != nil {
		conv := ToConversationResponse(*res.Conversation)
		out.Conversation = &conv
	}
	return out
}

// ToClosureIntentResponse maps a detector verdict.
func ToClosureIntentResponse(intent domain.ClosureIntent) ClosureIntentResponse {
	return ClosureIntentResponse{
		ShouldClose:     intent.ShouldClose,
		Confidence:      intent.Confidence,
		SuggestedStatus: string(intent.SuggestedStatus),
		Reasons:         intent.Reasons,
	}
}

// ToHistoryResponses maps the audit trail, never returning nil.
func ToHistoryResponses(rows []domain.StateHistory) []HistoryResponse {
	items := make([]HistoryResponse, 0, len(rows))
	for _, h := range rows {
		item := HistoryResponse{
			ID:          h.ID,
			ToStatus:    string(h.ToStatus),
			InitiatedBy: string(h.InitiatedBy),
			Reason:      h.Reason,
			Metadata:    h.Metadata,
			CreatedAt:   h.CreatedAt,
		}
		if h.FromStatus != nil {
			from := string(*h.FromStatus)
			item.FromStatus = &from
		}
		items = append(items, item)
	}
	return items
}
