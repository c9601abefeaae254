package scheduler

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
)

const TaskConversationExpiryDue = "conversations.expiry_due"

type ExpiryDuePayload struct {
	ConversationID string `json:"conversationId"`
	TenantID       string `json:"tenantId"`
	ExpiresAt      int64  `json:"expiresAt"`
}

// ExpiryTaskID identifies one deadline of one conversation. Extending the
// deadline yields a new ID, so the stale task still runs and finds nothing due.
func ExpiryTaskID(conversationID uuid.UUID, expiresAt time.Time) string {
	return fmt.Sprintf("%s:%d", conversationID, expiresAt.Unix())
}

func NewExpiryDueTask(payload ExpiryDuePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskConversationExpiryDue, data), nil
}

func ParseExpiryDuePayload(task *asynq.Task) (ExpiryDuePayload, error) {
	var payload ExpiryDuePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ExpiryDuePayload{}, err
	}
	return payload, nil
}
