package domain

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	// MinClosureConfidence is the floor at which an intent counts as closing.
	MinClosureConfidence = 0.5
	// DefaultAutoCloseThreshold is the confidence at which the engine closes
	// without waiting for a human.
	DefaultAutoCloseThreshold = 0.8

	exactMatchConfidence    = 0.9
	partialMatchConfidence  = 0.6
	extraKeywordBonus       = 0.1
	shortMessageBonus       = 0.1
	wrapUpQuestionBonus     = 0.15
	questionMarkPenalty     = 0.2
	shortMessageMaxWords    = 6
	explicitCloseConfidence = 1.0
)

// DefaultClosureKeywords covers common farewells in English, Portuguese and
// Spanish.
var DefaultClosureKeywords = []string{
	"bye", "goodbye", "good bye", "see you", "thanks", "thank you", "thx",
	"that's all", "that is all", "nothing else", "no thanks", "all good",
	"obrigado", "obrigada", "valeu", "tchau", "até logo", "só isso", "era isso",
	"gracias", "adiós", "adios", "hasta luego", "eso es todo", "nada más",
}

// wrapUpPhrases mark a staff message that invites the user to finish.
var wrapUpPhrases = []string{
	"anything else", "can i help", "help you with anything", "something else",
	"algo mais", "mais alguma coisa", "posso ajudar",
	"algo más", "puedo ayudar", "otra cosa",
}

var sessionEndEvents = map[string]struct{}{
	"session_ended":      {},
	"conversation_ended": {},
}

// ClosureIntent is the scored likelihood that a message ends a conversation.
type ClosureIntent struct {
	ShouldClose     bool
	Confidence      float64
	SuggestedStatus ConversationStatus
	Reasons         []string
}

// ClosureDetector scores user messages for closing intent.
type ClosureDetector struct {
	keywords []string
}

// NewClosureDetector builds a detector. An empty list selects
// DefaultClosureKeywords.
func NewClosureDetector(keywords []string) *ClosureDetector {
	if len(keywords) == 0 {
		keywords = DefaultClosureKeywords
	}
	normalized := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		n := normalizeText(kw)
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}
	return &ClosureDetector{keywords: normalized}
}

// Keywords returns the normalized keyword list.
func (d *ClosureDetector) Keywords() []string {
	return append([]string(nil), d.keywords...)
}

// Detect scores msg. history is the transcript in chronological order and
// may include msg itself.
func (d *ClosureDetector) Detect(msg Message, history []Message) ClosureIntent {
	intent := ClosureIntent{SuggestedStatus: StatusUserClosed}
	if msg.Role != RoleUser {
		return intent
	}

	if reason, ok := explicitClose(msg.Metadata); ok {
		intent.Confidence = explicitCloseConfidence
		intent.Reasons = []string{reason}
		intent.ShouldClose = true
		return intent
	}

	body := normalizeText(msg.Body)
	if body == "" {
		return intent
	}

	var matched []string
	exact := false
	for _, kw := range d.keywords {
		if body == kw {
			exact = true
			matched = append(matched, kw)
			continue
		}
		if strings.Contains(body, kw) {
			matched = append(matched, kw)
		}
	}
	if len(matched) == 0 {
		return intent
	}

	confidence := partialMatchConfidence
	if exact {
		confidence = exactMatchConfidence
		intent.Reasons = append(intent.Reasons, "keyword_exact:"+body)
	} else {
		intent.Reasons = append(intent.Reasons, "keyword_match:"+matched[0])
	}
	if extra := len(matched) - 1; extra > 0 {
		confidence += float64(extra) * extraKeywordBonus
		intent.Reasons = append(intent.Reasons, fmt.Sprintf("additional_keywords:%d", extra))
	}
	if len(strings.Fields(body)) <= shortMessageMaxWords {
		confidence += shortMessageBonus
		intent.Reasons = append(intent.Reasons, "short_message")
	}
	if lastStaffAskedWrapUp(msg, history) {
		confidence += wrapUpQuestionBonus
		intent.Reasons = append(intent.Reasons, "answered_wrap_up_question")
	}
	if strings.Contains(msg.Body, "?") {
		confidence -= questionMarkPenalty
		intent.Reasons = append(intent.Reasons, "contains_question")
	}

	intent.Confidence = clamp01(confidence)
	intent.ShouldClose = intent.Confidence >= MinClosureConfidence
	return intent
}

func explicitClose(metadata map[string]any) (string, bool) {
	if metadata == nil {
		return "", false
	}
	if truthy(metadata["close_conversation"]) {
		return "explicit_close_flag", true
	}
	if truthy(metadata["session_ended"]) {
		return "session_ended_event", true
	}
	if event, ok := metadata["event"].(string); ok {
		if _, match := sessionEndEvents[strings.ToLower(strings.TrimSpace(event))]; match {
			return "session_ended_event", true
		}
	}
	return "", false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return strings.EqualFold(strings.TrimSpace(val), "true")
	default:
		return false
	}
}

func lastStaffAskedWrapUp(msg Message, history []Message) bool {
	for i := len(history) - 1; i >= 0; i-- {
		prev := history[i]
		if prev.ID == msg.ID {
			continue
		}
		if prev.Role != RoleAgent && prev.Role != RoleSupport {
			continue
		}
		text := normalizeText(prev.Body)
		for _, phrase := range wrapUpPhrases {
			if strings.Contains(text, phrase) {
				return true
			}
		}
		return false
	}
	return false
}

// normalizeText lower-cases s, folds typographic apostrophes and replaces
// punctuation with spaces so "Bye!!" and "bye" compare equal.
func normalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		switch {
		case r == '’' || r == '‘' || r == '\'':
			b.WriteRune('\'')
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
