package ai

import "folioassist/internal/models"

// BuildHistory derives the outbound history from a transcript whose last
// message is the user turn being sent. Local messages and that last turn are
// excluded. maxMessages > 0 keeps only the newest messages, and a leading
// assistant turn left over from trimming is dropped.
//
// The model rejects histories that open with an assistant turn, so an empty
// slice is returned in that case.
func BuildHistory(transcript []models.Message, maxMessages int) []models.Message {
	filtered := make([]models.Message, 0, len(transcript))
	for _, msg := range transcript {
		if msg.Local {
			continue
		}
		filtered = append(filtered, msg)
	}
	if len(filtered) == 0 {
		return []models.Message{}
	}
	filtered = filtered[:len(filtered)-1]

	if maxMessages > 0 && len(filtered) > maxMessages {
		filtered = filtered[len(filtered)-maxMessages:]
		if len(filtered) > 0 && filtered[0].Role == models.RoleAssistant {
			filtered = filtered[1:]
		}
	}

	if len(filtered) == 0 || filtered[0].Role == models.RoleAssistant {
		return []models.Message{}
	}
	return filtered
}
