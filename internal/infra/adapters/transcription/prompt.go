package transcription

import (
	"fmt"

	"whatsapp-voice-subscription/internal/domain/model"
)

const systemPrompt = "You are an assistant that summarizes voice messages. Stay concise and to the point. " +
	"Always answer in the language of the transcript."

func summaryInstruction(detail model.DetailLevel) string {
	switch detail {
	case model.DetailBrief:
		return "Summarize this voice message in one or two sentences."
	case model.DetailDetailed:
		return "Summarize this voice message in detail. List every key point, decision and request as bullet points."
	default:
		return "Summarize this voice message in a short paragraph."
	}
}

func userPrompt(transcript string, detail model.DetailLevel) string {
	return fmt.Sprintf("%s\n\n%s", summaryInstruction(detail), transcript)
}

// outputBudget scales the configured output token cap by detail level.
func outputBudget(max int, detail model.DetailLevel) int {
	switch detail {
	case model.DetailBrief:
		return max / 4
	case model.DetailDetailed:
		return max * 2
	}
	return max
}
