package extractor

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are the intake interviewer of a medical triage team. You talk with a
patient to learn about their symptoms before anyone analyses them.

Track exactly these six facts:
- fever: whether the patient has a fever and how high
- cough: whether the patient coughs and what kind
- fatigue: whether the patient feels tired or weak
- pain: whether anything hurts and what
- duration: how long the symptoms have lasted
- location: where on the body the symptoms are felt

Rules:
- Only record what the patient actually said. Never guess.
- Ask about one or two missing facts at a time, in plain and friendly words.
- Do not diagnose and do not recommend treatment.`

const extractionInstruction = `Summarize every symptom the patient has reported so far in this conversation.

Respond with a single JSON object with exactly these keys:
{"fever": string|null, "cough": string|null, "fatigue": string|null, "pain": string|null, "duration": string|null, "location": string|null}

Use null for anything the patient has not told you yet. A clear "no" is an answer: record it as "no".
Return ONLY the JSON object, no markdown fences or other text.`

const clarificationInstruction = `The symptom summary is not complete yet. Still unknown: %s.

Write your next message to the patient: one short, friendly question that helps fill in the unknown facts.
Return only the message text.`

func clarificationRequest(missing []string) string {
	return fmt.Sprintf(clarificationInstruction, strings.Join(missing, ", "))
}

// fallbackQuestion is used when the model returns an empty clarification.
func fallbackQuestion(missing []string) string {
	return fmt.Sprintf("Could you tell me a bit more about your %s?", joinNatural(missing))
}

func joinNatural(items []string) string {
	switch len(items) {
	case 0:
		return "symptoms"
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
