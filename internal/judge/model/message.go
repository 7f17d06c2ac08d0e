package model

import "encoding/json"

// JudgeMessage is the queue payload for one submission.
// Everything else is loaded from the database when the worker picks it up,
// so a replayed message stays consistent with the stored submission.
type JudgeMessage struct {
	SubmissionID string `json:"submission_id"`
	EnqueuedAt   int64  `json:"enqueued_at"`
}

// Encode serializes the message for publishing.
func (m JudgeMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeJudgeMessage parses a queue payload.
func DecodeJudgeMessage(body []byte) (JudgeMessage, error) {
	var m JudgeMessage
	if err := json.Unmarshal(body, &m); err != nil {
		return JudgeMessage{}, err
	}
	return m, nil
}
