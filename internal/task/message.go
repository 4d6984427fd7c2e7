package task

import (
	"encoding/json"
	"errors"
	"fmt"
)

type Action string

const ActionCreated Action = "created"

var ErrInvalidMessage = errors.New("invalid dispatch message")

// DispatchMessage is the queue payload announcing a task event. TaskID is a weak
// reference: the task may be gone by the time the message is consumed.
type DispatchMessage struct {
	TaskID int64  `json:"task_id"`
	Action Action `json:"action"`
}

func NewCreatedMessage(id int64) DispatchMessage {
	return DispatchMessage{TaskID: id, Action: ActionCreated}
}

func (m DispatchMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	return data, nil
}

func DecodeMessage(data []byte) (DispatchMessage, error) {
	var m DispatchMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return DispatchMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if m.TaskID <= 0 {
		return DispatchMessage{}, fmt.Errorf("%w: task_id must be positive", ErrInvalidMessage)
	}
	if m.Action == "" {
		return DispatchMessage{}, fmt.Errorf("%w: action is required", ErrInvalidMessage)
	}
	return m, nil
}
