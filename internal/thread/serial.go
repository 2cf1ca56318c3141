package thread

import "time"

// Serializable is the self-describing record a Thread round-trips through
// for persistence. External storage layout is the host's problem; the
// core only defines the record.
type Serializable struct {
	ID               string                 `json:"id"`
	SelectedText     string                 `json:"selected_text"`
	InitialRequest   string                 `json:"initial_request"`
	LineStart        int                    `json:"line_start"`
	LineEnd          int                    `json:"line_end"`
	Status           Status                 `json:"status"`
	Messages         []Message              `json:"messages"`
	Error            string                 `json:"error,omitempty"`
	AwaitingResponse bool                   `json:"awaiting_response"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt        time.Time              `json:"created_at"`
	UpdatedAt        time.Time              `json:"updated_at"`
	LastViewedAt     *time.Time             `json:"last_viewed_at,omitempty"`
}

// ToSerializable snapshots the thread into a persistence record.
func (t *Thread) ToSerializable() Serializable {
	t.mu.Lock()
	defer t.mu.Unlock()

	messages := make([]Message, len(t.Messages))
	copy(messages, t.Messages)

	metadata := make(map[string]interface{}, len(t.Metadata))
	for k, v := range t.Metadata {
		metadata[k] = v
	}

	var viewed *time.Time
	if t.LastViewedAt != nil {
		v := *t.LastViewedAt
		viewed = &v
	}

	return Serializable{
		ID:               t.ID,
		SelectedText:     t.SelectedText,
		InitialRequest:   t.InitialRequest,
		LineStart:        t.LineStart,
		LineEnd:          t.LineEnd,
		Status:           t.Status,
		Messages:         messages,
		Error:            t.Error,
		AwaitingResponse: t.AwaitingResponse,
		Metadata:         metadata,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		LastViewedAt:     viewed,
	}
}

// FromSerializable reconstructs a Thread from a persistence record.
func FromSerializable(s Serializable) *Thread {
	metadata := s.Metadata
	if metadata == nil {
		metadata = make(map[string]interface{})
	}

	return &Thread{
		ID:               s.ID,
		SelectedText:     s.SelectedText,
		InitialRequest:   s.InitialRequest,
		LineStart:        s.LineStart,
		LineEnd:          s.LineEnd,
		Status:           s.Status,
		Messages:         s.Messages,
		Error:            s.Error,
		AwaitingResponse: s.AwaitingResponse,
		Metadata:         metadata,
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
		LastViewedAt:     s.LastViewedAt,
	}
}
