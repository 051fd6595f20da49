package chat

import "time"

// Sender classifies who produced a turn. It is mandatory at write time;
// there is no positional inference for untagged rows.
type Sender string

const (
	SenderUser  Sender = "user"
	SenderBot   Sender = "bot"
	SenderAdmin Sender = "admin"
)

// Valid reports whether s is one of the known classifications.
func (s Sender) Valid() bool {
	switch s {
	case SenderUser, SenderBot, SenderAdmin:
		return true
	}
	return false
}

// Turn is one exchange: the inbound message (text and/or attachment)
// together with the responder's output. Turns are append-only; edits and
// deletes only set the soft markers.
type Turn struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"userId"`
	Sender         Sender      `json:"sender"`
	Message        string      `json:"message"`
	Response       string      `json:"response,omitempty"`
	Attachment     *Attachment `json:"fileData,omitempty"`
	Read           bool        `json:"read"`
	Edited         bool        `json:"edited,omitempty"`
	EditedAt       *time.Time  `json:"editedAt,omitempty"`
	Deleted        bool        `json:"deleted,omitempty"`
	DeletedAt      *time.Time  `json:"deletedAt,omitempty"`
	CreatedAt      time.Time   `json:"timestamp"`
}

// Attachment carries an uploaded file inline on its turn, base64-encoded.
type Attachment struct {
	Name        string `json:"name"`
	ContentType string `json:"type"`
	Size        int64  `json:"size"`
	Data        string `json:"data"`
}
