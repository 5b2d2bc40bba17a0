package chat

import "time"

// MessageType tags what a message body carries.
type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeFile     MessageType = "file"
	TypeLocation MessageType = "location"
	TypePoll     MessageType = "poll"
	TypeEvent    MessageType = "event"
	TypeSystem   MessageType = "system"
)

// RoomType tags the kind of room.
type RoomType string

const (
	RoomGroup        RoomType = "group"
	RoomDirect       RoomType = "direct"
	RoomAnnouncement RoomType = "announcement"
	RoomEmergency    RoomType = "emergency"
)

// deletedPlaceholder replaces the body of tombstoned messages.
const deletedPlaceholder = "This message was deleted"

// Attachment is a file attached to a message.
type Attachment struct {
	URL      string `json:"url"`
	MimeType string `json:"mime_type"`
	Name     string `json:"name,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Reaction is one user's emoji reaction to a message. A user may not react
// twice with the same emoji on the same message.
type Reaction struct {
	MessageID int64  `json:"message_id"`
	UserID    int64  `json:"user_id"`
	Emoji     string `json:"emoji"`
}

// Message is a single chat message. Locally originated messages carry a
// wall-clock temporary ID and Pending=true until the server confirms them.
type Message struct {
	ID          int64        `json:"id"`
	RoomID      int64        `json:"room_id"`
	UserID      int64        `json:"user_id"`
	UserName    string       `json:"user_name"`
	Body        string       `json:"body"`
	Type        MessageType  `json:"type"`
	ReplyToID   *int64       `json:"reply_to_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
	Edited      bool         `json:"edited"`
	EditedAt    *time.Time   `json:"edited_at,omitempty"`
	Deleted     bool         `json:"deleted"`
	DeletedAt   *time.Time   `json:"deleted_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
	Reactions   []Reaction   `json:"reactions,omitempty"`
	// ClientRef is the client-generated correlation id threaded through the
	// send request and the transport echo for exact reconciliation.
	ClientRef string `json:"client_ref,omitempty"`

	// Client-side state, never sent to the server.
	Pending bool `json:"-"`
	Failed  bool `json:"-"`
}

// sameContent reports whether m looks like the optimistic original of other:
// same author, body, type and reply target. Used only as a fallback when the
// transport echo carries no client ref.
func (m Message) sameContent(other Message) bool {
	if m.UserID != other.UserID || m.Body != other.Body || m.Type != other.Type {
		return false
	}
	if (m.ReplyToID == nil) != (other.ReplyToID == nil) {
		return false
	}
	return m.ReplyToID == nil || *m.ReplyToID == *other.ReplyToID
}

// Member is a room member.
type Member struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
	Role   string `json:"role,omitempty"`
}

// Room is a chat room as seen by the requesting user.
type Room struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Type        RoomType `json:"type"`
	Members     []Member `json:"members,omitempty"`
	LastMessage *Message `json:"last_message,omitempty"`
	UnreadCount int      `json:"unread_count"`
	IsAdmin     bool     `json:"is_admin"`
	IsMuted     bool     `json:"is_muted"`
}

// TypingUser is one entry in the typing liveness set.
type TypingUser struct {
	UserID    int64
	UserName  string
	LastTyped time.Time
}

// TypingSignal is the user.typing event payload, both directions.
type TypingSignal struct {
	RoomID   int64  `json:"room_id"`
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
	IsTyping bool   `json:"is_typing"`
}

// messageDeleted is the message.deleted event payload.
type messageDeleted struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	DeletedAt time.Time `json:"deleted_at"`
}
