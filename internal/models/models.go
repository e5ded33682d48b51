package models

import "time"

// Conversation channels.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelInternal = "internal"
	ChannelEmail    = "email"
	ChannelOLXChat  = "olx_chat"
)

// Message directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Message delivery statuses.
const (
	MessageStatusReceived  = "received"
	MessageStatusSent      = "sent"
	MessageStatusDelivered = "delivered"
	MessageStatusRead      = "read"
	MessageStatusFailed    = "failed"
)

// ScheduledStatus is the lifecycle state of a ScheduledMessage.
type ScheduledStatus string

const (
	ScheduledStatusPending    ScheduledStatus = "pending"
	ScheduledStatusProcessing ScheduledStatus = "processing"
	ScheduledStatusSent       ScheduledStatus = "sent"
	ScheduledStatusFailed     ScheduledStatus = "failed"
	ScheduledStatusCancelled  ScheduledStatus = "cancelled"
)

// Lead is the CRM-side identity for a phone number. At most one lead exists
// per normalized phone, enforced by the unique index.
type Lead struct {
	ID              uint   `gorm:"primaryKey" json:"id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	PhoneNormalized string `gorm:"uniqueIndex" json:"phone_normalized"`
	Origin          string `json:"origin"`
	Status          string `gorm:"index;default:novo" json:"status"`
	Notes           string `gorm:"type:text" json:"notes"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Conversation is a channel-scoped thread. WhatsApp conversations are bound
// to exactly one lead; group and internal threads may be standalone.
type Conversation struct {
	ID                 uint       `gorm:"primaryKey" json:"id"`
	LeadID             *uint      `gorm:"uniqueIndex:idx_conversations_lead_channel" json:"lead_id"`
	Channel            string     `gorm:"uniqueIndex:idx_conversations_lead_channel" json:"channel"`
	ExternalThreadID   string     `gorm:"index" json:"external_thread_id"`
	IsGroup            bool       `json:"is_group"`
	GroupName          *string    `json:"group_name"`
	LastMessagePreview string     `json:"last_message_preview"`
	LastMessageAt      *time.Time `json:"last_message_at"`
	UnreadCount        uint       `json:"unread_count"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Message is an append-only record in a conversation. Status mutates in
// place until terminal; archived messages are removed from the hot store.
type Message struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	ConversationID    uint      `gorm:"index" json:"conversation_id"`
	Content           *string   `gorm:"type:text" json:"content"`
	Direction         string    `json:"direction"`
	MessageType       string    `json:"message_type"`
	MediaURL          *string   `json:"media_url"`
	SentStatus        string    `json:"sent_status"`
	Provider          string    `json:"provider"`
	ProviderMessageID string    `gorm:"index" json:"provider_message_id"`
	ProviderPayload   string    `gorm:"type:text" json:"provider_payload"`
	CreatedAt         time.Time `gorm:"index" json:"created_at"`
}

// ScheduledMessage records the intent to send a WhatsApp text at or after a
// given time. Rows are never mutated once terminal; a retry creates a fresh
// pending row so every attempt stays visible.
type ScheduledMessage struct {
	ID             uint            `gorm:"primaryKey" json:"id"`
	Phone          string          `json:"phone"`
	Body           string          `gorm:"type:text" json:"body"`
	ScheduledAt    time.Time       `gorm:"index" json:"scheduled_at"`
	Status         ScheduledStatus `gorm:"index;default:pending" json:"status"`
	LeadID         *uint           `json:"lead_id"`
	FichaID        *uint           `json:"ficha_id"`
	ConversationID *uint           `json:"conversation_id"`
	CreatedBy      string          `json:"created_by"`
	SentAt         *time.Time      `json:"sent_at"`
	ErrorMessage   *string         `gorm:"type:text" json:"error_message"`
	Metadata       string          `gorm:"type:text" json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ArchiveFile is the object-store document holding one conversation's
// retired messages for a contiguous creation-time window. Never mutated
// after write.
type ArchiveFile struct {
	ConversationID uint              `json:"conversation_id"`
	ArchivedAt     time.Time         `json:"archived_at"`
	MessageCount   int               `json:"message_count"`
	DateRange      ArchiveDateRange  `json:"date_range"`
	Messages       []ArchivedMessage `json:"messages"`
}

// ArchiveDateRange bounds the creation dates inside an archive file,
// formatted YYYY-MM-DD.
type ArchiveDateRange struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// ArchivedMessage is the snapshot of a Message inside an archive file.
type ArchivedMessage struct {
	ID          uint      `json:"id"`
	Content     *string   `json:"content"`
	Direction   string    `json:"direction"`
	MessageType string    `json:"message_type"`
	MediaURL    *string   `json:"media_url"`
	SentStatus  string    `json:"sent_status"`
	CreatedAt   time.Time `json:"created_at"`
	Provider    string    `json:"provider"`
}

// Snapshot converts a hot-store message into its archive representation.
func Snapshot(m Message) ArchivedMessage {
	return ArchivedMessage{
		ID:          m.ID,
		Content:     m.Content,
		Direction:   m.Direction,
		MessageType: m.MessageType,
		MediaURL:    m.MediaURL,
		SentStatus:  m.SentStatus,
		CreatedAt:   m.CreatedAt,
		Provider:    m.Provider,
	}
}
