package services

import (
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"imovelzap/internal/models"
	"imovelzap/pkg/phone"
)

const previewLimit = 80

// ConversationService owns the lookup-or-create logic for leads and
// conversations and the conversation summary updates performed on every
// message. Both the webhook processor and the dispatcher go through it so
// inbound and outbound traffic land in the same thread.
type ConversationService struct {
	db        *gorm.DB
	leadCache *gocache.Cache
}

// NewConversationService wires the service. The lead cache only shortcuts
// repeated phone lookups during webhook bursts; the store stays the ground
// truth.
func NewConversationService(db *gorm.DB) *ConversationService {
	return &ConversationService{
		db:        db,
		leadCache: gocache.New(5*time.Minute, 10*time.Minute),
	}
}

// ResolveLead finds the lead owning a phone, matching the normalized form
// first and falling back to a partial match on the raw column for records
// stored without a country prefix. Absent leads are created with
// origin=whatsapp and the initial pipeline status.
func (s *ConversationService) ResolveLead(rawPhone, name string) (*models.Lead, error) {
	normalized := phone.Normalize(rawPhone)
	if normalized == "" {
		return nil, fmt.Errorf("phone %q has no digits", rawPhone)
	}

	if cached, found := s.leadCache.Get(normalized); found {
		lead := cached.(models.Lead)
		return &lead, nil
	}

	var lead models.Lead
	err := s.db.
		Where("phone_normalized = ? OR phone LIKE ?", normalized, "%"+phone.Local(rawPhone)).
		First(&lead).Error
	if err == nil {
		s.leadCache.Set(normalized, lead, gocache.DefaultExpiration)
		return &lead, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("error querying lead by phone: %w", err)
	}

	lead = models.Lead{
		Name:            name,
		Phone:           phone.Digits(rawPhone),
		PhoneNormalized: normalized,
		Origin:          "whatsapp",
		Status:          "novo",
	}
	if err := s.db.Create(&lead).Error; err != nil {
		return nil, fmt.Errorf("failed to create lead for %s: %w", normalized, err)
	}

	log.Info().Uint("leadID", lead.ID).Str("phone", normalized).Msg("Created lead from first contact")
	s.leadCache.Set(normalized, lead, gocache.DefaultExpiration)
	return &lead, nil
}

// ResolveLeadConversation returns the lead's whatsapp conversation, creating
// it when absent. A conversation created for an inbound message starts with
// one unread, which already counts the message that triggered the creation.
// The second return reports whether the conversation was created.
func (s *ConversationService) ResolveLeadConversation(lead *models.Lead, externalThreadID string, seedUnread bool) (*models.Conversation, bool, error) {
	var conv models.Conversation
	err := s.db.
		Where("lead_id = ? AND channel = ?", lead.ID, models.ChannelWhatsApp).
		First(&conv).Error
	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("error querying conversation for lead %d: %w", lead.ID, err)
	}

	conv = models.Conversation{
		LeadID:           &lead.ID,
		Channel:          models.ChannelWhatsApp,
		ExternalThreadID: externalThreadID,
	}
	if seedUnread {
		conv.UnreadCount = 1
	}
	if err := s.db.Create(&conv).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create conversation for lead %d: %w", lead.ID, err)
	}

	log.Info().Uint("conversationID", conv.ID).Uint("leadID", lead.ID).Msg("Created whatsapp conversation")
	return &conv, true, nil
}

// ResolveGroupConversation returns the standalone conversation for a group
// thread, creating it when absent. The group name arrives later through the
// group metadata sync.
func (s *ConversationService) ResolveGroupConversation(externalThreadID string, seedUnread bool) (*models.Conversation, bool, error) {
	var conv models.Conversation
	err := s.db.
		Where("external_thread_id = ? AND channel = ? AND is_group = ?", externalThreadID, models.ChannelWhatsApp, true).
		First(&conv).Error
	if err == nil {
		return &conv, false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("error querying group conversation %s: %w", externalThreadID, err)
	}

	conv = models.Conversation{
		Channel:          models.ChannelWhatsApp,
		ExternalThreadID: externalThreadID,
		IsGroup:          true,
	}
	if seedUnread {
		conv.UnreadCount = 1
	}
	if err := s.db.Create(&conv).Error; err != nil {
		return nil, false, fmt.Errorf("failed to create group conversation %s: %w", externalThreadID, err)
	}
	return &conv, true, nil
}

// AppendMessage inserts a message and refreshes the conversation summary.
// bumpUnread increments the unread counter; callers pass false for outbound
// messages and for the inbound message that seeded a fresh conversation.
func (s *ConversationService) AppendMessage(conv *models.Conversation, msg *models.Message, bumpUnread bool) error {
	msg.ConversationID = conv.ID
	if err := s.db.Create(msg).Error; err != nil {
		return fmt.Errorf("failed to insert message in conversation %d: %w", conv.ID, err)
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"last_message_preview": Preview(msg.Content),
		"last_message_at":      now,
	}
	if bumpUnread {
		updates["unread_count"] = gorm.Expr("unread_count + 1")
	}
	if err := s.db.Model(&models.Conversation{}).Where("id = ?", conv.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("failed to update conversation %d summary: %w", conv.ID, err)
	}
	return nil
}

// MarkMessageStatus updates the delivery status of the message matching a
// provider message id. A zero row count means the receipt arrived for a
// message this store never saw, which is not an error.
func (s *ConversationService) MarkMessageStatus(providerMessageID, status string) error {
	res := s.db.Model(&models.Message{}).
		Where("provider_message_id = ?", providerMessageID).
		Update("sent_status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to update message status for %s: %w", providerMessageID, res.Error)
	}
	if res.RowsAffected == 0 {
		log.Debug().Str("providerMessageID", providerMessageID).Str("status", status).Msg("Status update for unknown message, ignoring")
	}
	return nil
}

// Preview truncates message content to the conversation summary length.
func Preview(content *string) string {
	if content == nil {
		return ""
	}
	r := []rune(*content)
	if len(r) <= previewLimit {
		return *content
	}
	return string(r[:previewLimit]) + "…"
}
