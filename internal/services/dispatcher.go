package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"imovelzap/internal/adapters/evolution"
	"imovelzap/internal/events"
	"imovelzap/internal/models"
	"imovelzap/pkg/phone"
)

// Gateway is the send surface the dispatcher needs from the bridge client.
type Gateway interface {
	SendText(ctx context.Context, destination, body string) (*evolution.SendResult, error)
}

// ErrNotPending is returned by Cancel for rows that already left pending.
var ErrNotPending = errors.New("scheduled message is not pending")

// ErrNotTerminal is returned by Retry for rows still in flight.
var ErrNotTerminal = errors.New("scheduled message has not reached a terminal status")

// BatchResult aggregates one dispatch run.
type BatchResult struct {
	Sent   int `json:"sent"`
	Failed int `json:"failed"`
	Total  int `json:"total"`
}

// Dispatcher turns due ScheduledMessage rows into gateway sends. It is
// stateless between runs: all lifecycle state lives on the rows, so a crash
// mid-batch is recovered by simply running the next batch. Rows are claimed
// with a conditional status flip before sending, which keeps overlapping
// runs from double-sending; a claim abandoned by a crash is reclaimed after
// the lease timeout.
type Dispatcher struct {
	db            *gorm.DB
	gateway       Gateway
	conversations *ConversationService
	publisher     *events.Publisher
	delay         time.Duration
	leaseTimeout  time.Duration
}

// NewDispatcher wires the dispatcher. delay is the pause between sends in
// one batch, which keeps the gateway's rate limiter quiet.
func NewDispatcher(db *gorm.DB, gateway Gateway, conversations *ConversationService, publisher *events.Publisher, delay time.Duration) *Dispatcher {
	return &Dispatcher{
		db:            db,
		gateway:       gateway,
		conversations: conversations,
		publisher:     publisher,
		delay:         delay,
		leaseTimeout:  5 * time.Minute,
	}
}

// ScheduleInput is the payload for creating a scheduled message.
type ScheduleInput struct {
	Phone          string     `json:"phone"`
	Body           string     `json:"body"`
	ScheduledAt    time.Time  `json:"scheduled_at"`
	CreatedBy      string     `json:"created_by"`
	LeadID         *uint      `json:"lead_id"`
	FichaID        *uint      `json:"ficha_id"`
	ConversationID *uint      `json:"conversation_id"`
}

// Schedule creates a pending row. A zero ScheduledAt means "as soon as
// possible".
func (d *Dispatcher) Schedule(ctx context.Context, in ScheduleInput) (*models.ScheduledMessage, error) {
	if phone.Digits(in.Phone) == "" {
		return nil, fmt.Errorf("destination phone %q has no digits", in.Phone)
	}
	if in.Body == "" {
		return nil, fmt.Errorf("message body cannot be empty")
	}
	if in.ScheduledAt.IsZero() {
		in.ScheduledAt = time.Now().UTC()
	}

	row := models.ScheduledMessage{
		Phone:          in.Phone,
		Body:           in.Body,
		ScheduledAt:    in.ScheduledAt,
		Status:         models.ScheduledStatusPending,
		LeadID:         in.LeadID,
		FichaID:        in.FichaID,
		ConversationID: in.ConversationID,
		CreatedBy:      in.CreatedBy,
	}
	if err := d.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("failed to create scheduled message: %w", err)
	}
	return &row, nil
}

// RunDueBatch claims and dispatches up to limit due rows, oldest due time
// first. Sends are sequential with a fixed inter-send delay. One row's
// failure never aborts the batch.
func (d *Dispatcher) RunDueBatch(ctx context.Context, limit int) (BatchResult, error) {
	now := time.Now().UTC()
	leaseCutoff := now.Add(-d.leaseTimeout)

	var candidates []models.ScheduledMessage
	err := d.db.WithContext(ctx).
		Where("(status = ? AND scheduled_at <= ?) OR (status = ? AND updated_at < ?)",
			models.ScheduledStatusPending, now, models.ScheduledStatusProcessing, leaseCutoff).
		Order("scheduled_at asc").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return BatchResult{}, fmt.Errorf("failed to select due scheduled messages: %w", err)
	}

	result := BatchResult{}
	for i := range candidates {
		row := &candidates[i]

		if !d.claim(ctx, row, leaseCutoff) {
			// Cancelled or picked up by a concurrent run after selection.
			continue
		}
		result.Total++

		if d.dispatchOne(ctx, row) {
			result.Sent++
		} else {
			result.Failed++
		}

		if i < len(candidates)-1 && d.delay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(d.delay):
			}
		}
	}

	log.Info().Int("sent", result.Sent).Int("failed", result.Failed).Int("total", result.Total).Msg("Dispatch batch completed")
	return result, nil
}

// claim atomically flips the row to processing. The conditional update is
// the re-check against cancellation: a cancel that landed after selection
// makes the claim miss.
func (d *Dispatcher) claim(ctx context.Context, row *models.ScheduledMessage, leaseCutoff time.Time) bool {
	res := d.db.WithContext(ctx).
		Model(&models.ScheduledMessage{}).
		Where("id = ? AND (status = ? OR (status = ? AND updated_at < ?))",
			row.ID, models.ScheduledStatusPending, models.ScheduledStatusProcessing, leaseCutoff).
		Update("status", models.ScheduledStatusProcessing)
	if res.Error != nil {
		log.Error().Err(res.Error).Uint("id", row.ID).Msg("Failed to claim scheduled message")
		return false
	}
	return res.RowsAffected == 1
}

// dispatchOne sends a single claimed row and terminalizes it. Returns true
// when the gateway accepted the message.
func (d *Dispatcher) dispatchOne(ctx context.Context, row *models.ScheduledMessage) bool {
	res, err := d.gateway.SendText(ctx, row.Phone, row.Body)
	if err != nil {
		d.markFailed(ctx, row, err.Error(), "")
		return false
	}
	if !res.OK {
		d.markFailed(ctx, row, res.ErrorMessage, res.RawResponse)
		return false
	}

	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":   models.ScheduledStatusSent,
		"sent_at":  now,
		"metadata": res.RawResponse,
	}
	if err := d.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		// The gateway accepted the message but the outcome did not commit;
		// the lease timeout will resurface the row and the send repeats.
		// At-least-once is the contract here.
		log.Error().Err(err).Uint("id", row.ID).Msg("Failed to mark scheduled message sent")
		return false
	}

	d.recordOutbound(ctx, row, res)

	d.publisher.Publish(events.TypeMessageDispatched, map[string]interface{}{
		"scheduled_message_id": row.ID,
		"phone":                phone.Normalize(row.Phone),
		"provider_message_id":  res.ProviderMessageID,
		"sent_at":              now,
	})

	log.Info().Uint("id", row.ID).Str("providerMessageID", res.ProviderMessageID).Msg("Scheduled message sent")
	return true
}

func (d *Dispatcher) markFailed(ctx context.Context, row *models.ScheduledMessage, errMsg, raw string) {
	updates := map[string]interface{}{
		"status":        models.ScheduledStatusFailed,
		"error_message": errMsg,
		"metadata":      raw,
	}
	if err := d.db.WithContext(ctx).Model(row).Updates(updates).Error; err != nil {
		log.Error().Err(err).Uint("id", row.ID).Msg("Failed to mark scheduled message failed")
		return
	}
	log.Warn().Uint("id", row.ID).Str("error", errMsg).Msg("Scheduled message failed")
}

// recordOutbound appends the sent message to the target conversation. The
// row's correlation ids win; otherwise the conversation is resolved through
// the destination phone, creating the lead if this is the first contact.
// A failure here is logged but does not undo the send outcome.
func (d *Dispatcher) recordOutbound(ctx context.Context, row *models.ScheduledMessage, res *evolution.SendResult) {
	conv, err := d.resolveTarget(ctx, row)
	if err != nil {
		log.Error().Err(err).Uint("id", row.ID).Msg("Could not resolve conversation for dispatched message")
		return
	}

	body := row.Body
	msg := models.Message{
		Content:           &body,
		Direction:         models.DirectionOutbound,
		MessageType:       "text",
		SentStatus:        models.MessageStatusSent,
		Provider:          "evolution",
		ProviderMessageID: res.ProviderMessageID,
		ProviderPayload:   res.RawResponse,
	}
	if err := d.conversations.AppendMessage(conv, &msg, false); err != nil {
		log.Error().Err(err).Uint("id", row.ID).Uint("conversationID", conv.ID).Msg("Could not append outbound message")
	}
}

func (d *Dispatcher) resolveTarget(ctx context.Context, row *models.ScheduledMessage) (*models.Conversation, error) {
	if row.ConversationID != nil {
		var conv models.Conversation
		if err := d.db.WithContext(ctx).First(&conv, *row.ConversationID).Error; err == nil {
			return &conv, nil
		}
		// Fall through to the lead path when the reference went stale.
	}

	var lead *models.Lead
	if row.LeadID != nil {
		var l models.Lead
		if err := d.db.WithContext(ctx).First(&l, *row.LeadID).Error; err == nil {
			lead = &l
		}
	}
	if lead == nil {
		var err error
		lead, err = d.conversations.ResolveLead(row.Phone, "")
		if err != nil {
			return nil, err
		}
	}
	conv, _, err := d.conversations.ResolveLeadConversation(lead, "", false)
	return conv, err
}

// Cancel moves a pending row to cancelled. Rows that already left pending
// are left untouched and ErrNotPending is returned, so an already-sent
// message can never be "cancelled".
func (d *Dispatcher) Cancel(ctx context.Context, id uint) error {
	res := d.db.WithContext(ctx).
		Model(&models.ScheduledMessage{}).
		Where("id = ? AND status = ?", id, models.ScheduledStatusPending).
		Update("status", models.ScheduledStatusCancelled)
	if res.Error != nil {
		return fmt.Errorf("failed to cancel scheduled message %d: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		log.Info().Uint("id", id).Msg("Scheduled message cancelled")
		return nil
	}

	var row models.ScheduledMessage
	if err := d.db.WithContext(ctx).First(&row, id).Error; err != nil {
		return err
	}
	return ErrNotPending
}

// Retry clones a terminal row into a fresh pending one due immediately.
// The original is never mutated, keeping the full audit trail of attempts.
func (d *Dispatcher) Retry(ctx context.Context, id uint) (*models.ScheduledMessage, error) {
	var original models.ScheduledMessage
	if err := d.db.WithContext(ctx).First(&original, id).Error; err != nil {
		return nil, err
	}
	if original.Status == models.ScheduledStatusPending || original.Status == models.ScheduledStatusProcessing {
		return nil, ErrNotTerminal
	}

	clone := models.ScheduledMessage{
		Phone:          original.Phone,
		Body:           original.Body,
		ScheduledAt:    time.Now().UTC(),
		Status:         models.ScheduledStatusPending,
		LeadID:         original.LeadID,
		FichaID:        original.FichaID,
		ConversationID: original.ConversationID,
		CreatedBy:      original.CreatedBy,
	}
	if err := d.db.WithContext(ctx).Create(&clone).Error; err != nil {
		return nil, fmt.Errorf("failed to create retry for scheduled message %d: %w", id, err)
	}

	log.Info().Uint("originalID", id).Uint("retryID", clone.ID).Msg("Scheduled message retried")
	return &clone, nil
}
