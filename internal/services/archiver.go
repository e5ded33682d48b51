package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"imovelzap/internal/events"
	"imovelzap/internal/models"
	"imovelzap/internal/storage"
)

// deleteChunkSize bounds each hot-store delete, keeping single statements
// under the store's operation-size ceiling.
const deleteChunkSize = 100

// ArchiveResult aggregates one archive run. Per-group failures are
// accumulated; they never abort the batch.
type ArchiveResult struct {
	Archived               int      `json:"archived"`
	Deleted                int      `json:"deleted"`
	ConversationsProcessed int      `json:"conversations_processed"`
	Errors                 []string `json:"errors,omitempty"`
}

// Archiver moves messages older than the retention window out of the hot
// store into write-once archive files, one per conversation per run.
type Archiver struct {
	db        *gorm.DB
	store     storage.ObjectStore
	retention time.Duration
	publisher *events.Publisher
}

// NewArchiver wires the archiver with a retention window in days.
func NewArchiver(db *gorm.DB, store storage.ObjectStore, retentionDays int, publisher *events.Publisher) *Archiver {
	return &Archiver{
		db:        db,
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		publisher: publisher,
	}
}

// ArchiveBatch archives up to limit old messages. Each conversation's
// messages become one archive file; a write failure for one conversation
// is recorded and the run continues with the others. Hot rows are deleted
// only after their file is durably written, so a crash in between leaves
// data duplicated, never lost, and the next run retries the delete.
func (a *Archiver) ArchiveBatch(ctx context.Context, limit int) (ArchiveResult, error) {
	cutoff := time.Now().UTC().Add(-a.retention)

	var old []models.Message
	err := a.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Order("created_at asc").
		Limit(limit).
		Find(&old).Error
	if err != nil {
		return ArchiveResult{}, fmt.Errorf("failed to select messages for archiving: %w", err)
	}

	// Group by conversation, keeping the selection's chronological order.
	groups := make(map[uint][]models.Message)
	var order []uint
	for _, m := range old {
		if _, seen := groups[m.ConversationID]; !seen {
			order = append(order, m.ConversationID)
		}
		groups[m.ConversationID] = append(groups[m.ConversationID], m)
	}

	result := ArchiveResult{}
	for _, convID := range order {
		msgs := groups[convID]

		key, err := a.writeArchiveFile(ctx, convID, msgs)
		if err != nil {
			log.Error().Err(err).Uint("conversationID", convID).Int("messages", len(msgs)).Msg("Skipping conversation, archive write failed")
			result.Errors = append(result.Errors, fmt.Sprintf("conversation %d: %v", convID, err))
			continue
		}

		deleted, err := a.deleteArchived(ctx, msgs)
		result.Deleted += deleted
		if err != nil {
			// The file is written; rows left behind are retried next run.
			log.Error().Err(err).Uint("conversationID", convID).Str("key", key).Msg("Delete after archive failed, rows remain duplicated until next run")
			result.Errors = append(result.Errors, fmt.Sprintf("conversation %d delete: %v", convID, err))
		}

		result.Archived += len(msgs)
		result.ConversationsProcessed++
		log.Info().Uint("conversationID", convID).Str("key", key).Int("messages", len(msgs)).Msg("Conversation batch archived")
	}

	if result.ConversationsProcessed > 0 {
		a.publisher.Publish(events.TypeArchiveCompleted, result)
	}
	return result, nil
}

// writeArchiveFile serializes one conversation group and uploads it under a
// key whose lexical order matches the creation-time window it covers.
func (a *Archiver) writeArchiveFile(ctx context.Context, convID uint, msgs []models.Message) (string, error) {
	snapshots := make([]models.ArchivedMessage, len(msgs))
	for i, m := range msgs {
		snapshots[i] = models.Snapshot(m)
	}

	oldest := msgs[0].CreatedAt
	newest := msgs[len(msgs)-1].CreatedAt

	doc := models.ArchiveFile{
		ConversationID: convID,
		ArchivedAt:     time.Now().UTC(),
		MessageCount:   len(msgs),
		DateRange: models.ArchiveDateRange{
			From: oldest.Format("2006-01-02"),
			To:   newest.Format("2006-01-02"),
		},
		Messages: snapshots,
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("failed to marshal archive file: %w", err)
	}

	key := fmt.Sprintf("%d/%s_to_%s_%s.json",
		convID,
		doc.DateRange.From,
		doc.DateRange.To,
		uuid.NewString()[:8],
	)

	if err := a.store.Put(ctx, key, data); err != nil {
		return "", err
	}
	return key, nil
}

// deleteArchived removes archived rows from the hot store in fixed-size
// chunks. Deletion is keyed by id, hence idempotent.
func (a *Archiver) deleteArchived(ctx context.Context, msgs []models.Message) (int, error) {
	ids := make([]uint, len(msgs))
	for i, m := range msgs {
		ids[i] = m.ID
	}

	deleted := 0
	for start := 0; start < len(ids); start += deleteChunkSize {
		end := start + deleteChunkSize
		if end > len(ids) {
			end = len(ids)
		}
		res := a.db.WithContext(ctx).Delete(&models.Message{}, ids[start:end])
		if res.Error != nil {
			return deleted, fmt.Errorf("failed to delete archived rows: %w", res.Error)
		}
		deleted += int(res.RowsAffected)
	}
	return deleted, nil
}

// History reconstructs a conversation's full timeline: every archive file
// for the conversation, read in filename order, plus the hot rows, with the
// union re-sorted by creation time. Batch windows can land out of order
// across retried runs, so the final sort is what guarantees chronology.
// A malformed archive file is skipped with a warning.
func (a *Archiver) History(ctx context.Context, convID uint) ([]models.ArchivedMessage, error) {
	keys, err := a.store.List(ctx, fmt.Sprintf("%d/", convID))
	if err != nil {
		return nil, fmt.Errorf("failed to list archive files for conversation %d: %w", convID, err)
	}

	var all []models.ArchivedMessage
	for _, key := range keys {
		data, err := a.store.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping unreadable archive file")
			continue
		}
		var doc models.ArchiveFile
		if err := json.Unmarshal(data, &doc); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Skipping malformed archive file")
			continue
		}
		all = append(all, doc.Messages...)
	}

	var hot []models.Message
	err = a.db.WithContext(ctx).
		Where("conversation_id = ?", convID).
		Order("created_at asc").
		Find(&hot).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load hot messages for conversation %d: %w", convID, err)
	}
	for _, m := range hot {
		all = append(all, models.Snapshot(m))
	}

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].CreatedAt.Before(all[j].CreatedAt)
	})
	return all, nil
}
