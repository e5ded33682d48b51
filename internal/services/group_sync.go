package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"imovelzap/internal/models"
)

// GroupSyncService backfills display names on group conversations created
// before their metadata was known.
type GroupSyncService struct {
	db        *gorm.DB
	directory ChatDirectory
}

// NewGroupSyncService wires the group metadata sync job.
func NewGroupSyncService(db *gorm.DB, directory ChatDirectory) *GroupSyncService {
	return &GroupSyncService{db: db, directory: directory}
}

// SyncNames fetches the gateway's group list once, builds an id-to-subject
// map, and patches every local group conversation still missing a name in a
// single pass. Returns the number of conversations updated.
func (s *GroupSyncService) SyncNames(ctx context.Context) (int, error) {
	groups, err := s.directory.FetchGroups(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch gateway group list: %w", err)
	}

	names := make(map[string]string, len(groups))
	for _, g := range groups {
		if g.Subject != "" {
			names[g.ID] = g.Subject
		}
	}

	var unnamed []models.Conversation
	err = s.db.WithContext(ctx).
		Where("is_group = ? AND (group_name IS NULL OR group_name = '')", true).
		Find(&unnamed).Error
	if err != nil {
		return 0, fmt.Errorf("failed to load unnamed group conversations: %w", err)
	}

	patched := 0
	for _, conv := range unnamed {
		name, ok := names[conv.ExternalThreadID]
		if !ok {
			continue
		}
		err := s.db.WithContext(ctx).
			Model(&models.Conversation{}).
			Where("id = ?", conv.ID).
			Update("group_name", name).Error
		if err != nil {
			log.Error().Err(err).Uint("conversationID", conv.ID).Msg("Failed to patch group name, skipping")
			continue
		}
		patched++
	}

	log.Info().Int("groups", len(groups)).Int("unnamed", len(unnamed)).Int("patched", patched).Msg("Group name sync completed")
	return patched, nil
}
