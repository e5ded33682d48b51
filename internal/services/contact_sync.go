package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"imovelzap/internal/adapters/evolution"
	"imovelzap/internal/models"
	"imovelzap/pkg/phone"
)

// ChatDirectory is the directory surface reconciliation needs from the
// gateway: one full chat list, one full group list. Both jobs fetch once
// per run, never per row.
type ChatDirectory interface {
	FetchChats(ctx context.Context) ([]evolution.Chat, error)
	FetchGroups(ctx context.Context) ([]evolution.Group, error)
}

// ContactCandidate is one gateway chat annotated against the local store.
type ContactCandidate struct {
	Phone           string `json:"phone"`
	Name            string `json:"name"`
	AlreadyImported bool   `json:"already_imported"`
}

// ContactSyncResult summarizes a reconciliation run.
type ContactSyncResult struct {
	New      int `json:"new"`
	Existing int `json:"existing"`
	Imported int `json:"imported"`
}

// ContactSyncService reconciles the gateway's contact list against stored
// leads without ever creating duplicates.
type ContactSyncService struct {
	db        *gorm.DB
	directory ChatDirectory
}

// NewContactSyncService wires the contact reconciliation job.
func NewContactSyncService(db *gorm.DB, directory ChatDirectory) *ContactSyncService {
	return &ContactSyncService{db: db, directory: directory}
}

// Preview fetches the gateway chat list, drops group and broadcast
// pseudo-chats, and annotates each remaining contact with whether its phone
// is already stored, matching raw and normalized forms with or without the
// country prefix.
func (s *ContactSyncService) Preview(ctx context.Context) ([]ContactCandidate, error) {
	chats, err := s.directory.FetchChats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gateway chat list: %w", err)
	}

	known, err := s.knownPhoneSet()
	if err != nil {
		return nil, err
	}

	var candidates []ContactCandidate
	for _, chat := range chats {
		if isPseudoChat(chat.RemoteJid) {
			continue
		}
		p := phone.FromJID(chat.RemoteJid)
		if phone.Digits(p) == "" {
			continue
		}
		candidates = append(candidates, ContactCandidate{
			Phone:           phone.Digits(p),
			Name:            chat.PushName,
			AlreadyImported: known[phone.Digits(p)] || known[phone.Local(p)],
		})
	}
	return candidates, nil
}

// Import bulk-creates leads for the candidates not already stored and
// returns the new-vs-existing counts.
func (s *ContactSyncService) Import(ctx context.Context) (ContactSyncResult, error) {
	candidates, err := s.Preview(ctx)
	if err != nil {
		return ContactSyncResult{}, err
	}

	result := ContactSyncResult{}
	for _, c := range candidates {
		if c.AlreadyImported {
			result.Existing++
			continue
		}
		result.New++

		lead := models.Lead{
			Name:            c.Name,
			Phone:           c.Phone,
			PhoneNormalized: phone.Normalize(c.Phone),
			Origin:          "whatsapp_import",
			Status:          "novo",
		}
		if err := s.db.WithContext(ctx).Create(&lead).Error; err != nil {
			log.Error().Err(err).Str("phone", c.Phone).Msg("Failed to import contact, skipping")
			continue
		}
		result.Imported++
	}

	log.Info().Int("new", result.New).Int("existing", result.Existing).Int("imported", result.Imported).Msg("Contact reconciliation completed")
	return result, nil
}

// knownPhoneSet indexes every stored lead phone under all its comparable
// forms: digits with prefix, local digits, and normalized digits.
func (s *ContactSyncService) knownPhoneSet() (map[string]bool, error) {
	var leads []models.Lead
	if err := s.db.Select("phone", "phone_normalized").Find(&leads).Error; err != nil {
		return nil, fmt.Errorf("failed to load stored leads: %w", err)
	}

	known := make(map[string]bool, len(leads)*2)
	for _, l := range leads {
		for _, raw := range []string{l.Phone, l.PhoneNormalized} {
			if raw == "" {
				continue
			}
			known[phone.Digits(raw)] = true
			known[phone.Local(raw)] = true
		}
	}
	return known, nil
}

func isPseudoChat(jid string) bool {
	return strings.HasSuffix(jid, "@g.us") ||
		strings.HasSuffix(jid, "@broadcast") ||
		strings.HasSuffix(jid, "@newsletter") ||
		strings.HasPrefix(jid, "status@")
}
