package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imovelzap/internal/adapters/evolution"
	"imovelzap/internal/models"
)

type stubDirectory struct {
	chats  []evolution.Chat
	groups []evolution.Group
	err    error
}

func (s *stubDirectory) FetchChats(ctx context.Context) ([]evolution.Chat, error) {
	return s.chats, s.err
}

func (s *stubDirectory) FetchGroups(ctx context.Context) ([]evolution.Group, error) {
	return s.groups, s.err
}

func TestPreviewFiltersPseudoChats(t *testing.T) {
	conn := newTestDB(t)
	svc := NewContactSyncService(conn, &stubDirectory{chats: []evolution.Chat{
		{RemoteJid: "5521999998888@s.whatsapp.net", PushName: "Maria"},
		{RemoteJid: "120363041234567890@g.us", PushName: "Condomínio Alfa"},
		{RemoteJid: "status@broadcast"},
		{RemoteJid: "5521988887777@s.whatsapp.net", PushName: "João"},
	}})

	candidates, err := svc.Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, "5521999998888", candidates[0].Phone)
	assert.Equal(t, "Maria", candidates[0].Name)
	assert.Equal(t, "5521988887777", candidates[1].Phone)
}

func TestPreviewRecognizesStoredPhoneVariants(t *testing.T) {
	conn := newTestDB(t)

	// Stored without the country prefix, the way older CRM records arrive.
	require.NoError(t, conn.Create(&models.Lead{
		Name: "Maria", Phone: "21999998888", PhoneNormalized: "+5521999998888",
		Origin: "whatsapp", Status: "novo",
	}).Error)

	svc := NewContactSyncService(conn, &stubDirectory{chats: []evolution.Chat{
		{RemoteJid: "5521999998888@s.whatsapp.net", PushName: "Maria"},
		{RemoteJid: "5521988887777@s.whatsapp.net", PushName: "João"},
	}})

	candidates, err := svc.Preview(context.Background())
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.True(t, candidates[0].AlreadyImported)
	assert.False(t, candidates[1].AlreadyImported)
}

func TestImportCreatesOnlyNewLeads(t *testing.T) {
	conn := newTestDB(t)

	require.NoError(t, conn.Create(&models.Lead{
		Name: "Maria", Phone: "5521999998888", PhoneNormalized: "+5521999998888",
		Origin: "whatsapp", Status: "novo",
	}).Error)

	svc := NewContactSyncService(conn, &stubDirectory{chats: []evolution.Chat{
		{RemoteJid: "5521999998888@s.whatsapp.net", PushName: "Maria"},
		{RemoteJid: "5521988887777@s.whatsapp.net", PushName: "João"},
	}})

	result, err := svc.Import(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ContactSyncResult{New: 1, Existing: 1, Imported: 1}, result)

	var imported models.Lead
	require.NoError(t, conn.Where("phone_normalized = ?", "+5521988887777").First(&imported).Error)
	assert.Equal(t, "João", imported.Name)
	assert.Equal(t, "whatsapp_import", imported.Origin)

	var total int64
	require.NoError(t, conn.Model(&models.Lead{}).Count(&total).Error)
	assert.Equal(t, int64(2), total)

	// Running again imports nothing new.
	again, err := svc.Import(context.Background())
	require.NoError(t, err)
	assert.Zero(t, again.Imported)
	assert.Equal(t, 2, again.Existing)
}

func TestSyncNamesPatchesUnnamedGroups(t *testing.T) {
	conn := newTestDB(t)

	unnamed := models.Conversation{
		Channel:          models.ChannelWhatsApp,
		ExternalThreadID: "120363041234567890@g.us",
		IsGroup:          true,
	}
	require.NoError(t, conn.Create(&unnamed).Error)

	existing := "Plantão de Vendas"
	named := models.Conversation{
		Channel:          models.ChannelWhatsApp,
		ExternalThreadID: "120363049999999999@g.us",
		IsGroup:          true,
		GroupName:        &existing,
	}
	require.NoError(t, conn.Create(&named).Error)

	svc := NewGroupSyncService(conn, &stubDirectory{groups: []evolution.Group{
		{ID: "120363041234567890@g.us", Subject: "Condomínio Alfa"},
		{ID: "120363049999999999@g.us", Subject: "Outro Nome"},
	}})

	patched, err := svc.SyncNames(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, patched)

	var reloaded models.Conversation
	require.NoError(t, conn.First(&reloaded, unnamed.ID).Error)
	require.NotNil(t, reloaded.GroupName)
	assert.Equal(t, "Condomínio Alfa", *reloaded.GroupName)

	// A conversation that already has a name is never overwritten.
	reloaded = models.Conversation{}
	require.NoError(t, conn.First(&reloaded, named.ID).Error)
	require.NotNil(t, reloaded.GroupName)
	assert.Equal(t, "Plantão de Vendas", *reloaded.GroupName)
}

func TestSyncNamesUnknownGroupLeftAlone(t *testing.T) {
	conn := newTestDB(t)

	unnamed := models.Conversation{
		Channel:          models.ChannelWhatsApp,
		ExternalThreadID: "120363040000000000@g.us",
		IsGroup:          true,
	}
	require.NoError(t, conn.Create(&unnamed).Error)

	svc := NewGroupSyncService(conn, &stubDirectory{groups: []evolution.Group{}})

	patched, err := svc.SyncNames(context.Background())
	require.NoError(t, err)
	assert.Zero(t, patched)

	var reloaded models.Conversation
	require.NoError(t, conn.First(&reloaded, unnamed.ID).Error)
	assert.Nil(t, reloaded.GroupName)
}
