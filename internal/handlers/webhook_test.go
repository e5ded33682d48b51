package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"imovelzap/internal/models"
	"imovelzap/internal/services"
)

func newWebhookTestEnv(t *testing.T, businessPhone string) (*WebhookHandler, *gorm.DB) {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)

	sqlDB, err := conn.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, conn.AutoMigrate(
		&models.Lead{},
		&models.Conversation{},
		&models.Message{},
		&models.ScheduledMessage{},
	))

	conversations := services.NewConversationService(conn)
	return NewWebhookHandler(conversations, nil, businessPhone), conn
}

func postWebhook(t *testing.T, h *WebhookHandler, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/evolution", strings.NewReader(payload))
	rec := httptest.NewRecorder()
	h.Handle(rec, req)
	return rec
}

func upsertPayload(remoteJid, id, pushName, text string) string {
	return fmt.Sprintf(`{
		"event": "messages.upsert",
		"instance": "main",
		"data": {
			"key": {"remoteJid": %q, "fromMe": false, "id": %q},
			"pushName": %q,
			"message": {"conversation": %q},
			"messageType": "conversation"
		}
	}`, remoteJid, id, pushName, text)
}

func TestUpsertCreatesLeadConversationAndMessages(t *testing.T) {
	h, conn := newWebhookTestEnv(t, "")

	for i := 1; i <= 3; i++ {
		rec := postWebhook(t, h, upsertPayload(
			"5521999998888@s.whatsapp.net",
			fmt.Sprintf("MSG%d", i),
			"Maria",
			fmt.Sprintf("mensagem %d", i),
		))
		assert.Equal(t, http.StatusOK, rec.Code)
	}

	var leads int64
	require.NoError(t, conn.Model(&models.Lead{}).Count(&leads).Error)
	assert.Equal(t, int64(1), leads)

	var lead models.Lead
	require.NoError(t, conn.First(&lead).Error)
	assert.Equal(t, "+5521999998888", lead.PhoneNormalized)
	assert.Equal(t, "Maria", lead.Name)
	assert.Equal(t, "whatsapp", lead.Origin)

	var convs []models.Conversation
	require.NoError(t, conn.Find(&convs).Error)
	require.Len(t, convs, 1)
	assert.Equal(t, uint(3), convs[0].UnreadCount)
	assert.Equal(t, "mensagem 3", convs[0].LastMessagePreview)

	var msgs []models.Message
	require.NoError(t, conn.Order("id asc").Find(&msgs).Error)
	require.Len(t, msgs, 3)
	for i, msg := range msgs {
		assert.Equal(t, models.DirectionInbound, msg.Direction)
		assert.Equal(t, models.MessageStatusReceived, msg.SentStatus)
		assert.Equal(t, fmt.Sprintf("MSG%d", i+1), msg.ProviderMessageID)
		assert.NotEmpty(t, msg.ProviderPayload)
	}
}

func TestUpsertIgnoresSelfEcho(t *testing.T) {
	h, conn := newWebhookTestEnv(t, "")

	rec := postWebhook(t, h, `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5521999998888@s.whatsapp.net", "fromMe": true, "id": "EKO1"},
			"message": {"conversation": "eco"}
		}
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var count int64
	require.NoError(t, conn.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUpsertIgnoresOwnNumber(t *testing.T) {
	h, conn := newWebhookTestEnv(t, "21988880000")

	rec := postWebhook(t, h, upsertPayload("5521988880000@s.whatsapp.net", "OWN1", "", "oi"))
	assert.Equal(t, http.StatusOK, rec.Code)

	var count int64
	require.NoError(t, conn.Model(&models.Message{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestUpsertGroupMessage(t *testing.T) {
	h, conn := newWebhookTestEnv(t, "")

	rec := postWebhook(t, h, upsertPayload("120363041234567890@g.us", "GRP1", "Maria", "bom dia grupo"))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Group threads never create leads.
	var leads int64
	require.NoError(t, conn.Model(&models.Lead{}).Count(&leads).Error)
	assert.Zero(t, leads)

	var conv models.Conversation
	require.NoError(t, conn.First(&conv).Error)
	assert.True(t, conv.IsGroup)
	assert.Nil(t, conv.LeadID)
	assert.Equal(t, "120363041234567890@g.us", conv.ExternalThreadID)
	assert.Equal(t, uint(1), conv.UnreadCount)
}

func TestUpsertExtendedTextAndMediaTypes(t *testing.T) {
	h, conn := newWebhookTestEnv(t, "")

	rec := postWebhook(t, h, `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5521999998888@s.whatsapp.net", "fromMe": false, "id": "EXT1"},
			"pushName": "Maria",
			"message": {"extendedTextMessage": {"text": "segue o link do anúncio"}},
			"messageType": "extendedTextMessage"
		}
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postWebhook(t, h, `{
		"event": "messages.upsert",
		"data": {
			"key": {"remoteJid": "5521999998888@s.whatsapp.net", "fromMe": false, "id": "IMG1"},
			"message": {},
			"messageType": "imageMessage"
		}
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var ext models.Message
	require.NoError(t, conn.Where("provider_message_id = ?", "EXT1").First(&ext).Error)
	assert.Equal(t, "text", ext.MessageType)
	require.NotNil(t, ext.Content)
	assert.Equal(t, "segue o link do anúncio", *ext.Content)

	var img models.Message
	require.NoError(t, conn.Where("provider_message_id = ?", "IMG1").First(&img).Error)
	assert.Equal(t, "image", img.MessageType)
	assert.Nil(t, img.Content)
}

func TestStatusUpdateMapping(t *testing.T) {
	h, conn := newWebhookTestEnv(t, "")

	rec := postWebhook(t, h, upsertPayload("5521999998888@s.whatsapp.net", "ST1", "Maria", "oi"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = postWebhook(t, h, `{
		"event": "messages.update",
		"data": {"keyId": "ST1", "status": "DELIVERY_ACK"}
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	var msg models.Message
	require.NoError(t, conn.Where("provider_message_id = ?", "ST1").First(&msg).Error)
	assert.Equal(t, models.MessageStatusDelivered, msg.SentStatus)

	// Numeric receipt codes map the same way.
	rec = postWebhook(t, h, `{
		"event": "messages.update",
		"data": {"key": {"id": "ST1"}, "status": 4}
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.Where("provider_message_id = ?", "ST1").First(&msg).Error)
	assert.Equal(t, models.MessageStatusRead, msg.SentStatus)
}

func TestStatusUpdateForUnknownMessageStillAcked(t *testing.T) {
	h, _ := newWebhookTestEnv(t, "")

	rec := postWebhook(t, h, `{
		"event": "messages.update",
		"data": {"keyId": "NUNCA_VISTO", "status": "READ"}
	}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMalformedJSONRejected(t *testing.T) {
	h, _ := newWebhookTestEnv(t, "")

	rec := postWebhook(t, h, `{"event": "messages.upsert",`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnknownEventAcked(t *testing.T) {
	h, _ := newWebhookTestEnv(t, "")

	rec := postWebhook(t, h, `{"event": "presence.update", "data": {}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}
