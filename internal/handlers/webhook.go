package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"imovelzap/internal/events"
	"imovelzap/internal/models"
	"imovelzap/internal/services"
	"imovelzap/pkg/phone"
)

// WebhookHandler converts gateway push events into store mutations.
type WebhookHandler struct {
	conversations *services.ConversationService
	publisher     *events.Publisher
	businessPhone string
}

// NewWebhookHandler wires the processor. businessPhone is the account's own
// number, used to drop echoes of outbound traffic.
func NewWebhookHandler(conversations *services.ConversationService, publisher *events.Publisher, businessPhone string) *WebhookHandler {
	return &WebhookHandler{
		conversations: conversations,
		publisher:     publisher,
		businessPhone: phone.Digits(businessPhone),
	}
}

type eventEnvelope struct {
	Event    string          `json:"event"`
	Instance string          `json:"instance"`
	Data     json.RawMessage `json:"data"`
}

type messageUpsertData struct {
	Key struct {
		RemoteJid string `json:"remoteJid"`
		FromMe    bool   `json:"fromMe"`
		ID        string `json:"id"`
	} `json:"key"`
	PushName string `json:"pushName"`
	Message  struct {
		Conversation        string `json:"conversation"`
		ExtendedTextMessage *struct {
			Text string `json:"text"`
		} `json:"extendedTextMessage"`
	} `json:"message"`
	MessageType string `json:"messageType"`
}

type messageUpdateData struct {
	KeyID string `json:"keyId"`
	Key   struct {
		ID string `json:"id"`
	} `json:"key"`
	Status json.RawMessage `json:"status"`
}

type connectionUpdateData struct {
	State string `json:"state"`
}

// Handle is the single webhook endpoint. Processing failures after a valid
// envelope still answer 200: the gateway has no alternate delivery path and
// retry storms only multiply the damage. Only an undecodable body is a 400.
func (h *WebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusInternalServerError)
		return
	}

	var env eventEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		log.Warn().Err(err).Msg("Discarding undecodable webhook payload")
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	log.Debug().Str("event", env.Event).Str("instance", env.Instance).Msg("Received gateway event")

	switch env.Event {
	case "messages.upsert":
		h.handleMessageUpsert(env, body)
	case "messages.update":
		h.handleMessageUpdate(env)
	case "connection.update":
		var data connectionUpdateData
		_ = json.Unmarshal(env.Data, &data)
		log.Info().Str("instance", env.Instance).Str("state", data.State).Msg("Gateway connection state changed")
	default:
		log.Warn().Str("event", env.Event).Msg("Received unknown gateway event type")
	}

	w.WriteHeader(http.StatusOK)
}

func (h *WebhookHandler) handleMessageUpsert(env eventEnvelope, raw []byte) {
	var data messageUpsertData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		log.Warn().Err(err).Msg("Skipping malformed messages.upsert payload")
		return
	}

	if data.Key.FromMe {
		log.Debug().Str("remoteJid", data.Key.RemoteJid).Msg("Ignoring self-sent message echo")
		return
	}
	sender := phone.FromJID(data.Key.RemoteJid)
	if h.businessPhone != "" && phone.Digits(sender) == h.businessPhone {
		log.Debug().Str("remoteJid", data.Key.RemoteJid).Msg("Ignoring message from own number")
		return
	}

	isGroup := strings.HasSuffix(data.Key.RemoteJid, "@g.us")

	var (
		conv    *models.Conversation
		created bool
		err     error
	)
	if isGroup {
		conv, created, err = h.conversations.ResolveGroupConversation(data.Key.RemoteJid, true)
	} else {
		var lead *models.Lead
		lead, err = h.conversations.ResolveLead(sender, data.PushName)
		if err == nil {
			conv, created, err = h.conversations.ResolveLeadConversation(lead, data.Key.RemoteJid, true)
		}
	}
	if err != nil {
		// Drop the event: the gateway is acked regardless, see Handle.
		log.Error().Err(err).Str("remoteJid", data.Key.RemoteJid).Msg("Failed to resolve conversation for inbound message")
		return
	}

	content := messageContent(data)
	msg := models.Message{
		Content:           content,
		Direction:         models.DirectionInbound,
		MessageType:       messageType(data.MessageType),
		SentStatus:        models.MessageStatusReceived,
		Provider:          "evolution",
		ProviderMessageID: data.Key.ID,
		ProviderPayload:   string(raw),
	}
	if err := h.conversations.AppendMessage(conv, &msg, !created); err != nil {
		log.Error().Err(err).Uint("conversationID", conv.ID).Msg("Failed to append inbound message")
		return
	}

	h.publisher.Publish(events.TypeMessageReceived, map[string]interface{}{
		"conversation_id":     conv.ID,
		"provider_message_id": data.Key.ID,
		"message_type":        msg.MessageType,
	})
}

func (h *WebhookHandler) handleMessageUpdate(env eventEnvelope) {
	var data messageUpdateData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		log.Warn().Err(err).Msg("Skipping malformed messages.update payload")
		return
	}

	providerID := data.KeyID
	if providerID == "" {
		providerID = data.Key.ID
	}
	if providerID == "" {
		log.Warn().Msg("Status update without a provider message id, skipping")
		return
	}

	status, ok := mapProviderStatus(data.Status)
	if !ok {
		log.Debug().RawJSON("providerStatus", data.Status).Msg("Ignoring unmapped provider status")
		return
	}

	if err := h.conversations.MarkMessageStatus(providerID, status); err != nil {
		log.Error().Err(err).Str("providerMessageID", providerID).Msg("Failed to apply status update")
	}
}

// mapProviderStatus folds the gateway's receipt codes, numeric or named,
// onto the message status enum.
func mapProviderStatus(raw json.RawMessage) (string, bool) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		switch strings.ToUpper(name) {
		case "DELIVERY_ACK":
			return models.MessageStatusDelivered, true
		case "READ", "PLAYED":
			return models.MessageStatusRead, true
		}
		return "", false
	}

	var code int
	if err := json.Unmarshal(raw, &code); err == nil {
		switch code {
		case 3:
			return models.MessageStatusDelivered, true
		case 4, 5:
			return models.MessageStatusRead, true
		}
	}
	return "", false
}

func messageContent(data messageUpsertData) *string {
	text := data.Message.Conversation
	if text == "" && data.Message.ExtendedTextMessage != nil {
		text = data.Message.ExtendedTextMessage.Text
	}
	if text == "" {
		return nil
	}
	return &text
}

func messageType(provider string) string {
	switch provider {
	case "conversation", "extendedTextMessage", "text", "":
		return "text"
	case "imageMessage":
		return "image"
	case "audioMessage":
		return "audio"
	case "videoMessage":
		return "video"
	case "documentMessage":
		return "document"
	case "stickerMessage":
		return "sticker"
	default:
		return provider
	}
}
