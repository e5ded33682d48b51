package evolution

// SendResult is the normalized outcome of a sendText call. Any non-2xx HTTP
// response is a failure, but the raw body is always retained for diagnostic
// storage on the affected row.
type SendResult struct {
	OK                bool
	ProviderMessageID string
	HTTPStatus        int
	RawResponse       string
	ErrorMessage      string
}

type sendTextRequest struct {
	Number string `json:"number"`
	Text   string `json:"text"`
}

type sendTextResponse struct {
	Key struct {
		ID string `json:"id"`
	} `json:"key"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// Instance describes one configured gateway instance and its connection
// state, as reported by the fetchInstances probe.
type Instance struct {
	Name             string `json:"name"`
	ConnectionStatus string `json:"connectionStatus"`
}

// Chat is one entry of the gateway's chat list. Group and broadcast
// pseudo-chats carry their type in the JID suffix.
type Chat struct {
	RemoteJid string `json:"remoteJid"`
	PushName  string `json:"pushName"`
}

// Group is one entry of the gateway's group list.
type Group struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
}
