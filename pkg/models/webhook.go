package models

// EvolutionWebhook is the event envelope the WhatsApp gateway posts for an
// instance.
type EvolutionWebhook struct {
	Event    string           `json:"event"`
	Instance string           `json:"instance,omitempty"`
	Data     EvolutionMessage `json:"data"`
}

// EvolutionMessage is the data of an event. Message events fill Key and
// Message, connection.update events fill State.
type EvolutionMessage struct {
	State       string            `json:"state,omitempty"`
	Key         EvolutionKey      `json:"key"`
	PushName    string            `json:"pushName,omitempty"`
	Message     *EvolutionContent `json:"message,omitempty"`
	MessageType string            `json:"messageType,omitempty"`
	Timestamp   int64             `json:"messageTimestamp,omitempty"`
}

type EvolutionKey struct {
	RemoteJID string `json:"remoteJid"`
	FromMe    bool   `json:"fromMe"`
	ID        string `json:"id"`
}

// EvolutionContent carries the message body. Plain texts arrive as
// conversation, replies and link previews as extendedTextMessage.
type EvolutionContent struct {
	Conversation        string               `json:"conversation,omitempty"`
	ExtendedTextMessage *ExtendedTextMessage `json:"extendedTextMessage,omitempty"`
}

type ExtendedTextMessage struct {
	Text string `json:"text"`
}

// Text returns the textual body of the message, or "" for media and other
// non-text content.
func (m EvolutionMessage) Text() string {
	if m.Message == nil {
		return ""
	}
	if m.Message.Conversation != "" {
		return m.Message.Conversation
	}
	if m.Message.ExtendedTextMessage != nil {
		return m.Message.ExtendedTextMessage.Text
	}
	return ""
}
