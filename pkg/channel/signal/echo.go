package signal

// suppressEcho drops self-sent traffic in direct chats.
//
// A direct chat never legitimately receives messages from our own number, so
// both synced sends and self-addressed messages are echoes of outbound sends.
// Group messages from our own linked devices still reach the assistant.
func suppressEcho(event inboundEvent, ownNumber string) bool {
	if event.isGroup() {
		return false
	}

	return event.selfOriginated || event.source == ownNumber
}
