package context

// StandardAssembler combines system prompt, history, and user message
// into a single ordered message list.
type StandardAssembler struct{}

// Assemble builds the final message list: system + history + user.
func (a *StandardAssembler) Assemble(system string, history []Turn, userMsg string) []Turn {
	messages := make([]Turn, 0, 1+len(history)+1)
	messages = append(messages, SystemTurn(system))
	messages = append(messages, history...)
	messages = append(messages, UserTurn(userMsg))
	return messages
}
