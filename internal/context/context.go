package context

// Window selects the part of a History that is sent to the model.
type Window interface {
	Select(h *History) []Turn
}

// Assembler combines system prompt, history, and user message into a final message list.
type Assembler interface {
	Assemble(system string, history []Turn, userMsg string) []Turn
}
