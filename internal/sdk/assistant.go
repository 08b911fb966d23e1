package sdk

// Assistant is the payload sent with start. Field names follow the
// provider's wire format.
type Assistant struct {
	Model        Model  `json:"model"`
	Voice        Voice  `json:"voice"`
	FirstMessage string `json:"firstMessage"`
}

type Model struct {
	Provider string    `json:"provider"`
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Voice struct {
	Provider string `json:"provider"`
	VoiceID  string `json:"voiceId"`
}

const (
	systemPrompt = "You are a helpful AI assistant. Keep your responses concise and conversational. " +
		"You are speaking to the user via voice, so avoid using formatting like markdown or bullet points."
	firstMessage = "Hello! I'm your AI assistant. How can I help you today?"
)

// DefaultAssistant returns the fixed assistant used for every call.
// Each call gets its own copy.
func DefaultAssistant() Assistant {
	return Assistant{
		Model: Model{
			Provider: "openai",
			Model:    "gpt-3.5-turbo",
			Messages: []Message{{Role: "system", Content: systemPrompt}},
		},
		Voice: Voice{
			Provider: "11labs",
			VoiceID:  "rachel",
		},
		FirstMessage: firstMessage,
	}
}
