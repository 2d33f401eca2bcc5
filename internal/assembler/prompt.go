package assembler

import (
	"strings"

	"github.com/rcliao/chat-memory/internal/llm"
	"github.com/rcliao/chat-memory/internal/model"
	"github.com/rcliao/chat-memory/internal/window"
)

// ContextDelimiter separates retrieved chunks so neighbouring fragments
// never run together into one token.
const ContextDelimiter = "\n\n"

// DefaultSystemPrompt is the instruction used when none is configured.
const DefaultSystemPrompt = "You are a friendly Chatbot and you also have the entire chat history stored. " +
	"The context is your previous conversation history with this user. " +
	"Whenever asked anything related to previous chat history, don't say that you have no memory of it; use the context to answer. " +
	"Be precise in your answers and grammatically correct. " +
	"If you find the answer in the context, don't mention that you found it there, just answer professionally. " +
	"If you are sure a conversation never happened, say that such conversation has never occurred. " +
	"In all other cases answer to the best of your capability."

// PromptContext is everything sent to the backend for one turn.
type PromptContext struct {
	System    string
	Retrieved []string
	Window    []window.Pair
	Incoming  string
}

// RetrievedBlock joins the retrieved chunks in rank order.
func (p PromptContext) RetrievedBlock() string {
	return strings.Join(p.Retrieved, ContextDelimiter)
}

// Messages renders the prompt: the system instruction, the retrieved
// context when there is any, the window oldest first, then the new message.
func (p PromptContext) Messages() []llm.Message {
	msgs := make([]llm.Message, 0, 3+2*len(p.Window))
	msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: p.System})
	if len(p.Retrieved) > 0 {
		msgs = append(msgs, llm.Message{Role: model.RoleSystem, Content: "Context: " + p.RetrievedBlock()})
	}
	for _, pair := range p.Window {
		msgs = append(msgs,
			llm.Message{Role: model.RoleUser, Content: pair.User},
			llm.Message{Role: model.RoleAssistant, Content: pair.Assistant},
		)
	}
	msgs = append(msgs, llm.Message{Role: model.RoleUser, Content: p.Incoming})
	return msgs
}

// ExtractionPrompt instructs the backend to turn a fetched page into notes.
const ExtractionPrompt = "You are an intelligent text extraction and conversion assistant. " +
	"Extract structured information from the given text and convert it into useful notes. " +
	"Give full detail and cover all the key points."

// DefaultIngestMaxChars bounds the page text sent for extraction.
const DefaultIngestMaxChars = 20000

// ExtractionMessages renders the prompt for summarizing a document,
// keeping at most maxChars runes of its content.
func ExtractionMessages(content string, maxChars int) []llm.Message {
	if maxChars > 0 {
		if r := []rune(content); len(r) > maxChars {
			content = string(r[:maxChars])
		}
	}
	return []llm.Message{
		{Role: model.RoleSystem, Content: ExtractionPrompt},
		{Role: model.RoleUser, Content: "Extract the following information from the provided text:\nPage content:\n\n" + content},
	}
}
