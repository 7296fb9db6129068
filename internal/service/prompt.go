package service

import (
	"strings"

	"ragchat/internal/model"
)

// PromptMode 选择指令模板。
type PromptMode int

const (
	PromptBuffered PromptMode = iota
	PromptStreaming
)

const noContext = "No context available."

// BuildPrompt 根据历史记忆、检索上下文、原始问题和固定指令构建 prompt。
func BuildPrompt(mode PromptMode, memory string, snippets []model.Snippet, question string) string {
	texts := make([]string, 0, len(snippets))
	for _, s := range snippets {
		texts = append(texts, s.Text)
	}
	context := strings.Join(texts, "\n\n")
	if context == "" {
		context = noContext
	}
	if memory == "" {
		memory = noMemory
	}

	var sb strings.Builder
	switch mode {
	case PromptStreaming:
		sb.WriteString("You are a helpful assistant.\n")
		sb.WriteString("Here is the previous conversation:\n")
		sb.WriteString(memory)
		sb.WriteString("\n\nRelevant context from uploaded documents:\n")
		sb.WriteString(context)
		sb.WriteString("\n\nUser's question:\n")
		sb.WriteString(question)
		sb.WriteString("\n\nInstructions:\n")
		sb.WriteString("- Answer naturally and informatively.\n")
		sb.WriteString("- Use Markdown formatting.\n")
		sb.WriteString("- Do not repeat previous messages.\n")
	default:
		sb.WriteString("You are a helpful AI assistant.\n")
		sb.WriteString("Refer to this previous chat history:\n")
		sb.WriteString(memory)
		sb.WriteString("\n\nUse this document context:\n")
		sb.WriteString(context)
		sb.WriteString("\n\nUser's question:\n")
		sb.WriteString(question)
		sb.WriteString("\n\nInstructions:\n")
		sb.WriteString("- Use memory and documents to answer.\n")
		sb.WriteString("- Format in Markdown.\n")
		sb.WriteString("- Be concise and contextual.\n")
		sb.WriteString("- Do not repeat previous messages.\n")
	}
	return sb.String()
}
