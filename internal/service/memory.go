package service

import (
	"strings"

	"ragchat/internal/model"
)

// DefaultMemoryTurns 放入 prompt 的历史消息条数
const DefaultMemoryTurns = 6

const noMemory = "No memory available."

// RecentTurns 按时间顺序返回最近 n 条消息。
func RecentTurns(messages []model.Message, n int) []model.Message {
	if n <= 0 {
		return nil
	}
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}

// RenderMemory 将消息渲染为 "User: ..." / "Assistant: ..." 行。
func RenderMemory(turns []model.Message) string {
	if len(turns) == 0 {
		return noMemory
	}
	lines := make([]string, 0, len(turns))
	for _, m := range turns {
		speaker := "Assistant"
		if m.Sender == model.SenderUser {
			speaker = "User"
		}
		lines = append(lines, speaker+": "+m.Text)
	}
	return strings.Join(lines, "\n")
}
