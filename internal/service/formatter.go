package service

import (
	"regexp"
	"strings"
)

var (
	boldMarkers     = strings.NewReplacer("**", "", "__", "")
	numberedMidLine = regexp.MustCompile(`(\S)[ \t]+(\d+\.[ \t])`)
	bulletMarker    = regexp.MustCompile(`(?:^|[ \t]+)[•*\-–][ \t]+`)
)

// FormatAnswer 逐行规范化普通问答的模型输出：去掉加粗标记，行内出现的编号项和列表项另起一行，
// 列表符号统一为 "- "，去除行尾空白，连续空行合并为一行并去掉首尾空行。
// 对结果再次调用结果不变。
func FormatAnswer(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	out := make([]string, 0, strings.Count(text, "\n")+1)
	blank := false
	emit := func(line string) {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			if len(out) > 0 && !blank {
				out = append(out, "")
			}
			blank = true
			return
		}
		out = append(out, line)
		blank = false
	}

	for _, line := range strings.Split(text, "\n") {
		for strings.Contains(line, "**") || strings.Contains(line, "__") {
			line = boldMarkers.Replace(line)
		}
		line = strings.TrimRight(line, " \t")
		line = splitNumbered(line)
		for _, part := range strings.Split(line, "\n") {
			pieces := strings.Split(bulletMarker.ReplaceAllString(part, "\n- "), "\n")
			for i, piece := range pieces {
				if i == 0 && piece == "" && len(pieces) > 1 {
					continue
				}
				emit(piece)
			}
		}
	}

	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// splitNumbered 在每个前面有文本的编号项前换行。每次匹配会吃掉编号前的一个字符，
// 相邻编号需要重复替换直到结果不再变化。
func splitNumbered(line string) string {
	for {
		next := numberedMidLine.ReplaceAllString(line, "$1\n$2")
		if next == line {
			return line
		}
		line = next
	}
}
