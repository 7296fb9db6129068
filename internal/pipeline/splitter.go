package pipeline

// SplitText 将文本切分为最多 size 个字符的窗口。除第一个分块外，每个分块都从上一个分块结束前
// overlap 个字符处开始，因此第一个分块加上其余分块去掉前 overlap 个字符后即可还原原文。
// 若 start+overlap 之后存在换行则在换行后切分，其次在空格后切分，否则硬切。
func SplitText(text string, size, overlap int) []string {
	if size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	var chunks []string
	start := 0
	for {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			return chunks
		}
		if cut := boundary(runes, start+overlap, end); cut > 0 {
			end = cut
		}
		chunks = append(chunks, string(runes[start:end]))
		start = end - overlap
	}
}

// boundary 返回 (lo, hi] 内最靠后的换行切点，其次是空格切点，都没有时返回 0。
func boundary(runes []rune, lo, hi int) int {
	for _, sep := range []rune{'\n', ' '} {
		for cut := hi; cut > lo; cut-- {
			if runes[cut-1] == sep {
				return cut
			}
		}
	}
	return 0
}
