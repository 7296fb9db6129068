package model

// Snippet 是检索得到的一个上下文分块。
type Snippet struct {
	Text     string  `json:"text"`
	FileName string  `json:"fileName"`
	Score    float32 `json:"score"`
}
