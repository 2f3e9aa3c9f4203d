package prompt

import (
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// TokenCounter считает токены текста.
type TokenCounter interface {
	Count(text string) int
}

// tiktokenCounter считает токены BPE-кодировкой модели.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// EstimateCounter - грубая оценка: ~4 символа на токен.
type EstimateCounter struct{}

func (EstimateCounter) Count(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// NewTokenCounter возвращает tiktoken-счетчик для модели. Если кодировку не
// удалось загрузить (неизвестная модель, нет доступа к сети), используется оценка.
func NewTokenCounter(model string, logger *zap.Logger) TokenCounter {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	}
	if err != nil {
		logger.Warn("Could not load tokenizer, falling back to estimate",
			zap.String("model", model), zap.Error(err))
		return EstimateCounter{}
	}
	return &tiktokenCounter{enc: enc}
}
