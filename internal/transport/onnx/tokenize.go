package onnx

import (
	"fmt"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
)

// textEncoder turns one text into model input ids, with special tokens.
type textEncoder interface {
	encode(text string) (ids, typeIDs []int, err error)
}

type hfTokenizer struct {
	tk *tokenizer.Tokenizer
}

func loadTokenizer(path string) (*hfTokenizer, error) {
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("onnx: load tokenizer %s: %w", path, err)
	}
	return &hfTokenizer{tk: tk}, nil
}

func (h *hfTokenizer) encode(text string) ([]int, []int, error) {
	en, err := h.tk.EncodeSingle(text, true)
	if err != nil {
		return nil, nil, err
	}
	return en.Ids, en.TypeIds, nil
}

// encodedBatch is a right-padded [rows, seqLen] token grid.
type encodedBatch struct {
	rows, seqLen int
	ids          []int64
	mask         []int64
	types        []int64
	tokens       int
}

// encodeBatch tokenizes texts, truncates each to maxLen keeping the final
// special token, and pads every row to the longest one.
func encodeBatch(tok textEncoder, texts []string, maxLen int) (*encodedBatch, error) {
	rowsIDs := make([][]int, len(texts))
	rowsTypes := make([][]int, len(texts))
	seqLen := 1
	for i, t := range texts {
		ids, types, err := tok.encode(t)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		if len(types) != len(ids) {
			types = make([]int, len(ids))
		}
		if len(ids) > maxLen {
			last := ids[len(ids)-1]
			ids = append(ids[:maxLen-1:maxLen-1], last)
			types = types[:maxLen]
		}
		rowsIDs[i], rowsTypes[i] = ids, types
		seqLen = max(seqLen, len(ids))
	}

	b := &encodedBatch{
		rows:   len(texts),
		seqLen: seqLen,
		ids:    make([]int64, len(texts)*seqLen),
		mask:   make([]int64, len(texts)*seqLen),
		types:  make([]int64, len(texts)*seqLen),
	}
	for i, ids := range rowsIDs {
		row := i * seqLen
		for j, id := range ids {
			b.ids[row+j] = int64(id)
			b.mask[row+j] = 1
			b.types[row+j] = int64(rowsTypes[i][j])
		}
		b.tokens += len(ids)
	}
	return b, nil
}
