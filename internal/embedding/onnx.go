//go:build onnx

package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"unicode"

	ort "github.com/yalue/onnxruntime_go"
)

// ErrONNXUnavailable is never returned in onnx builds; it exists so callers
// compile under both build tags.
var ErrONNXUnavailable = errors.New("onnx encoder not compiled in; rebuild with -tags onnx")

// onnxSeqLen is the fixed sequence length fed to the model.
const onnxSeqLen = 128

// ONNXEncoder runs a sentence-transformer model locally through onnxruntime,
// mean-pooling the last hidden state over attended tokens.
type ONNXEncoder struct {
	mu        sync.Mutex // onnxruntime sessions are not safe for concurrent Run
	session   *ort.DynamicAdvancedSession
	tokenizer *wordPiece
	dims      int
}

// NewONNXEncoder loads the model and tokenizer described by cfg.
func NewONNXEncoder(cfg ONNXConfig) (Encoder, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("onnx: model path is required")
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnx: initializing runtime: %w", err)
		}
	}

	tok, err := loadWordPiece(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: loading tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: creating session: %w", err)
	}

	return &ONNXEncoder{session: session, tokenizer: tok, dims: cfg.Dimensions}, nil
}

// Encode returns the mean-pooled, normalized sentence embedding of text.
func (e *ONNXEncoder) Encode(_ context.Context, text string) (Vector, error) {
	ids := e.tokenizer.encode(text, onnxSeqLen-2)

	inputIDs := make([]int64, onnxSeqLen)
	mask := make([]int64, onnxSeqLen)
	typeIDs := make([]int64, onnxSeqLen)

	inputIDs[0], mask[0] = e.tokenizer.cls, 1
	for i, id := range ids {
		inputIDs[i+1], mask[i+1] = id, 1
	}
	end := len(ids) + 1
	inputIDs[end], mask[end] = e.tokenizer.sep, 1

	shape := ort.NewShape(1, onnxSeqLen)
	var inputs []ort.Value
	for _, data := range [][]int64{inputIDs, mask, typeIDs} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("onnx: creating input tensor: %w", err)
		}
		defer t.Destroy()
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer func() {
		for _, o := range outputs {
			if o != nil {
				o.Destroy()
			}
		}
	}()

	hidden, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("onnx: unexpected output tensor type %T", outputs[0])
	}
	data := hidden.GetData()
	dims := hidden.GetShape()
	if len(dims) != 3 || dims[2] != int64(e.dims) {
		return nil, fmt.Errorf("onnx: unexpected output shape %v", dims)
	}

	vec := make(Vector, e.dims)
	var attended float32
	for i := 0; i < int(dims[1]); i++ {
		if mask[i] == 0 {
			continue
		}
		attended++
		off := i * e.dims
		for j := 0; j < e.dims; j++ {
			vec[j] += data[off+j]
		}
	}
	if attended > 0 {
		for j := range vec {
			vec[j] /= attended
		}
	}
	return Normalize(vec), nil
}

// Dimensions returns the vector size.
func (e *ONNXEncoder) Dimensions() int { return e.dims }

// Close releases the onnxruntime session.
func (e *ONNXEncoder) Close() error {
	return e.session.Destroy()
}

// wordPiece is a minimal BERT WordPiece tokenizer driven by tokenizer.json.
type wordPiece struct {
	vocab map[string]int64
	cls   int64
	sep   int64
	unk   int64
}

func loadWordPiece(path string) (*wordPiece, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc struct {
		Model struct {
			Vocab map[string]int64 `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	v := doc.Model.Vocab
	if len(v) == 0 {
		return nil, fmt.Errorf("%s has no model.vocab", path)
	}
	return &wordPiece{vocab: v, cls: v["[CLS]"], sep: v["[SEP]"], unk: v["[UNK]"]}, nil
}

// encode returns at most limit token ids for text.
func (w *wordPiece) encode(text string, limit int) []int64 {
	var ids []int64
	for _, word := range basicSplit(strings.ToLower(text)) {
		for _, id := range w.pieces(word) {
			if len(ids) == limit {
				return ids
			}
			ids = append(ids, id)
		}
	}
	return ids
}

// pieces applies greedy longest-match-first WordPiece to one word.
func (w *wordPiece) pieces(word string) []int64 {
	runes := []rune(word)
	var out []int64
	for start := 0; start < len(runes); {
		end := len(runes)
		found := int64(-1)
		for end > start {
			sub := string(runes[start:end])
			if start > 0 {
				sub = "##" + sub
			}
			if id, ok := w.vocab[sub]; ok {
				found = id
				break
			}
			end--
		}
		if found < 0 {
			return []int64{w.unk}
		}
		out = append(out, found)
		start = end
	}
	return out
}

// basicSplit splits on whitespace and isolates punctuation and Han runes.
func basicSplit(text string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range text {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.Is(unicode.Han, r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
