package embedding

// ONNXConfig configures the local ONNX sentence encoder.
type ONNXConfig struct {
	// LibraryPath points at the onnxruntime shared library. Empty uses the
	// runtime's default lookup.
	LibraryPath string

	// ModelPath is the path to the exported sentence-transformer model.
	ModelPath string

	// TokenizerPath is the path to the HuggingFace tokenizer.json.
	TokenizerPath string

	// Dimensions is the hidden size of the model (384 for MiniLM).
	Dimensions int
}
