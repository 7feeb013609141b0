package composer

import "strings"

// Messages is a catalog of the fixed, user-facing strings of one locale:
// the generation prompt template, memory notes and failure replies.
type Messages struct {
	Locale string

	// Prompt template parts.
	Instruction    string
	ContextHeader  string
	QuestionHeader string
	Requirements   string

	// Memory notes written by the ingestor and the search client.
	FileContentPrefix      string
	UnsupportedFileType    string // followed by the file name
	ExtractionError        string // followed by the error detail
	SearchHeader           string
	SearchNoTitle          string
	SearchUnavailableTitle string

	// Replies returned when generation cannot run.
	ConnectivityFailure string
	TimeoutFailure      string // followed by the error detail
	GenerationFailure   string // followed by the error detail

	NewConversationTitle string
}

var english = Messages{
	Locale:         "en",
	Instruction:    "Answer based on the context below, keeping a natural conversational style:",
	ContextHeader:  "[Related context]",
	QuestionHeader: "[User question] ",
	Requirements:   "[Answer requirements] Use markdown and state the sources of the information where relevant.",

	FileContentPrefix:      "file content: ",
	UnsupportedFileType:    "[unsupported file type] ",
	ExtractionError:        "[file extraction error] ",
	SearchHeader:           "[web search results]",
	SearchNoTitle:          "no title",
	SearchUnavailableTitle: "search service unavailable",

	ConnectivityFailure: "error: cannot connect to the generation service, check that Ollama is running",
	TimeoutFailure:      "error: generation timed out: ",
	GenerationFailure:   "error: ",

	NewConversationTitle: "New conversation",
}

var chinese = Messages{
	Locale:         "zh",
	Instruction:    "请基于以下上下文用中文回答，保持自然对话风格：",
	ContextHeader:  "【相关上下文】",
	QuestionHeader: "【用户问题】",
	Requirements:   "【回答要求】用markdown格式，包含必要的信息来源说明",

	FileContentPrefix:      "文件内容：",
	UnsupportedFileType:    "【不支持的文件类型】",
	ExtractionError:        "【文件处理错误】",
	SearchHeader:           "【网络搜索结果】",
	SearchNoTitle:          "无标题",
	SearchUnavailableTitle: "搜索服务不可用",

	ConnectivityFailure: "错误：无法连接Ollama服务，请检查是否已启动",
	TimeoutFailure:      "错误：生成超时：",
	GenerationFailure:   "错误：",

	NewConversationTitle: "新对话",
}

// Catalog returns the messages for locale ("en" or "zh", case-insensitive,
// region suffixes ignored). Unknown locales fall back to English.
func Catalog(locale string) Messages {
	lang, _, _ := strings.Cut(strings.ToLower(locale), "-")
	lang, _, _ = strings.Cut(lang, "_")
	if lang == "zh" {
		return chinese
	}
	return english
}

// Locales lists the supported locale codes.
func Locales() []string {
	return []string{english.Locale, chinese.Locale}
}
