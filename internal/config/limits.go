package config

const (
	// MaxChatNameLength is the maximum length for chat display names.
	// Limited to 255 to fit in PostgreSQL VARCHAR(255) and provide
	// reasonable UX (names should be short and descriptive).
	MaxChatNameLength = 255

	// MaxQuestionLength caps a single submitted question. Large enough for
	// pasted context, small enough to bound provider prompts.
	MaxQuestionLength = 32768

	// MaxSearchQueryLength caps search input; longer strings cannot match
	// anything useful and only cost regex work in the content store.
	MaxSearchQueryLength = 512
)
