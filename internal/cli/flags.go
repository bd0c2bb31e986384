package cli

import "github.com/GuanceCloud/mkdocs-auto-translation/internal/dify"

// Flags holds all command-line flag values
type Flags struct {
	// General flags
	CfgFile       string
	SourceDir     string
	TargetDir     string
	TargetLang    string
	BlacklistFile string
	LogFile       string
	Workers       int

	// API flags
	APIKey              string
	APIEndpoint         string
	User                string
	Query               string
	ResponseMode        string
	MaxCompletionTokens int
	RequestsPerMinute   int
}

// NewFlags creates a new Flags instance with default values
func NewFlags() *Flags {
	return &Flags{
		Workers:             4,
		LogFile:             "mkdocs-translator.log",
		APIEndpoint:         dify.DefaultEndpoint,
		Query:               dify.DefaultQuery,
		ResponseMode:        dify.ResponseModeStreaming,
		MaxCompletionTokens: dify.DefaultMaxCompletionTokens,
	}
}
