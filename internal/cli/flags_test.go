package cli

import (
	"reflect"
	"testing"

	"github.com/GuanceCloud/mkdocs-auto-translation/internal/dify"
)

func TestNewFlags(t *testing.T) {
	flags := NewFlags()

	// Test default values
	tests := []struct {
		name     string
		got      interface{}
		expected interface{}
	}{
		{"Workers", flags.Workers, 4},
		{"LogFile", flags.LogFile, "mkdocs-translator.log"},
		{"APIEndpoint", flags.APIEndpoint, dify.DefaultEndpoint},
		{"Query", flags.Query, dify.DefaultQuery},
		{"ResponseMode", flags.ResponseMode, dify.ResponseModeStreaming},
		{"MaxCompletionTokens", flags.MaxCompletionTokens, dify.DefaultMaxCompletionTokens},
		{"RequestsPerMinute", flags.RequestsPerMinute, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !reflect.DeepEqual(tt.got, tt.expected) {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.expected)
			}
		})
	}

	// Required inputs start empty and come from flags or config
	if flags.SourceDir != "" || flags.TargetDir != "" || flags.TargetLang != "" {
		t.Error("Expected source/target/language defaults to be empty")
	}
}
