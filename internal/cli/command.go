package cli

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/GuanceCloud/mkdocs-auto-translation/internal"
)

// CreateRootCommand creates and configures the root cobra command
func CreateRootCommand(flags *Flags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mkdocs-translator",
		Short: "Incremental MkDocs documentation translator",
		Long: `mkdocs-translator translates a tree of MkDocs documentation files
into a target language using the Dify AI API.

Files are fingerprinted by content hash, so only new or changed files are
translated on each run. Non-translatable resources (images, CSS, ...) are
mirrored into the target tree if not already present.

Examples:
  mkdocs-translator --source docs --target docs.ja --target-language ja
  mkdocs-translator --source docs --target docs.ja --target-language ja --workers 8
  mkdocs-translator --source docs --target docs.ja --target-language ja --blacklist .translationignore`,
		Args:    cobra.NoArgs,
		Version: internal.Version,
	}

	setupFlags(rootCmd, flags)

	return rootCmd
}

func setupFlags(cmd *cobra.Command, flags *Flags) {
	// Global flags
	cmd.PersistentFlags().StringVar(&flags.CfgFile, "config", "", "config file (default is $HOME/.mkdocs-translator.yaml)")

	// Local flags
	cmd.Flags().StringVarP(&flags.SourceDir, "source", "s", "", "Source document directory")
	cmd.Flags().StringVarP(&flags.TargetDir, "target", "t", "", "Target translation directory")
	cmd.Flags().StringVarP(&flags.TargetLang, "target-language", "l", "", "Target language code (e.g. ja, en, fr)")
	cmd.Flags().StringVar(&flags.BlacklistFile, "blacklist", "", "File of relative-path patterns to exclude from translation")
	cmd.Flags().StringVar(&flags.LogFile, "log-file", flags.LogFile, "Log file path")
	cmd.Flags().IntVarP(&flags.Workers, "workers", "w", flags.Workers, "Number of concurrent translation workers")

	// API flags
	cmd.Flags().StringVar(&flags.APIKey, "api-key", "", "Dify API key (default from DIFY_API_KEY)")
	cmd.Flags().StringVar(&flags.APIEndpoint, "api-endpoint", flags.APIEndpoint, "Chat-completion endpoint URL")
	cmd.Flags().StringVar(&flags.User, "user", "", "User name passed to the API")
	cmd.Flags().StringVar(&flags.Query, "query", flags.Query, "Query instruction sent with each document")
	cmd.Flags().StringVar(&flags.ResponseMode, "response-mode", flags.ResponseMode, "Response mode: streaming or blocking")
	cmd.Flags().IntVar(&flags.MaxCompletionTokens, "max-completion-tokens", flags.MaxCompletionTokens, "Per-turn output ceiling; a turn reaching it is continued")
	cmd.Flags().IntVar(&flags.RequestsPerMinute, "rpm", 0, "Max API requests per minute (0 = unlimited)")

	cmd.MarkFlagRequired("source")
	cmd.MarkFlagRequired("target")
	cmd.MarkFlagRequired("target-language")

	// Bind flags to viper
	bindFlagsToViper(cmd)
}

func bindFlagsToViper(cmd *cobra.Command) {
	viper.BindPFlag("api.endpoint", cmd.Flags().Lookup("api-endpoint"))
	viper.BindPFlag("api.user", cmd.Flags().Lookup("user"))
	viper.BindPFlag("api.query", cmd.Flags().Lookup("query"))
	viper.BindPFlag("api.response_mode", cmd.Flags().Lookup("response-mode"))
	viper.BindPFlag("api.max_completion_tokens", cmd.Flags().Lookup("max-completion-tokens"))
	viper.BindPFlag("api.requests_per_minute", cmd.Flags().Lookup("rpm"))
	viper.BindPFlag("translation.workers", cmd.Flags().Lookup("workers"))
	viper.BindPFlag("translation.blacklist", cmd.Flags().Lookup("blacklist"))
	viper.BindPFlag("output.log_file", cmd.Flags().Lookup("log-file"))
}

// ResolveFlags folds configuration-file and environment values into the
// flag set after InitConfig has run. Values given on the command line win:
// the flags are bound to their config keys, so viper already resolves the
// precedence.
func ResolveFlags(flags *Flags) {
	flags.APIEndpoint = viper.GetString("api.endpoint")
	flags.User = viper.GetString("api.user")
	flags.Query = viper.GetString("api.query")
	flags.ResponseMode = viper.GetString("api.response_mode")
	flags.MaxCompletionTokens = viper.GetInt("api.max_completion_tokens")
	flags.RequestsPerMinute = viper.GetInt("api.requests_per_minute")
	flags.Workers = viper.GetInt("translation.workers")
	flags.BlacklistFile = viper.GetString("translation.blacklist")
	flags.LogFile = viper.GetString("output.log_file")
}

// InitConfig initializes viper configuration
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error getting home directory: %v\n", err)
			return
		}

		// Search config in home directory with name ".mkdocs-translator" (without extension)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".mkdocs-translator")
	}

	// Environment variables, e.g. MKDOCS_TRANSLATOR_TRANSLATION_WORKERS
	// for translation.workers
	viper.SetEnvPrefix("MKDOCS_TRANSLATOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// Read config file
	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// GetAPIKey retrieves the Dify API key from the flag, environment or config
func GetAPIKey(flags *Flags) string {
	if flags.APIKey != "" {
		return flags.APIKey
	}

	// Then check environment variable
	if key := os.Getenv("DIFY_API_KEY"); key != "" {
		return key
	}

	// Then check config file
	return viper.GetString("api.key")
}

// InitLogging sends log output to both stderr and the given file so
// failures remain inspectable after the run. It returns a cleanup func.
func InitLogging(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	log.SetFlags(log.LstdFlags)
	log.SetOutput(io.MultiWriter(os.Stderr, f))

	return func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}, nil
}
