// Package cli provides command-line interface setup and configuration
// for mkdocs-translator. It handles flag parsing, command creation,
// configuration management using cobra and viper, and log file setup.
package cli
