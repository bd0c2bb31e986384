package internal

// Version is the current mkdocs-translator release.
const Version = "0.1.0"
