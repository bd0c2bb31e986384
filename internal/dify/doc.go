// Package dify implements the client for the Dify chat-messages API used
// to translate document text. A single logical translation may span several
// network turns: when the service truncates a response at its per-turn
// completion-token ceiling, the client continues the same conversation and
// stitches the turns together with overlap removal.
package dify
