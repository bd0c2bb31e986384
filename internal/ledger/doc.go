// Package ledger persists a content fingerprint per translated file so
// unchanged files are not re-translated. A record exists for a path iff
// that path was successfully translated since the ledger was last cleared.
package ledger
