// Package dispatch fans eligible files out across a fixed pool of workers.
// Files are statically assigned round-robin at dispatch time; each worker
// processes its assignment strictly in order and a file's failure never
// aborts the run.
package dispatch
