package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// QueryFlags holds the status API connection flags.
type QueryFlags struct {
	APIUrl     string
	APITimeout time.Duration
	JSON       bool
}

// HistoryFlags holds flags for the history command.
type HistoryFlags struct {
	Limit int
}

// KeyFlags holds flags for key generation.
type KeyFlags struct {
	CacheDir string
}
