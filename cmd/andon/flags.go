package main

import "time"

// GlobalFlags holds persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// ServeFlags Flag structs to decouple cobra from logic for testing.
type ServeFlags struct {
	Seed bool
}

type ShiftFlags struct {
	At string // RFC3339 instant or HH:MM today
}

type ParseFlags struct {
	Map []string // Category=position overrides
}

type PollFlags struct {
	Timeout time.Duration
	Map     []string
}

type StatusFlags struct {
	APIURL   string
	Insecure bool
}
