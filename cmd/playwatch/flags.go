package main

import "time"

// Flag structs decouple cobra from the command logic for testing.

// GlobalFlags holds the persistent flags shared by every command.
type GlobalFlags struct {
	ConfigPath string
}

// APIFlags select a running daemon instead of the local catalog.
type APIFlags struct {
	APIUrl     string
	APITimeout time.Duration
	Token      string
}

type ServeFlags struct {
	ConfigPath    string
	AllowDegraded bool
	Daemonize     bool
	PidFile       string
	LogFile       string
}

type GamesFlags struct {
	ConfigPath string
	Source     string
	Executable string
	Path       string
	API        APIFlags
}

type ProcessesFlags struct {
	ConfigPath string
	All        bool
	JSON       bool
}

type ClassifyFlags struct {
	ConfigPath  string
	Name        string
	Path        string
	CommandLine string
	Description string
	SessionID   int
}

type ConfigInitFlags struct {
	Path  string
	Force bool
}

type LoginFlags struct {
	Username string
	Password string
	API      APIFlags
}

type TokenFlags struct {
	ConfigPath string
	Subject    string
	TTL        time.Duration
}
