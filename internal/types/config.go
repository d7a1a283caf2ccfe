package types

// RunMode is the mode the application process runs in
type RunMode string

const (
	ModeLocal RunMode = "local"
	ModeProd  RunMode = "prod"
)

// LogLevel is the level of logging emitted by the application
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)
