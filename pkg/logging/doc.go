// Package logging provides a structured logging system for ralphctl that supports both
// CLI and TUI execution modes with unified log handling and flexible output formatting.
//
// This package implements a dual-mode logging architecture that can operate in either
// CLI mode (direct output) or TUI mode (channel-based message passing), enabling
// consistent logging behavior across different user interface paradigms.
//
// # Architecture
//
// The logging system is built around these core concepts:
//
// ## Log Levels
//   - **Debug**: Detailed information for debugging and development
//   - **Info**: General informational messages about application operation
//   - **Warn**: Warning messages that indicate potential issues
//   - **Error**: Error messages for failures and exceptional conditions
//
// ## Execution Modes
//   - **CLI Mode**: Direct logging to specified output writer (stdout/stderr)
//   - **TUI Mode**: Logging via buffered channel for consumption by terminal UI
//
// ## Structured Logging
// All log entries include:
//   - Timestamp with nanosecond precision
//   - Log level (Debug, Info, Warn, Error)
//   - Subsystem identifier for categorization
//   - Message content with optional formatting
//   - Optional error information
//   - Structured attributes using slog.Attr
//
// # Dual-Mode Operation
//
// ## CLI Mode
// When initialized for CLI mode:
//   - Logs are written directly to the specified output writer
//   - Uses structured text format via slog.TextHandler
//   - Respects configured log level filtering
//   - Suitable for command-line tools and automation
//
// ## TUI Mode
// When initialized for TUI mode:
//   - Logs are sent to a buffered channel for UI consumption
//   - TUI component reads from channel and handles display/filtering
//   - Fallback to stderr if channel is full or unavailable
//   - Enables rich terminal UI with interactive log viewing
//
// # Usage Examples
//
// ## CLI Mode Initialization
//
//	import "github.com/ralphctl/coordinator/pkg/logging"
//
//	// Initialize for CLI with Info level logging to stdout
//	logging.InitForCLI(logging.LevelInfo, os.Stdout)
//
//	// Log messages
//	logging.Info("Bootstrap", "Application starting up")
//	logging.Debug("Pipeline", "Resolved install tool %s for provider %s", tool, provider)
//	logging.Warn("Driver", "Sandbox create retried once for provider %s", provider)
//	logging.Error("Iteration", err, "Agent server returned non-2xx from chat endpoint")
//
// ## TUI Mode Initialization
//
//	import "github.com/ralphctl/coordinator/pkg/logging"
//
//	// Initialize for TUI with Debug level
//	logChannel := logging.Initcommon("tui", logging.LevelDebug, nil, 0)
//
//	// Start goroutine to consume log entries
//	go func() {
//	    for entry := range logChannel {
//	        // Process log entry in TUI
//	        displayLogEntry(entry)
//	    }
//	}()
//
//	// Log messages (same API as CLI mode)
//	logging.Info("TUI", "Terminal interface initialized")
//	logging.Debug("Input", "User pressed key: %c", key)
//
// ## Advanced Initialization
//
//	// Custom channel buffer size for TUI mode
//	logChannel := logging.Initcommon("tui", logging.LevelInfo, os.Stdout, 4096)
//
//	// CLI mode with custom writer
//	logFile, _ := os.OpenFile("app.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
//	logging.InitForCLI(logging.LevelDebug, logFile)
//
// # Log Entry Structure
//
// Each log entry contains comprehensive information:
//
//	type LogEntry struct {
//	    Timestamp  time.Time   // When the log entry was created
//	    Level      LogLevel    // Severity level
//	    Subsystem  string      // Component that generated the log
//	    Message    string      // Log message content
//	    Err        error       // Optional associated error
//	    Attributes []slog.Attr // Additional structured data
//	}
//
// # Subsystem Organization
//
// Logs are organized by subsystem to enable filtering and categorization:
//
//   - **Serve**: Server startup and shutdown in the serve command
//   - **Coordinator**: Run lifecycle and aggregate-status computation
//   - **Driver**, **Driver.docker**: Sandbox driver dispatch and the Docker driver
//   - **Pipeline**: Preparation pipeline step execution
//   - **Agent**, **Agent.sse**: Agent server HTTP client and its SSE subscription
//   - **Iteration**: Iteration engine prompt/response/marker handling
//   - **EventBus**: Event publish/subscribe/replay
//   - **Janitor**: Stale-run sweep operations
//   - **Server**: Control API handler operations
//   - **Config**, **ProviderTable**: Configuration and provider image table loading
//   - **AUDIT**: Audit events written by Audit
//
// # Integration with slog
//
// The logging system integrates with Go's standard slog package:
//   - Uses slog.Handler implementations for output formatting
//   - Converts custom LogLevel to slog.Level for compatibility
//   - Supports slog.Attr for structured logging attributes
//   - Provides fallback to global slog logger when needed
//
// # Error Handling and Reliability
//
// The logging system handles various failure scenarios:
//
// ## Channel Overflow (TUI Mode)
//   - Non-blocking channel sends with fallback to stderr
//   - Buffer size configuration to prevent overflow
//   - Critical error messages when log delivery fails
//
// ## Initialization Failures
//   - Log calls made before Initcommon or InitForCLI has run are dropped
//     silently
//   - In TUI mode without a channel, messages are written to stderr instead
//
// ## Mode Switching
//   - Calling Initcommon again replaces the logger; in TUI mode it creates a
//     new channel, and the previous channel is not closed
//
// # Performance Characteristics
//
// ## CLI Mode
//   - Direct write to output with minimal overhead
//   - Level filtering at handler level for efficiency
//   - No memory allocation for filtered-out messages
//
// ## TUI Mode
//   - Buffered channel prevents UI blocking
//   - Configurable buffer size (default 2048 entries)
//   - Non-blocking sends with overflow handling
//   - Memory-efficient message passing
//
// # Thread Safety
//
//   - Logging calls from multiple goroutines are safe once the logger is
//     initialized: slog handlers and channel sends are concurrency-safe
//   - Initcommon writes the package-level logger state without locking, so a
//     call to it is not synchronized with logging calls running at the same time
//
// # Cleanup and Shutdown
//
// The package has no function that closes the TUI channel: it stays open for
// the life of the process, and a goroutine ranging over it does not end on
// its own.
//
// The logging package provides a robust foundation for ralphctl's diagnostic
// and monitoring capabilities across both interactive and non-interactive
// execution modes.
package logging
