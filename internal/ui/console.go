// Package ui provides cyberpunk-styled console output for the relay.
// Lines go to Output, which defaults to the colorable stdout.
package ui

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/fatih/color"

	"github.com/hpn/hpn-c-relay/internal/security"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLOR DEFINITIONS - Cyberpunk Theme
// ══════════════════════════════════════════════════════════════════════════════

var (
	// Badge colors
	successBadge = color.New(color.BgGreen, color.FgBlack, color.Bold)
	warningBadge = color.New(color.FgYellow, color.Bold)
	errorBadge   = color.New(color.BgRed, color.FgWhite, color.Bold)
	infoBadge    = color.New(color.FgCyan, color.Bold)
	debugBadge   = color.New(color.FgMagenta)

	// Text colors
	successText = color.New(color.FgGreen, color.Bold)
	warningText = color.New(color.FgYellow)
	errorText   = color.New(color.FgRed)
	infoText    = color.New(color.FgCyan)
	mutedText   = color.New(color.FgHiBlack)
	accentText  = color.New(color.FgMagenta, color.Bold)
	neonBlue    = color.New(color.FgHiCyan, color.Bold)

	// Method colors
	methodPOST   = color.New(color.BgHiMagenta, color.FgBlack, color.Bold)
	methodGET    = color.New(color.BgHiCyan, color.FgBlack, color.Bold)
	methodDELETE = color.New(color.BgHiRed, color.FgBlack, color.Bold)
)

var (
	mu  sync.Mutex
	out io.Writer = color.Output
)

// SetOutput redirects console lines. A nil writer silences them.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	if w == nil {
		w = io.Discard
	}
	out = w
}

// line serializes one console line so concurrent requests never interleave.
func line(fn func(w io.Writer)) {
	mu.Lock()
	defer mu.Unlock()
	fn(out)
}

// ══════════════════════════════════════════════════════════════════════════════
// STATUS BADGES
// ══════════════════════════════════════════════════════════════════════════════

// PrintSwitching logs a credential failover.
// Format: ⚠️ [SWITCHING] ...abcd → ...wxyz
func PrintSwitching(fromKey, toKey string) {
	line(func(w io.Writer) {
		fmt.Fprint(w, "⚠️  ")
		warningBadge.Fprint(w, "[SWITCHING]")
		fmt.Fprint(w, " ")
		mutedText.Fprint(w, security.MaskKeyShort(fromKey))
		warningText.Fprint(w, " → ")
		accentText.Fprintln(w, security.MaskKeyShort(toKey))
	})
}

// PrintAttemptFailed logs one failed attempt.
// Format: 💀 [ATTEMPT FAILED] #2 ...abcd (reason)
func PrintAttemptFailed(attempt int, key string, reason string) {
	line(func(w io.Writer) {
		fmt.Fprint(w, "💀 ")
		errorBadge.Fprint(w, " ATTEMPT FAILED ")
		fmt.Fprint(w, " ")
		errorText.Fprintf(w, "#%d %s", attempt, security.MaskKeyShort(key))
		mutedText.Fprintf(w, " (%s)\n", security.Redact(reason))
	})
}

// PrintCleanupFailed logs a conversation that could not be deleted.
func PrintCleanupFailed(conversationID, key string) {
	line(func(w io.Writer) {
		fmt.Fprint(w, "🧹 ")
		warningBadge.Fprint(w, "[CLEANUP FAILED]")
		fmt.Fprint(w, " ")
		mutedText.Fprintf(w, "conversation %s left on %s\n", conversationID, security.MaskKeyShort(key))
	})
}

// PrintRelayInfo logs general relay information.
// Format: [RELAY] message
func PrintRelayInfo(msg string) {
	line(func(w io.Writer) {
		infoBadge.Fprint(w, "[RELAY]")
		fmt.Fprint(w, " ")
		infoText.Fprintln(w, msg)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// PrintRequest logs a request with styled output.
// Color-codes status, method, and latency for quick visual parsing.
func PrintRequest(method, path string, status int, latency time.Duration, sessionKey string, attempts int) {
	line(func(w io.Writer) {
		mutedText.Fprintf(w, "%s ", time.Now().Format("15:04:05"))

		printMethodBadge(w, method)
		fmt.Fprint(w, " ")

		fmt.Fprintf(w, "%-30s ", truncatePath(path, 30))

		printStatusBadge(w, status)
		fmt.Fprint(w, " ")

		printLatency(w, latency)

		if sessionKey != "" {
			mutedText.Fprintf(w, " session:%s", security.MaskKeyShort(sessionKey))
		}
		if attempts > 1 {
			warningText.Fprintf(w, " attempts:%d", attempts)
		}

		fmt.Fprintln(w)
	})
}

func printMethodBadge(w io.Writer, method string) {
	switch method {
	case "POST":
		methodPOST.Fprintf(w, " %s ", method)
	case "GET":
		methodGET.Fprintf(w, " %s ", method)
	case "DELETE":
		methodDELETE.Fprintf(w, " %s ", method)
	default:
		debugBadge.Fprintf(w, " %s ", method)
	}
}

func printStatusBadge(w io.Writer, status int) {
	switch {
	case status >= 200 && status < 300:
		successBadge.Fprintf(w, " %d ", status)
	case status >= 300 && status < 400:
		infoBadge.Fprintf(w, " %d ", status)
	case status >= 400 && status < 500:
		warningBadge.Fprintf(w, " %d ", status)
	default:
		errorBadge.Fprintf(w, " %d ", status)
	}
}

// printLatency prints latency with color gradient.
// Green: < 2s, Yellow: < 10s, Red: >= 10s. Upstream completions are slow.
func printLatency(w io.Writer, latency time.Duration) {
	ms := latency.Milliseconds()
	latencyStr := fmt.Sprintf("%6dms", ms)

	switch {
	case latency < 2*time.Second:
		successText.Fprint(w, latencyStr)
	case latency < 10*time.Second:
		warningText.Fprint(w, latencyStr)
	default:
		errorText.Fprint(w, latencyStr)
	}
}

// truncatePath truncates a path to maxLen characters.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return path[:maxLen-3] + "..."
}

// ══════════════════════════════════════════════════════════════════════════════
// STARTUP MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// StartupInfo describes the running relay for the startup block.
type StartupInfo struct {
	Address      string
	Sessions     int
	Resolved     int
	RetryCount   int
	ChatDelete   bool
	AuthEnabled  bool
	MetricsPath  string
	HeaderSource bool
}

// PrintStartupInfo prints styled server startup information.
func PrintStartupInfo(info StartupInfo) {
	line(func(w io.Writer) {
		fmt.Fprintln(w)
		infoBadge.Fprint(w, "[RELAY]")
		fmt.Fprint(w, " Server starting on ")
		neonBlue.Fprintf(w, "http://%s\n", info.Address)

		infoBadge.Fprint(w, "[RELAY]")
		fmt.Fprint(w, " Sessions: ")
		if info.Sessions > 0 {
			successText.Fprintf(w, "%d", info.Sessions)
		} else {
			errorText.Fprintf(w, "%d", info.Sessions)
		}
		fmt.Fprintf(w, " (%d with org id)", info.Resolved)
		fmt.Fprint(w, " | Retries: ")
		if info.RetryCount > 0 {
			accentText.Fprintf(w, "%d", info.RetryCount)
		} else {
			accentText.Fprint(w, "auto")
		}
		fmt.Fprint(w, " | Chat delete: ")
		accentText.Fprintln(w, onOff(info.ChatDelete))

		infoBadge.Fprint(w, "[RELAY]")
		fmt.Fprint(w, " API key auth: ")
		accentText.Fprint(w, onOff(info.AuthEnabled))
		fmt.Fprint(w, " | Header sessions: ")
		accentText.Fprintln(w, onOff(info.HeaderSource))

		fmt.Fprintln(w)
		printEndpoints(w, info.MetricsPath)
	})
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// printEndpoints prints the available API endpoints.
func printEndpoints(w io.Writer, metricsPath string) {
	row := func(badge *color.Color, method, path, desc string) {
		mutedText.Fprint(w, "  │ ")
		badge.Fprintf(w, " %-4s ", method)
		fmt.Fprintf(w, " %-21s ", path)
		mutedText.Fprintf(w, "  %-33s", desc)
		mutedText.Fprintln(w, " │")
	}

	mutedText.Fprintln(w, "  ┌─────────────────────────────────────────────────────────────────┐")
	row(methodPOST, "POST", "/v1/chat/completions", "Chat completion (OpenAI-compatible)")
	row(methodGET, "GET", "/v1/models", "List available models")
	row(methodGET, "GET", "/health", "Health check")
	if metricsPath != "" {
		row(methodGET, "GET", metricsPath, "Prometheus metrics")
	}
	mutedText.Fprintln(w, "  └─────────────────────────────────────────────────────────────────┘")
	fmt.Fprintln(w)
}

// PrintShutdown prints a styled shutdown message.
func PrintShutdown() {
	line(func(w io.Writer) {
		fmt.Fprintln(w)
		warningBadge.Fprint(w, "[SHUTDOWN]")
		warningText.Fprintln(w, " Graceful shutdown initiated, draining cleanup queue...")
	})
}

// PrintGoodbye prints a styled goodbye message.
func PrintGoodbye() {
	line(func(w io.Writer) {
		successBadge.Fprint(w, " OK ")
		fmt.Fprint(w, " ")
		successText.Fprintln(w, "Relay stopped. Goodbye! 👋")
	})
}
