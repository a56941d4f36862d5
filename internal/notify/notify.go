// Package notify shows a desktop notification when a run finishes.
package notify

import (
	"fmt"
	"os/exec"
	"runtime"
	"strings"
)

// Notifier sends desktop notifications through osascript on macOS and
// notify-send on Linux. Other platforms are a no-op.
type Notifier struct {
	Enabled bool
}

// Send shows a notification. It is a no-op when disabled, when n is nil, or
// when the platform has no notification command.
func (n *Notifier) Send(title, message string) error {
	if n == nil || !n.Enabled {
		return nil
	}
	name, args, ok := command(runtime.GOOS, title, message)
	if !ok {
		return nil
	}
	if _, err := exec.LookPath(name); err != nil {
		return nil
	}
	if err := exec.Command(name, args...).Run(); err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	return nil
}

func command(goos, title, message string) (string, []string, bool) {
	switch goos {
	case "darwin":
		return "osascript", []string{"-e", appleScript(title, message)}, true
	case "linux":
		return "notify-send", []string{"--app-name=planloop", title, message}, true
	default:
		return "", nil, false
	}
}

func appleScript(title, message string) string {
	return fmt.Sprintf(`display notification "%s" with title "%s"`, escape(message), escape(title))
}

func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}

// FormatRunComplete builds the notification for a finished run.
func FormatRunComplete(status string, stepsTotal, stepsFailed int, request string) (title, message string) {
	summary := request
	if r := []rune(summary); len(r) > 60 {
		summary = string(r[:57]) + "..."
	}
	switch status {
	case "success":
		title = "✅ planloop run complete"
		message = fmt.Sprintf("%s: %d/%d steps succeeded", summary, stepsTotal-stepsFailed, stepsTotal)
	case "partial_success":
		title = "⚠️ planloop run partially complete"
		message = fmt.Sprintf("%s: %d/%d steps failed", summary, stepsFailed, stepsTotal)
	default:
		title = "❌ planloop run failed"
		message = fmt.Sprintf("%s: %d/%d steps failed", summary, stepsFailed, stepsTotal)
	}
	return title, message
}
