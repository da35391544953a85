package sandbox

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	positionSuffix = regexp.MustCompile(`\s*at\s+\S+:\d+:\d+\(\d+\)`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

func timeoutMessage(limit time.Duration) string {
	return fmt.Sprintf("Code execution timed out after %s. Please check for infinite loops.", humanSeconds(limit))
}

func memoryMessage(limitBytes int64) string {
	return fmt.Sprintf("Code execution exceeded the %dMB memory limit. Please optimize your code.", limitBytes/(1024*1024))
}

func unsupportedMessage(lang string) string {
	return fmt.Sprintf("Language '%s' is not supported yet. Supported languages: %s.",
		lang, strings.Join(SupportedLanguages(), ", "))
}

func syntaxMessage(msg string) string {
	return cleanMessage(msg) + "\n\nTip: Check for missing brackets, quotes, or semicolons."
}

func runtimeMessage(msg string) string {
	msg = cleanMessage(msg)
	switch {
	case strings.Contains(msg, "ReferenceError"):
		msg += "\n\nTip: Make sure all variables are declared before use."
	case strings.Contains(msg, "TypeError"):
		msg += "\n\nTip: Check that you're calling methods on the correct data types."
	case strings.Contains(msg, "RangeError"):
		msg += "\n\nTip: Check for runaway recursion or invalid array lengths."
	}
	return msg
}

// cleanMessage strips interpreter positions and collapses whitespace.
func cleanMessage(msg string) string {
	msg = positionSuffix.ReplaceAllString(msg, "")
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(msg, " "))
}

func humanSeconds(d time.Duration) string {
	s := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	if s == "1" {
		return "1 second"
	}
	return s + " seconds"
}
