// Package cookies validates YouTube authentication cookies before a batch of
// downloads starts.
package cookies

import (
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/Firdaussi/youtube-downloader/generic"
)

const (
	MethodNone = "none"
	MethodFile = "file"
)

// browserMethods are cookie sources handed straight to the extractor; the
// validator assumes they work if the method name is recognised.
var browserMethods = generic.NewSet("chrome", "chromium", "firefox", "edge", "safari", "brave", "opera")

// requiredCookies are the YouTube session cookies a usable cookies.txt must
// carry.
var requiredCookies = generic.NewSet("SID", "HSID", "SAPISID")

// YouTubeCookieValidator checks that a configured cookie method is usable.
// Not safe for concurrent Validate calls; the orchestrator validates once
// per StartDownloads before any worker runs.
type YouTubeCookieValidator struct {
	err *multierror.Error
	log *zap.SugaredLogger
}

func NewYouTubeCookieValidator() *YouTubeCookieValidator {
	return &YouTubeCookieValidator{
		log: zap.S().Named("cookies"),
	}
}

// Validate returns true if the method/file combination looks usable. Errors
// from the most recent call are available via ValidationErrors.
func (v *YouTubeCookieValidator) Validate(method string, filePath string) bool {
	v.err = nil

	switch {
	case method == "" || method == MethodNone:
		return true
	case method == MethodFile:
		if filePath == "" {
			v.fail("cookie file path not provided")
			return false
		}
		return v.validateCookieFile(filePath)
	case browserMethods.Contains(method):
		// Browser cookie extraction happens inside the extractor; nothing to
		// check up front.
		v.log.Debugw("using browser cookie method", "method", method)
		return true
	default:
		v.fail(fmt.Sprintf("unknown cookie method: %s", method))
		return false
	}
}

// ValidationErrors returns the error messages from the most recent Validate.
func (v *YouTubeCookieValidator) ValidationErrors() []string {
	if v.err == nil {
		return nil
	}
	msgs := make([]string, 0, len(v.err.Errors))
	for _, e := range v.err.Errors {
		msgs = append(msgs, e.Error())
	}
	return msgs
}

func (v *YouTubeCookieValidator) fail(msg string) {
	v.err = multierror.Append(v.err, fmt.Errorf("%s", msg))
	v.log.Warn(msg)
}

func (v *YouTubeCookieValidator) validateCookieFile(filePath string) bool {
	info, err := os.Stat(filePath)
	if err != nil {
		v.fail(fmt.Sprintf("cookie file not found: %s", filePath))
		return false
	}
	if info.Size() == 0 {
		v.fail("cookie file is empty")
		return false
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		v.fail(fmt.Sprintf("could not read cookie file: %v", err))
		return false
	}

	var youtubeLines []string
	for _, line := range strings.Split(string(data), "\n") {
		if strings.Contains(line, "youtube.com") {
			youtubeLines = append(youtubeLines, line)
		}
	}
	if len(youtubeLines) == 0 {
		v.fail("cookie file does not contain YouTube cookies")
		return false
	}

	// Netscape format: 7 tab-separated fields, name is the 6th.
	present := generic.NewSet[string]()
	for _, line := range youtubeLines {
		parts := strings.Split(strings.TrimSpace(line), "\t")
		if len(parts) >= 7 {
			present.Add(parts[5])
		}
	}

	var missing []string
	for _, name := range requiredCookies.ToSlice() {
		if !present.Contains(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		v.fail(fmt.Sprintf("missing required cookies: %s", strings.Join(missing, ", ")))
		return false
	}

	v.log.Debugw("cookie validation successful", "file", filePath, "cookies", len(youtubeLines))
	return true
}
