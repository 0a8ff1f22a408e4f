package cookies

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	assert_ "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCookieFile(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cookies.txt")
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600))
	return path
}

func cookieLine(name string) string {
	return strings.Join([]string{".youtube.com", "TRUE", "/", "TRUE", "1999999999", name, "value"}, "\t")
}

func TestValidate_None(t *testing.T) {
	assert := assert_.New(t)

	v := NewYouTubeCookieValidator()
	assert.True(v.Validate(MethodNone, ""))
	assert.True(v.Validate("", ""))
	assert.Empty(v.ValidationErrors())
}

func TestValidate_Browser(t *testing.T) {
	assert := assert_.New(t)

	v := NewYouTubeCookieValidator()
	assert.True(v.Validate("firefox", ""))
	assert.False(v.Validate("netscape-navigator", ""))
	assert.NotEmpty(v.ValidationErrors())
}

func TestValidate_FileMissingPath(t *testing.T) {
	assert := assert_.New(t)

	v := NewYouTubeCookieValidator()
	assert.False(v.Validate(MethodFile, ""))
	assert.Contains(v.ValidationErrors()[0], "path not provided")
}

func TestValidate_FileNotFound(t *testing.T) {
	assert := assert_.New(t)

	v := NewYouTubeCookieValidator()
	assert.False(v.Validate(MethodFile, filepath.Join(t.TempDir(), "nope.txt")))
	assert.Contains(v.ValidationErrors()[0], "not found")
}

func TestValidate_FileWithoutYouTubeCookies(t *testing.T) {
	assert := assert_.New(t)

	path := writeCookieFile(t, strings.Join([]string{".example.com", "TRUE", "/", "TRUE", "0", "SID", "x"}, "\t"))
	v := NewYouTubeCookieValidator()
	assert.False(v.Validate(MethodFile, path))
	assert.Contains(v.ValidationErrors()[0], "does not contain YouTube cookies")
}

func TestValidate_FileMissingRequiredCookies(t *testing.T) {
	assert := assert_.New(t)

	path := writeCookieFile(t, cookieLine("SID"))
	v := NewYouTubeCookieValidator()
	assert.False(v.Validate(MethodFile, path))
	assert.Contains(v.ValidationErrors()[0], "missing required cookies")
}

func TestValidate_FileOK(t *testing.T) {
	assert := assert_.New(t)

	path := writeCookieFile(t, cookieLine("SID"), cookieLine("HSID"), cookieLine("SAPISID"))
	v := NewYouTubeCookieValidator()
	assert.True(v.Validate(MethodFile, path))
	assert.Empty(v.ValidationErrors())
}

func TestValidate_ErrorsResetBetweenCalls(t *testing.T) {
	assert := assert_.New(t)

	v := NewYouTubeCookieValidator()
	assert.False(v.Validate(MethodFile, ""))
	assert.NotEmpty(v.ValidationErrors())
	assert.True(v.Validate(MethodNone, ""))
	assert.Empty(v.ValidationErrors())
}
