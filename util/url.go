package util

import (
	"errors"
	"net/url"
	"regexp"
	"strings"
)

var (
	ErrNoPlaylistID = errors.New("cannot extract valid playlist id")
)

var playlistIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{13,42}$`)

// ExtractPlaylistID normalizes user input into a bare playlist id. Accepts a
// raw id, a youtube.com/playlist URL, or any YouTube URL carrying a "list"
// query parameter.
func ExtractPlaylistID(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", ErrNoPlaylistID
	}
	if playlistIDPattern.MatchString(s) {
		return s, nil
	}

	parsed, err := url.Parse(s)
	if err != nil {
		return "", err
	}
	host := strings.TrimPrefix(parsed.Hostname(), "www.")
	switch host {
	case "youtube.com", "m.youtube.com", "music.youtube.com", "youtu.be":
	default:
		return "", ErrNoPlaylistID
	}
	id := parsed.Query().Get("list")
	if !playlistIDPattern.MatchString(id) {
		return "", ErrNoPlaylistID
	}
	return id, nil
}
