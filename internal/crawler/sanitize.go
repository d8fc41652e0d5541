package crawler

import "strings"

// SanitizeTitle makes a poem title safe to use as a directory name and log
// key by replacing the path separator '/' with '&'.
func SanitizeTitle(title string) string {
	return strings.ReplaceAll(title, "/", "&")
}
