package utils

import (
	"fmt"
	"math/rand/v2"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
)

var filenameRegex = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

func GetRandomUserAgent() string {
	return userAgents[rand.IntN(len(userAgents))]
}

func RenewOutputPath(outputPath string) string {
	dir := filepath.Dir(outputPath)
	base := filepath.Base(outputPath)
	ext := filepath.Ext(base)
	name := base[:len(base)-len(ext)]
	index := 1
	for {
		outputPath = filepath.Join(dir, fmt.Sprintf("%s-(%d)%s", name, index, ext))
		if _, err := os.Stat(outputPath); os.IsNotExist(err) {
			return outputPath
		}
		index++
	}
}

func ParseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result[key] = value
		}
	}
	return result
}

// FileNameFromDisposition extracts a sanitized filename from a
// Content-Disposition header, or returns "" when none is present.
func FileNameFromDisposition(contentDisposition string) string {
	if contentDisposition == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(contentDisposition)
	if err != nil {
		return ""
	}
	if fn, ok := params["filename"]; ok && fn != "" {
		return filenameRegex.ReplaceAllString(fn, "_")
	}
	if fn, ok := params["filename*"]; ok && strings.HasPrefix(fn, "UTF-8''") {
		unescaped, err := url.PathUnescape(strings.TrimPrefix(fn, "UTF-8''"))
		if err == nil && unescaped != "" {
			return filenameRegex.ReplaceAllString(unescaped, "_")
		}
	}
	return ""
}

// FileNameFromURL returns the last path segment of link without the query.
func FileNameFromURL(link string) string {
	parsedURL, err := url.Parse(link)
	if err != nil {
		return "download"
	}
	name := path.Base(parsedURL.Path)
	if name == "" || name == "/" || name == "." {
		return "download"
	}
	return name
}

func FormatBytes(bytes uint64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := uint64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

// FormatSpeed renders a bytes-per-second rate.
func FormatSpeed(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "0 B/s"
	}
	return FormatBytes(uint64(bytesPerSecond)) + "/s"
}

// ResolveOutputPath picks where a download lands: the explicit path, else
// the server-suggested name, else the last URL segment. An existing file
// of the same size is an error; any other existing file gets a fresh name.
func ResolveOutputPath(outputPath, suggested, link string, size int64) (string, error) {
	if outputPath == "" {
		outputPath = suggested
	}
	if outputPath == "" {
		outputPath = FileNameFromURL(link)
	}
	if existing, err := os.Stat(outputPath); err == nil {
		if size > 0 && existing.Size() == size {
			return "", fmt.Errorf("file already exists with same size: %s", outputPath)
		}
		return RenewOutputPath(outputPath), nil
	}
	return outputPath, nil
}
