package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

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

// TempName maps a final destination onto the path backends write to.
func TempName(outputPath string) string {
	if outputPath == "-" || outputPath == "" {
		return outputPath
	}
	return outputPath + PartSuffix
}

func FragmentPath(tempPath string, index int) string {
	return fmt.Sprintf("%s%s%d", tempPath, FragmentInfix, index)
}

func URLListPath(tempPath string) string {
	return tempPath + URLListSuffix
}

// ParseHeaderArgs turns repeated "Key: Value" flags into ordered headers.
func ParseHeaderArgs(headers []string) Headers {
	result := make(Headers, 0, len(headers))
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			key := strings.TrimSpace(parts[0])
			value := strings.TrimSpace(parts[1])
			result = append(result, Header{Key: key, Value: value})
		}
	}
	return result
}

// IsSocksProxy reports whether proxy uses a SOCKS scheme.
func IsSocksProxy(proxy string) bool {
	return SocksProxyRegex.MatchString(proxy)
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

// DetermineExt returns the lowercase extension of a URL or path, or "unknown_video".
func DetermineExt(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" || len(ext) > 5 || strings.ContainsAny(ext, "/\\") {
		return "unknown_video"
	}
	for _, r := range ext {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return "unknown_video"
		}
	}
	return strings.ToLower(ext)
}

// CleanFragments removes leftover fragment files and URL manifests for outputPath.
func CleanFragments(outputPath string) (int, error) {
	tempPath := TempName(outputPath)
	dir := filepath.Dir(tempPath)
	prefix := filepath.Base(tempPath)
	files, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, file := range files {
		if file.IsDir() || !strings.HasPrefix(file.Name(), prefix) {
			continue
		}
		rest := strings.TrimPrefix(file.Name(), prefix)
		if !FragmentIDRegex.MatchString(rest) && rest != URLListSuffix {
			continue
		}
		if err := os.Remove(filepath.Join(dir, file.Name())); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
