package fragment

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/utils"
)

var attributeRegex = regexp.MustCompile(`([A-Z0-9-]+)=("[^"]*"|[^",]*)`)

// Playlist is an HLS media playlist flattened into fragments. An EXT-X-MAP
// init segment, when present, becomes fragment 0.
type Playlist struct {
	URL       string
	Raw       string
	Fragments []utils.Fragment
}

// FetchPlaylist downloads an HLS playlist. A master playlist is followed to
// its first variant.
func FetchPlaylist(ctx context.Context, client *utils.HTTPClient, manifestURL string) (*Playlist, error) {
	for depth := 0; depth < 3; depth++ {
		content, err := getPlaylist(ctx, client, manifestURL)
		if err != nil {
			return nil, err
		}
		variant, err := firstVariant(content, manifestURL)
		if err != nil {
			return nil, err
		}
		if variant == "" {
			frags, err := ParsePlaylist(content, manifestURL)
			if err != nil {
				return nil, err
			}
			return &Playlist{URL: manifestURL, Raw: content, Fragments: frags}, nil
		}
		log.Debug().Str("op", "fragment/playlist").Msgf("Master playlist, following %s", variant)
		manifestURL = variant
	}
	return nil, fmt.Errorf("too many nested master playlists at %s", manifestURL)
}

func getPlaylist(ctx context.Context, client *utils.HTTPClient, manifestURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, manifestURL, nil)
	if err != nil {
		return "", fmt.Errorf("error creating request: %v", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("error fetching m3u8 manifest: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned status code %d", resp.StatusCode)
	}
	content, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("error reading manifest content: %v", err)
	}
	return string(content), nil
}

func firstVariant(content, manifestURL string) (string, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return "", fmt.Errorf("error parsing manifest URL: %v", err)
	}
	scanner := bufio.NewScanner(strings.NewReader(content))
	streamInf := false
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			streamInf = true
		case streamInf && line != "" && !strings.HasPrefix(line, "#"):
			return resolveURL(base, line)
		}
	}
	return "", scanner.Err()
}

// ParsePlaylist lists the segments of a media playlist in order, resolving
// relative URIs against manifestURL. Segments under an EXT-X-KEY carry its
// method, key URI and IV in Fragment.Decrypt; without an explicit IV the
// media sequence number is used.
func ParsePlaylist(content, manifestURL string) ([]utils.Fragment, error) {
	base, err := url.Parse(manifestURL)
	if err != nil {
		return nil, fmt.Errorf("error parsing manifest URL: %v", err)
	}
	var frags []utils.Fragment
	var key map[string]string
	var sequence int64
	add := func(u string, duration float64) {
		frag := utils.Fragment{Index: len(frags), URL: u, Duration: duration}
		if key != nil {
			frag.Decrypt = maps.Clone(key)
			if frag.Decrypt["iv"] == "" {
				frag.Decrypt["iv"] = fmt.Sprintf("0x%032x", sequence)
			}
		}
		frags = append(frags, frag)
	}
	var duration float64
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
		case strings.HasPrefix(line, "#EXT-X-MEDIA-SEQUENCE:"):
			sequence, _ = strconv.ParseInt(strings.TrimSpace(strings.TrimPrefix(line, "#EXT-X-MEDIA-SEQUENCE:")), 10, 64)
		case strings.HasPrefix(line, "#EXT-X-KEY:"):
			attrs := attributes(line)
			method := attrs["METHOD"]
			if method == "" || method == "NONE" {
				key = nil
				continue
			}
			key = map[string]string{"method": method, "iv": strings.ToLower(attrs["IV"])}
			if uri := attrs["URI"]; uri != "" {
				u, err := resolveURL(base, uri)
				if err != nil {
					return nil, fmt.Errorf("error resolving key URL: %v", err)
				}
				key["uri"] = u
			}
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			uri := attributes(line)["URI"]
			if uri == "" {
				continue
			}
			u, err := resolveURL(base, uri)
			if err != nil {
				return nil, fmt.Errorf("error resolving init segment URL: %v", err)
			}
			add(u, 0)
		case strings.HasPrefix(line, "#EXTINF:"):
			value, _, _ := strings.Cut(strings.TrimPrefix(line, "#EXTINF:"), ",")
			duration, _ = strconv.ParseFloat(strings.TrimSpace(value), 64)
		case strings.HasPrefix(line, "#"):
		default:
			u, err := resolveURL(base, line)
			if err != nil {
				return nil, fmt.Errorf("error resolving URL: %v", err)
			}
			add(u, duration)
			duration = 0
			sequence++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error scanning m3u8 content: %v", err)
	}
	return frags, nil
}

// EncryptionMethod returns the first encryption method found on frags, or ""
// when every fragment is in the clear.
func EncryptionMethod(frags []utils.Fragment) string {
	for _, f := range frags {
		if m := f.Decrypt["method"]; m != "" && m != "NONE" {
			return m
		}
	}
	return ""
}

// attributes parses the attribute list of a tag line. Quoted values are unquoted.
func attributes(line string) map[string]string {
	_, list, _ := strings.Cut(line, ":")
	attrs := map[string]string{}
	for _, m := range attributeRegex.FindAllStringSubmatch(list, -1) {
		attrs[m[1]] = strings.Trim(m[2], `"`)
	}
	return attrs
}

func resolveURL(base *url.URL, ref string) (string, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref, nil
	}
	rel, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(rel).String(), nil
}
