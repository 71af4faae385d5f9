package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/downloaders/aria2c"
	"github.com/tanq16/extdl/internal/fragment"
	"github.com/tanq16/extdl/internal/utils"
)

// expandPlaylist turns an m3u8_frag_urls task into explicit fragments. When
// aria2c cannot fetch the playlist's segments, or the segments are encrypted,
// the task is handed to ffmpeg as plain m3u8 instead.
func expandPlaylist(ctx context.Context, task *utils.Task, opts utils.Options) error {
	if task.Protocol != "m3u8_frag_urls" || task.IsFragmented() {
		return nil
	}
	cfg := utils.HTTPClientConfig{Headers: task.Headers}
	if proxy, ok := opts.String("proxy"); ok {
		cfg.ProxyURL = proxy
	}
	client := utils.NewHTTPClient(cfg)
	defer client.CloseIdleConnections()
	playlist, err := fragment.FetchPlaylist(ctx, client, task.URL)
	if err != nil {
		return fmt.Errorf("error resolving playlist: %v", err)
	}
	if !aria2c.SupportsManifest(playlist.Raw) {
		log.Warn().Str("op", "cmd/playlist").Msg("Playlist uses byte ranges, downloading with ffmpeg instead")
		task.Protocol = "m3u8"
		return nil
	}
	if method := fragment.EncryptionMethod(playlist.Fragments); method != "" {
		log.Warn().Str("op", "cmd/playlist").Msgf("Playlist is %s encrypted, downloading with ffmpeg instead", method)
		task.Protocol = "m3u8"
		return nil
	}
	task.URL = playlist.URL
	task.Fragments = playlist.Fragments
	for _, f := range playlist.Fragments {
		task.Duration += f.Duration
	}
	log.Info().Str("op", "cmd/playlist").Msgf("Found %d fragments", len(task.Fragments))
	return nil
}
