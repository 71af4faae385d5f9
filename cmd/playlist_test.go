package cmd

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tanq16/extdl/internal/utils"
)

func TestExpandPlaylist(t *testing.T) {
	playlists := map[string]string{
		"/plain.m3u8":     "#EXTM3U\n#EXTINF:2,\na.ts\n#EXTINF:3,\nb.ts\n#EXT-X-ENDLIST\n",
		"/encrypted.m3u8": "#EXTM3U\n#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n#EXTINF:2,\na.ts\n#EXT-X-ENDLIST\n",
		"/ranged.m3u8":    "#EXTM3U\n#EXTINF:2,\n#EXT-X-BYTERANGE:100@0\nall.ts\n#EXT-X-ENDLIST\n",
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := playlists[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer server.Close()

	tests := []struct {
		path         string
		wantProtocol string
		wantFrags    int
	}{
		{"/plain.m3u8", "m3u8_frag_urls", 2},
		{"/encrypted.m3u8", "m3u8", 0},
		{"/ranged.m3u8", "m3u8", 0},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			task := utils.Task{URL: server.URL + tt.path, Protocol: "m3u8_frag_urls"}
			if err := expandPlaylist(context.Background(), &task, utils.Options{}); err != nil {
				t.Fatalf("expandPlaylist() error = %v", err)
			}
			if task.Protocol != tt.wantProtocol || len(task.Fragments) != tt.wantFrags {
				t.Errorf("got protocol %s with %d fragments, want %s with %d",
					task.Protocol, len(task.Fragments), tt.wantProtocol, tt.wantFrags)
			}
		})
	}
}
