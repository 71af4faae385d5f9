package aria2c

import (
	"regexp"

	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/downloaders/external"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

var Descriptor = backend.Descriptor{
	Name:      "aria2c",
	ExeName:   "aria2c",
	ProbeArg:  "-v",
	Protocols: []string{"http", "https", "ftp", "ftps", "dash_frag_urls", "m3u8_frag_urls"},
}

// playlist features aria2c cannot fetch
var unsupportedManifestFeatures = []*regexp.Regexp{
	regexp.MustCompile(`#EXT-X-BYTERANGE`),
}

// SupportsManifest reports whether an HLS playlist can be handed to aria2c as
// a plain list of fragment URLs.
func SupportsManifest(manifest string) bool {
	for _, re := range unsupportedManifestFeatures {
		if re.MatchString(manifest) {
			return false
		}
	}
	return true
}

type Downloader struct {
	exe      string
	opts     utils.Options
	reporter *progress.Reporter
	rpcPort  int
}

func New(exe string, opts utils.Options, reporter *progress.Reporter) backend.ProcessDriver {
	return &external.Driver{
		Backend:  &Downloader{exe: exe, opts: opts, reporter: reporter},
		Options:  opts,
		Reporter: reporter,
	}
}

func (d *Downloader) Descriptor() backend.Descriptor { return Descriptor }
