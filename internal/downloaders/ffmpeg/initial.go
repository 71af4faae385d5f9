package ffmpeg

import (
	"context"
	"io"
	"regexp"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/downloaders/external"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

var Descriptor = backend.Descriptor{
	Name:     "ffmpeg",
	ExeName:  "ffmpeg",
	ProbeArg: "-version",
	Protocols: []string{"http", "https", "ftp", "ftps", "m3u8", "m3u8_native",
		"rtsp", "rtmp", "rtmp_ffmpeg", "mms", "http_dash_segments"},
	Features: []backend.Feature{backend.FeatureToStdout, backend.FeatureMultipleFormats},
}

// ExtToOutFormats maps file extensions whose ffmpeg muxer has a different name.
var ExtToOutFormats = map[string]string{
	"aac":  "adts",
	"flac": "flac",
	"m4a":  "ipod",
	"mka":  "matroska",
	"mkv":  "matroska",
	"mpg":  "mpeg",
	"ogv":  "ogg",
	"ts":   "mpegts",
	"wma":  "asf",
	"wmv":  "asf",
	"weba": "webm",
	"vtt":  "webvtt",
}

const testFileSize = 10241

var (
	versionRegex = regexp.MustCompile(`version\s+n?(\d+)(?:\.\d+)*`)
	httpURLRegex = regexp.MustCompile(`^https?://`)
)

// Downloader builds and runs ffmpeg invocations.
type Downloader struct {
	exe      string
	opts     utils.Options
	reporter *progress.Reporter

	// PathTransform shortens over-long temp names when escape_long_names is set.
	PathTransform func(string) string
	// StdinFeeder writes the media stream for a "-" or "pipe:" input once the
	// process has started. Its writer is closed when it returns.
	StdinFeeder func(ctx context.Context, w io.Writer) error

	probeOnce sync.Once
	needsASC  *bool
	plan      *backend.Plan
}

// Driver runs ffmpeg through the generic external driver and can also
// describe the invocation up front.
type Driver struct {
	*external.Driver
	planner *Downloader
}

func New(exe string, opts utils.Options, reporter *progress.Reporter) backend.ProcessDriver {
	return NewDriver(exe, opts, reporter)
}

func NewDriver(exe string, opts utils.Options, reporter *progress.Reporter) *Driver {
	d := &Downloader{exe: exe, opts: opts, reporter: reporter}
	return &Driver{
		Driver: &external.Driver{
			Backend:  d,
			Options:  opts,
			Reporter: reporter,
		},
		planner: d,
	}
}

func (d *Driver) Plan(task *utils.Task) (*backend.Plan, error) {
	return d.planner.Plan(task)
}

func (d *Downloader) Descriptor() backend.Descriptor { return Descriptor }

// NeedsADTSToASC reports whether an ffmpeg build, identified by its -version
// output, needs the aac_adtstoasc filter when muxing HLS into MP4. Builds
// older than 10 and builds without a parseable release number need it.
func NeedsADTSToASC(versionOutput []byte) bool {
	m := versionRegex.FindSubmatch(versionOutput)
	if m == nil {
		return true
	}
	major, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return true
	}
	return major < 10
}

func (d *Downloader) needsADTSToASC() bool {
	d.probeOnce.Do(func() {
		if d.needsASC != nil {
			return
		}
		out, err := backend.Probe(d.exe, Descriptor.ProbeArg)
		needs := err != nil || NeedsADTSToASC(out)
		if err != nil {
			log.Debug().Str("op", "ffmpeg/version").Err(err).Msg("Version probe failed")
		}
		d.needsASC = &needs
	})
	return *d.needsASC
}
