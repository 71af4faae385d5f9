package ffmpeg

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/utils"
)

// FormatChoice is the container decision for one invocation.
type FormatChoice struct {
	Format    string
	ADTSToASC bool
	Warning   string
}

// Args renders the choice as ffmpeg output options.
func (c FormatChoice) Args() []string {
	if c.Format == "" {
		return nil
	}
	args := []string{"-f", c.Format}
	if c.ADTSToASC {
		args = append(args, "-bsf:a", "aac_adtstoasc")
	}
	return args
}

// OutputFormat picks the output container. HLS goes to MPEG-TS when piped,
// requested via hls_use_mpegts, or (when that option is unset) live; otherwise
// MP4. RTMP is always FLV. Everything else follows the extension.
func OutputFormat(task *utils.Task, tempPath string, opts utils.Options, needsADTSToASC bool) FormatChoice {
	ext := task.Ext
	if ext == "" {
		ext = "unknown_video"
	}
	switch {
	case task.Protocol == "m3u8" || task.Protocol == "m3u8_native":
		useMpegts := tempPath == "-"
		if !useMpegts {
			if v, set := opts.OptBool("hls_use_mpegts"); set {
				useMpegts = v
			} else {
				useMpegts = task.IsLive
			}
		}
		if useMpegts {
			return FormatChoice{Format: "mpegts"}
		}
		return FormatChoice{Format: "mp4", ADTSToASC: needsADTSToASC && isAACFamily(task.Acodec)}
	case task.Protocol == "rtmp":
		return FormatChoice{Format: "flv"}
	case ext == "mp4" && tempPath == "-":
		return FormatChoice{Format: "mpegts"}
	case ext == "unknown_video":
		ext = utils.DetermineExt(strings.TrimSuffix(tempPath, utils.PartSuffix))
		if ext == "unknown_video" {
			return FormatChoice{Warning: "The video format is unknown and cannot be downloaded by ffmpeg. " +
				"Explicitly set the extension in the filename to attempt download in that format"}
		}
		return FormatChoice{
			Format:  outFormat(ext),
			Warning: fmt.Sprintf("The video format is unknown. Trying to download as %s according to the filename", ext),
		}
	}
	return FormatChoice{Format: outFormat(ext)}
}

func outFormat(ext string) string {
	if f, ok := ExtToOutFormats[ext]; ok {
		return f
	}
	return ext
}

func isAACFamily(acodec string) bool {
	if acodec == "" {
		return true
	}
	switch strings.SplitN(acodec, ".", 2)[0] {
	case "aac", "mp4a":
		return true
	}
	return false
}

// FilenameArgument protects paths that ffmpeg would otherwise read as a
// protocol or an option. "-" stays stdout and URLs pass through.
func FilenameArgument(fn string) string {
	if httpURLRegex.MatchString(fn) || fn == "-" {
		return fn
	}
	return "file:" + fn
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// Plan resolves the complete ffmpeg invocation for task.
func (d *Downloader) Plan(task *utils.Task) (*backend.Plan, error) {
	tempPath := task.TempPath
	if task.ToStdout {
		tempPath = "-"
	}
	if d.opts.Bool("escape_long_names", false) && d.PathTransform != nil && tempPath != "-" {
		tempPath = d.PathTransform(tempPath)
	}
	if tempPath == "" {
		return nil, fmt.Errorf("no destination for %s: %w", task.URL, backend.ErrUnsupportedTask)
	}
	urls := task.InputURLs()
	plan := &backend.Plan{
		ToPipe:     tempPath == "-",
		StdinInput: slices.ContainsFunc(urls, isStdinInput),
		Live:       task.IsLive,
	}
	if plan.StdinInput && d.StdinFeeder == nil {
		return nil, fmt.Errorf("no stdin feeder for input %s: %w", task.URL, backend.ErrUnsupportedTask)
	}
	verbose := d.opts.Bool("verbose", false)

	args := []string{d.exe, "-y"}
	for _, level := range []string{"quiet", "verbose"} {
		if d.opts.Bool(level, false) {
			args = append(args, "-loglevel", level)
			break
		}
	}
	if !verbose {
		args = append(args, "-hide_banner")
	}
	args = append(args, task.FFmpegArgs...)
	if task.Seekable != nil {
		// an explicit hint stops ffmpeg from probing with "Range: bytes=0-"
		seekable := "0"
		if *task.Seekable {
			seekable = "1"
		}
		args = append(args, "-seekable", seekable)
	}

	var headerArgs []string
	if headers := task.Headers.Without("Accept-Encoding"); len(headers) > 0 {
		var block strings.Builder
		for _, h := range headers {
			// ffmpeg warns without the trailing CRLF on each header
			fmt.Fprintf(&block, "%s: %s\r\n", h.Key, h.Value)
		}
		headerArgs = []string{"-headers", block.String()}
	}

	if proxy, ok := d.opts.String("proxy"); ok && proxy != "" {
		if !utils.ProxySchemeRegex.MatchString(proxy) {
			proxy = "http://" + proxy
		}
		if utils.IsSocksProxy(proxy) {
			d.reporter.Warn(fmt.Sprintf("%s does not support SOCKS proxies. Downloading is likely to fail. "+
				"Consider using the native HLS downloader instead.", Descriptor.Name))
		} else {
			plan.Env = append(os.Environ(), "HTTP_PROXY="+proxy, "http_proxy="+proxy)
		}
	}

	if task.Protocol == "ffmpeg" {
		d.reporter.Warn(`Calling this downloader with "ffmpeg" is deprecated. Please fix code.`)
	}
	if task.Protocol == "rtmp" {
		args = append(args, rtmpArgs(task.RTMP)...)
	}

	start, end := task.SectionStart, task.SectionEnd
	for i, u := range urls {
		if headerArgs != nil && httpURLRegex.MatchString(u) {
			args = append(args, headerArgs...)
		}
		if start != 0 {
			args = append(args, "-ss", formatSeconds(start))
		}
		if end != 0 {
			args = append(args, "-t", formatSeconds(end-start))
		}
		args = append(args, task.IndexedInputParams[i+1]...)
		args = append(args, task.InputParams...)
		args = append(args, backend.ConfigArgs(d.opts, Descriptor.Name, d.exe, fmt.Sprintf("_i%d", i+1), "_i")...)
		args = append(args, "-i", u)
	}

	if (start == 0 && end == 0) || !d.opts.Bool("force_keyframes_at_cuts", false) {
		args = append(args, "-c", "copy")
	}

	if len(task.RequestedFormats) > 0 {
		for i, f := range task.RequestedFormats {
			args = append(args, "-map", fmt.Sprintf("%d:%d", i, f.ManifestStreamNumber))
		}
	} else if task.Protocol == "http_dash_segments" {
		args = append(args, "-map", fmt.Sprintf("0:%d", task.ManifestStreamNumber))
	}

	if d.opts.Bool("test", false) {
		args = append(args, "-fs", strconv.Itoa(testFileSize))
	}

	isHLS := task.Protocol == "m3u8" || task.Protocol == "m3u8_native"
	choice := OutputFormat(task, tempPath, d.opts, isHLS && d.needsADTSToASC())
	if choice.Warning != "" {
		d.reporter.Warn(choice.Warning)
	}
	args = append(args, choice.Args()...)

	args = append(args, task.OutputParams...)
	args = append(args, backend.ConfigArgs(d.opts, Descriptor.Name, d.exe, "_o1", "_o", "")...)
	args = append(args, FilenameArgument(tempPath))

	plan.NativeProgress = d.opts.Bool("enable_native_progress", false) && !verbose && !task.IsLive &&
		!plan.ToPipe && !plan.StdinInput
	if plan.NativeProgress {
		args = append(args, "-progress", "pipe:1", "-stats_period", "0.1")
	}
	plan.Args = args
	return plan, nil
}

func isStdinInput(u string) bool {
	return u == "-" || u == "pipe:"
}

func rtmpArgs(info utils.RTMPInfo) []string {
	var args []string
	for _, opt := range []struct{ flag, value string }{
		{"-rtmp_swfverify", info.PlayerURL},
		{"-rtmp_pageurl", info.PageURL},
		{"-rtmp_app", info.App},
		{"-rtmp_playpath", info.PlayPath},
		{"-rtmp_tcurl", info.TCURL},
		{"-rtmp_flashver", info.FlashVersion},
	} {
		if opt.value != "" {
			args = append(args, opt.flag, opt.value)
		}
	}
	if info.Live {
		args = append(args, "-rtmp_live", "live")
	}
	for _, conn := range info.Conn {
		args = append(args, "-rtmp_conn", conn)
	}
	return args
}
