package aria2c

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/downloaders/external"
	"github.com/tanq16/extdl/internal/fragment"
	"github.com/tanq16/extdl/internal/process"
	"github.com/tanq16/extdl/internal/rpc"
	"github.com/tanq16/extdl/internal/utils"
)

// PrepareTask picks the RPC port when native progress is wanted. aria2c never
// writes to stdout and cannot record live streams, so no other case applies.
func (d *Downloader) PrepareTask(task *utils.Task) *utils.Task {
	d.rpcPort = 0
	if d.opts.Bool("enable_native_progress", false) && !d.opts.Bool("verbose", false) {
		d.rpcPort = rpc.FindAvailablePort()
		log.Debug().Str("op", "aria2c/prepare").Msgf("Using RPC port %d", d.rpcPort)
	}
	return task
}

func (d *Downloader) BuildCommand(task *utils.Task) ([]string, error) {
	cmd := []string{d.exe, "-c",
		"--console-log-level=warn", "--summary-interval=0", "--download-result=hide",
		"--http-accept-gzip=true", "--file-allocation=none", "-x16", "-j16", "-s16"}
	if task.IsFragmented() {
		cmd = append(cmd, "--allow-overwrite=true", "--allow-piece-length-change=true")
	} else {
		cmd = append(cmd, "--min-split-size", "1M")
	}
	cmd = append(cmd, backend.HeaderArgs(task.Headers, "--header")...)
	cmd = append(cmd, backend.Option(d.opts, "--max-overall-download-limit", "ratelimit")...)
	cmd = append(cmd, backend.Option(d.opts, "--interface", "source_address")...)
	if proxy, ok := d.opts.String("proxy"); ok && utils.IsSocksProxy(proxy) {
		d.reporter.Warn(fmt.Sprintf("%s does not support SOCKS proxies. Downloading is likely to fail. "+
			"Consider using the native HLS downloader instead.", Descriptor.Name))
	}
	cmd = append(cmd, backend.Option(d.opts, "--all-proxy", "proxy")...)
	cmd = append(cmd, backend.RetryOption(d.opts, "--max-tries", "retries", "0")...)
	cmd = append(cmd, backend.BoolOption(d.opts, "--check-certificate", "nocheckcertificate", "false", "true", "=")...)
	cmd = append(cmd, backend.BoolOption(d.opts, "--remote-time", "updatetime", "true", "false", "=")...)
	cmd = append(cmd, backend.BoolOption(d.opts, "--show-console-readout", "noprogress", "false", "true", "=")...)
	cmd = append(cmd, backend.ConfigArgs(d.opts, Descriptor.Name, d.exe)...)

	if d.rpcPort != 0 {
		cmd = append(cmd, "--enable-rpc", fmt.Sprintf("--rpc-listen-port=%d", d.rpcPort))
	}

	// aria2c strips leading and trailing spaces from names, so relative paths
	// get a "./" prefix and the directory a trailing separator.
	if dn := filepath.Dir(task.TempPath); dn != "." && dn != "" {
		if !filepath.IsAbs(dn) {
			dn = "." + string(os.PathSeparator) + dn
		}
		cmd = append(cmd, "--dir", dn+string(os.PathSeparator))
	}
	if !task.IsFragmented() {
		cmd = append(cmd, "--out", "."+string(os.PathSeparator)+filepath.Base(task.TempPath))
	}
	cmd = append(cmd, "--auto-file-renaming=false")

	if task.IsFragmented() {
		urlList, err := fragment.WriteURLList(task.TempPath, task.Fragments)
		if err != nil {
			return nil, err
		}
		cmd = append(cmd, "--file-allocation=none", "--uri-selector=inorder", "-i", urlList)
	} else {
		cmd = append(cmd, "--", task.URL)
	}
	return cmd, nil
}

// CallProcess runs aria2c under the RPC monitor when a port was assigned.
func (d *Downloader) CallProcess(ctx context.Context, args []string, task *utils.Task) (process.Result, error) {
	spec := external.DefaultSpec(args, task, d.opts)
	if d.rpcPort == 0 {
		return process.Run(ctx, spec)
	}
	spec.Stdout = process.StreamCapture
	spec.Stderr = process.StreamCapture
	h, err := process.Start(spec)
	if err != nil {
		return process.Result{ExitCode: -1}, err
	}
	count := -1
	if task.IsFragmented() {
		count = len(task.Fragments)
	}
	monitor := &rpc.Monitor{
		Client:        rpc.NewClient(d.rpcPort),
		Reporter:      d.reporter,
		Filename:      task.OutputPath,
		FragmentCount: count,
	}
	return monitor.Run(ctx, h)
}
