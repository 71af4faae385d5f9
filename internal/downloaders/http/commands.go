package http

import (
	"context"

	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/downloaders/external"
	"github.com/tanq16/extdl/internal/process"
	"github.com/tanq16/extdl/internal/utils"
)

type CurlDownloader struct{ fetcher }

func (d *CurlDownloader) Descriptor() backend.Descriptor { return CurlDescriptor }

func (d *CurlDownloader) BuildCommand(task *utils.Task) ([]string, error) {
	cmd := []string{d.exe, "--location", "-o", task.TempPath, "--compressed"}
	cmd = append(cmd, backend.HeaderArgs(task.Headers, "--header")...)
	cmd = append(cmd, backend.BoolOption(d.opts, "--continue-at", "continuedl", "-", "0", "")...)
	cmd = append(cmd, backend.ValuelessOption(d.opts, "--silent", "noprogress", true)...)
	cmd = append(cmd, backend.ValuelessOption(d.opts, "--verbose", "verbose", true)...)
	cmd = append(cmd, backend.Option(d.opts, "--limit-rate", "ratelimit")...)
	cmd = append(cmd, backend.RetryOption(d.opts, "--retry", "retries", "2147483647")...)
	cmd = append(cmd, backend.Option(d.opts, "--max-filesize", "max_filesize")...)
	cmd = append(cmd, backend.Option(d.opts, "--interface", "source_address")...)
	cmd = append(cmd, backend.Option(d.opts, "--proxy", "proxy")...)
	cmd = append(cmd, backend.ValuelessOption(d.opts, "--insecure", "nocheckcertificate", true)...)
	cmd = append(cmd, backend.ConfigArgs(d.opts, CurlDescriptor.Name, d.exe)...)
	cmd = append(cmd, "--", task.URL)
	return cmd, nil
}

// CallProcess leaves stderr on the terminal: curl draws its own progress meter there.
func (d *CurlDownloader) CallProcess(ctx context.Context, args []string, task *utils.Task) (process.Result, error) {
	spec := external.DefaultSpec(args, task, d.opts)
	spec.Stderr = process.StreamInherit
	return process.Run(ctx, spec)
}

type WgetDownloader struct{ fetcher }

func (d *WgetDownloader) Descriptor() backend.Descriptor { return WgetDescriptor }

func (d *WgetDownloader) BuildCommand(task *utils.Task) ([]string, error) {
	cmd := []string{d.exe, "-O", task.TempPath, "-nv", "--no-cookies", "--compression=auto"}
	cmd = append(cmd, backend.HeaderArgs(task.Headers, "--header")...)
	cmd = append(cmd, backend.Option(d.opts, "--limit-rate", "ratelimit")...)
	cmd = append(cmd, backend.RetryOption(d.opts, "--tries", "retries", "0")...)
	cmd = append(cmd, backend.Option(d.opts, "--bind-address", "source_address")...)
	if proxy, ok := d.opts.String("proxy"); ok && proxy != "" {
		for _, v := range []string{"http_proxy", "https_proxy"} {
			cmd = append(cmd, "--execute", v+"="+proxy)
		}
	}
	cmd = append(cmd, backend.ValuelessOption(d.opts, "--no-check-certificate", "nocheckcertificate", true)...)
	cmd = append(cmd, backend.ConfigArgs(d.opts, WgetDescriptor.Name, d.exe)...)
	cmd = append(cmd, "--", task.URL)
	return cmd, nil
}

type AxelDownloader struct{ fetcher }

func (d *AxelDownloader) Descriptor() backend.Descriptor { return AxelDescriptor }

func (d *AxelDownloader) BuildCommand(task *utils.Task) ([]string, error) {
	cmd := []string{d.exe, "-o", task.TempPath}
	cmd = append(cmd, backend.HeaderArgs(task.Headers, "-H")...)
	cmd = append(cmd, backend.ConfigArgs(d.opts, AxelDescriptor.Name, d.exe)...)
	cmd = append(cmd, "--", task.URL)
	return cmd, nil
}

type HttpieDownloader struct{ fetcher }

func (d *HttpieDownloader) Descriptor() backend.Descriptor { return HttpieDescriptor }

// httpie takes headers as bare "Key:Value" request items after the URL.
func (d *HttpieDownloader) BuildCommand(task *utils.Task) ([]string, error) {
	cmd := []string{d.exe, "--download", "--output", task.TempPath, task.URL}
	for _, h := range task.Headers {
		cmd = append(cmd, h.Key+":"+h.Value)
	}
	return cmd, nil
}
