package http

import (
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/downloaders/external"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

var (
	CurlDescriptor = backend.Descriptor{
		Name:      "curl",
		ExeName:   "curl",
		ProbeArg:  "-V",
		Protocols: backend.DefaultProtocols,
	}
	WgetDescriptor = backend.Descriptor{
		Name:      "wget",
		ExeName:   "wget",
		ProbeArg:  "--version",
		Protocols: backend.DefaultProtocols,
	}
	AxelDescriptor = backend.Descriptor{
		Name:      "axel",
		ExeName:   "axel",
		ProbeArg:  "-V",
		Protocols: backend.DefaultProtocols,
	}
	HttpieDescriptor = backend.Descriptor{
		Name:      "httpie",
		ExeName:   "http",
		ProbeArg:  "--version",
		Protocols: backend.DefaultProtocols,
	}
)

// fetcher holds what every generic HTTP fetcher needs to build its command.
type fetcher struct {
	exe      string
	opts     utils.Options
	reporter *progress.Reporter
}

func newDriver(b external.Backend, opts utils.Options, reporter *progress.Reporter) backend.ProcessDriver {
	return &external.Driver{
		Backend:  b,
		Options:  opts,
		Reporter: reporter,
	}
}

func NewCurl(exe string, opts utils.Options, reporter *progress.Reporter) backend.ProcessDriver {
	return newDriver(&CurlDownloader{fetcher{exe, opts, reporter}}, opts, reporter)
}

func NewWget(exe string, opts utils.Options, reporter *progress.Reporter) backend.ProcessDriver {
	return newDriver(&WgetDownloader{fetcher{exe, opts, reporter}}, opts, reporter)
}

func NewAxel(exe string, opts utils.Options, reporter *progress.Reporter) backend.ProcessDriver {
	return newDriver(&AxelDownloader{fetcher{exe, opts, reporter}}, opts, reporter)
}

func NewHttpie(exe string, opts utils.Options, reporter *progress.Reporter) backend.ProcessDriver {
	return newDriver(&HttpieDownloader{fetcher{exe, opts, reporter}}, opts, reporter)
}
