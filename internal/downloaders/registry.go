package downloaders

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/downloaders/aria2c"
	"github.com/tanq16/extdl/internal/downloaders/ffmpeg"
	"github.com/tanq16/extdl/internal/downloaders/http"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

// Constructor builds a backend for one task around a probed executable path.
type Constructor func(exe string, opts utils.Options, reporter *progress.Reporter) backend.ProcessDriver

type Entry struct {
	Descriptor backend.Descriptor
	New        Constructor
}

// Registry lists every backend in selection order.
var Registry = []Entry{
	{aria2c.Descriptor, aria2c.New},
	{http.CurlDescriptor, http.NewCurl},
	{http.WgetDescriptor, http.NewWget},
	{http.AxelDescriptor, http.NewAxel},
	{http.HttpieDescriptor, http.NewHttpie},
	{ffmpeg.Descriptor, ffmpeg.New},
}

// Lookup finds an entry by backend name or executable name.
func Lookup(name string) (Entry, bool) {
	for _, e := range Registry {
		if e.Descriptor.Name == name || e.Descriptor.ExeName == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Candidates returns the entries to try for task. A non-empty preferred list
// restricts and orders the search; otherwise the whole registry is used.
func Candidates(preferred []string) ([]Entry, error) {
	if len(preferred) == 0 {
		return Registry, nil
	}
	entries := make([]Entry, 0, len(preferred))
	for _, name := range preferred {
		e, ok := Lookup(name)
		if !ok {
			return nil, fmt.Errorf("unknown external downloader %q", name)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Selection is a backend that passed both checks for a task.
type Selection struct {
	Entry
	Exe string
}

// Select returns the first entry that supports task and whose executable is
// available. paths overrides the executable location per backend name.
func Select(entries []Entry, task *utils.Task, paths map[string]string) (Selection, error) {
	for _, e := range entries {
		if !e.Descriptor.Supports(task) {
			log.Debug().Str("op", "downloaders/select").Msgf("%s does not support %s", e.Descriptor.Name, task.Protocol)
			continue
		}
		exe, err := e.Descriptor.Available(paths[e.Descriptor.Name])
		if err != nil {
			log.Debug().Str("op", "downloaders/select").Err(err).Msg("Skipping backend")
			continue
		}
		return Selection{Entry: e, Exe: exe}, nil
	}
	return Selection{}, fmt.Errorf("no external downloader for %s (%s): %w", task.URL, task.Protocol, backend.ErrUnsupportedTask)
}
