package scheduler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/extdl/internal/backend"
	"github.com/tanq16/extdl/internal/downloaders"
	"github.com/tanq16/extdl/internal/history"
	"github.com/tanq16/extdl/internal/progress"
	"github.com/tanq16/extdl/internal/utils"
)

// Config is everything a run needs besides the tasks.
type Config struct {
	Workers   int
	Options   utils.Options
	Preferred []string
	Paths     map[string]string
	Sinks     []progress.Sink
	Display   Display
	History   Recorder
}

// Recorder persists task outcomes; history.Store implements it.
type Recorder interface {
	Add(ctx context.Context, rec history.Record) (int64, error)
}

// Display is the terminal side of a run; output.Manager implements it.
type Display interface {
	progress.Sink
	Register(taskID, name string)
	SetMessage(taskID, message string)
	Warn(taskID, msg string)
	Complete(taskID, message string)
	ReportError(taskID string, err error)
}

// Run downloads every task with a pool of workers and returns the joined
// errors of the failed ones.
func Run(ctx context.Context, tasks []utils.Task, cfg Config) error {
	entries, err := downloaders.Candidates(cfg.Preferred)
	if err != nil {
		return err
	}
	workers := max(1, cfg.Workers)
	taskCh := make(chan *utils.Task, len(tasks))
	for i := range tasks {
		if cfg.Display != nil {
			cfg.Display.Register(tasks[i].ID, tasks[i].OutputPath)
		}
		taskCh <- &tasks[i]
	}
	close(taskCh)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs []error
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for task := range taskCh {
				started := time.Now()
				res, err := processTask(ctx, task, entries, cfg)
				record(cfg.History, task, res, err, started)
				if err != nil {
					if cfg.Display != nil {
						cfg.Display.ReportError(task.ID, err)
					}
					log.Error().Str("op", "scheduler/run").Str("task", task.ID).Err(err).Msgf("Failed %s", task.OutputPath)
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", task.OutputPath, err))
					mu.Unlock()
					continue
				}
				if cfg.Display != nil {
					cfg.Display.Complete(task.ID, fmt.Sprintf("Completed %s (%s)", res.OutputPath, utils.FormatBytes(uint64(res.Bytes))))
				}
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

type result struct {
	Backend    string
	OutputPath string
	Bytes      int64
}

// processTask tries backends in order. Only availability and capability
// failures move on to the next backend; anything else fails the task.
func processTask(ctx context.Context, task *utils.Task, entries []downloaders.Entry, cfg Config) (result, error) {
	sinks := cfg.Sinks
	if cfg.Display != nil {
		sinks = append([]progress.Sink{cfg.Display}, sinks...)
	}
	reporter := progress.NewReporter(task.ID, sinks...)
	if cfg.Display != nil {
		reporter.OnWarning(func(msg string) { cfg.Display.Warn(task.ID, msg) })
	}

	remaining := entries
	for len(remaining) > 0 {
		sel, err := downloaders.Select(remaining, task, cfg.Paths)
		if err != nil {
			return result{}, err
		}
		remaining = after(remaining, sel.Descriptor.Name)
		if cfg.Display != nil {
			cfg.Display.SetMessage(task.ID, fmt.Sprintf("Downloading %s with %s", task.OutputPath, sel.Descriptor.Name))
		}
		driver := sel.New(sel.Exe, cfg.Options, reporter)
		err = driver.Download(ctx, task)
		if backend.Retryable(err) {
			log.Debug().Str("op", "scheduler/task").Err(err).Msgf("Trying next backend after %s", sel.Descriptor.Name)
			continue
		}
		res := result{Backend: sel.Descriptor.Name}
		if err != nil {
			return res, err
		}
		res.OutputPath, res.Bytes, err = finalize(task, cfg.Options.Bool("overwrites", false))
		return res, err
	}
	return result{}, fmt.Errorf("no external downloader left for %s: %w", task.URL, backend.ErrUnsupportedTask)
}

func after(entries []downloaders.Entry, name string) []downloaders.Entry {
	for i, e := range entries {
		if e.Descriptor.Name == name {
			return entries[i+1:]
		}
	}
	return nil
}

// finalize moves the completed temp file to the final path; nothing is ever
// written to the final path directly.
func finalize(task *utils.Task, overwrite bool) (string, int64, error) {
	if task.WritesToPipe() {
		return task.OutputPath, 0, nil
	}
	info, err := os.Stat(task.TempPath)
	if err != nil {
		return "", 0, fmt.Errorf("error finding downloaded file: %v", err)
	}
	if task.TempPath == task.OutputPath {
		return task.OutputPath, info.Size(), nil
	}
	outputPath := task.OutputPath
	if _, err := os.Stat(outputPath); err == nil && !overwrite {
		outputPath = utils.RenewOutputPath(outputPath)
		log.Warn().Str("op", "scheduler/finalize").Msgf("%s exists, saving to %s", task.OutputPath, outputPath)
	}
	if err := os.Rename(task.TempPath, outputPath); err != nil {
		return "", 0, fmt.Errorf("error renaming temp file: %v", err)
	}
	log.Info().Str("op", "scheduler/finalize").Msgf("Saved %s", outputPath)
	return outputPath, info.Size(), nil
}

func record(rec Recorder, task *utils.Task, res result, err error, started time.Time) {
	if rec == nil {
		return
	}
	entry := history.Record{
		TaskID:     task.ID,
		URL:        task.URL,
		OutputPath: task.OutputPath,
		Backend:    res.Backend,
		Status:     history.StatusFinished,
		Bytes:      res.Bytes,
		Fragments:  len(task.Fragments),
		StartedAt:  started.Unix(),
		FinishedAt: time.Now().Unix(),
	}
	if res.OutputPath != "" {
		entry.OutputPath = res.OutputPath
	}
	if err != nil {
		entry.Status = history.StatusFailed
		entry.Error = err.Error()
	}
	// the run may already be cancelled; the outcome is still recorded
	if _, herr := rec.Add(context.Background(), entry); herr != nil {
		log.Warn().Str("op", "scheduler/history").Err(herr).Msg("Could not record download")
	}
}
