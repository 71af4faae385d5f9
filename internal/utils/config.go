package utils

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// BatchFile is the YAML document accepted by the batch command.
type BatchFile struct {
	Options Options `yaml:"options,omitempty"`
	Tasks   []Task  `yaml:"tasks"`
}

// LoadOptions reads a resolved option mapping from a YAML file.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading options file: %w", err)
	}
	opts := Options{}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return nil, fmt.Errorf("error parsing options file: %w", err)
	}
	return opts, nil
}

// LoadBatch reads tasks (and optional per-file options) from a YAML batch file.
func LoadBatch(path string) (*BatchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading batch file: %w", err)
	}
	var batch BatchFile
	if err := yaml.Unmarshal(data, &batch); err != nil {
		return nil, fmt.Errorf("error parsing batch file: %w", err)
	}
	for i := range batch.Tasks {
		if batch.Tasks[i].URL == "" && len(batch.Tasks[i].RequestedFormats) == 0 {
			return nil, fmt.Errorf("task %d has no url", i)
		}
		PrepareTask(&batch.Tasks[i])
	}
	return &batch, nil
}

// PrepareTask fills the defaults a task needs before dispatch: ID, temp path,
// fragment indices and extension.
func PrepareTask(task *Task) {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Protocol == "" {
		task.Protocol = "https"
	}
	if task.OutputPath == "" {
		task.OutputPath = filepath.Base(task.URL)
	}
	if task.TempPath == "" {
		task.TempPath = TempName(task.OutputPath)
	}
	if task.Ext == "" {
		task.Ext = DetermineExt(task.OutputPath)
	}
	for i := range task.Fragments {
		task.Fragments[i].Index = i
	}
}
