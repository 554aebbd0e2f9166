package io

import (
	"encoding/gob"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/ABusyProgrammer/CS598-DLH/pkg/model"
)

// Checkpoint bundles everything needed to restore a trained model: the
// structural configuration, the frozen data metadata and every parameter
// keyed by name.
type Checkpoint struct {
	RunID    string
	Config   model.Config
	Metadata *model.Metadata
	Params   []model.ParamEntry
}

// NewCheckpoint snapshots the model state.
func NewCheckpoint(runID string, m *model.DuETT, metaData *model.Metadata) *Checkpoint {
	return &Checkpoint{
		RunID:    runID,
		Config:   m.Config,
		Metadata: metaData,
		Params:   m.StateDict(),
	}
}

// NewRunID returns a fresh identifier that tells checkpoints of different
// training runs apart.
func NewRunID() string {
	return uuid.New().String()
}

func SaveCheckpoint(c *Checkpoint, writer io.Writer) error {
	encoder := gob.NewEncoder(writer)
	if err := encoder.Encode(c); err != nil {
		return fmt.Errorf("error encoding checkpoint: %w", err)
	}
	return nil
}

func LoadCheckpoint(input io.Reader) (*Checkpoint, error) {
	decoder := gob.NewDecoder(input)
	checkpoint := Checkpoint{}
	if err := decoder.Decode(&checkpoint); err != nil {
		return nil, fmt.Errorf("error decoding checkpoint: %w", err)
	}
	return &checkpoint, nil
}

func WriteCheckpointFile(c *Checkpoint, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating checkpoint file: %w", err)
	}
	if err := SaveCheckpoint(c, file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ReadCheckpointFile(path string) (*Checkpoint, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening checkpoint file: %w", err)
	}
	defer file.Close()
	return LoadCheckpoint(file)
}

// NewModelFromCheckpoint rebuilds the model exactly as saved. Reusing a
// checkpoint under a different configuration (a new head, more layers) goes
// through model.New plus LoadStateDict instead, which reports every
// adjustment it had to make.
func NewModelFromCheckpoint(c *Checkpoint) (*model.DuETT, error) {
	m, err := model.New(c.Config)
	if err != nil {
		return nil, err
	}
	if _, err := m.LoadStateDict(c.Params); err != nil {
		return nil, err
	}
	return m, nil
}
