// Package fixture seeds the in-memory backend from a YAML file.
//
// A fixture describes hosts, jobs and the attempts made on each job's chunks,
// which is enough to show running, failed and validated states without a
// BOINC server:
//
//	hosts:
//	  - id: 1
//	    venue: edge
//	    last_seen: 1767225600
//	jobs:
//	  - job_id: demo-render
//	    input_uri: s3://demo/in/
//	    output_uri: s3://demo/out/
//	    container_image: ghcr.io/demo/render:1
//	    num_chunks: 3
//	    attempts:
//	      - chunk: 0
//	        host: 1
//	        server_state: over
//	        outcome: success
package fixture

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/3leaps/batchlens/pkg/batchmeta"
	"github.com/3leaps/batchlens/pkg/record"
)

// File is a parsed fixture.
type File struct {
	Hosts []Host `yaml:"hosts"`
	Jobs  []Job  `yaml:"jobs"`
}

type Host struct {
	ID       int64  `yaml:"id"`
	Venue    string `yaml:"venue"`
	Misc     string `yaml:"misc"`
	LastSeen int64  `yaml:"last_seen"`
}

type Job struct {
	JobID             string           `yaml:"job_id"`
	InputURI          string           `yaml:"input_uri"`
	OutputURI         string           `yaml:"output_uri"`
	ContainerImage    string           `yaml:"container_image"`
	WorkerLabel       string           `yaml:"worker_label"`
	NumChunks         int              `yaml:"num_chunks"`
	ChunkRange        *batchmeta.Range `yaml:"chunk_range"`
	RequireValidation bool             `yaml:"require_validation"`
	Attempts          []Attempt        `yaml:"attempts"`
}

// Attempt uses state names (see record.ServerState.String and friends).
// Empty names default to unsent, init and init.
type Attempt struct {
	Chunk         int    `yaml:"chunk"`
	Host          int64  `yaml:"host"`
	ServerState   string `yaml:"server_state"`
	Outcome       string `yaml:"outcome"`
	ValidateState string `yaml:"validate_state"`
	ExitStatus    int    `yaml:"exit_status"`
	Stderr        string `yaml:"stderr"`
	SentAt        int64  `yaml:"sent_at"`
	ReceivedAt    int64  `yaml:"received_at"`
}

// Record converts a to a record.Attempt.
func (a Attempt) Record() (record.Attempt, error) {
	out := record.Attempt{
		HostID:        a.Host,
		ServerState:   record.ServerStateUnsent,
		Outcome:       record.OutcomeInit,
		ValidateState: record.ValidateStateInit,
		ExitStatus:    a.ExitStatus,
		Stderr:        a.Stderr,
		SentAt:        a.SentAt,
		ReceivedAt:    a.ReceivedAt,
	}
	var err error
	if a.ServerState != "" {
		if out.ServerState, err = record.ParseServerState(a.ServerState); err != nil {
			return record.Attempt{}, err
		}
	}
	if a.Outcome != "" {
		if out.Outcome, err = record.ParseOutcome(a.Outcome); err != nil {
			return record.Attempt{}, err
		}
	}
	if a.ValidateState != "" {
		if out.ValidateState, err = record.ParseValidateState(a.ValidateState); err != nil {
			return record.Attempt{}, err
		}
	}
	return out, nil
}

// Load reads and validates a fixture file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("fixture file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read fixture file: %w", err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses and validates fixture YAML. Unknown keys are rejected.
func LoadFromBytes(data []byte) (*File, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("fixture file is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("invalid YAML in fixture: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks references and state names. Job field constraints are
// enforced when the jobs are submitted.
func (f *File) Validate() error {
	hosts := make(map[int64]bool, len(f.Hosts))
	for i, h := range f.Hosts {
		if h.ID <= 0 {
			return fmt.Errorf("hosts[%d]: id must be positive", i)
		}
		if hosts[h.ID] {
			return fmt.Errorf("hosts[%d]: duplicate id %d", i, h.ID)
		}
		hosts[h.ID] = true
	}

	jobs := make(map[string]bool, len(f.Jobs))
	for i, j := range f.Jobs {
		if j.JobID == "" {
			return fmt.Errorf("jobs[%d]: job_id is required", i)
		}
		if jobs[j.JobID] {
			return fmt.Errorf("jobs[%d]: duplicate job_id %q", i, j.JobID)
		}
		jobs[j.JobID] = true

		for k, a := range j.Attempts {
			if a.Chunk < 0 || a.Chunk >= j.NumChunks {
				return fmt.Errorf("jobs[%d].attempts[%d]: chunk %d out of range 0..%d", i, k, a.Chunk, j.NumChunks-1)
			}
			if a.Host != 0 && !hosts[a.Host] {
				return fmt.Errorf("jobs[%d].attempts[%d]: unknown host %d", i, k, a.Host)
			}
			if _, err := a.Record(); err != nil {
				return fmt.Errorf("jobs[%d].attempts[%d]: %w", i, k, err)
			}
		}
	}
	return nil
}
