package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"go.yaml.in/yaml/v3"

	"github.com/ShayCichocki/agentcore/pkg/models"
)

// taskFile is the batch format read by run and fanout.
//
//	agents:
//	  - role: developer
//	    count: 2
//	tasks:
//	  - id: schema
//	    description: Design the schema
//	    priority: high
//	  - id: api
//	    description: Build the API
//	    dependencies: [schema]
type taskFile struct {
	Agents []agentGroup      `yaml:"agents"`
	Tasks  []models.TaskSpec `yaml:"tasks"`
}

// agentGroup spawns Count agents from one config.
type agentGroup struct {
	models.AgentConfig `yaml:",inline"`
	Count              int `yaml:"count"`
}

func loadTaskFile(path string) (*taskFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading task file: %w", err)
	}
	tf, err := parseTaskFile(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return tf, nil
}

func parseTaskFile(data []byte) (*taskFile, error) {
	tf := &taskFile{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(tf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing task file: %w", err)
	}

	var errs []error
	if len(tf.Tasks) == 0 {
		errs = append(errs, errors.New("no tasks defined"))
	}
	for i, t := range tf.Tasks {
		if t.Priority != "" && !t.Priority.Valid() {
			errs = append(errs, fmt.Errorf("task %d: unknown priority %q", i, t.Priority))
		}
		if t.Role != "" && !t.Role.Valid() {
			errs = append(errs, fmt.Errorf("task %d: unknown role %q", i, t.Role))
		}
	}
	for i := range tf.Agents {
		g := &tf.Agents[i]
		if !g.Role.Valid() {
			errs = append(errs, fmt.Errorf("agent group %d: unknown role %q", i, g.Role))
		}
		if g.Count < 0 {
			errs = append(errs, fmt.Errorf("agent group %d: negative count", i))
		}
		if g.Count == 0 {
			g.Count = 1
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return tf, nil
}

// agentGroups returns the file's agents, or n developers when it names none.
func (tf *taskFile) agentGroups(n int) []agentGroup {
	if len(tf.Agents) > 0 {
		return tf.Agents
	}
	return []agentGroup{{AgentConfig: models.AgentConfig{Role: models.RoleDeveloper}, Count: n}}
}
