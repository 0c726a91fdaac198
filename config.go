package dss

import (
	"os"
	"time"

	"github.com/pkg/errors"
	yaml "gopkg.in/yaml.v2"
)

// Settings contains the application-level configuration, read from a yaml
// file at startup.
type Settings struct {
	Database DBSettings    `yaml:"database"`
	LogPath  string        `yaml:"log_path"`
	Agent    AgentSettings `yaml:"agent"`
}

// DBSettings describes the connection to the simulations database.
type DBSettings struct {
	Url                  string        `yaml:"url"`
	DB                   string        `yaml:"db"`
	WriteConcernMajority bool          `yaml:"write_concern_majority"`
	ConnectTimeout       time.Duration `yaml:"connect_timeout"`
}

// AgentSettings holds configuration for simulator worker processes.
type AgentSettings struct {
	SimulatorBinary string        `yaml:"simulator_binary"`
	WorkingDir      string        `yaml:"working_dir"`
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxSleep        time.Duration `yaml:"max_sleep"`
}

// NewSettings builds a Settings object from a yaml file.
func NewSettings(filename string) (*Settings, error) {
	configData, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "reading settings file '%s'", filename)
	}

	settings := &Settings{}
	if err = yaml.Unmarshal(configData, settings); err != nil {
		return nil, errors.Wrapf(err, "parsing settings file '%s'", filename)
	}

	return settings, nil
}

// Validate checks the settings for missing or inconsistent values.
func (s *Settings) Validate() error {
	if s.Database.Url == "" {
		return errors.New("database url must not be empty")
	}
	if s.Database.DB == "" {
		return errors.New("database name must not be empty")
	}
	if s.Agent.PollInterval < 0 {
		return errors.New("agent poll interval must not be negative")
	}
	if s.Agent.MaxSleep != 0 && s.Agent.MaxSleep < s.Agent.PollInterval {
		return errors.New("agent max sleep must not be shorter than the poll interval")
	}

	return nil
}
