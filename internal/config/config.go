package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"permitflow/internal/domain"
	"permitflow/internal/workflow"
)

// Config models permitflow.yml.
type Config struct {
	Workflow struct {
		Stages []StageConfig `yaml:"stages"`
	} `yaml:"workflow"`
	Notifications struct {
		PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	} `yaml:"notifications"`
	Seed struct {
		Users []SeedUser `yaml:"users"`
	} `yaml:"seed"`
}

// StageConfig mirrors one row of the approval sequence. The required roles are
// fixed enumerants; only labels and comment rules are configurable.
type StageConfig struct {
	Stage           int    `yaml:"stage"`
	Name            string `yaml:"name"`
	RequiredRole    string `yaml:"required_role"`
	CommentRequired bool   `yaml:"comment_required"`
	CanReject       bool   `yaml:"can_reject"`
	Final           bool   `yaml:"final"`
}

type SeedUser struct {
	Username  string `yaml:"username"`
	Role      string `yaml:"role"`
	FirstName string `yaml:"first_name"`
	LastName  string `yaml:"last_name"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.Workflow.Stages) == 0 {
		return fmt.Errorf("config.workflow.stages is required")
	}
	seen := map[int]bool{}
	finals := 0
	for _, s := range c.Workflow.Stages {
		if s.Stage < 1 || s.Stage > 4 {
			return fmt.Errorf("stage %d out of range 1-4", s.Stage)
		}
		if seen[s.Stage] {
			return fmt.Errorf("stage %d defined twice", s.Stage)
		}
		seen[s.Stage] = true
		if !domain.ValidRole(s.RequiredRole) {
			return fmt.Errorf("stage %d references unknown role %s", s.Stage, s.RequiredRole)
		}
		if s.Final {
			finals++
			if s.Stage != 4 {
				return fmt.Errorf("only stage 4 may be final, got %d", s.Stage)
			}
		}
	}
	for n := 1; n <= 4; n++ {
		if !seen[n] {
			return fmt.Errorf("stage %d missing from config.workflow.stages", n)
		}
	}
	if finals != 1 {
		return fmt.Errorf("exactly one final stage required, got %d", finals)
	}
	if c.Notifications.PollIntervalSeconds < 0 {
		return fmt.Errorf("config.notifications.poll_interval_seconds must not be negative")
	}
	for _, u := range c.Seed.Users {
		if u.Username == "" {
			return fmt.Errorf("seed user with empty username")
		}
		if !domain.ValidRole(u.Role) {
			return fmt.Errorf("seed user %s has unknown role %s", u.Username, u.Role)
		}
	}
	return nil
}

// StageFor returns the configured definition for a reviewable stage.
func (c *Config) StageFor(n int) (workflow.Stage, bool) {
	for _, s := range c.Workflow.Stages {
		if s.Stage == n {
			return workflow.Stage{
				Number:          s.Stage,
				Name:            s.Name,
				RequiredRole:    s.RequiredRole,
				CommentRequired: s.CommentRequired,
				CanReject:       s.CanReject,
				Final:           s.Final,
			}, true
		}
	}
	return workflow.Stage{}, false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "permitflow.yml")
}

// Load reads and validates config from workspace, falling back to the default
// when no file exists.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration: the fixed Manyame catchment
// approval sequence and a one-account-per-role seed roster.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config template invalid: %v", err))
	}
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workflow:
  stages:
    - stage: 1
      name: "Permitting Officer"
      required_role: permitting_officer
    - stage: 2
      name: "Upper Manyame Sub Catchment Council Chairperson"
      required_role: chairperson
      can_reject: true
    - stage: 3
      name: "Manyame Catchment Manager"
      required_role: catchment_manager
      comment_required: true
      can_reject: true
    - stage: 4
      name: "Manyame Catchment Chairperson"
      required_role: catchment_chairperson
      can_reject: true
      final: true

notifications:
  poll_interval_seconds: 30

seed:
  users:
    - username: officer
      role: permitting_officer
      first_name: Tariro
      last_name: Moyo
    - username: chair
      role: chairperson
      first_name: Peter
      last_name: Chikwava
    - username: manager
      role: catchment_manager
      first_name: Rudo
      last_name: Dziva
    - username: catchment-chair
      role: catchment_chairperson
      first_name: Samuel
      last_name: Nyandoro
    - username: supervisor
      role: permit_supervisor
      first_name: Grace
      last_name: Mutasa
    - username: sysadmin
      role: ict
      first_name: Blessing
      last_name: Chirwa
`
