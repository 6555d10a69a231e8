// pkg/config/config.go - configuration settings for pkgdeploy.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is where the YAML configuration lives unless --config says otherwise.
const ConfigPath = `C:\ProgramData\PkgDeploy\Config.yaml`

// PolicyRegistryPath is the HKLM key consulted when no configuration file exists.
const PolicyRegistryPath = `SOFTWARE\PkgDeploy\Config`

// Prerequisite check policies applied when the check key cannot be read.
const (
	PrereqPolicySkip    = "skip"
	PrereqPolicyInstall = "install"
)

// Configuration holds the configurable options for pkgdeploy in YAML format
type Configuration struct {
	RootPath         string `yaml:"RootPath"`
	LogPath          string `yaml:"LogPath"`
	LogLevel         string `yaml:"LogLevel"`
	LogRetentionRuns int    `yaml:"LogRetentionRuns"`
	MsiexecPath      string `yaml:"MsiexecPath"`

	// PrereqAccessPolicy decides what happens when a prerequisite check key
	// exists but cannot be read: "skip" leaves the prerequisite alone, "install"
	// runs its installer.
	PrereqAccessPolicy string `yaml:"PrereqAccessPolicy"`

	// 0 waits for installers indefinitely.
	InstallerTimeoutMinutes int `yaml:"InstallerTimeoutMinutes"`

	CheckOnly bool `yaml:"CheckOnly"`
	Verbose   bool `yaml:"Verbose"`
}

// GetDefaultConfig provides default configuration values.
func GetDefaultConfig() *Configuration {
	programData := os.Getenv("ProgramData")
	if programData == "" {
		programData = `C:\ProgramData`
	}
	windir := os.Getenv("WINDIR")
	if windir == "" {
		windir = `C:\Windows`
	}
	return &Configuration{
		RootPath:                programData + `\PkgDeploy\package`,
		LogPath:                 programData + `\PkgDeploy\logs`,
		LogLevel:                "INFO",
		LogRetentionRuns:        20,
		MsiexecPath:             windir + `\System32\msiexec.exe`,
		PrereqAccessPolicy:      PrereqPolicySkip,
		InstallerTimeoutMinutes: 0,
	}
}

// LoadConfig loads the configuration from a YAML file. An empty path means
// ConfigPath. When the default file does not exist the registry policy key is
// tried next, then the built-in defaults are used. A path given explicitly
// must exist.
func LoadConfig(path string) (*Configuration, error) {
	explicit := path != ""
	if !explicit {
		path = ConfigPath
	}

	cfg := GetDefaultConfig()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		log.Printf("Configuration file does not exist: %s", path)
		if policyErr := loadPolicy(cfg); policyErr != nil {
			log.Printf("No registry policy configuration: %v", policyErr)
			log.Printf("Using built-in defaults")
		}
	case err != nil:
		return nil, fmt.Errorf("reading configuration file %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing configuration file %s: %w", path, err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalises enumerated settings and rejects values the tool cannot act on.
func (c *Configuration) Validate() error {
	c.PrereqAccessPolicy = strings.ToLower(strings.TrimSpace(c.PrereqAccessPolicy))
	switch c.PrereqAccessPolicy {
	case "":
		c.PrereqAccessPolicy = PrereqPolicySkip
	case PrereqPolicySkip, PrereqPolicyInstall:
	default:
		return fmt.Errorf("invalid PrereqAccessPolicy %q (want %q or %q)",
			c.PrereqAccessPolicy, PrereqPolicySkip, PrereqPolicyInstall)
	}
	if c.InstallerTimeoutMinutes < 0 {
		return fmt.Errorf("invalid InstallerTimeoutMinutes %d", c.InstallerTimeoutMinutes)
	}
	if c.LogRetentionRuns < 0 {
		return fmt.Errorf("invalid LogRetentionRuns %d", c.LogRetentionRuns)
	}
	c.LogLevel = strings.ToUpper(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	return nil
}

// InstallerTimeout converts InstallerTimeoutMinutes into a duration; zero means no timeout.
func (c *Configuration) InstallerTimeout() time.Duration {
	return time.Duration(c.InstallerTimeoutMinutes) * time.Minute
}

// SaveConfig saves the configuration to a YAML file.
func SaveConfig(cfg *Configuration, path string) error {
	if path == "" {
		path = ConfigPath
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("serializing configuration: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating configuration directory: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}
