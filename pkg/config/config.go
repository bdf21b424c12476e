package config

import (
	"fmt"
	"io"
	"io/ioutil"
	"os"
	"os/user"
	"path"

	"gopkg.in/yaml.v2"
)

const (
	configDir  string = ".tdbg"
	configFile string = "config.yml"

	// configDirEnv overrides the directory configuration and history
	// files are kept in.
	configDirEnv string = "TDBG_CONFIG_DIR"

	// DefaultPrompt is the prompt used when none is configured.
	DefaultPrompt = "tdbg> "
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Prompt is printed before reading each command.
	Prompt string `yaml:"prompt,omitempty"`

	// DisableASLR starts the target with address space layout randomization
	// disabled. Defaults to true.
	DisableASLR *bool `yaml:"disable-aslr,omitempty"`

	// ShowStopInstruction prints the instruction at the stop address after
	// every stop. Defaults to true.
	ShowStopInstruction *bool `yaml:"show-stop-instruction,omitempty"`

	// DisassembleFlavour selects the assembly syntax, "intel" or "gnu".
	DisassembleFlavour string `yaml:"disassemble-flavor,omitempty"`

	// MaxHistory is the number of lines of command history loaded at
	// startup. Unset loads the whole history file.
	MaxHistory *int `yaml:"max-history,omitempty"`
}

// GetPrompt returns the configured prompt or DefaultPrompt.
func (c *Config) GetPrompt() string {
	if c == nil || c.Prompt == "" {
		return DefaultPrompt
	}
	return c.Prompt
}

// GetDisableASLR returns the disable-aslr option, true if unset.
func (c *Config) GetDisableASLR() bool {
	if c == nil || c.DisableASLR == nil {
		return true
	}
	return *c.DisableASLR
}

// GetShowStopInstruction returns the show-stop-instruction option, true if
// unset.
func (c *Config) GetShowStopInstruction() bool {
	if c == nil || c.ShowStopInstruction == nil {
		return true
	}
	return *c.ShowStopInstruction
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() (*Config, error) {
	err := createConfigPath()
	if err != nil {
		return &Config{}, fmt.Errorf("could not create config directory: %v", err)
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to get config file path: %v", err)
	}

	f, err := os.Open(fullConfigFile)
	if err != nil {
		f, err = createDefaultConfig(fullConfigFile)
		if err != nil {
			return &Config{}, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return &Config{}, fmt.Errorf("unable to decode config file: %v", err)
	}

	return &c, nil
}

// SaveConfig will marshal and save the config struct
// to disk.
func SaveConfig(conf *Config) error {
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(fullConfigFile)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err == nil {
		_, err = f.Seek(0, io.SeekStart)
	}
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	return f, nil
}

func writeDefaultConfig(f io.Writer) error {
	_, err := io.WriteString(f,
		`# Configuration file for the tdbg debugger.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]

# Prompt printed before each command.
# prompt: "tdbg> "

# Start the target with address space layout randomization disabled, so that
# breakpoint addresses stay valid across runs.
# disable-aslr: true

# Print the instruction the target stopped at after continue and stepi.
# show-stop-instruction: true

# Assembly syntax used to print instructions, intel or gnu.
# disassemble-flavor: intel

# Maximum number of lines kept in the command history.
# max-history: 1000
`)
	return err
}

// createConfigPath creates the directory structure at which all config files are saved.
func createConfigPath() error {
	path, err := GetConfigFilePath("")
	if err != nil {
		return err
	}
	return os.MkdirAll(path, 0700)
}

// GetConfigFilePath gets the full path to the given config file name.
func GetConfigFilePath(file string) (string, error) {
	if dir := os.Getenv(configDirEnv); dir != "" {
		return path.Join(dir, file), nil
	}
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
