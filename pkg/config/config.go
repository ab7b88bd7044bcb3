package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"os/user"
	"path"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/amxdbg/amxdbg/pkg/transport"
)

const (
	configDir  string = ".amxdbg"
	configFile string = "config.yml"

	// DefaultMemoryLength is the number of cells read by the memory
	// command when no length is given.
	DefaultMemoryLength = 10
	// DefaultRegisterColor is the ANSI color of register names.
	DefaultRegisterColor = 34
)

// Config defines all configuration options available to be set through the config file.
type Config struct {
	// Commands aliases.
	Aliases map[string][]string `yaml:"aliases"`

	// Addr is the host:port of the remote debugger.
	Addr string `yaml:"addr,omitempty"`
	// ConnectAttempts is the number of dial attempts before the debugger
	// is reported offline.
	ConnectAttempts int `yaml:"connect-attempts,omitempty"`
	// ConnectRetryDelay is the pause between two dial attempts.
	ConnectRetryDelay time.Duration `yaml:"connect-retry-delay,omitempty"`
	// SendRetries is the number of reconnections attempted when a request
	// cannot be written because the connection was reset.
	SendRetries *int `yaml:"send-retries,omitempty"`
	// PollInterval is how often the notification listener checks whether
	// it has been paused.
	PollInterval time.Duration `yaml:"poll-interval,omitempty"`
	// RequestTimeout bounds a single request, zero waits forever.
	RequestTimeout time.Duration `yaml:"request-timeout,omitempty"`

	// MemoryLength is the default number of cells read by the memory
	// command.
	MemoryLength *int `yaml:"memory-length,omitempty"`

	// Register name color (3/4 bit color codes as defined
	// here: https://en.wikipedia.org/wiki/ANSI_escape_code#Colors)
	RegisterColor int `yaml:"register-color,omitempty"`
}

// TransportConfig returns the transport configuration described by c.
// Unset fields keep the transport defaults.
func (c *Config) TransportConfig() transport.Config {
	cfg := transport.Config{
		Addr:              c.Addr,
		ConnectAttempts:   c.ConnectAttempts,
		ConnectRetryDelay: c.ConnectRetryDelay,
		SendRetries:       transport.DefaultSendRetries,
		PollInterval:      c.PollInterval,
		RequestTimeout:    c.RequestTimeout,
	}
	if c.SendRetries != nil {
		cfg.SendRetries = *c.SendRetries
		if cfg.SendRetries <= 0 {
			cfg.SendRetries = transport.NoSendRetry
		}
	}
	return cfg
}

// GetMemoryLength returns the default length of the memory command.
func (c *Config) GetMemoryLength() int {
	if c.MemoryLength == nil || *c.MemoryLength <= 0 {
		return DefaultMemoryLength
	}
	return *c.MemoryLength
}

// GetRegisterColor returns the ANSI color of register names.
func (c *Config) GetRegisterColor() int {
	if c.RegisterColor == 0 {
		return DefaultRegisterColor
	}
	return c.RegisterColor
}

// LoadConfig attempts to populate a Config object from the config.yml file.
func LoadConfig() *Config {
	err := createConfigPath()
	if err != nil {
		fmt.Printf("Could not create config directory: %v.", err)
		return &Config{}
	}
	fullConfigFile, err := GetConfigFilePath(configFile)
	if err != nil {
		fmt.Printf("Unable to get config file path: %v.", err)
		return &Config{}
	}
	c, err := LoadConfigFrom(fullConfigFile)
	if err != nil {
		fmt.Printf("%v.", err)
		return &Config{}
	}
	return c
}

// LoadConfigFrom reads the configuration file at path, creating it with
// the default contents if it does not exist.
func LoadConfigFrom(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		f, err = createDefaultConfig(path)
		if err != nil {
			return nil, fmt.Errorf("error creating default config file: %v", err)
		}
	}
	defer f.Close()

	data, err := ioutil.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("unable to read config data: %v", err)
	}

	var c Config
	err = yaml.Unmarshal(data, &c)
	if err != nil {
		return nil, fmt.Errorf("unable to decode config file: %v", err)
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
	return SaveConfigTo(conf, fullConfigFile)
}

// SaveConfigTo writes conf to the file at path.
func SaveConfigTo(conf *Config, path string) error {
	out, err := yaml.Marshal(*conf)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Write(out)
	return err
}

func createDefaultConfig(path string) (*os.File, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("unable to create config file: %v", err)
	}
	err = writeDefaultConfig(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("unable to write default configuration: %v", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		f.Close()
		return nil, err
	}
	return f, nil
}

func writeDefaultConfig(f *os.File) error {
	_, err := f.WriteString(
		`# Configuration file for the amxdbg debugger client.

# This is the default configuration file. Available options are provided, but disabled.
# Delete the leading hash mark to enable an item.

# Address of the remote AMX debugger.
# addr: 127.0.0.1:7667

# Number of connection attempts before the debugger is reported offline.
# connect-attempts: 3

# Pause between two connection attempts.
# connect-retry-delay: 0s

# Number of reconnections attempted when a request hits a reset connection.
# send-retries: 1

# How often the breakpoint listener checks whether it has been paused.
# poll-interval: 250ms

# Maximum time to wait for a response, 0 waits forever.
# request-timeout: 0s

# Number of cells read by the memory command when no length is given.
# memory-length: 10

# Uncomment the following line and set your preferred ANSI foreground color
# for register names (if unset, default is 34, dark blue)
# See https://en.wikipedia.org/wiki/ANSI_escape_code#3/4_bit
# register-color: 34

# Provided aliases will be added to the default aliases for a given command.
aliases:
  # command: ["alias1", "alias2"]
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
	userHomeDir := "."
	usr, err := user.Current()
	if err == nil {
		userHomeDir = usr.HomeDir
	}
	return path.Join(userHomeDir, configDir, file), nil
}
