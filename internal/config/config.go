package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Browser  BrowserConfig  `yaml:"browser" envPrefix:"WACAMPAIGN_BROWSER_"`
	Files    FilesConfig    `yaml:"files" envPrefix:"WACAMPAIGN_FILES_"`
	Pacing   PacingConfig   `yaml:"pacing" envPrefix:"WACAMPAIGN_PACING_"`
	Campaign CampaignConfig `yaml:"campaign" envPrefix:"WACAMPAIGN_CAMPAIGN_"`
	Store    StoreConfig    `yaml:"store" envPrefix:"WACAMPAIGN_STORE_"`
	Server   ServerConfig   `yaml:"server" envPrefix:"WACAMPAIGN_SERVER_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"WACAMPAIGN_LOG_"`
}

type BrowserConfig struct {
	Headless         bool   `yaml:"headless" env:"HEADLESS"`
	UserDataDir      string `yaml:"user_data_dir" env:"USER_DATA_DIR"`
	ChromePath       string `yaml:"chrome_path" env:"CHROME_PATH"`
	QRTimeoutSeconds int    `yaml:"qr_timeout_seconds" env:"QR_TIMEOUT_SECONDS"`
	QRImagePath      string `yaml:"qr_image_path" env:"QR_IMAGE_PATH"`
	PageLoadTimeout  int    `yaml:"page_load_timeout" env:"PAGE_LOAD_TIMEOUT"`
}

type FilesConfig struct {
	ContactsPath string `yaml:"contacts_path" env:"CONTACTS_PATH"`
	TemplatePath string `yaml:"template_path" env:"TEMPLATE_PATH"`
	MediaPath    string `yaml:"media_path" env:"MEDIA_PATH"`
}

type PacingConfig struct {
	DelayMinSeconds      int     `yaml:"delay_min_seconds" env:"DELAY_MIN_SECONDS"`
	DelayMaxSeconds      int     `yaml:"delay_max_seconds" env:"DELAY_MAX_SECONDS"`
	HourlyLimit          int     `yaml:"hourly_limit" env:"HOURLY_LIMIT"`
	LongPauseChance      float64 `yaml:"long_pause_chance" env:"LONG_PAUSE_CHANCE"`
	LongPauseMinSeconds  int     `yaml:"long_pause_min_seconds" env:"LONG_PAUSE_MIN_SECONDS"`
	LongPauseMaxSeconds  int     `yaml:"long_pause_max_seconds" env:"LONG_PAUSE_MAX_SECONDS"`
}

type CampaignConfig struct {
	SkipAlreadySent bool `yaml:"skip_already_sent" env:"SKIP_ALREADY_SENT"`
	ConfirmTicks    bool `yaml:"confirm_ticks" env:"CONFIRM_TICKS"`
	StealthTyping   bool `yaml:"stealth_typing" env:"STEALTH_TYPING"`
}

type StoreConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" env:"ADDR"`
}

type LoggingConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	OutputFile string `yaml:"output_file" env:"OUTPUT_FILE"`
}

// Load reads the yaml config file, overlays environment variables
// (WACAMPAIGN_* prefix), and fills in defaults. A missing config file is not
// an error: defaults plus environment variables apply.
func Load(configPath string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal(data, &config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := env.Parse(&config); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	applyDefaults(&config)

	// Convert user data directory to absolute path so Chrome always sees
	// the same profile regardless of the working directory.
	absPath, err := filepath.Abs(config.Browser.UserDataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve user data directory path: %w", err)
	}
	config.Browser.UserDataDir = absPath

	if config.Browser.ChromePath == "" {
		config.Browser.ChromePath = findChromePath()
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Browser.UserDataDir == "" {
		config.Browser.UserDataDir = "./chrome-data"
	}
	if config.Browser.QRTimeoutSeconds == 0 {
		config.Browser.QRTimeoutSeconds = 60
	}
	if config.Browser.QRImagePath == "" {
		config.Browser.QRImagePath = "whatsapp-login-qr.png"
	}
	if config.Browser.PageLoadTimeout == 0 {
		config.Browser.PageLoadTimeout = 30
	}
	if config.Pacing.DelayMinSeconds == 0 {
		config.Pacing.DelayMinSeconds = 3
	}
	if config.Pacing.DelayMaxSeconds == 0 {
		config.Pacing.DelayMaxSeconds = 8
	}
	if config.Pacing.HourlyLimit == 0 {
		config.Pacing.HourlyLimit = 30
	}
	if config.Pacing.LongPauseChance == 0 {
		config.Pacing.LongPauseChance = 0.05
	}
	if config.Pacing.LongPauseMinSeconds == 0 {
		config.Pacing.LongPauseMinSeconds = 30
	}
	if config.Pacing.LongPauseMaxSeconds == 0 {
		config.Pacing.LongPauseMaxSeconds = 120
	}
	if config.Store.Path == "" {
		config.Store.Path = "wacampaign.db"
	}
	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
}

// findChromePath attempts to locate the Chrome executable on the system.
func findChromePath() string {
	if runtime.GOOS == "windows" {
		paths := []string{
			"C:\\Program Files\\Google\\Chrome\\Application\\chrome.exe",
			"C:\\Program Files (x86)\\Google\\Chrome\\Application\\chrome.exe",
			os.Getenv("LOCALAPPDATA") + "\\Google\\Chrome\\Application\\chrome.exe",
		}

		for _, path := range paths {
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}

	// Empty string lets chromedp use its own lookup on other systems.
	return ""
}
