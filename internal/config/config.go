// Package config loads process configuration from the environment using
// envconfig, the way the teacher's api/pkg/config package does: one struct
// tree per binary, `envconfig` tags carrying the variable name and default.
package config

import (
	"github.com/kelseyhightower/envconfig"
)

// ControllerConfig configures the `serve` subcommand: the Controller, the
// operator HTTP API and the messaging router.
type ControllerConfig struct {
	DataPath   string `envconfig:"FT_DATA_PATH" default:"/var/lib/footron"`
	ConfigPath string `envconfig:"FT_CONFIG_PATH" default:"/etc/footron"`

	MessagingBaseURL string `envconfig:"FT_MSG_URL" default:"ws://localhost:8088/messaging/out/"`
	ListenAddr       string `envconfig:"FT_LISTEN_ADDR" default:":8000"`

	RollbarToken string `envconfig:"FT_ROLLBAR"`

	CheckStability bool `envconfig:"FT_CHECK_STABILITY" default:"false"`
	DisableWM      bool `envconfig:"FT_DISABLE_WM" default:"false"`
	DisablePlacard bool `envconfig:"FT_DISABLE_PLACARD" default:"false"`

	CaptureAPIURL string `envconfig:"FT_CAPTURE_API_URL" default:"http://localhost:9090"`
	KioskBinary   string `envconfig:"FT_KIOSK_BINARY" default:"chromium"`
	DockerHost    string `envconfig:"FT_DOCKER_HOST"`

	// DockerShmSize is parsed with docker/go-units (e.g. "1g", "512m"), the
	// same human-readable size format the docker CLI's own --shm-size flag
	// accepts, rather than requiring callers to pass raw bytes.
	DockerShmSize string `envconfig:"FT_DOCKER_SHM_SIZE" default:"1g"`

	PlacardSocketPath string `envconfig:"FT_PLACARD_SOCKET" default:"/var/run/footron/placard.sock"`
	WMAddr            string `envconfig:"FT_WM_ADDR" default:"localhost:9091"`

	InitialEmptyExperienceDelaySeconds int `envconfig:"FT_INITIAL_EMPTY_EXPERIENCE_DELAY_S" default:"5"`
	CaptureFailedTimeoutSeconds        int `envconfig:"FT_CAPTURE_FAILED_TIMEOUT_S" default:"10"`
}

// SchedulerConfig configures the `schedule` subcommand: the independent
// playlist/commercial rotation loop. It talks to the Controller purely over
// the operator HTTP API (spec §4.3).
type SchedulerConfig struct {
	ControllerURL string `envconfig:"FT_CONTROLLER_URL" default:"http://localhost:8000"`

	InteractionTimeoutSeconds     int `envconfig:"FT_INTERACTION_TIMEOUT_S" default:"30"`
	CommercialIntervalSeconds     int `envconfig:"FT_COMMERCIAL_INTERVAL_S" default:"180"`
	CurrentExperienceSetDelaySeconds int `envconfig:"FT_CURRENT_EXPERIENCE_SET_DELAY_S" default:"5"`
	TickIntervalSeconds           int `envconfig:"FT_SCHEDULER_TICK_S" default:"1"`
}

// LoadControllerConfig processes the environment into a ControllerConfig,
// mirroring config.LoadServerConfig in the teacher.
func LoadControllerConfig() (ControllerConfig, error) {
	var cfg ControllerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return ControllerConfig{}, err
	}
	return cfg, nil
}

// LoadSchedulerConfig processes the environment into a SchedulerConfig.
func LoadSchedulerConfig() (SchedulerConfig, error) {
	var cfg SchedulerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return SchedulerConfig{}, err
	}
	return cfg, nil
}

