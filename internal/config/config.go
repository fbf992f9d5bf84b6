package config

import (
	"bufio"
	"errors"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken     string `envconfig:"BOT_TOKEN" required:"true"`
	OperatorChat int64  `envconfig:"OPERATOR_CHAT_ID" required:"true"`
	DBPath       string `envconfig:"DB_PATH" default:"./data/tracker.db"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	ErrorLogPath string `envconfig:"ERROR_LOG_PATH" default:"./data/errors.log"`
	HTTPAddr     string `envconfig:"HTTP_ADDR" default:":8080"` // healthz + metrics
	TZName       string `envconfig:"TZ_NAME" default:"Asia/Kolkata"`

	CowinBaseURL     string  `envconfig:"COWIN_BASE_URL" default:"https://cdn-api.co-vin.in/api"`
	CowinOTPSecret   string  `envconfig:"COWIN_OTP_SECRET"`
	CaptchaSolverURL string  `envconfig:"CAPTCHA_SOLVER_URL"`
	UpstreamRPS      float64 `envconfig:"UPSTREAM_RPS" default:"0.33"`

	ProxiesFile string        `envconfig:"PROXIES_FILE" default:"./proxies.txt"`
	PollDelay   time.Duration `envconfig:"POLL_DELAY" default:"0"` // 0 = computed from ProxiesFile

	MaxTracking     int           `envconfig:"MAX_TRACKING" default:"4"`
	MaxOTPPerDay    int           `envconfig:"MAX_OTP_PER_DAY" default:"50"`
	DispatchWorkers int           `envconfig:"DISPATCH_WORKERS" default:"16"`
	ReminderLimit   int           `envconfig:"EXPIRY_REMINDER_LIMIT" default:"5"`
	SweepEvery      time.Duration `envconfig:"EXPIRY_SWEEP_EVERY" default:"1m"`

	LivenessResetEvery time.Duration `envconfig:"LIVENESS_RESET_EVERY" default:"6m"`
	LivenessCheckEvery time.Duration `envconfig:"LIVENESS_CHECK_EVERY" default:"10m"`
	LivenessShortGrace time.Duration `envconfig:"LIVENESS_SHORT_GRACE" default:"10s"`
	LivenessLongGrace  time.Duration `envconfig:"LIVENESS_LONG_GRACE" default:"4m"`
}

// Load reads an optional .env file, then environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return cfg, err
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Location resolves TZName.
func (c Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.TZName)
}

const noProxyDelay = 180 * time.Second

// ResolvePollDelay returns the inter-district delay: PollDelay if set,
// otherwise derived from the number of egress IPs in ProxiesFile.
func (c Config) ResolvePollDelay() (time.Duration, error) {
	if c.PollDelay > 0 {
		return c.PollDelay, nil
	}
	n, err := countLines(c.ProxiesFile)
	if err != nil {
		return 0, err
	}
	return PollDelayFor(n), nil
}

// PollDelayFor spreads the provider's 100 requests per 5 minutes per IP
// across ips addresses, plus a small margin.
func PollDelayFor(ips int) time.Duration {
	if ips <= 0 {
		return noProxyDelay
	}
	return (5*time.Minute/time.Duration(ips))/100 + 25*time.Millisecond
}

// countLines counts non-empty lines; a missing file counts as zero.
func countLines(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if strings.TrimSpace(sc.Text()) != "" {
			n++
		}
	}
	return n, sc.Err()
}
