package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port       string `mapstructure:"PORT"`
	BaseURL    string `mapstructure:"BASE"`
	AuthEnable bool   `mapstructure:"AUTH_ENABLE"`
	AuthKey    string `mapstructure:"AUTH_KEY"`

	// DataDir holds the per-run directories (runs/<runId>/...).
	DataDir string `mapstructure:"DATA_DIR"`
	// VideoRoot holds the upload worker's state directories.
	VideoRoot string `mapstructure:"VIDEO_ROOT"`
	LogDir    string `mapstructure:"LOG_DIR"`
	BGMPath   string `mapstructure:"BGM_PATH"`

	// External compositor command template. ${PROPS_JSON} and ${OUTPUT} are
	// substituted before execution.
	RenderCommand string        `mapstructure:"RENDER_COMMAND"`
	RenderTimeout time.Duration `mapstructure:"RENDER_TIMEOUT"`

	// Inter-call pacing for external AI APIs.
	APIDelay       time.Duration `mapstructure:"API_DELAY"`
	ImageThinkTime time.Duration `mapstructure:"IMAGE_THINK_TIME"`

	BackoffRetries   int           `mapstructure:"BACKOFF_RETRIES"`
	BackoffBaseDelay time.Duration `mapstructure:"BACKOFF_BASE_DELAY"`
	BackoffMaxDelay  time.Duration `mapstructure:"BACKOFF_MAX_DELAY"`

	UploadMaxRetries  int           `mapstructure:"UPLOAD_MAX_RETRIES"`
	UploadRetryDelay  time.Duration `mapstructure:"UPLOAD_RETRY_DELAY"`
	UploadPrivacy     string        `mapstructure:"UPLOAD_PRIVACY"`
	UploadTags        string        `mapstructure:"UPLOAD_TAGS"`
	UploadDescription string        `mapstructure:"UPLOAD_DESCRIPTION"`

	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`
}

// stringToDurationHookFunc parses Go duration strings from config values.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc parses human-readable size strings ("200MB").
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	vp.SetDefault("PORT", "8080")
	vp.SetDefault("BASE", "")
	vp.SetDefault("AUTH_ENABLE", false)
	vp.SetDefault("AUTH_KEY", "123456")
	vp.SetDefault("DATA_DIR", "data")
	vp.SetDefault("VIDEO_ROOT", "storage/videos")
	vp.SetDefault("LOG_DIR", "storage/logs")
	vp.SetDefault("BGM_PATH", "bgm/phonk-loop.mp3")
	vp.SetDefault("RENDER_COMMAND", "npx remotion render ShortForm ${OUTPUT} --props=${PROPS_JSON}")
	vp.SetDefault("RENDER_TIMEOUT", "20m")
	vp.SetDefault("API_DELAY", "1s")
	vp.SetDefault("IMAGE_THINK_TIME", "12s")
	vp.SetDefault("BACKOFF_RETRIES", 5)
	vp.SetDefault("BACKOFF_BASE_DELAY", "1s")
	vp.SetDefault("BACKOFF_MAX_DELAY", "20s")
	vp.SetDefault("UPLOAD_MAX_RETRIES", 3)
	vp.SetDefault("UPLOAD_RETRY_DELAY", "30s")
	vp.SetDefault("UPLOAD_PRIVACY", "public")
	vp.SetDefault("UPLOAD_TAGS", "#shorts #ai")
	vp.SetDefault("UPLOAD_DESCRIPTION", "")
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")

	vp.SetConfigName("clipforge_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/clipforge/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	vp.SetEnvPrefix("CLIPFORGE")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
