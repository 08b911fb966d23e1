package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port     string
		GRPCPort string
		LogLevel string
		LogFile  string
	}
	SDK struct {
		// ScriptURL is the bundle fetched once before any client exists.
		ScriptURL   string
		APIURL      string
		LoadTimeout time.Duration
		DialTimeout time.Duration
	}
	Journal struct {
		MaxEvents int
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.grpc_port", 9090)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file", "")

	// Local mock provider, see cmd/mock-provider.
	v.SetDefault("sdk.script_url", "http://localhost:8090/sdk.js")
	v.SetDefault("sdk.api_url", "ws://localhost:8090/call")
	v.SetDefault("sdk.load_timeout", "10s")
	v.SetDefault("sdk.dial_timeout", "15s")

	v.SetDefault("journal.max_events", 200)

	// Map envs
	_ = v.BindEnv("server.port", "PORT")
	_ = v.BindEnv("server.grpc_port", "GRPC_PORT")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_file", "LOG_FILE")

	_ = v.BindEnv("sdk.script_url", "SDK_SCRIPT_URL")
	_ = v.BindEnv("sdk.api_url", "SDK_API_URL")
	_ = v.BindEnv("sdk.load_timeout", "SDK_LOAD_TIMEOUT")
	_ = v.BindEnv("sdk.dial_timeout", "SDK_DIAL_TIMEOUT")

	_ = v.BindEnv("journal.max_events", "JOURNAL_MAX_EVENTS")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.GRPCPort = toString(v.Get("server.grpc_port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.LogFile = v.GetString("server.log_file")

	c.SDK.ScriptURL = v.GetString("sdk.script_url")
	c.SDK.APIURL = v.GetString("sdk.api_url")
	c.SDK.LoadTimeout = v.GetDuration("sdk.load_timeout")
	c.SDK.DialTimeout = v.GetDuration("sdk.dial_timeout")

	c.Journal.MaxEvents = v.GetInt("journal.max_events")

	log.Debug().Str("port", c.Server.Port).Str("grpc_port", c.Server.GRPCPort).
		Str("sdk_script", c.SDK.ScriptURL).Str("sdk_api", c.SDK.APIURL).Msg("config loaded")
	return c
}

func toString(v any) string { return fmt.Sprint(v) }
