package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/synclisten/server/internal/app"
)

type configVar[T any] struct {
	envKey       string
	flagKey      string
	defaultValue T
}

var (
	deviceID = configVar[string]{
		envKey:       "SYNCLISTEN_DEVICE_ID",
		flagKey:      "device-id",
		defaultValue: "",
	}
	userID = configVar[string]{
		envKey:       "SYNCLISTEN_USER_ID",
		flagKey:      "user-id",
		defaultValue: "",
	}
	displayName = configVar[string]{
		envKey:       "SYNCLISTEN_DISPLAY_NAME",
		flagKey:      "display-name",
		defaultValue: "",
	}
	logLevel = configVar[string]{
		envKey:       "SYNCLISTEN_LOG_LEVEL",
		flagKey:      "log-level",
		defaultValue: "INFO",
	}
	syncKey = configVar[string]{
		envKey:       "SYNCLISTEN_SYNC_KEY",
		flagKey:      "sync-key",
		defaultValue: "",
	}
	trackID = configVar[string]{
		envKey:       "SYNCLISTEN_TRACK_ID",
		flagKey:      "track-id",
		defaultValue: "",
	}
	trackTitle = configVar[string]{
		envKey:       "SYNCLISTEN_TRACK_TITLE",
		flagKey:      "track-title",
		defaultValue: "",
	}
	trackArtist = configVar[string]{
		envKey:       "SYNCLISTEN_TRACK_ARTIST",
		flagKey:      "track-artist",
		defaultValue: "",
	}
	trackDuration = configVar[float64]{
		envKey:       "SYNCLISTEN_TRACK_DURATION",
		flagKey:      "track-duration",
		defaultValue: 0,
	}
	trackSourceURL = configVar[string]{
		envKey:       "SYNCLISTEN_TRACK_SOURCE_URL",
		flagKey:      "track-source-url",
		defaultValue: "",
	}
	directoryBackend = configVar[string]{
		envKey:       "SYNCLISTEN_DIRECTORY",
		flagKey:      "directory",
		defaultValue: "redis",
	}
	channelBackend = configVar[string]{
		envKey:       "SYNCLISTEN_CHANNEL",
		flagKey:      "channel",
		defaultValue: "redis",
	}
	natsURL = configVar[string]{
		envKey:       "NATS_URL",
		flagKey:      "nats-url",
		defaultValue: "",
	}
	hubURL = configVar[string]{
		envKey:       "SYNCLISTEN_HUB_URL",
		flagKey:      "hub-url",
		defaultValue: "",
	}
	membersLimit = configVar[int]{
		envKey:       "SYNCLISTEN_MEMBERS_LIMIT",
		flagKey:      "members-limit",
		defaultValue: 30,
	}
	chatLimit = configVar[int]{
		envKey:       "SYNCLISTEN_CHAT_LIMIT",
		flagKey:      "chat-limit",
		defaultValue: 100,
	}
	redisPort = configVar[int]{
		envKey:       "REDIS_PORT",
		flagKey:      "redis-port",
		defaultValue: 6379,
	}
	redisHost = configVar[string]{
		envKey:       "REDIS_HOST",
		flagKey:      "redis-host",
		defaultValue: "localhost",
	}
	redisPassword = configVar[string]{
		envKey:       "REDIS_PASSWORD",
		flagKey:      "redis-password",
		defaultValue: "",
	}
	postgresDSN = configVar[string]{
		envKey:       "POSTGRES_DSN",
		flagKey:      "postgres-dsn",
		defaultValue: "",
	}
)

func loadAppConfig() *app.AppConfig {
	pflag.String(deviceID.flagKey, deviceID.defaultValue, "Stable device identity")
	pflag.String(userID.flagKey, userID.defaultValue, "User identity")
	pflag.String(displayName.flagKey, displayName.defaultValue, "Display name shown to other listeners")
	pflag.String(logLevel.flagKey, logLevel.defaultValue, "Logging level")
	pflag.String(syncKey.flagKey, syncKey.defaultValue, "Sync key of a session to join; empty hosts a new session")
	pflag.String(trackID.flagKey, trackID.defaultValue, "Track id to host a session with")
	pflag.String(trackTitle.flagKey, trackTitle.defaultValue, "Track title")
	pflag.String(trackArtist.flagKey, trackArtist.defaultValue, "Track artist")
	pflag.Float64(trackDuration.flagKey, trackDuration.defaultValue, "Track duration in seconds")
	pflag.String(trackSourceURL.flagKey, trackSourceURL.defaultValue, "Track source url")
	pflag.String(directoryBackend.flagKey, directoryBackend.defaultValue, "Directory backend: redis or postgres")
	pflag.String(channelBackend.flagKey, channelBackend.defaultValue, "Event channel backend: redis, nats or ws")
	pflag.String(natsURL.flagKey, natsURL.defaultValue, "NATS server url")
	pflag.String(hubURL.flagKey, hubURL.defaultValue, "Websocket hub url")
	pflag.Int(membersLimit.flagKey, membersLimit.defaultValue, "Maximum number of participants in a session")
	pflag.Int(chatLimit.flagKey, chatLimit.defaultValue, "Maximum number of retained chat messages")
	pflag.Int(redisPort.flagKey, redisPort.defaultValue, "Redis port")
	pflag.String(redisHost.flagKey, redisHost.defaultValue, "Redis host")
	pflag.String(redisPassword.flagKey, redisPassword.defaultValue, "Redis password")
	pflag.String(postgresDSN.flagKey, postgresDSN.defaultValue, "Postgres dsn")
	pflag.Parse()

	viper.BindPFlags(pflag.CommandLine)

	viper.BindEnv(deviceID.flagKey, deviceID.envKey)
	viper.BindEnv(userID.flagKey, userID.envKey)
	viper.BindEnv(displayName.flagKey, displayName.envKey)
	viper.BindEnv(logLevel.flagKey, logLevel.envKey)
	viper.BindEnv(syncKey.flagKey, syncKey.envKey)
	viper.BindEnv(trackID.flagKey, trackID.envKey)
	viper.BindEnv(trackTitle.flagKey, trackTitle.envKey)
	viper.BindEnv(trackArtist.flagKey, trackArtist.envKey)
	viper.BindEnv(trackDuration.flagKey, trackDuration.envKey)
	viper.BindEnv(trackSourceURL.flagKey, trackSourceURL.envKey)
	viper.BindEnv(directoryBackend.flagKey, directoryBackend.envKey)
	viper.BindEnv(channelBackend.flagKey, channelBackend.envKey)
	viper.BindEnv(natsURL.flagKey, natsURL.envKey)
	viper.BindEnv(hubURL.flagKey, hubURL.envKey)
	viper.BindEnv(membersLimit.flagKey, membersLimit.envKey)
	viper.BindEnv(chatLimit.flagKey, chatLimit.envKey)
	viper.BindEnv(redisPort.flagKey, redisPort.envKey)
	viper.BindEnv(redisHost.flagKey, redisHost.envKey)
	viper.BindEnv(redisPassword.flagKey, redisPassword.envKey)
	viper.BindEnv(postgresDSN.flagKey, postgresDSN.envKey)

	config := &app.AppConfig{
		DeviceID:       viper.GetString(deviceID.flagKey),
		UserID:         viper.GetString(userID.flagKey),
		DisplayName:    viper.GetString(displayName.flagKey),
		LogLevel:       viper.GetString(logLevel.flagKey),
		SyncKey:        viper.GetString(syncKey.flagKey),
		TrackID:        viper.GetString(trackID.flagKey),
		TrackTitle:     viper.GetString(trackTitle.flagKey),
		TrackArtist:    viper.GetString(trackArtist.flagKey),
		TrackDuration:  viper.GetFloat64(trackDuration.flagKey),
		TrackSourceURL: viper.GetString(trackSourceURL.flagKey),
		Directory:      viper.GetString(directoryBackend.flagKey),
		Channel:        viper.GetString(channelBackend.flagKey),
		NatsURL:        viper.GetString(natsURL.flagKey),
		HubURL:         viper.GetString(hubURL.flagKey),
		MembersLimit:   viper.GetInt(membersLimit.flagKey),
		ChatLimit:      viper.GetInt(chatLimit.flagKey),
		RedisPort:      viper.GetInt(redisPort.flagKey),
		RedisHost:      viper.GetString(redisHost.flagKey),
		RedisPassword:  viper.GetString(redisPassword.flagKey),
		PostgresDSN:    viper.GetString(postgresDSN.flagKey),
	}

	return config
}

func main() {
	ctx := context.Background()

	appConfig := loadAppConfig()
	if err := appConfig.Validate(); err != nil {
		log.Fatal(err)
	}

	jsonConfig, _ := json.MarshalIndent(appConfig, "", "  ")
	fmt.Printf("starting listener with config: %s\n", jsonConfig)

	log.Fatal(app.Run(ctx, appConfig))
}
