package server

import "github.com/spf13/viper"

func GetServerDefault() BaseServerConfig {
	return BaseServerConfig{
		ShutdownTimeout: "10s",

		Log: LogServerConfig{
			Level:      "INFO",
			TimeFormat: "2006-01-02 15:04:05",
			File:       "",
			NoColor:    false,
			JSON:       false,
			NoTerminal: false,
			Rotation: LogRotationConfig{
				MaxSize:    128,
				MaxBackups: 5,
				MaxAge:     16,
				Compress:   false,
			},
		},

		Metadata: MetadataServerConfig{
			Type:     MetadataTypeSQLite,
			LogLevel: "silent",
			SQLite: MetadataSQLiteConfig{
				Path: "lakesync.db",
			},
			Postgres: MetadataPostgresConfig{
				DSN:          "",
				MaxOpenConns: 10,
				MaxIdleConns: 2,
			},
		},

		Storage: StorageServerConfig{
			Endpoint:         "s3.amazonaws.com",
			Region:           "us-east-1",
			UseSSL:           true,
			PageSize:         1000,
			PresignTTL:       "1h",
			PresignCacheSize: 4096,
		},

		Rebuild: RebuildServerConfig{
			Attempts:         3,
			RetryDelay:       "500ms",
			Interval:         "",
			RefreshOnRebuild: true,
		},

		Refresh: RefreshServerConfig{
			WorkerURL:   "",
			SendTimeout: "2s",
			AccountURL:  "",
		},

		Lock: LockServerConfig{
			Type: LockTypeNone,
			TTL:  "5m",
			Redis: LockRedisServerConfig{
				Addr: "localhost:6379",
			},
		},

		HTTP: HTTPServerConfig{
			Enabled:      true,
			Address:      ":8080",
			ReadTimeout:  "15s",
			WriteTimeout: "5m",
		},
	}
}

func setDefaults() {
	defaults := GetServerDefault()

	viper.SetDefault("shutdown_timeout", defaults.ShutdownTimeout)

	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.time_format", defaults.Log.TimeFormat)
	viper.SetDefault("log.file", defaults.Log.File)
	viper.SetDefault("log.no_color", defaults.Log.NoColor)
	viper.SetDefault("log.json", defaults.Log.JSON)
	viper.SetDefault("log.no_terminal", defaults.Log.NoTerminal)
	viper.SetDefault("log.rotation.max_size", defaults.Log.Rotation.MaxSize)
	viper.SetDefault("log.rotation.max_backups", defaults.Log.Rotation.MaxBackups)
	viper.SetDefault("log.rotation.max_age", defaults.Log.Rotation.MaxAge)
	viper.SetDefault("log.rotation.compress", defaults.Log.Rotation.Compress)

	viper.SetDefault("metadata.type", defaults.Metadata.Type)
	viper.SetDefault("metadata.log_level", defaults.Metadata.LogLevel)
	viper.SetDefault("metadata.sqlite.path", defaults.Metadata.SQLite.Path)
	viper.SetDefault("metadata.postgres.dsn", defaults.Metadata.Postgres.DSN)
	viper.SetDefault("metadata.postgres.max_open_conns", defaults.Metadata.Postgres.MaxOpenConns)
	viper.SetDefault("metadata.postgres.max_idle_conns", defaults.Metadata.Postgres.MaxIdleConns)

	viper.SetDefault("storage.endpoint", defaults.Storage.Endpoint)
	viper.SetDefault("storage.region", defaults.Storage.Region)
	viper.SetDefault("storage.use_ssl", defaults.Storage.UseSSL)
	viper.SetDefault("storage.page_size", defaults.Storage.PageSize)
	viper.SetDefault("storage.presign_ttl", defaults.Storage.PresignTTL)
	viper.SetDefault("storage.presign_cache_size", defaults.Storage.PresignCacheSize)

	viper.SetDefault("rebuild.attempts", defaults.Rebuild.Attempts)
	viper.SetDefault("rebuild.retry_delay", defaults.Rebuild.RetryDelay)
	viper.SetDefault("rebuild.interval", defaults.Rebuild.Interval)
	viper.SetDefault("rebuild.refresh_on_rebuild", defaults.Rebuild.RefreshOnRebuild)

	viper.SetDefault("refresh.worker_url", defaults.Refresh.WorkerURL)
	viper.SetDefault("refresh.send_timeout", defaults.Refresh.SendTimeout)
	viper.SetDefault("refresh.account_url", defaults.Refresh.AccountURL)

	viper.SetDefault("lock.type", defaults.Lock.Type)
	viper.SetDefault("lock.ttl", defaults.Lock.TTL)
	viper.SetDefault("lock.redis.addr", defaults.Lock.Redis.Addr)
	viper.SetDefault("lock.redis.password", defaults.Lock.Redis.Password)
	viper.SetDefault("lock.redis.db", defaults.Lock.Redis.DB)

	viper.SetDefault("http.enabled", defaults.HTTP.Enabled)
	viper.SetDefault("http.address", defaults.HTTP.Address)
	viper.SetDefault("http.read_timeout", defaults.HTTP.ReadTimeout)
	viper.SetDefault("http.write_timeout", defaults.HTTP.WriteTimeout)
	viper.SetDefault("http.token", defaults.HTTP.Token)

	viper.SetDefault("admin.access_key", defaults.Admin.AccessKey)
	viper.SetDefault("admin.secret_key", defaults.Admin.SecretKey)
}
