package server

// StorageServerConfig describes how object store clients are built for an
// account. Credentials and bucket names come from the account itself.
type StorageServerConfig struct {
	Endpoint         string `mapstructure:"endpoint"           yaml:"endpoint"`
	Region           string `mapstructure:"region"             yaml:"region"`
	UseSSL           bool   `mapstructure:"use_ssl"            yaml:"use_ssl"`
	PageSize         int    `mapstructure:"page_size"          yaml:"page_size"`
	PresignTTL       string `mapstructure:"presign_ttl"        yaml:"presign_ttl"`
	PresignCacheSize int    `mapstructure:"presign_cache_size" yaml:"presign_cache_size"`
}

// AdminServerConfig holds the credentials used for destructive operations.
type AdminServerConfig struct {
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
}
