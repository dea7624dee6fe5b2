package server

type HTTPServerConfig struct {
	Enabled      bool   `mapstructure:"enabled"       yaml:"enabled"`
	Address      string `mapstructure:"address"       yaml:"address"`
	ReadTimeout  string `mapstructure:"read_timeout"  yaml:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout" yaml:"write_timeout"`
	Token        string `mapstructure:"token"         yaml:"token"`
}
