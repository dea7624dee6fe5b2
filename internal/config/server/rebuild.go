package server

type RebuildServerConfig struct {
	Attempts         int    `mapstructure:"attempts"           yaml:"attempts"`
	RetryDelay       string `mapstructure:"retry_delay"        yaml:"retry_delay"`
	Interval         string `mapstructure:"interval"           yaml:"interval"`
	RefreshOnRebuild bool   `mapstructure:"refresh_on_rebuild" yaml:"refresh_on_rebuild"`
}

type RefreshServerConfig struct {
	WorkerURL   string `mapstructure:"worker_url"   yaml:"worker_url"`
	SendTimeout string `mapstructure:"send_timeout" yaml:"send_timeout"`
	AccountURL  string `mapstructure:"account_url"  yaml:"account_url"`
}
