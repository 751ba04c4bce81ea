package http

type Config struct {
	Port uint `mapstructure:"port"`
	// AdminAPIKey guards every route except /health. It may list several
	// comma-separated keys; empty disables the routes.
	AdminAPIKey string `mapstructure:"admin_api_key"`
}
