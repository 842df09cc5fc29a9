package internal

// Option customizes how Run assembles the depot service.
type Option func(*application)

// application collects everything Run needs before wiring the store,
// content provider, and HTTP surface together.
type application struct {
	config *Config
}

// WithConfig supplies the validated service configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}
