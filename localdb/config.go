package localdb

// Config defines the embedded database configuration.
type Config struct {
	Source string `yaml:"source"`
}

func (c Config) applyDefaults() Config {
	if c.Source == "" {
		c.Source = "notemesh.db"
	}
	return c
}
