package server

type Config struct {
	// ListenAddr is the HTTP listen address for the API server (CLI scans
	// use the engine in-process and do not require the network).
	ListenAddr string

	// BatchLimit caps the URL count of one batch request.
	BatchLimit int
}

func DefaultConfig() Config {
	return Config{
		ListenAddr: ":8080",
		BatchLimit: 100,
	}
}
