package feed

type Config struct {
	Addr    string
	SendBuf int
	// RecordsLimit caps how many records one /api/records call returns.
	RecordsLimit int
}

func DefaultConfig() Config {
	return Config{
		Addr:         "127.0.0.1:8765",
		SendBuf:      64,
		RecordsLimit: 1000,
	}
}
