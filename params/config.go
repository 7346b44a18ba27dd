package params

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Node struct {
	// ListenAddr is the REST/WebSocket bind address.
	ListenAddr string
	// DataDir holds the Pebble database and the event journal.
	DataDir string
	// LogFile receives structured logs in addition to stdout.
	LogFile string
}

type Match struct {
	// MaxTradesPerCall bounds the work one matchOrders call may do on a
	// large book. Zero means loop to fixpoint.
	MaxTradesPerCall int
}

type Config struct {
	Node  Node
	Match Match
}

func Default() Config {
	return Config{
		Node: Node{
			ListenAddr: ":8080",
			DataDir:    "data",
			LogFile:    "data/node.log",
		},
		Match: Match{
			MaxTradesPerCall: 0,
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		cfg.Node.ListenAddr = addr
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		cfg.Node.DataDir = dir
	}
	if logFile := os.Getenv("LOG_FILE"); logFile != "" {
		cfg.Node.LogFile = logFile
	}
	if cap := os.Getenv("MATCH_MAX_TRADES"); cap != "" {
		if n, err := strconv.Atoi(cap); err == nil && n >= 0 {
			cfg.Match.MaxTradesPerCall = n
		}
	}

	return cfg
}
