package main

import (
	"log"
	"math/big"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ethereum/go-ethereum/common"

	"github.com/emyemy89/decentralized-exchange/params"
	"github.com/emyemy89/decentralized-exchange/pkg/api"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/events"
	"github.com/emyemy89/decentralized-exchange/pkg/app/core/token"
	"github.com/emyemy89/decentralized-exchange/pkg/app/dex"
	"github.com/emyemy89/decentralized-exchange/pkg/storage"
	"github.com/emyemy89/decentralized-exchange/pkg/util"
)

// custody is the address the exchange holds pulled funds under on the
// external token ledgers.
var custody = common.HexToAddress("0x00000000000000000000000000000000000DEC5")

// deployer owns the demo tokens and their initial supply.
var deployer = common.HexToAddress("0xDE9107000000000000000000000000000000DE91")

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Node.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("node_starting", "listen", cfg.Node.ListenAddr, "data_dir", cfg.Node.DataDir)

	// ---- External token ledgers (demo assets) ----
	supply := new(big.Int).Mul(big.NewInt(1_000_000), big.NewInt(1e18))
	registry := token.NewRegistry()
	for _, def := range []struct{ name, symbol string }{
		{"Token A", "TKA"},
		{"Token B", "TKB"},
	} {
		t := token.NewAssetToken(deployer, def.name, def.symbol, supply)
		if err := registry.Register(t); err != nil {
			sugar.Fatalw("register_token", "symbol", def.symbol, "err", err)
		}
		sugar.Infow("token_deployed", "symbol", def.symbol, "address", t.Address().Hex())
	}

	// ---- Persistence ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0755); err != nil {
		sugar.Fatalw("data_dir", "err", err)
	}
	store, err := storage.Open(filepath.Join(cfg.Node.DataDir, "exchange.db"))
	if err != nil {
		sugar.Fatalw("open_store", "err", err)
	}
	defer store.Close()

	journal, err := storage.NewJournal(filepath.Join(cfg.Node.DataDir, "events.log"))
	if err != nil {
		sugar.Fatalw("open_journal", "err", err)
	}
	defer journal.Close()

	// ---- Engine + API ----
	// The engine holds a pointer to the emitter list; the WebSocket
	// broadcaster joins it once the server exists.
	emitters := events.Multi{events.NewLogEmitter(sugar), journal}

	engine, err := dex.New(dex.Options{
		Tokens:           registry,
		Custody:          custody,
		Emitter:          &emitters,
		Store:            store,
		Logger:           sugar,
		MaxTradesPerCall: cfg.Match.MaxTradesPerCall,
	})
	if err != nil {
		sugar.Fatalw("engine", "err", err)
	}

	server := api.NewServer(engine, registry)
	emitters = append(emitters, api.NewBroadcaster(server.Hub()))

	go func() {
		if err := server.Start(cfg.Node.ListenAddr); err != nil {
			sugar.Fatalw("api_server", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	sugar.Infow("node_stopping", "signal", sig.String())
}
