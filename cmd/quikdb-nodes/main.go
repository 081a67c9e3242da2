package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/echa/log"

	"github.com/quikdb/go-quikdb-nodes/auth"
	"github.com/quikdb/go-quikdb-nodes/config"
	"github.com/quikdb/go-quikdb-nodes/core/account"
	"github.com/quikdb/go-quikdb-nodes/crypto"
	"github.com/quikdb/go-quikdb-nodes/events"
	"github.com/quikdb/go-quikdb-nodes/registry"
	"github.com/quikdb/go-quikdb-nodes/rewards"
	"github.com/quikdb/go-quikdb-nodes/storage"
)

func main() {
	var (
		configPath = flag.String("config", "", "YAML config file (defaults apply when empty)")
		dataDir    = flag.String("data", "", "Data directory (overrides config)")
		keySeed    = flag.String("seed", "", "Deterministic node key seed (random key when empty)")
		minting    = flag.Bool("minting", false, "Mint rewards instead of paying from the treasury")
		treasury   = flag.Int64("treasury", 0, "Initial treasury balance in base units")
	)
	flag.Parse()

	if err := run(*configPath, *dataDir, *keySeed, *minting, *treasury); err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(configPath, dataDir, keySeed string, minting bool, treasury int64) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}

	level := log.ParseLevel(cfg.LogLevel)
	if level == log.LevelInvalid {
		return fmt.Errorf("invalid log level %q", cfg.LogLevel)
	}
	log.SetLevel(level)

	keys, err := nodeKeys(keySeed)
	if err != nil {
		return err
	}
	log.Infof("Node %s identity %s", cfg.NodeID, keys.Address())

	store, err := storage.NewBadgerStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store at %s: %v", cfg.DataDir, err)
	}
	defer store.Close()

	accounts := account.NewManager(minting)
	if treasury > 0 {
		if err := accounts.FundTreasury(treasury); err != nil {
			return err
		}
	}

	perms := auth.NewRegistry()
	perms.Grant(keys.Address().String(), auth.CapAdmin)

	emitter := events.NewEmitter(events.NewLogSink(log.Log))

	engine, err := rewards.NewEngine(cfg, storage.NewLedgerStorage(store), registry.NewDirectory(),
		accounts, perms.Check(), emitter, nil)
	if err != nil {
		return fmt.Errorf("failed to build settlement engine: %v", err)
	}

	log.Infof("Settlement engine ready, data dir %s, minting=%v", cfg.DataDir, minting)
	logStats(engine)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c:
			log.Info("Shutting down")
			return nil
		case <-ticker.C:
			logStats(engine)
		}
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Load()
	}
	return config.LoadFile(path)
}

func nodeKeys(seed string) (*crypto.KeyPair, error) {
	if seed == "" {
		return crypto.GenerateKeyPair()
	}
	return crypto.KeyPairFromSeed(seed)
}

func logStats(engine *rewards.Engine) {
	stats := engine.Stats()
	log.Infof("records=%v settled=%v pending=%v operators=%v treasury=%v",
		stats["records_total"], stats["records_settled"], stats["records_pending"],
		stats["operators"], stats["treasury_balance"])
}
