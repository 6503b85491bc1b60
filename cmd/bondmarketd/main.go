package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"bondmarket/config"
	"bondmarket/core"
	"bondmarket/crypto"
	"bondmarket/native/bond"
	"bondmarket/observability/logging"
	"bondmarket/rpc"
	"bondmarket/storage"
)

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	logger := logging.Setup("bondmarketd", cfg.LogEnvironment)

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		panic(fmt.Sprintf("Failed to open database: %v", err))
	}
	defer db.Close()

	nodeCfg := core.Config{
		Fees: bond.FeeConfig{
			ProtocolFeeBps: cfg.ProtocolFeeBps,
			ReferrerFeeBps: cfg.ReferrerFeeBps,
		},
	}
	if owner := strings.TrimSpace(cfg.ProtocolFeeOwner); owner != "" {
		addr, err := crypto.DecodeAddress(owner)
		if err != nil {
			logger.Error("Invalid ProtocolFeeOwner address", slog.Any("error", err))
			os.Exit(1)
		}
		nodeCfg.ProtocolFeeOwner = addr
	}

	node, err := core.NewNode(db, nodeCfg)
	if err != nil {
		logger.Error("Failed to initialise node", slog.Any("error", err))
		os.Exit(1)
	}

	for _, token := range cfg.Tokens {
		meta := &bond.TokenMeta{
			Symbol:   strings.TrimSpace(token.Symbol),
			Name:     strings.TrimSpace(token.Name),
			Decimals: token.Decimals,
		}
		if err := node.RegisterToken(meta); err != nil {
			logger.Error("Failed to register token", slog.String("symbol", meta.Symbol), slog.Any("error", err))
			os.Exit(1)
		}
	}

	logger.Info("Starting bond market node",
		slog.String("network", cfg.NetworkName),
		slog.String("rpc", cfg.RPCAddress),
		slog.String("datadir", cfg.DataDir),
	)

	server := rpc.NewServer(node)
	if err := server.Start(cfg.RPCAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}
