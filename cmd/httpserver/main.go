package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/tehmaze-labs/yubistack/cmd/flags"
	"github.com/tehmaze-labs/yubistack/httpserver"
	"github.com/tehmaze-labs/yubistack/interfaces"
	"github.com/tehmaze-labs/yubistack/ksm"
	"github.com/tehmaze-labs/yubistack/peers"
	"github.com/tehmaze-labs/yubistack/protocol"
	"github.com/tehmaze-labs/yubistack/storage"
	"github.com/tehmaze-labs/yubistack/val"
)

var serverFlags = append([]cli.Flag{
	flags.ListenAddrFlag,
	flags.KeyStoreFlag,
	flags.ReplayStoreFlag,
	flags.NonceStoreFlag,
	flags.NonceWindowFlag,
	flags.ClientsFileFlag,
	flags.SyncPeersFlag,
}, flags.CommonFlags...)

func main() {
	app := &cli.App{
		Name:  "yubistack-server",
		Usage: "Serve the OTP validation API",
		Flags: serverFlags,
		Action: func(cCtx *cli.Context) error {
			logger := flags.SetupLogger(cCtx)

			factory := storage.NewFactory(logger)
			keys, err := factory.KeyStoreFor(cCtx.String(flags.KeyStoreFlag.Name))
			if err != nil {
				logger.Error("Failed to create key store", "err", err)
				return err
			}
			replay, err := factory.ReplayStoreFor(cCtx.String(flags.ReplayStoreFlag.Name))
			if err != nil {
				logger.Error("Failed to create replay store", "err", err)
				return err
			}
			nonces, err := factory.NonceLedgerFor(cCtx.String(flags.NonceStoreFlag.Name), cCtx.Duration(flags.NonceWindowFlag.Name))
			if err != nil {
				logger.Error("Failed to create nonce ledger", "err", err)
				return err
			}

			var clients interfaces.ClientStore
			if path := cCtx.String(flags.ClientsFileFlag.Name); path != "" {
				clients, err = storage.LoadClientsFile(path)
				if err != nil {
					logger.Error("Failed to load clients file", "err", err)
					return err
				}
			} else {
				logger.Warn("No clients file configured, all verify requests will answer NO_SUCH_CLIENT")
				clients = storage.NewMemoryClientStore()
			}

			var notifier interfaces.SyncNotifier
			if peerURLs := cCtx.StringSlice(flags.SyncPeersFlag.Name); len(peerURLs) > 0 {
				logger.Info("Peer sync enabled", "peers", len(peerURLs))
				notifier = peers.NewClient(peerURLs, logger)
			}

			decryptor := ksm.New()
			engine := val.NewEngine(val.Config{
				KeyStore:     keys,
				Decryptor:    decryptor,
				ReplayStore:  replay,
				SyncNotifier: notifier,
				Log:          logger,
			})
			processor := protocol.NewProcessor(clients, nonces, engine, logger)
			handler := httpserver.NewHandler(processor, replay, keys, decryptor, logger)

			srv, err := httpserver.New(flags.ConfigureServer(cCtx, logger), handler)
			if err != nil {
				logger.Error("Failed to create server", "err", err)
				return err
			}
			srv.RunInBackground()

			exit := make(chan os.Signal, 1)
			signal.Notify(exit, os.Interrupt, syscall.SIGTERM)
			<-exit
			logger.Info("Shutting down")
			srv.Shutdown()
			return nil
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
