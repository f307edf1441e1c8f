// The containerserver binary serves the container registration and
// synchronization API.
package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/mfahub/container-backend/challenge"
	"github.com/mfahub/container-backend/cmd/flags"
	"github.com/mfahub/container-backend/container"
	"github.com/mfahub/container-backend/cryptoutils"
	"github.com/mfahub/container-backend/httpserver"
	"github.com/mfahub/container-backend/storage"
	"github.com/mfahub/container-backend/tokens"
)

func main() {
	app := &cli.App{
		Name:  "containerserver",
		Usage: "Serve the token container registration and synchronization API",
		Flags: append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.StorageFlag,
			flags.ServerURLFlag,
			flags.ServiceSecretFlag,
			flags.RegistrationTTLFlag,
			flags.ChallengeTTLFlag,
			flags.SSLVerifyFlag,
			flags.IssuerFlag,
			flags.InitialTokenTransferFlag,
		}, flags.CommonFlags...),
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)

	storageURI := cCtx.String(flags.StorageFlag.Name)
	backend, err := storage.NewBackendFactory(logger).BackendFor(storageURI)
	if err != nil {
		logger.Error("Failed to create storage backend", "err", err, "storage", storageURI)
		return err
	}
	logger.Info("Using container storage", "location", backend.LocationURI())

	passwords, err := cryptoutils.NewPasswordCipher([]byte(cCtx.String(flags.ServiceSecretFlag.Name)))
	if err != nil {
		logger.Error("Failed to initialize password cipher", "err", err)
		return err
	}

	challenges := challenge.NewManager(storage.NewMemoryChallengeStore(), passwords, logger)

	deps := container.Deps{
		Backend:    backend,
		Challenges: challenges,
		Realms:     storage.NewMemoryRealmStore(),
		Templates:  storage.NewMemoryTemplateStore(),
		Tokens:     tokens.NewMemoryTokenService(),
		Passwords:  passwords,
		Log:        logger,
	}

	handler := httpserver.NewHandler(deps, httpserver.HandlerConfig{
		ServerURL:                 cCtx.String(flags.ServerURLFlag.Name),
		RegistrationTTL:           cCtx.Int(flags.RegistrationTTLFlag.Name),
		ChallengeTTL:              cCtx.Int(flags.ChallengeTTLFlag.Name),
		SSLVerify:                 cCtx.Bool(flags.SSLVerifyFlag.Name),
		Issuer:                    cCtx.String(flags.IssuerFlag.Name),
		AllowInitialTokenTransfer: cCtx.Bool(flags.InitialTokenTransferFlag.Name),
	})

	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))
	server, err := httpserver.New(cfg, handler)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	server.Shutdown()
	logger.Info("Server shutdown complete")

	return nil
}
