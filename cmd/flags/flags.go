// Package flags holds the CLI flags and setup helpers shared by the
// service binaries.
package flags

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/mfahub/container-backend/common"
	"github.com/mfahub/container-backend/httpserver"
)

// SetupLogger builds the process logger from the common log flags.
func SetupLogger(cCtx *cli.Context) *slog.Logger {
	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   cCtx.Bool(LogDebugFlag.Name),
		JSON:    cCtx.Bool(LogJsonFlag.Name),
		Service: cCtx.String(LogServiceFlag.Name),
		Version: common.Version,
	})

	if cCtx.Bool(LogUidFlag.Name) {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

// ConfigureServer builds the HTTP server config from the common server
// flags.
func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *httpserver.HTTPServerConfig {
	return &httpserver.HTTPServerConfig{
		ListenAddr:               listenAddr,
		Log:                      logger,
		EnablePprof:              cCtx.Bool(PprofFlag.Name),
		DrainDuration:            time.Duration(cCtx.Int64(DrainSecondsFlag.Name)) * time.Second,
		GracefulShutdownDuration: 30 * time.Second,
		ReadTimeout:              60 * time.Second,
		WriteTimeout:             30 * time.Second,
	}
}

var ListenAddrFlag = &cli.StringFlag{
	Name:  "listen-addr",
	Value: "127.0.0.1:8080",
	Usage: "address to listen on for API",
}

var StorageFlag = &cli.StringFlag{
	Name:  "storage",
	Value: "memory://",
	Usage: "container storage location URI (memory://, file://, vault://, s3://)",
}

var ServerURLFlag = &cli.StringFlag{
	Name:  "server-url",
	Value: "http://127.0.0.1:8080",
	Usage: "base URL of this server as reachable by devices",
}

var ServiceSecretFlag = &cli.StringFlag{
	Name:     "service-secret",
	Required: true,
	EnvVars:  []string{"CONTAINER_SERVICE_SECRET"},
	Usage:    "secret used to encrypt key material and passphrases at rest",
}

var RegistrationTTLFlag = &cli.IntFlag{
	Name:  "registration-ttl",
	Value: 10,
	Usage: "registration link validity in minutes",
}

var ChallengeTTLFlag = &cli.IntFlag{
	Name:  "challenge-ttl",
	Value: 2,
	Usage: "synchronization challenge validity in minutes",
}

var SSLVerifyFlag = &cli.BoolFlag{
	Name:  "ssl-verify",
	Value: true,
	Usage: "tell devices to verify the server certificate",
}

var IssuerFlag = &cli.StringFlag{
	Name:  "issuer",
	Value: "",
	Usage: "issuer name embedded in registration URLs",
}

var InitialTokenTransferFlag = &cli.BoolFlag{
	Name:  "initial-token-transfer",
	Value: false,
	Usage: "allow a one-time bulk token import on the first synchronization",
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}

var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}

var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlag = &cli.StringFlag{
	Name:  "log-service",
	Value: common.PackageName,
	Usage: "add 'service' tag to logs",
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}

var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}

// CommonFlags are shared by every service binary.
var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	LogServiceFlag,
	PprofFlag,
	DrainSecondsFlag,
}
