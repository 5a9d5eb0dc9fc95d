package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kisuryoza/chatrelay/chatrelay/broker"
	"github.com/kisuryoza/chatrelay/chatrelay/event/pbwire"
	"github.com/kisuryoza/chatrelay/chatrelay/store/pebblestore"
)

var rootCmd = &cobra.Command{
	Use:   "chat-broker",
	Short: "End-to-end-encrypted chat relay broker",
	RunE:  run,
}

var (
	flagAddr      string
	flagStorePath string
	flagLogLevel  string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagAddr, "address", envOr("ADDRESS", ":7878"), "listen address (env ADDRESS)")
	flags.StringVar(&flagStorePath, "store", envOr("STORE_PATH", "./chat-broker-data"), "credential store directory (env STORE_PATH)")
	flags.StringVar(&flagLogLevel, "log-level", envOr("LOG_LEVEL", "info"), "zerolog level (env LOG_LEVEL)")
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("execute root command")
	}
}

func run(cmd *cobra.Command, args []string) error {
	level, err := zerolog.ParseLevel(flagLogLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	db, err := pebblestore.Open(flagStorePath)
	if err != nil {
		return err
	}
	defer db.Close()

	listener, err := net.Listen("tcp", flagAddr)
	if err != nil {
		return err
	}
	defer listener.Close()
	logger.Info().Str("address", flagAddr).Msg("broker listening")

	server := &broker.Server{
		Codec:  pbwire.Codec{},
		Store:  db,
		Shared: broker.NewShared(),
		Log:    logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		logger.Info().Msg("shutting down")
		cancel()
	}()

	return server.Accept(ctx, listener)
}
