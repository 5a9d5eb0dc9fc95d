package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/kisuryoza/chatrelay/chatrelay/crypto"
	"github.com/kisuryoza/chatrelay/chatrelay/event"
	"github.com/kisuryoza/chatrelay/chatrelay/event/pbwire"
	"github.com/kisuryoza/chatrelay/chatrelay/eventbuilder"
	"github.com/kisuryoza/chatrelay/chatrelay/framing"
	"github.com/kisuryoza/chatrelay/chatrelay/handshake"
	"github.com/kisuryoza/chatrelay/chatrelay/relerr"
	"github.com/kisuryoza/chatrelay/chatrelay/session"
)

var rootCmd = &cobra.Command{
	Use:   "chat-client",
	Short: "End-to-end-encrypted chat relay client",
	RunE:  run,
}

var (
	flagAddr     string
	flagLogLevel string
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVar(&flagAddr, "address", envOr("ADDRESS", "127.0.0.1:7878"), "broker address (env ADDRESS)")
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
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	conn, err := net.Dial("tcp", flagAddr)
	if err != nil {
		return err
	}
	defer conn.Close()

	codec := pbwire.Codec{}

	result, err := handshake.Perform(context.Background(), conn, codec)
	if err != nil {
		return err
	}
	logger.Info().Str("fingerprint", crypto.FingerprintEmoji(result.SharedSecret)).Msg("shared secret negotiated with broker")

	reader := bufio.NewReader(os.Stdin)
	username, err := loginOrRegister(conn, codec, result.SharedSecret, reader)
	if err != nil {
		if relerr.IsShutdown(err) {
			return nil
		}
		return err
	}
	logger.Info().Str("username", username).Msg("authenticated")

	client := session.Client{Username: username, Codec: codec, BrokerSecret: result.SharedSecret}
	return session.Run(conn, client, os.Stdin, os.Stdout)
}

func loginOrRegister(conn net.Conn, codec event.Codec, secret crypto.SharedSecret, reader *bufio.Reader) (string, error) {
	fmt.Println("Commands:")
	fmt.Println("          ':login'")
	fmt.Println("          ':register'")
	fmt.Println("          ':q'")

	for {
		line, err := readLine(reader)
		if err != nil {
			return "", err
		}
		switch strings.TrimSpace(line) {
		case ":login":
			return authenticate(conn, codec, secret, reader, false)
		case ":register":
			return authenticate(conn, codec, secret, reader, true)
		case ":q":
			return "", relerr.Shutdown
		default:
			fmt.Println("expected ':login', ':register' or ':q'")
		}
	}
}

func authenticate(conn net.Conn, codec event.Codec, secret crypto.SharedSecret, reader *bufio.Reader, register bool) (string, error) {
	fmt.Println("Enter username:")
	username, err := readLine(reader)
	if err != nil {
		return "", err
	}
	fmt.Println("Enter password:")
	password, err := readLine(reader)
	if err != nil {
		return "", err
	}

	var builder eventbuilder.Builder[eventbuilder.Constructed]
	if register {
		builder = eventbuilder.Construct(codec).RegistrationRequest(username, password)
	} else {
		builder = eventbuilder.Construct(codec).AuthenticationRequest(username, password)
	}

	blob, err := builder.Encrypt(secret)
	if err != nil {
		return "", err
	}
	if err := framing.WriteFrame(conn, blob); err != nil {
		return "", err
	}

	frame, err := framing.ReadFrame(conn)
	if err != nil {
		return "", err
	}
	decBuilder, err := eventbuilder.Deconstruct(codec).Decrypt(secret, frame)
	if err != nil {
		return "", err
	}
	entity, err := decBuilder.Deserialize()
	if err != nil {
		return "", err
	}

	if register {
		resp, ok := event.ExpectRegistrationResponse(entity)
		if !ok {
			return "", fmt.Errorf("unexpected reply to registration")
		}
		if resp.Status != event.RegistrationSuccess {
			return "", fmt.Errorf("registration failed: %s", resp.Status)
		}
	} else {
		resp, ok := event.ExpectAuthenticationResponse(entity)
		if !ok {
			return "", fmt.Errorf("unexpected reply to authentication")
		}
		if resp.Status != event.AuthenticationSuccess {
			return "", fmt.Errorf("authentication failed: %s", resp.Status)
		}
	}

	return username, nil
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
