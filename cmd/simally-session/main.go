// Copyright 2026 The SimAlly Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/simally/sessionkit/companion"
	"github.com/simally/sessionkit/gateway"
	"github.com/simally/sessionkit/lib/config"
	"github.com/simally/sessionkit/lib/sealed"
	"github.com/simally/sessionkit/lib/secret"
	"github.com/simally/sessionkit/lib/version"
	"github.com/simally/sessionkit/session"
	"github.com/simally/sessionkit/store"
)

func main() {
	err := run(os.Args[1:])
	if err == nil {
		return
	}
	fmt.Fprintf(os.Stderr, "error: %v\n", err)

	var usage *usageError
	if errors.As(err, &usage) {
		os.Exit(2)
	}
	os.Exit(1)
}

// usageError marks errors caused by the invocation itself (unknown
// subcommand, missing argument, bad flag). They exit 2; everything
// else exits 1.
type usageError struct {
	message string
}

func (e *usageError) Error() string { return e.message }

func usagef(format string, args ...any) error {
	return &usageError{message: fmt.Sprintf(format, args...)}
}

func run(args []string) error {
	if len(args) < 1 {
		printUsage()
		return usagef("subcommand required")
	}

	subcommand := args[0]
	switch subcommand {
	case "register":
		return runRegister(args[1:])
	case "login":
		return runLogin(args[1:])
	case "logout":
		return runLogout(args[1:])
	case "status":
		return runStatus(args[1:])
	case "verify":
		return runVerify(args[1:])
	case "watch":
		return runWatch(args[1:])
	case "keygen":
		return runKeygen(args[1:])
	case "seal-key":
		return runSealKey(args[1:])
	case "version":
		return runVersion(args[1:])
	case "-h", "--help", "help":
		printUsage()
		return nil
	default:
		printUsage()
		return usagef("unknown subcommand: %q", subcommand)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: simally-session <subcommand> [flags]

Subcommands:
  register    Create an account and sign in
  login       Sign in and persist the session
  logout      Sign out and tear down dependent sessions
  status      Show the persisted session
  verify      Round-trip the session against the gateway
  watch       Run the manager and print every state change
  keygen      Create and print the machine identity recipient
  seal-key    Seal a companion API key to the machine identity
  version     Print version information

Run 'simally-session <subcommand> --help' for subcommand flags.
`)
}

// parseFlags parses a subcommand's flag set. Help requests print the
// flag summary and report done=true; parse failures come back as
// usage errors.
func parseFlags(flags *pflag.FlagSet, usage string, args []string) (done bool, err error) {
	flags.SetOutput(io.Discard)
	err = flags.Parse(args)
	if err == nil {
		return false, nil
	}
	if errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintf(os.Stderr, "Usage: %s\n\nFlags:\n", usage)
		flags.SetOutput(os.Stderr)
		flags.PrintDefaults()
		return true, nil
	}
	return false, usagef("%v\n\nUsage: %s", err, usage)
}

// configFlag registers the shared --config flag.
func configFlag(flags *pflag.FlagSet) *string {
	return flags.String("config", "", "path to simally.yaml (default: $SIMALLY_CONFIG, else built-in defaults)")
}

// loadConfig loads the YAML configuration from an explicit path, from
// $SIMALLY_CONFIG, or falls back to the built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.LoadOrDefault()
}

// newLogger builds the CLI logger: human-readable text on a terminal,
// JSON when stderr is piped (scripts, CI), at the configured level.
func newLogger(cfg *config.Config) *slog.Logger {
	options := &slog.HandlerOptions{Level: logLevel(cfg.Logging.Level)}
	var handler slog.Handler
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// openStore builds the session store the config names: the
// encrypted-at-rest store when session.sealed is set, the plain JSON
// file store otherwise.
func openStore(cfg *config.Config, logger *slog.Logger) (session.Store, error) {
	if cfg.Session.Sealed {
		return store.NewSealedStore(cfg.Session.StorePath, cfg.Session.MachineKeyFile, nil, logger)
	}
	return store.NewFileStore(cfg.Session.StorePath, nil, logger)
}

// buildCoordinator wires the companion coordinator, or returns nil
// when the machine has no conversation-service credentials: a setup
// without a persona file and sealed API key still gets full local
// session management, just no companion conversations.
func buildCoordinator(cfg *config.Config, logger *slog.Logger) (*companion.Coordinator, func(), error) {
	noop := func() {}

	_, personaErr := os.Stat(cfg.Companion.PersonaFile)
	_, keyErr := os.Stat(cfg.Companion.APIKeyFile)
	if os.IsNotExist(personaErr) && os.IsNotExist(keyErr) {
		logger.Info("companion coordinator disabled",
			"persona_file", cfg.Companion.PersonaFile,
			"api_key_file", cfg.Companion.APIKeyFile,
		)
		return nil, noop, nil
	}

	persona, err := companion.LoadPersona(cfg.Companion.PersonaFile)
	if err != nil {
		return nil, noop, fmt.Errorf("loading persona: %w", err)
	}

	identity, _, err := store.LoadOrCreateIdentity(cfg.Companion.IdentityFile)
	if err != nil {
		return nil, noop, fmt.Errorf("loading machine identity: %w", err)
	}

	apiKey, err := companion.LoadSealedAPIKey(cfg.Companion.APIKeyFile, identity)
	identity.Close()
	if err != nil {
		return nil, noop, fmt.Errorf("loading companion API key: %w", err)
	}

	coordinator, err := companion.NewCoordinator(companion.Config{
		ConversationBaseURL: cfg.Companion.ConversationBaseURL,
		RevocationBaseURL:   cfg.Companion.RevocationBaseURL,
		APIKey:              apiKey,
		Persona:             persona,
		Logger:              logger,
	})
	if err != nil {
		apiKey.Close()
		return nil, noop, err
	}

	return coordinator, func() { apiKey.Close() }, nil
}

// runtime bundles the wired components a subcommand drives. close
// shuts the manager down — draining its fire-and-forget teardown
// calls — and releases the coordinator's key material.
type runtime struct {
	manager     *session.Manager
	coordinator *companion.Coordinator
	close       func()
}

func buildRuntime(cfg *config.Config, logger *slog.Logger) (*runtime, error) {
	gatewayClient, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL:    cfg.Gateway.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Gateway.RequestTimeout()},
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	sessionStore, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	coordinator, closeCoordinator, err := buildCoordinator(cfg, logger)
	if err != nil {
		return nil, err
	}

	managerConfig := session.Config{
		Gateway:                    gatewayClient,
		Store:                      sessionStore,
		Logger:                     logger,
		InactivityThreshold:        cfg.Session.InactivityThreshold(),
		ExpiryPollInterval:         cfg.Session.ExpiryPollInterval(),
		TouchInterval:              cfg.Session.TouchInterval(),
		BestEffortTimeout:          cfg.Companion.CallTimeout(),
		DisableVerifyActivityReset: !cfg.Session.VerifyResetsActivity,
	}
	// Assign only a live coordinator: a typed nil inside the
	// interface would defeat the manager's nil checks.
	if coordinator != nil {
		managerConfig.Coordinator = coordinator
	}

	manager, err := session.NewManager(managerConfig)
	if err != nil {
		closeCoordinator()
		return nil, err
	}

	return &runtime{
		manager:     manager,
		coordinator: coordinator,
		close: func() {
			manager.Close()
			closeCoordinator()
		},
	}, nil
}

// runRegister creates an account and signs in as it.
func runRegister(args []string) error {
	flags := pflag.NewFlagSet("register", pflag.ContinueOnError)
	configPath := configFlag(flags)
	passwordFile := flags.String("password-file", "", "file containing the password, or - to prompt (default: prompt)")
	fullName := flags.String("full-name", "", "display name for the new account")

	const usage = "simally-session register <username> [flags]"
	done, err := parseFlags(flags, usage, args)
	if done || err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return usagef("username is required\n\nUsage: %s", usage)
	}
	if flags.NArg() > 1 {
		return usagef("unexpected argument: %s", flags.Arg(1))
	}
	username := flags.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	password, err := readNewPassword(*passwordFile)
	if err != nil {
		return err
	}
	defer password.Close()

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.manager.SignUp(ctx, username, password, *fullName); err != nil {
		return fmt.Errorf("registration failed: %w", err)
	}

	record := rt.manager.CurrentSession()
	fmt.Fprintf(os.Stderr, "Registered and signed in as %s\n", record.User.Username)
	fmt.Fprintf(os.Stderr, "  User ID: %s\n", record.User.ID)
	fmt.Fprintf(os.Stderr, "  Session expires: %s\n", record.ExpiresAt.Format(time.RFC3339))
	return nil
}

// runLogin signs in and persists the session.
func runLogin(args []string) error {
	flags := pflag.NewFlagSet("login", pflag.ContinueOnError)
	configPath := configFlag(flags)
	passwordFile := flags.String("password-file", "", "file containing the password, or - to prompt (default: prompt)")

	const usage = "simally-session login <username> [flags]"
	done, err := parseFlags(flags, usage, args)
	if done || err != nil {
		return err
	}
	if flags.NArg() < 1 {
		return usagef("username is required\n\nUsage: %s", usage)
	}
	if flags.NArg() > 1 {
		return usagef("unexpected argument: %s", flags.Arg(1))
	}
	username := flags.Arg(0)

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	password, err := readPassword(*passwordFile)
	if err != nil {
		return err
	}
	defer password.Close()

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.manager.SignIn(ctx, username, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}

	record := rt.manager.CurrentSession()
	fmt.Fprintf(os.Stderr, "Signed in as %s\n", record.User.Username)
	fmt.Fprintf(os.Stderr, "  User ID: %s\n", record.User.ID)
	fmt.Fprintf(os.Stderr, "  Session expires: %s\n", record.ExpiresAt.Format(time.RFC3339))
	return nil
}

// runLogout signs the persisted session out and drains the
// best-effort teardown calls before returning.
func runLogout(args []string) error {
	flags := pflag.NewFlagSet("logout", pflag.ContinueOnError)
	configPath := configFlag(flags)

	const usage = "simally-session logout [flags]"
	done, err := parseFlags(flags, usage, args)
	if done || err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return usagef("unexpected argument: %s", flags.Arg(0))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	user := rt.manager.CurrentUser()
	if user == nil {
		fmt.Fprintln(os.Stderr, "No active session")
		return nil
	}

	rt.manager.SignOut()
	rt.close()

	fmt.Fprintf(os.Stderr, "Signed out %s\n", user.Username)
	return nil
}

// runStatus reports the persisted session without mutating it.
func runStatus(args []string) error {
	flags := pflag.NewFlagSet("status", pflag.ContinueOnError)
	configPath := configFlag(flags)
	verify := flags.Bool("verify", false, "round-trip the session against the gateway")

	const usage = "simally-session status [flags]"
	done, err := parseFlags(flags, usage, args)
	if done || err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return usagef("unexpected argument: %s", flags.Arg(0))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	sessionStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	record, err := sessionStore.Load()
	if err != nil {
		return fmt.Errorf("loading session: %w", err)
	}
	if record == nil {
		fmt.Println("Not signed in")
		return nil
	}

	fmt.Printf("Signed in as %s (%s)\n", record.User.Username, record.User.ID)
	if record.User.FullName != "" {
		fmt.Printf("  Full name: %s\n", record.User.FullName)
	}
	fmt.Printf("  Session: %s\n", record.Fingerprint())
	fmt.Printf("  Expires: %s (in %s)\n",
		record.ExpiresAt.Format(time.RFC3339),
		time.Until(record.ExpiresAt).Round(time.Second),
	)

	if !*verify {
		return nil
	}

	client, err := gateway.NewClient(gateway.ClientConfig{
		BaseURL:    cfg.Gateway.BaseURL,
		HTTPClient: &http.Client{Timeout: cfg.Gateway.RequestTimeout()},
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Gateway.RequestTimeout())
	defer cancel()

	if _, err := client.Validate(ctx, record.Token); err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			return fmt.Errorf("session rejected by gateway: %s", authErr.Message)
		}
		return fmt.Errorf("could not verify session: %w", err)
	}
	fmt.Println("  Remote check: session is valid")
	return nil
}

// runVerify round-trips the session through the manager: a rejection
// signs the session out locally, and the exit code reflects validity.
func runVerify(args []string) error {
	flags := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	configPath := configFlag(flags)

	const usage = "simally-session verify [flags]"
	done, err := parseFlags(flags, usage, args)
	if done || err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return usagef("unexpected argument: %s", flags.Arg(0))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	if !rt.manager.IsAuthenticated() {
		return fmt.Errorf("no session to verify")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !rt.manager.Verify(ctx) {
		return fmt.Errorf("session is no longer valid (signed out)")
	}

	user := rt.manager.CurrentUser()
	fmt.Fprintf(os.Stderr, "Session valid for %s\n", user.Username)
	return nil
}

// runWatch runs the full manager — inactivity monitor and expiry
// watchdog live — and prints every session state change until
// interrupted.
func runWatch(args []string) error {
	flags := pflag.NewFlagSet("watch", pflag.ContinueOnError)
	configPath := configFlag(flags)

	const usage = "simally-session watch [flags]"
	done, err := parseFlags(flags, usage, args)
	if done || err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return usagef("unexpected argument: %s", flags.Arg(0))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer rt.close()

	unsubscribe := rt.manager.Subscribe(func(s *session.Session) {
		stamp := time.Now().Format(time.RFC3339)
		if s != nil {
			fmt.Printf("%s signed in as %s (expires %s)\n",
				stamp, s.User.Username, s.ExpiresAt.Format(time.RFC3339))
		} else {
			fmt.Printf("%s signed out\n", stamp)
		}
		if rt.coordinator != nil {
			fmt.Printf("%s active companion conversations: %d\n",
				stamp, rt.coordinator.ActiveConversations())
		}
	})
	defer unsubscribe()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()
	fmt.Fprintln(os.Stderr, "watch stopped")
	return nil
}

// runKeygen ensures the machine identity exists and prints its
// recipient. The private half stays in the identity file; only the
// public recipient is printed.
func runKeygen(args []string) error {
	flags := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
	configPath := configFlag(flags)

	const usage = "simally-session keygen [flags]"
	done, err := parseFlags(flags, usage, args)
	if done || err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return usagef("unexpected argument: %s", flags.Arg(0))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	identity, recipient, err := store.LoadOrCreateIdentity(cfg.Companion.IdentityFile)
	if err != nil {
		return fmt.Errorf("loading machine identity: %w", err)
	}
	identity.Close()

	fmt.Fprintf(os.Stderr, "Machine identity: %s\n", cfg.Companion.IdentityFile)
	fmt.Println(recipient)
	return nil
}

// runSealKey encrypts a companion API key to the machine identity (or
// an explicit recipient) and writes the sealed file the coordinator
// loads at startup.
func runSealKey(args []string) error {
	flags := pflag.NewFlagSet("seal-key", pflag.ContinueOnError)
	configPath := configFlag(flags)
	keyFile := flags.String("key-file", "-", "file containing the plaintext API key, or - for stdin")
	recipient := flags.String("recipient", "", "age recipient to seal to (default: the machine identity)")
	output := flags.String("output", "", "destination for the sealed key (default: companion.api_key_file)")

	const usage = "simally-session seal-key [flags]"
	done, err := parseFlags(flags, usage, args)
	if done || err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return usagef("unexpected argument: %s", flags.Arg(0))
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	apiKey, err := secret.ReadFromPath(*keyFile)
	if err != nil {
		return fmt.Errorf("reading API key: %w", err)
	}
	defer apiKey.Close()

	recipientKey := *recipient
	if recipientKey == "" {
		identity, machineRecipient, err := store.LoadOrCreateIdentity(cfg.Companion.IdentityFile)
		if err != nil {
			return fmt.Errorf("loading machine identity: %w", err)
		}
		identity.Close()
		recipientKey = machineRecipient
	} else if err := sealed.ParsePublicKey(recipientKey); err != nil {
		return err
	}

	ciphertext, err := sealed.Encrypt(apiKey.Bytes(), []string{recipientKey})
	if err != nil {
		return fmt.Errorf("sealing API key: %w", err)
	}

	destination := *output
	if destination == "" {
		destination = cfg.Companion.APIKeyFile
	}
	if err := os.MkdirAll(filepath.Dir(destination), 0o700); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(destination), err)
	}
	if err := os.WriteFile(destination, []byte(ciphertext+"\n"), 0o600); err != nil {
		return fmt.Errorf("writing sealed key: %w", err)
	}

	fmt.Fprintf(os.Stderr, "Sealed API key written to %s\n", destination)
	fmt.Fprintf(os.Stderr, "  Recipient: %s\n", recipientKey)
	return nil
}

// runVersion prints the build version. --full adds the Go runtime and
// platform.
func runVersion(args []string) error {
	flags := pflag.NewFlagSet("version", pflag.ContinueOnError)
	full := flags.Bool("full", false, "include Go runtime and platform details")

	const usage = "simally-session version [flags]"
	done, err := parseFlags(flags, usage, args)
	if done || err != nil {
		return err
	}
	if flags.NArg() > 0 {
		return usagef("unexpected argument: %s", flags.Arg(0))
	}

	if *full {
		fmt.Printf("simally-session %s\n", version.Full())
	} else {
		fmt.Printf("simally-session %s\n", version.Info())
	}
	return nil
}

// readPassword reads the account password. An empty or "-" path
// prompts interactively with echo disabled; otherwise the file
// contents are used (surrounding whitespace stripped).
func readPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" && passwordFile != "-" {
		return secret.ReadFromPath(passwordFile)
	}

	passwordBytes, err := promptPassword("Password: ")
	if err != nil {
		return nil, err
	}

	buffer, err := secret.NewFromBytes(passwordBytes)
	if err != nil {
		secret.Zero(passwordBytes)
		return nil, err
	}
	return buffer, nil
}

// readNewPassword reads a password for a new account. Interactive
// prompts ask twice: a mistyped registration password locks the user
// out of the account they just created.
func readNewPassword(passwordFile string) (*secret.Buffer, error) {
	if passwordFile != "" && passwordFile != "-" {
		return secret.ReadFromPath(passwordFile)
	}

	first, err := promptPassword("Password: ")
	if err != nil {
		return nil, err
	}

	second, err := promptPassword("Confirm password: ")
	if err != nil {
		secret.Zero(first)
		return nil, err
	}

	match := len(first) == len(second)
	if match {
		for index := range first {
			if first[index] != second[index] {
				match = false
				break
			}
		}
	}
	secret.Zero(second)

	if !match {
		secret.Zero(first)
		return nil, fmt.Errorf("passwords do not match")
	}

	buffer, err := secret.NewFromBytes(first)
	if err != nil {
		secret.Zero(first)
		return nil, err
	}
	return buffer, nil
}

// promptPassword reads one line from the terminal with echo disabled.
func promptPassword(prompt string) ([]byte, error) {
	stdinFileDescriptor := int(os.Stdin.Fd())
	if !term.IsTerminal(stdinFileDescriptor) {
		return nil, fmt.Errorf("no terminal available for the password prompt (use --password-file)")
	}

	fmt.Fprint(os.Stderr, prompt)
	passwordBytes, err := term.ReadPassword(stdinFileDescriptor)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading password: %w", err)
	}
	return passwordBytes, nil
}
