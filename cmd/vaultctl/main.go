package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"autocompounder/internal/passphrase"
	"autocompounder/crypto"
)

const (
	defaultServer  = "http://localhost:7090"
	defaultPassEnv = "VAULTD_KEY_PASSPHRASE"
)

type command struct {
	name  string
	usage string
	run   func(env *cliEnv, args []string) error
}

type cliEnv struct {
	stdout io.Writer
	stderr io.Writer
	client *http.Client
	// passphrase overrides the environment and terminal lookup in tests.
	passphrase func(envVar string) (string, error)
}

var commands = []command{
	{name: "keygen", usage: "keygen -out <path> [-pass-env VAR]", run: runKeygen},
	{name: "address", usage: "address -keystore <path> [-pass-env VAR]", run: runAddress},
	{name: "deposit", usage: "deposit -address <addr> -amount <base units>", run: runDeposit},
	{name: "withdraw", usage: "withdraw -address <addr>", run: runWithdraw},
	{name: "compound", usage: "compound", run: runCompound},
	{name: "position", usage: "position -address <addr>", run: runPosition},
	{name: "vault", usage: "vault", run: runVault},
	{name: "events", usage: "events [-type vault.deposit] [-limit N]", run: runEvents},
	{name: "cycles", usage: "cycles [-limit N]", run: runCycles},
	{name: "verify", usage: "verify", run: runVerify},
	{name: "export", usage: "export -out <path.parquet>", run: runExport},
	{name: "faucet", usage: "faucet -address <addr> [-amount <base units>]", run: runFaucet},
}

func main() {
	env := &cliEnv{
		stdout: os.Stdout,
		stderr: os.Stderr,
		client: &http.Client{Timeout: 2 * time.Minute},
		passphrase: func(envVar string) (string, error) {
			return passphrase.NewSource(envVar, "vault custody keystore").Get()
		},
	}
	os.Exit(execute(env, os.Args[1:]))
}

func execute(env *cliEnv, args []string) int {
	if len(args) == 0 {
		usage(env.stderr)
		return 1
	}
	for _, cmd := range commands {
		if cmd.name != args[0] {
			continue
		}
		if err := cmd.run(env, args[1:]); err != nil {
			fmt.Fprintf(env.stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}
	usage(env.stderr)
	return 1
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "Usage: vaultctl <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	for _, cmd := range commands {
		fmt.Fprintf(w, "  %s\n", cmd.usage)
	}
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Server commands honour VAULTCTL_SERVER and VAULTCTL_TOKEN.")
}

func runKeygen(env *cliEnv, args []string) error {
	fs := newFlagSet("keygen", env)
	out := fs.String("out", "", "Output path for the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	force := fs.Bool("force", false, "Overwrite an existing keystore file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return fmt.Errorf("-out is required")
	}
	if !*force {
		if _, err := os.Stat(*out); err == nil {
			return fmt.Errorf("keystore file %s already exists (use -force to overwrite)", *out)
		} else if !os.IsNotExist(err) {
			return err
		}
	}
	secret, err := env.passphrase(*passEnv)
	if err != nil {
		return err
	}
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	if err := crypto.SaveToKeystore(*out, key, secret); err != nil {
		return fmt.Errorf("write keystore: %w", err)
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(env.stdout, "Wrote %s\nAddress: %s\nHex: %s\n", *out, addr.String(), addr.Hex())
	return nil
}

func runAddress(env *cliEnv, args []string) error {
	fs := newFlagSet("address", env)
	path := fs.String("keystore", "", "Path to the keystore file")
	passEnv := fs.String("pass-env", defaultPassEnv, "Environment variable containing the keystore passphrase")
	if err := fs.Parse(args); err != nil {
		return err
	}
	secret, err := env.passphrase(*passEnv)
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(*path, secret)
	if err != nil {
		return err
	}
	addr := key.PubKey().Address()
	fmt.Fprintf(env.stdout, "Address: %s\nHex: %s\n", addr.String(), addr.Hex())
	return nil
}

func runDeposit(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("deposit", env)
	address := fs.String("address", "", "Depositor address")
	amount := fs.String("amount", "", "Deposit amount in stable base units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireAddress(*address); err != nil {
		return err
	}
	return env.call(http.MethodPost, *server, "/v1/deposits", *token, map[string]string{"address": *address, "amount": *amount})
}

func runWithdraw(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("withdraw", env)
	address := fs.String("address", "", "Depositor address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireAddress(*address); err != nil {
		return err
	}
	return env.call(http.MethodPost, *server, "/v1/withdrawals", *token, map[string]string{"address": *address})
}

func runCompound(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("compound", env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return env.call(http.MethodPost, *server, "/v1/compound", *token, nil)
}

func runPosition(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("position", env)
	address := fs.String("address", "", "Depositor address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireAddress(*address); err != nil {
		return err
	}
	return env.call(http.MethodGet, *server, "/v1/positions/"+url.PathEscape(strings.TrimSpace(*address)), *token, nil)
}

func runVault(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("vault", env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return env.call(http.MethodGet, *server, "/v1/vault", *token, nil)
}

func runEvents(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("events", env)
	eventType := fs.String("type", "", "Only list events of this type")
	limit := fs.Int("limit", 0, "Maximum number of events")
	if err := fs.Parse(args); err != nil {
		return err
	}
	query := url.Values{}
	if *eventType != "" {
		query.Set("type", *eventType)
	}
	if *limit > 0 {
		query.Set("limit", fmt.Sprint(*limit))
	}
	path := "/v1/events"
	if encoded := query.Encode(); encoded != "" {
		path += "?" + encoded
	}
	return env.call(http.MethodGet, *server, path, *token, nil)
}

func runCycles(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("cycles", env)
	limit := fs.Int("limit", 0, "Maximum number of cycles")
	if err := fs.Parse(args); err != nil {
		return err
	}
	path := "/v1/cycles"
	if *limit > 0 {
		path += "?limit=" + fmt.Sprint(*limit)
	}
	return env.call(http.MethodGet, *server, path, *token, nil)
}

func runVerify(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("verify", env)
	if err := fs.Parse(args); err != nil {
		return err
	}
	return env.call(http.MethodGet, *server, "/v1/journal/verify", *token, nil)
}

func runExport(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("export", env)
	out := fs.String("out", "", "Destination parquet file")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(*out) == "" {
		return fmt.Errorf("-out is required")
	}
	payload, rows, err := env.download(*server, "/v1/cycles/export", *token)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, payload, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}
	fmt.Fprintf(env.stdout, "wrote %s rows to %s\n", rows, *out)
	return nil
}

func runFaucet(env *cliEnv, args []string) error {
	fs, server, token := newServerFlagSet("faucet", env)
	address := fs.String("address", "", "Recipient address")
	amount := fs.String("amount", "", "Amount in stable base units (defaults to the faucet limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireAddress(*address); err != nil {
		return err
	}
	body := map[string]string{"address": *address}
	if *amount != "" {
		body["amount"] = *amount
	}
	return env.call(http.MethodPost, *server, "/v1/faucet", *token, body)
}

func newFlagSet(name string, env *cliEnv) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(env.stderr)
	return fs
}

func newServerFlagSet(name string, env *cliEnv) (*flag.FlagSet, *string, *string) {
	fs := newFlagSet(name, env)
	server := fs.String("server", envOr("VAULTCTL_SERVER", defaultServer), "vaultd base URL")
	token := fs.String("token", os.Getenv("VAULTCTL_TOKEN"), "Bearer token for mutating endpoints")
	return fs, server, token
}

func requireAddress(raw string) error {
	if _, err := crypto.ParseAddress(raw); err != nil {
		return fmt.Errorf("invalid -address: %w", err)
	}
	return nil
}

// call sends a request and pretty prints the JSON response. Non-2xx responses
// are reported as errors carrying the server's message.
func (env *cliEnv) call(method, server, path, token string, body interface{}) error {
	payload, _, err := env.send(method, server, path, token, body, 1<<20)
	if err != nil {
		return err
	}
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, payload, "", "  "); err != nil {
		_, err = env.stdout.Write(payload)
		return err
	}
	pretty.WriteByte('\n')
	_, err = pretty.WriteTo(env.stdout)
	return err
}

// download fetches a binary payload and the row count reported alongside it.
func (env *cliEnv) download(server, path, token string) ([]byte, string, error) {
	payload, header, err := env.send(http.MethodGet, server, path, token, nil, 256<<20)
	if err != nil {
		return nil, "", err
	}
	rows := header.Get("X-Row-Count")
	if rows == "" {
		rows = "?"
	}
	return payload, rows, nil
}

func (env *cliEnv) send(method, server, path, token string, body interface{}, maxBytes int64) ([]byte, http.Header, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, nil, err
		}
		reader = bytes.NewReader(raw)
	}
	endpoint := strings.TrimRight(strings.TrimSpace(server), "/") + path
	req, err := http.NewRequest(method, endpoint, reader)
	if err != nil {
		return nil, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token = strings.TrimSpace(token); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := env.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var failure struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(payload, &failure) == nil && failure.Error != "" {
			return nil, nil, fmt.Errorf("%s (HTTP %d)", failure.Error, resp.StatusCode)
		}
		return nil, nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}
	return payload, resp.Header, nil
}

func envOr(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}
