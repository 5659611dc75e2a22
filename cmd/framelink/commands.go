// cmd/framelink/commands.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dkoosis/framelink/internal/config"
	"github.com/dkoosis/framelink/internal/host/wshost"
	"github.com/dkoosis/framelink/internal/logging"
	"github.com/dkoosis/framelink/internal/mcp"
	mcptypes "github.com/dkoosis/framelink/internal/mcp_types"
	"github.com/dkoosis/framelink/internal/transport"
)

// Command-line variables set during build.
var (
	version     = "dev"
	buildCommit = "unknown"
)

type command struct {
	Name        string
	Description string
	Run         func([]string) error
	Help        string
}

var commands = []command{
	{
		Name:        "serve",
		Description: "Serve the demo registry over websocket",
		Run:         serveCommand,
		Help: `Usage: framelink serve [options]

Options:
  -config string   Path to a YAML or TOML configuration file
  -addr string     Listen address (overrides config file)
  -debug           Enable debug logging
`,
	},
	{
		Name:        "call",
		Description: "Connect to a server and list or call a capability",
		Run:         callCommand,
		Help: `Usage: framelink call [options] [list-tools|list-resources|list-prompts|tool NAME|read URI|prompt NAME|ping]

Options:
  -config string   Path to a YAML or TOML configuration file
  -url string      Websocket URL of the server (overrides config file)
  -args string     JSON object of arguments for tool and prompt
  -debug           Enable debug logging
`,
	},
	{
		Name:        "check",
		Description: "Validate a configuration file",
		Run:         checkCommand,
		Help:        "Usage: framelink check -config [path]",
	},
	{
		Name:        "version",
		Description: "Print the version information",
		Run:         versionCommand,
		Help:        "Usage: framelink version",
	},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.Name == name {
			return c, true
		}
	}
	if name == "help" || name == "-h" || name == "--help" {
		return command{Name: "help", Run: func([]string) error { printUsage(); return nil }}, true
	}
	return command{}, false
}

func printUsage() {
	fmt.Println("Usage: framelink <command> [options]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, c := range commands {
		fmt.Printf("  %-10s %s\n", c.Name, c.Description)
	}
}

// loadConfig loads, overrides and validates configuration, then installs logging.
func loadConfig(path string, debug bool) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}
	cfg.SetupLogging(os.Stderr)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return cfg, nil
}

func serveCommand(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	addr := fs.String("addr", "", "listen address (overrides config file)")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "failed to parse serve command flags")
	}

	cfg, err := loadConfig(*configPath, *debug)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	return RunServer(cfg, version)
}

func callCommand(args []string) error {
	fs := flag.NewFlagSet("call", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	url := fs.String("url", "", "websocket URL of the server")
	rawArgs := fs.String("args", "", "JSON object of arguments")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "failed to parse call command flags")
	}

	cfg, err := loadConfig(*configPath, *debug)
	if err != nil {
		return err
	}
	if *url != "" {
		cfg.Bridge.URL = *url
	}

	var callArgs map[string]interface{}
	if *rawArgs != "" {
		if err := json.Unmarshal([]byte(*rawArgs), &callArgs); err != nil {
			return errors.Wrap(err, "-args must be a JSON object")
		}
	}

	action := fs.Args()
	if len(action) == 0 {
		action = []string{"list-tools"}
	}

	timeout := cfg.RPC.RequestTimeout.Std()
	ctx, cancel := context.WithTimeout(context.Background(), timeout+5*time.Second)
	defer cancel()

	client, closeFn, err := dialClient(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeFn()

	out, err := runCall(ctx, client, action, callArgs)
	if err != nil {
		return err
	}
	return printJSON(os.Stdout, out)
}

// dialClient opens a websocket to the configured server and completes the handshake.
func dialClient(ctx context.Context, cfg *config.Config) (*mcp.Client, func(), error) {
	logger := logging.GetLogger("cli")
	peer, err := wshost.Dial(ctx, cfg.Bridge.URL, cfg.Bridge.Origin, logger)
	if err != nil {
		return nil, nil, err
	}

	client, err := mcp.NewClient(mcp.ClientOptions{
		Info: mcptypes.Implementation{Name: cfg.Bridge.ClientName, Version: version},
		Channel: transport.InitiatorConfig{
			Local:          peer.Local(),
			Target:         peer,
			TargetOrigin:   cfg.Channel.TargetOrigin,
			AllowedOrigins: []string{peer.Origin()},
			StartDelay:     cfg.Channel.StartDelay.Std(),
		},
		RequestTimeout: cfg.RPC.RequestTimeout.Std(),
		OnNotification: func(_ context.Context, method string, params json.RawMessage) {
			logger.Info("Notification from server.", "method", method, "params", string(params))
		},
		Logger: logger,
	})
	if err != nil {
		_ = peer.Close()
		return nil, nil, err
	}

	res, err := client.Connect(ctx)
	if err != nil {
		_ = peer.Close()
		return nil, nil, errors.Wrapf(err, "failed to connect to %s", cfg.Bridge.URL)
	}
	logger.Info("Connected.", "server", res.ServerInfo.Name, "version", res.ServerInfo.Version,
		"protocolVersion", res.ProtocolVersion)

	return client, func() {
		_ = client.Disconnect()
		_ = peer.Close()
	}, nil
}

// runCall performs one action on a connected client and returns the decoded result.
func runCall(ctx context.Context, client *mcp.Client, action []string, args map[string]interface{}) (interface{}, error) {
	operand := func() (string, error) {
		if len(action) < 2 || action[1] == "" {
			return "", errors.Newf("%s requires an argument", action[0])
		}
		return action[1], nil
	}

	switch action[0] {
	case "list-tools":
		return client.ListTools(ctx)
	case "list-resources":
		return client.ListResources(ctx)
	case "list-prompts":
		return client.ListPrompts(ctx)
	case "tool":
		name, err := operand()
		if err != nil {
			return nil, err
		}
		return client.CallTool(ctx, name, args)
	case "read":
		uri, err := operand()
		if err != nil {
			return nil, err
		}
		return client.ReadResource(ctx, uri)
	case "prompt":
		name, err := operand()
		if err != nil {
			return nil, err
		}
		return client.GetPrompt(ctx, name, args)
	case "ping":
		if err := client.Ping(ctx); err != nil {
			return nil, err
		}
		return map[string]string{"status": "ok"}, nil
	default:
		return nil, errors.Newf("unknown call action %q", action[0])
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func checkCommand(args []string) error {
	fs := flag.NewFlagSet("check", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to configuration file")
	if err := fs.Parse(args); err != nil {
		return errors.Wrap(err, "failed to parse check command flags")
	}

	cfg, err := loadConfig(*configPath, false)
	if err != nil {
		return err
	}
	fmt.Printf("Server name: %s\n", cfg.Server.Name)
	fmt.Printf("Listen address: %s\n", cfg.Server.Addr)
	fmt.Printf("Allowed origins: %v\n", cfg.Channel.AllowedOrigins)
	fmt.Printf("Request timeout: %s\n", cfg.RPC.RequestTimeout.Std())
	fmt.Println("Configuration is valid.")
	return nil
}

func versionCommand([]string) error {
	fmt.Printf("framelink version %s (%s)\n", version, buildCommit)
	return nil
}
