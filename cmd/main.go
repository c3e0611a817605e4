package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"

	"formacal/internal/google"
)

func main() {
	// Load .env file first, but don't error if it doesn't exist.
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "formacal",
		Usage: "Group training events into sessions and keep project summaries consistent.",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Value:   "formacal.yaml",
				Usage:   "Path to the YAML configuration file.",
				EnvVars: []string{"FORMACAL_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			authCommand(),
			sessionsCommand(),
			analyzeCommand(),
			applyCommand(),
			auditCommand(),
			serveCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func authCommand() *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to get an API token.",
		Action: func(c *cli.Context) error {
			logger := setupLogger("info")
			logger.Info("Starting Google authentication flow.")

			config, err := google.GetOAuthConfigForAuthFlow(os.Getenv("GOOGLE_CLIENT_ID"), os.Getenv("GOOGLE_CLIENT_SECRET"))
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := config.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Printf("Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			reader := bufio.NewReader(os.Stdin)
			authCode := prompt(reader, "Enter Authorization Code: ")

			token, err := google.TokenFromWeb(c.Context, config, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			accountName := prompt(reader, "Enter a name for this account (e.g., 'personal', 'work'): ")
			tokenFile := google.TokenFile(accountName)
			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}

			logger.Info("Successfully authenticated and saved token.", "file", tokenFile)
			return nil
		},
	}
}

func prompt(reader *bufio.Reader, label string) string {
	fmt.Print(label)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func setupLogger(level string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

// withApp loads the configuration, opens the stores and runs fn.
func withApp(c *cli.Context, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(c.Context, c.String("config"))
	if err != nil {
		return err
	}
	defer a.close()
	return fn(c.Context, a)
}
