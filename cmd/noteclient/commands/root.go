package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"noteclient/lib/configutil"
	"noteclient/lib/invest"
	"noteclient/lib/session"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "noteclient",
	Short: "noteclient searches loan notes and places investment orders on the marketplace.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fatal(message string, err error) {
	fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
	os.Exit(1)
}

type Config struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	BaseURL  string `json:"base_url"`
	// OrderLog is the path of the local order database.
	OrderLog string `json:"order_log"`
}

func readConfig() Config {
	cfg, err := configutil.ReadConfig[Config]("noteclient.json5")
	if err != nil {
		fatal("failed to read noteclient.json5", err)
	}
	if cfg.OrderLog == "" {
		cfg.OrderLog = "orders.db"
	}
	return cfg
}

func login(ctx context.Context, cfg Config) *invest.Client {
	ctx, cancel := context.WithTimeout(ctx, time.Second*60)
	defer cancel()

	s, err := session.New(session.Options{BaseURL: cfg.BaseURL})
	if err != nil {
		fatal("failed to initialize session", err)
	}
	err = s.Authenticate(ctx, cfg.Email, cfg.Password)
	if err != nil {
		fatal("failed to login to the marketplace", err)
	}
	return invest.New(s)
}
