package cmd

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"famlink/internal/api"
	"famlink/internal/auth"
	"famlink/internal/config"
	"famlink/internal/storage"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "famlink",
	Short: "famlink is the command-line client for the famlink family network",
	Long: `famlink talks to a famlink server: accounts, families, invitations,
memories (posts, milestones, traditions, time capsules) and real-time chat.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
}

// app bundles the client stack every command needs.
type app struct {
	cfg   config.Config
	log   zerolog.Logger
	store *storage.Store
	api   *api.Client
	auth  *auth.Service
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	client := api.NewClient(cfg.APIBaseURL, cfg.HTTPTimeout, log)
	return &app{
		cfg:   cfg,
		log:   log,
		store: store,
		api:   client,
		auth:  auth.NewService(client, store, log),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("closing local store")
	}
}

// confirm asks the user before a destructive operation goes out.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	var answer string
	fmt.Scanln(&answer)
	return answer == "y" || answer == "Y" || answer == "yes"
}
