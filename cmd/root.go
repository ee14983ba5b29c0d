package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bookrag/bookrag/internal/config"
)

var (
	cfgFile string
	verbose bool

	// cfg and log are resolved once in initConfig and shared by every
	// subcommand's RunE.
	cfg config.Config
	log *logrus.Logger
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bookrag",
	Short: "bookrag - AI-assisted question answering and chat over a book",
	Long: `bookrag indexes a book's text into retrievable chunks and serves hybrid
lexical+vector retrieval, streaming chat/completion, and a Model-Context-Protocol
JSON-RPC endpoint on top of it.

Environment Variables:
  GEMINI_API_KEY      Gemini completion/embedding provider
  OPENAI_API_KEY      Optional OpenAI-compatible embedding provider
  BOOK_PATH           Path to the book file the REST/WS API serves
  BOOKS_DIR           Directory of {stem}_index.json files for MCP
  REDIS_HOST          Optional Redis-backed cache/conversation store`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.bookrag.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose (debug-level) logging")
}

// initConfig resolves bookrag's Config via internal/config.Load (flags >
// env > .env > config file > defaults) and builds the shared logrus
// logger every subcommand uses.
func initConfig() {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName("bookrag")
	}

	resolved, err := config.Load(v)
	if err != nil {
		fmt.Fprintln(os.Stderr, "bookrag: config error:", err)
		os.Exit(1)
	}
	cfg = resolved

	log = logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	log.SetLevel(level)
}
