// Command respondent is the offline survey client. Every invocation resumes
// the current response from the local store, applies one step and prints the
// resulting page.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/soaringjerry/Malasakit/internal/config"
	"github.com/soaringjerry/Malasakit/internal/flow"
	"github.com/soaringjerry/Malasakit/internal/localstore"
	"github.com/soaringjerry/Malasakit/internal/logging"
	"github.com/soaringjerry/Malasakit/internal/resources"
	"github.com/soaringjerry/Malasakit/internal/syncclient"
	"github.com/soaringjerry/Malasakit/internal/utils"
)

// app holds the flags and the components opened for one invocation.
type app struct {
	configFile string
	storePath  string
	serverURL  string
	language   string
	verbose    bool

	cfg    *config.Config
	log    *zap.Logger
	store  *localstore.Store
	cache  *resources.Cache
	syncer *syncclient.Client
	ctl    *flow.Controller
}

func main() {
	a := &app{}
	err := a.rootCmd().Execute()
	a.close()
	if err != nil {
		os.Exit(1)
	}
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "respondent",
		Short: "Answer the Malasakit survey, online or offline",
		Long: `respondent walks through the survey one step per invocation.

Answers are saved on this device first and sent to the server whenever it can
be reached, so the survey can be completed without a connection.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", utils.Env("CONFIG", ""), "path to config file")
	flags.StringVar(&a.storePath, "store", "", "local store path (overrides client.store_path)")
	flags.StringVar(&a.serverURL, "server", "", "server base URL (overrides client.server_url)")
	flags.StringVar(&a.language, "lang", "", "language for new responses (overrides client.language)")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log to stderr")

	root.AddCommand(
		a.startCmd(),
		a.showCmd(),
		a.nextCmd(),
		a.backCmd(),
		a.gotoCmd(),
		a.rateCmd(),
		a.rateCommentCmd(),
		a.commentCmd(),
		a.infoCmd(),
		a.languageCmd(),
		a.submitCmd(),
		a.statusCmd(),
		a.syncCmd(),
		a.refreshCmd(),
	)
	return root
}

// open loads configuration and wires the client components.
func (a *app) open() error {
	loader, err := config.Load(a.configFile)
	if err != nil {
		return err
	}
	a.cfg = loader.Current()
	c := a.cfg.Client
	if a.storePath != "" {
		c.StorePath = a.storePath
	}
	if a.serverURL != "" {
		c.ServerURL = a.serverURL
	}
	if a.language != "" {
		c.Language = a.language
	}

	opts := a.cfg.Logging.LoggerOptions("respondent")
	opts.Console = a.verbose
	if a.verbose {
		opts.Level = "debug"
	}
	if a.log, err = logging.New(opts); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	if a.store, err = localstore.Open(c.StorePath, a.log); err != nil {
		return err
	}
	httpAPI := syncclient.NewHTTPAPI(c.ServerURL, c.RequestTimeout, a.log)
	a.cache = resources.New(a.store, httpAPI, a.log, resources.WithValidity(c.ResourceValidity))
	a.syncer = syncclient.New(httpAPI, a.store, a.log)
	a.ctl = flow.New(a.store, a.cache, a.syncer, c.Language, a.log)
	a.cfg.Client = c
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil && a.log != nil {
			a.log.Warn("close local store", zap.Error(err))
		}
		a.store = nil
	}
	if a.log != nil {
		_ = a.log.Sync()
	}
}
