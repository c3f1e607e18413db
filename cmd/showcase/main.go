// showcase loads 3D model files (STL, OBJ, glTF/GLB, FBX, Collada, 3DS and
// zipped glTF packages) and displays them in the terminal.
//
// Commands:
//
//	view <file>         Interactive viewer
//	render <file>       One static frame to the terminal or a PNG
//	inspect <files...>  Load files and print what they contain
//	unpack <archive>    Classify the entries of a zipped glTF package
package main

import (
	"context"
	"os"
	"syscall"

	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/taigrr/showcase/pkg/config"
)

var version = "dev"

// app carries what every subcommand needs once flags are parsed.
type app struct {
	v      *viper.Viper
	cfg    *config.Config
	logger *log.Logger

	cfgFile string
}

func newRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "showcase",
		Short:         "View 3D models in the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default is ./showcase.yaml or $HOME/.config/showcase/showcase.yaml)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	if err := a.v.BindPFlag("log.level", flags.Lookup("log-level")); err != nil {
		panic(err)
	}

	root.AddCommand(
		newViewCmd(a),
		newRenderCmd(a),
		newInspectCmd(a),
		newUnpackCmd(a),
	)
	return root
}

func (a *app) setup() error {
	cfg, err := config.Load(a.v, a.cfgFile)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = log.NewWithOptions(os.Stderr, log.Options{
		Level:           cfg.Level(),
		ReportTimestamp: cfg.Level() == log.DebugLevel,
		Prefix:          "showcase",
	})
	log.SetDefault(a.logger)
	if used := a.v.ConfigFileUsed(); used != "" {
		a.logger.Debug("using config", "file", used)
	}
	return nil
}

func main() {
	if err := fang.Execute(
		context.Background(),
		newRootCmd(),
		fang.WithVersion(version),
		fang.WithNotifySignal(os.Interrupt, syscall.SIGTERM),
	); err != nil {
		os.Exit(1)
	}
}
