package cmds

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/amxdbg/amxdbg/cmd/amxdbg/cmds/helphelpers"
	"github.com/amxdbg/amxdbg/pkg/config"
	"github.com/amxdbg/amxdbg/pkg/logflags"
	"github.com/amxdbg/amxdbg/pkg/terminal"
	"github.com/amxdbg/amxdbg/pkg/transport"
	"github.com/amxdbg/amxdbg/pkg/version"
	"github.com/amxdbg/amxdbg/service/debugger"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string

	// connectAttempts is the number of dial attempts before the remote
	// debugger is reported offline.
	connectAttempts int
	// sendRetries is the number of reconnections made when a request
	// cannot be written.
	sendRetries int
	// pollInterval is how often the notification listener checks whether
	// it has been paused.
	pollInterval time.Duration
	// requestTimeout bounds a single request.
	requestTimeout time.Duration

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const amxdbgCommandLongDesc = `amxdbg is a command line client for the remote AMX debugger.

It connects to a debugger embedded in a host application running the AMX
virtual machine, and lets you run, halt and single step the script, arm
breakpoints and inspect registers and data memory.

The address of the remote debugger is taken from the first argument, from
the 'addr' key of the configuration file or defaults to ` + transport.DefaultAddr + `.`

// New returns an initialized command tree.
func New() *cobra.Command {
	// Config setup and load.
	conf = config.LoadConfig()

	// Main amxdbg root command.
	rootCommand = &cobra.Command{
		Use:   "amxdbg [addr]",
		Short: "amxdbg is a client for the remote AMX debugger.",
		Long:  amxdbgCommandLongDesc,
		Args:  cobra.MaximumNArgs(1),
		Run:   connectCmd,
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable client logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'amxdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'amxdbg help log').")

	rootCommand.PersistentFlags().IntVar(&connectAttempts, "connect-attempts", transport.DefaultConnectAttempts, "Number of connection attempts before the debugger is considered offline.")
	rootCommand.PersistentFlags().IntVar(&sendRetries, "send-retries", transport.DefaultSendRetries, "Number of reconnections attempted when a request cannot be sent.")
	rootCommand.PersistentFlags().DurationVar(&pollInterval, "poll-interval", transport.DefaultPollInterval, "How often the breakpoint listener checks whether a command is waiting.")
	rootCommand.PersistentFlags().DurationVar(&requestTimeout, "request-timeout", 0, "Maximum duration of a single request, 0 waits forever.")

	// 'connect' subcommand.
	connectCommand := &cobra.Command{
		Use:   "connect [addr]",
		Short: "Connect to a remote AMX debugger.",
		Long: `Connect to a remote AMX debugger and start a debug session.

The session starts stopped, the remote virtual machine is not touched until
the first command is issued. If the debugger cannot be reached the session
starts offline and the connection is retried by every command.`,
		Args: cobra.MaximumNArgs(1),
		Run:  connectCmd,
	}
	rootCommand.AddCommand(connectCommand)

	// 'version' subcommand.
	var buildInfo bool
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "amxdbg\n%s\n", version.AmxdbgVersion)
			if buildInfo {
				fmt.Fprintln(cmd.OutOrStdout(), version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&buildInfo, "verbose", "v", false, "print build info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	transport	Log connection attempts, retries and the notification listener
	wire		Log every frame sent to and received from the remote debugger
	debugger	Log session state changes and breakpoint hits
	terminal	Log commands typed at the prompt

If --log is given without --log-output the debugger component is logged.

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.
`,
	})

	rootCommand.DisableAutoGenTag = true

	defaultHelp := rootCommand.HelpFunc()
	rootCommand.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		helphelpers.Prepare(cmd)
		defaultHelp(cmd, args)
	})

	return rootCommand
}

func connectCmd(cmd *cobra.Command, args []string) {
	cfg, err := transportConfig(cmd, args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	os.Exit(connect(cfg, conf))
}

// transportConfig merges the configuration file with the command line:
// an explicit address argument or flag always wins.
func transportConfig(cmd *cobra.Command, args []string) (transport.Config, error) {
	cfg := conf.TransportConfig()
	if len(args) > 0 {
		if args[0] == "" {
			return cfg, fmt.Errorf("an empty address was provided")
		}
		cfg.Addr = args[0]
	}
	flags := cmd.Flags()
	if flags.Changed("connect-attempts") {
		cfg.ConnectAttempts = connectAttempts
	}
	if flags.Changed("send-retries") {
		cfg.SendRetries = sendRetries
		if sendRetries <= 0 {
			cfg.SendRetries = transport.NoSendRetry
		}
	}
	if flags.Changed("poll-interval") {
		if pollInterval <= 0 {
			return cfg, fmt.Errorf("invalid --poll-interval %v: must be positive", pollInterval)
		}
		cfg.PollInterval = pollInterval
	}
	if flags.Changed("request-timeout") {
		cfg.RequestTimeout = requestTimeout
	}
	return cfg, nil
}

func connect(cfg transport.Config, conf *config.Config) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	d := debugger.New(transport.New(cfg))
	if err := d.Connect(context.Background()); err != nil {
		if !transport.IsOffline(err) {
			fmt.Fprintf(os.Stderr, "could not connect to %s: %v\n", cfg.Addr, err)
			return 1
		}
		fmt.Fprintf(os.Stderr, "Debugger is offline, will retry when required: %v\n", err)
	}

	term := terminal.New(d, conf)
	status, err := term.Run()
	if err != nil {
		fmt.Println(err)
	}
	return status
}
