package main

import (
	"fmt"
	"math"
	"os"

	"github.com/cloudflare/tableflip"
	"github.com/docopt/docopt-go"

	"github.com/distlab/fleetctl/internal/comms"
	"github.com/distlab/fleetctl/internal/logger"
	"github.com/distlab/fleetctl/internal/procmgr"
)

// Arguments - Struct type into which DocOpt can put our command line options.
type Arguments struct {
	Port      int
	Verbose   bool
	Graceful  bool
	PidFile   string
	UpgradeSock string
}

func usage() string {
	return `Process Manager daemon.
Usage:
  procmgr [-v] [-p PORT] [--graceful] [--pid-file FILE] [--upgrade-sock PATH]
  procmgr -h | --help

Options:
  -h, --help                    Show full usage
  -v, --verbose                 Turn on debug output.
  -p PORT, --port PORT          The port on which we listen for a console.       [default: 5150]
  --graceful                    Use tableflip to support zero-downtime restarts.
  --pid-file FILE               Where tableflip should write its pid file.       [default: procmgr.pid]
  --upgrade-sock PATH           The unix socket tableflip uses to coordinate an upgrade. [default: procmgr.sock]
`
}

func dieOnError(err error, format string, a ...interface{}) {
	if err != nil {
		fmt.Printf(format, a...)
		fmt.Printf(": %v\n", err)
		os.Exit(-1)
	}
}

func validateArguments(args *Arguments) error {
	if args.Port < 0 || args.Port > int(math.MaxUint16) {
		return fmt.Errorf("port not in range: %v", args.Port)
	}
	return nil
}

func main() {
	opts, err := docopt.ParseDoc(usage())
	dieOnError(err, "error parsing arguments")

	var args Arguments
	err = opts.Bind(&args)
	dieOnError(err, "failure binding arguments")

	err = validateArguments(&args)
	dieOnError(err, "failure validating arguments")

	if args.Verbose {
		logger.SetLevel(logger.Debug)
	}

	procmgr.SetConfig(procmgr.Config{ListenPort: args.Port, Verbose: args.Verbose})

	if args.Graceful {
		runGraceful(&args)
		return
	}

	pm := procmgr.New()
	err = pm.Run()
	dieOnError(err, "process manager exited with an error")
}

// runGraceful wraps the listen step in a tableflip Upgrader, so that a
// SIGHUP (or an explicit tableflip.Upgrade RPC) can hand the listening
// socket to a freshly exec'd binary without dropping connections. This is
// an optional operational mode: the supervised children and their log
// rotation are unaffected either way.
func runGraceful(args *Arguments) {
	upg, err := tableflip.New(tableflip.Options{
		PIDFile: args.PidFile,
		Sock:    args.UpgradeSock,
	})
	dieOnError(err, "failure creating tableflip upgrader")
	defer upg.Stop()

	go func() {
		sig := make(chan os.Signal, 1)
		notifyHangup(sig)
		for range sig {
			logger.Infof("received upgrade signal, handing off listener\n")
			if err := upg.Upgrade(); err != nil {
				logger.Warnf("upgrade failed: %v\n", err)
			}
		}
	}()

	rawListener, err := upg.Listen("tcp", fmt.Sprintf(":%d", args.Port))
	dieOnError(err, "failure binding listen port under tableflip")

	err = upg.Ready()
	dieOnError(err, "failure signalling tableflip readiness")

	pm := procmgr.New()
	pm.ListenOn(comms.WrapListener(rawListener))
	pm.Serve()

	<-upg.Exit()
}
