//
// Copyright 2024 The Nitro Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	systemd "github.com/coreos/go-systemd/v22/daemon"

	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"github.com/KVM-VMI/nitro"
	"github.com/KVM-VMI/nitro/domain"
)

const usage string = `nitro: hypervisor-level system-call tracer

nitro attaches to a running KVM guest, traps every system call entry and
exit at the hypervisor level, and prints a stream of decoded syscall
records enriched with the issuing process's identity. No in-guest agent
is installed.
`

// Globals populated at build time.
var (
	version  string
	commitId string
	builtAt  string
)

// exitHandler is the signal-driven shutdown goroutine: on a
// termination signal, notify systemd, cancel the trace, stop profiling,
// and exit.
func exitHandler(signalChan chan os.Signal, cancel context.CancelFunc, prof interface{ Stop() }) {
	s := <-signalChan
	logrus.Warnf("nitro caught signal: %s", s)
	logrus.Info("Stopping (gracefully) ...")

	systemd.SdNotify(false, systemd.SdNotifyStopping)

	cancel()

	if prof != nil {
		prof.Stop()
	}

	if s == syscall.SIGSEGV || s == syscall.SIGABRT {
		stacktrace := make([]byte, 32768)
		length := runtime.Stack(stacktrace, true)
		logrus.Warnf("\n\n%s\n", string(stacktrace[:length]))
	}
}

func runProfiler(ctx *cli.Context) (interface{ Stop() }, error) {
	if !ctx.Bool("profile") {
		return nil, nil
	}
	return profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook), nil
}

func parseOSType(s string) (domain.OSType, error) {
	switch strings.ToLower(s) {
	case "windows":
		return domain.Windows, nil
	case "linux":
		return domain.Linux, nil
	default:
		return domain.Unknown, fmt.Errorf("unrecognized --os value %q (want \"windows\" or \"linux\")", s)
	}
}

// loggingHook builds a hook that logs every matching record at info level
// and, when out is non-nil, appends its JSON rendering to the --output
// file, one line per record.
func loggingHook(name string, out *os.File) domain.HookFunc {
	return func(rec *domain.SyscallRecord, _ domain.BackendIface) error {
		logrus.Infof("%s", rec)
		if out == nil {
			return nil
		}
		line, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		_, err = out.Write(append(line, '\n'))
		return err
	}
}

func main() {
	app := cli.NewApp()
	app.Name = "nitro"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "domain",
			Usage: "libvirt domain name of the guest to trace",
		},
		cli.IntFlag{
			Name:  "qemu-pid",
			Usage: "host pid of the guest's emulator process (overrides --domain lookup)",
		},
		cli.StringFlag{
			Name:  "pid-file-dir",
			Usage: "directory to check for <domain>.pid before scanning /proc (default: \"\")",
		},
		cli.StringFlag{
			Name:  "symbols",
			Usage: "path to the symbol bundle JSON document; required",
		},
		cli.StringFlag{
			Name:  "os",
			Usage: "guest OS family: \"windows\" or \"linux\"; required",
		},
		cli.StringFlag{
			Name:  "control-device",
			Usage: "hypervisor control device path (default: /dev/nitro)",
		},
		cli.StringSliceFlag{
			Name:  "enable-hook",
			Usage: "syscall name to log on entry and exit; repeatable. Implies kernel-side filtering on the named calls",
		},
		cli.StringFlag{
			Name:  "output",
			Usage: "append each record handled by an --enable-hook hook as a JSON line to this file",
		},
		cli.IntFlag{
			Name:  "nb-events",
			Usage: "stop after this many events (0 = unbounded)",
		},
		cli.BoolFlag{
			Name:  "no-flush-caches",
			Usage: "disable the default per-event memory-view cache flush",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "log file path or empty string for stderr output",
		},
		cli.StringFlag{
			Name:  "log-level",
			Value: "info",
			Usage: "log level: debug, info, warning, error, fatal",
		},
		cli.StringFlag{
			Name:  "log-format",
			Value: "text",
			Usage: "log format: text or json",
		},
		cli.BoolFlag{
			Name:   "profile",
			Usage:  "enable cpu-profiling data collection",
			Hidden: true,
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("nitro\n\tversion: \t%s\n\tcommit: \t%s\n\tbuilt at: \t%s\n", c.App.Version, commitId, builtAt)
	}

	app.Before = func(ctx *cli.Context) error {
		if path := ctx.GlobalString("log"); path != "" {
			f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND|os.O_SYNC, 0666)
			if err != nil {
				return fmt.Errorf("opening log file %s: %w", path, err)
			}
			logrus.SetOutput(f)
			log.SetOutput(f)
		} else {
			logrus.SetOutput(os.Stderr)
			log.SetOutput(os.Stderr)
		}

		if ctx.GlobalString("log-format") == "json" {
			logrus.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02 15:04:05"})
		} else {
			logrus.SetFormatter(&logrus.TextFormatter{TimestampFormat: "2006-01-02 15:04:05", FullTimestamp: true})
		}

		switch ctx.GlobalString("log-level") {
		case "debug":
			logrus.SetLevel(logrus.DebugLevel)
		case "info":
			logrus.SetLevel(logrus.InfoLevel)
		case "warning":
			logrus.SetLevel(logrus.WarnLevel)
		case "error":
			logrus.SetLevel(logrus.ErrorLevel)
		case "fatal":
			logrus.SetLevel(logrus.FatalLevel)
		default:
			return fmt.Errorf("log-level option %q not recognized", ctx.GlobalString("log-level"))
		}

		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		logrus.Info("Initiating nitro ...")

		if ctx.String("symbols") == "" {
			return fmt.Errorf("--symbols is required")
		}
		if ctx.String("os") == "" {
			return fmt.Errorf("--os is required")
		}

		osType, err := parseOSType(ctx.String("os"))
		if err != nil {
			return err
		}

		var out *os.File
		if path := ctx.String("output"); path != "" {
			out, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return fmt.Errorf("opening --output %s: %w", path, err)
			}
			defer out.Close()
		}

		flushCaches := !ctx.Bool("no-flush-caches")

		facade, err := nitro.New(nitro.Config{
			QemuPid:               ctx.Int("qemu-pid"),
			DomainName:            ctx.String("domain"),
			PidFileDir:            ctx.String("pid-file-dir"),
			SymbolBundlePath:      ctx.String("symbols"),
			OS:                    osType,
			ControlDevicePath:     ctx.String("control-device"),
			FlushCachesEveryEvent: &flushCaches,
			EnableFiltering:       len(ctx.StringSlice("enable-hook")) > 0,
		})
		if err != nil {
			return fmt.Errorf("failed to attach nitro: %w", err)
		}
		defer facade.Close()

		for _, name := range ctx.StringSlice("enable-hook") {
			cb := loggingHook(name, out)
			if err := facade.DefineHook(name, domain.Enter, cb); err != nil {
				return fmt.Errorf("enabling hook on %s (enter): %w", name, err)
			}
			if err := facade.DefineHook(name, domain.Exit, cb); err != nil {
				return fmt.Errorf("enabling hook on %s (exit): %w", name, err)
			}
		}

		prof, err := runProfiler(ctx)
		if err != nil {
			logrus.Fatal(err)
		}

		listenCtx, cancel := context.WithCancel(context.Background())
		defer cancel()

		exitChan := make(chan os.Signal, 1)
		signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGQUIT)
		go exitHandler(exitChan, cancel, prof)

		events, err := facade.Listen(listenCtx)
		if err != nil {
			return fmt.Errorf("failed to start listening: %w", err)
		}

		systemd.SdNotify(false, systemd.SdNotifyReady)
		logrus.Info("Ready ...")

		nbEvents := ctx.Int("nb-events")
		count := 0
		for rec := range events {
			fmt.Println(rec)
			count++
			if nbEvents > 0 && count >= nbEvents {
				cancel()
				break
			}
		}

		stats := facade.Stats()
		logrus.Infof(
			"Done. hooks_processed=%d hooks_completed=%d memory_access_error=%d introspection_failure=%d misc_error=%d",
			stats.HooksProcessed, stats.HooksCompleted, stats.MemoryAccessErrors, stats.IntrospectionErrors, stats.MiscErrors,
		)

		return nil
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}
