package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"runtime/debug"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/Scusemua/go-utils/config"
	"github.com/Scusemua/go-utils/logger"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"

	"github.com/scusemua/notebook-kernel-manager/common/actions"
	"github.com/scusemua/notebook-kernel-manager/common/jupyter/channel"
	"github.com/scusemua/notebook-kernel-manager/common/metrics"
	"github.com/scusemua/notebook-kernel-manager/common/tracing"
	"github.com/scusemua/notebook-kernel-manager/common/utils"
	"github.com/scusemua/notebook-kernel-manager/kernel_daemon/daemon"
	"github.com/scusemua/notebook-kernel-manager/kernel_daemon/domain"
	"github.com/scusemua/notebook-kernel-manager/local_daemon/invoker"
)

const (
	ServiceName = "notebook-kernel-manager"
)

var (
	options      = domain.KernelDaemonOptions{}
	globalLogger = config.GetLogger("")
	sig          = make(chan os.Signal, 1)
)

func init() {
	lipgloss.SetColorProfile(termenv.ANSI256)

	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGABRT)
}

// Serves the endpoints registered by net/http/pprof. Call from its own goroutine.
func createAndStartDebugHttpServer() {
	var address = fmt.Sprintf(":%d", options.DebugPort)
	log.Printf("Serving debug HTTP server: %s\n", address)

	if err := http.ListenAndServe(address, nil); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

// ValidateOptions ensures that the options/configuration is valid.
func ValidateOptions() {
	flags, err := config.ValidateOptions(&options)
	if errors.Is(err, config.ErrPrintUsage) {
		flags.PrintDefaults()
		os.Exit(0)
	} else if err != nil {
		log.Fatal(err)
	}

	// Checked again once the yaml file, if any, has been applied.
	if err := options.Validate(); err != nil {
		log.Fatal(err)
	}
}

func CreateTracer(options *domain.KernelDaemonOptions) io.Closer {
	if options.JaegerAddr == "" {
		return nil
	}

	globalLogger.Info("Initializing jaeger agent [service name: %v | host: %v]...", ServiceName, options.JaegerAddr)
	_, closer, err := tracing.Init(ServiceName, options.JaegerAddr)
	if err != nil {
		log.Fatalf("Got error while initializing jaeger agent: %v", err)
	}
	globalLogger.Info("Jaeger agent initialized")

	return closer
}

func main() {
	defer finalize(false, "Main thread")

	ValidateOptions()

	if options.ID == "" {
		options.ID = uuid.NewString()
	}

	if options.PrettyPrintOptions {
		globalLogger.Info("Starting the kernel daemon with the following options:\n%s\n", options.PrettyString(2))
	} else {
		globalLogger.Info("Starting the kernel daemon.")
	}

	if options.DebugMode {
		go createAndStartDebugHttpServer()
	}

	if closer := CreateTracer(&options); closer != nil {
		defer func() { _ = closer.Close() }()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	prometheusManager := metrics.NewKernelPrometheusManager(options.PrometheusPort, options.ID)
	if err := prometheusManager.Start(); err != nil {
		log.Fatalf("Failed to start the Prometheus manager: %v", err)
	}
	defer func() { _ = prometheusManager.Stop() }()

	specs := invoker.NewKernelSpecManager(options.DataDirs()...)
	defer func() { _ = specs.Close() }()

	if globalLogger.GetLevel() == logger.LOG_LEVEL_ALL {
		for _, spec := range specs.List() {
			globalLogger.Debug("Found kernel spec %v.", spec)
		}
	}

	kernelDaemon := daemon.NewKernelDaemonBuilder(&options).
		WithLauncher(invoker.NewLocalInvoker(specs, prometheusManager, options.InvokerOptions())).
		WithChannelFactory(channel.NewZMQFactory(ctx, prometheusManager)).
		WithMetricsProvider(prometheusManager).
		Build()
	kernelDaemon.Start(ctx)

	updates, unsubscribe := kernelDaemon.Subscribe()
	defer unsubscribe()
	go report(updates)

	switch {
	case options.NotebookPath != "":
		if err := kernelDaemon.OpenNotebook(options.NotebookPath); err != nil {
			globalLogger.Error(utils.RedStyle.Render("%v"), err)
			_ = kernelDaemon.Close(ctx)
			os.Exit(1)
		}
	case options.KernelSpecName != "":
		cwd := options.KernelCwd
		if cwd == "" {
			cwd, _ = os.Getwd()
		}
		kernelDaemon.LaunchKernel(options.KernelSpecName, cwd)
	default:
		globalLogger.Warn("Neither -notebook nor -kernel was given, there is nothing to run.")
	}

	<-sig
	globalLogger.Info("Shutting down...")

	closeCtx, cancelClose := context.WithTimeout(context.Background(), 2*options.ShutdownGracePeriod())
	defer cancelClose()
	if err := kernelDaemon.Close(closeCtx); err != nil {
		globalLogger.Error("Error while closing the kernel daemon: %v", err)
	}
}

// report logs how the state evolves.
func report(updates <-chan daemon.Update) {
	defer finalize(true, "Reporter")

	for update := range updates {
		if update.Err != nil {
			globalLogger.Warn(utils.OrangeStyle.Render("%s was rejected: %v"), update.Action.String(), update.Err)
			continue
		}

		switch update.Action.Type() {
		case actions.SetLanguageInfo:
			globalLogger.Info("Kernel %s speaks %v.", update.State.KernelID(), update.State.LanguageInfo)
		case actions.SetExecutionState:
			state := update.State.ExecutionState
			globalLogger.Info("Kernel %s is %s.", update.State.KernelID(), utils.ExecutionStateStyle(state).Render(state.String()))
		case actions.KernelExited:
			globalLogger.Warn(utils.OrangeStyle.Render("State after exit: %v"), update.State)
		case actions.LaunchKernelFailed:
			globalLogger.Error(utils.RedStyle.Render("Launch failed at %s: %v"), time.Now().Format(time.RFC3339), update.State.LastError)
		}
	}
}

func finalize(fix bool, identity string) {
	if !fix {
		return
	}

	if err := recover(); err != nil {
		globalLogger.Error("%s recovered from a panic: %v", identity, err)
	} else {
		return
	}

	globalLogger.Error("Stack trace of CURRENT goroutine:")
	debug.PrintStack()

	globalLogger.Error("Stack traces of ALL active goroutines:")
	if err := pprof.Lookup("goroutine").WriteTo(os.Stdout, 1); err != nil {
		globalLogger.Error("Failed to output call stacks of all active goroutines: %v", err)
	}

	sig <- syscall.SIGINT
}
