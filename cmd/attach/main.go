//go:build linux

// Bootstraps a runtime instance against a running IOKernel: maps the
// shared regions, binds N execution threads to their queue slots,
// registers over the control socket and then keeps sending heartbeat
// commands until interrupted.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/romshark/iokring-go/ioq"
	"github.com/romshark/iokring-go/ratelimit"
)

// Command words understood by the IOKernel: transmit on the egress
// packet channel, heartbeat on the egress command channel.
const (
	cmdPktXmit   = 1
	cmdHeartbeat = 1
)

type Config struct {
	Runtime ioq.Config `yaml:"runtime"`

	Heartbeat struct {
		// MessagesPerSecond paces the heartbeat loop; 0 disables pacing.
		MessagesPerSecond uint64 `yaml:"messages-per-second" envconfig:"IOK_HEARTBEAT_MPS"`
	} `yaml:"heartbeat"`

	Log struct {
		Development bool `yaml:"development" envconfig:"IOK_LOG_DEV"`
	} `yaml:"log"`
}

func loadConfig() (*Config, error) {
	fConfig := flag.String("config", "", "path to config YAML file")
	fThreads := flag.Int("t", 0, "execution thread count")
	fSock := flag.String("sock", "", "iokernel control socket path")
	fHuge := flag.Bool("huge", false, "request huge-page backing")
	fDev := flag.Bool("dev", false, "development logging")

	flag.Parse()

	var conf Config
	if *fConfig != "" {
		b, err := os.ReadFile(*fConfig)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal(b, &conf); err != nil {
			return nil, fmt.Errorf("parsing YAML: %w", err)
		}
	}
	if err := envconfig.Process("", &conf); err != nil {
		return nil, fmt.Errorf("applying env overrides: %w", err)
	}

	// Apply CLI overrides if necessary.
	if *fThreads != 0 {
		conf.Runtime.Threads = *fThreads
	}
	if *fSock != "" {
		conf.Runtime.SocketPath = *fSock
	}
	if *fHuge {
		conf.Runtime.HugePages = true
	}
	if *fDev {
		conf.Log.Development = true
	}

	if conf.Runtime.Threads == 0 {
		conf.Runtime.Threads = runtime.NumCPU()
	}

	return &conf, nil
}

func main() {
	conf, err := loadConfig()
	fatalIf(err, "loading config")

	var log *zap.Logger
	if conf.Log.Development {
		log, err = zap.NewDevelopment()
	} else {
		log, err = zap.NewProduction()
	}
	fatalIf(err, "building logger")
	defer log.Sync()

	rt, err := ioq.Init(conf.Runtime, log)
	fatalIf(err, "initializing io queues")

	log.Info("region geometry",
		zap.String("control_egress", humanize.IBytes(rt.TxRegion.Len())),
		zap.String("ingress", humanize.IBytes(rt.RxRegion.Len())),
		zap.String("egress_pool", humanize.IBytes(rt.TxBufLen)),
	)

	// Every execution thread must bind before registration completes.
	queues := make([]*ioq.ThreadQueues, rt.ThreadCount)
	var bound sync.WaitGroup
	for i := range queues {
		bound.Add(1)
		go func() {
			defer bound.Done()
			runtime.LockOSThread()
			queues[i] = rt.BindThread()
		}()
	}
	bound.Wait()

	err = rt.Register()
	fatalIf(err, "registering with iokernel")

	// Announce one egress frame per thread: claim a buffer from the
	// pool, stamp the runtime identity into it and publish its offset
	// on the packet channel.
	for _, q := range queues {
		off, frame, err := rt.AllocEgressBuf()
		fatalIf(err, "allocating egress buffer")
		copy(frame, rt.MAC[:])
		if !q.TxPktQ.Send(cmdPktXmit, uint64(off)) {
			log.Warn("packet ring full, announce frame dropped",
				zap.Uint64("offset", uint64(off)))
		}
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	limiter := ratelimit.New(conf.Heartbeat.MessagesPerSecond)
	log.Info("sending heartbeats", zap.Uint64("mps", conf.Heartbeat.MessagesPerSecond))

	var sent, dropped uint64
loop:
	for seq := uint64(0); ; seq++ {
		select {
		case <-sig:
			break loop
		default:
		}

		for _, q := range queues {
			if q.TxCmdQ.Send(cmdHeartbeat, seq) {
				sent++
			} else {
				dropped++ // command ring full, iokernel lagging
			}
		}
		limiter.Wait(uint64(len(queues)))
	}

	log.Info("shutting down",
		zap.Uint64("heartbeats_sent", sent),
		zap.Uint64("heartbeats_dropped", dropped),
	)

	if err := errors.Join(rt.TxRegion.Remove(), rt.RxRegion.Remove()); err != nil {
		log.Warn("removing segments", zap.Error(err))
	}
	if err := rt.Close(); err != nil {
		log.Warn("closing runtime", zap.Error(err))
	}
}

func fatalIf(err error, msgf string, a ...any) {
	if err != nil {
		fmt.Fprintf(os.Stderr, msgf+": %v\n", append(a, err)...)
		os.Exit(1)
	}
}
