package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/matchcall/internal/adapters/media"
	"github.com/dkeye/matchcall/internal/adapters/rtc"
	sig "github.com/dkeye/matchcall/internal/adapters/signal"
	"github.com/dkeye/matchcall/internal/app/call"
	"github.com/dkeye/matchcall/internal/bus"
	"github.com/dkeye/matchcall/internal/config"
	"github.com/dkeye/matchcall/internal/core"
	"github.com/dkeye/matchcall/internal/domain"
	"github.com/dkeye/matchcall/internal/observe"
)

const usage = "commands: call | accept | reject | hangup | status | quit"

func main() {
	matchID := flag.String("match", "", "match id both participants share")
	selfID := flag.String("self", "", "own identity")
	peerID := flag.String("peer", "", "peer identity")
	loopback := flag.Bool("loopback", false, "run the peer in-process over an in-memory bus; it accepts every call")
	metricsAddr := flag.String("metrics", "", "serve Prometheus metrics on this address, e.g. :9464")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Mode == "debug" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	who, err := domain.NewParticipants(*matchID, *selfID, *peerID)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid participants")
	}

	profiles, err := cfg.Caller.ProfileStore()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid profiles")
	}
	printPeer(ctx, profiles, who.Peer)

	links, err := rtc.NewFactory(rtc.Options{
		ICEServers:          cfg.Caller.WebRTCICEServers(),
		DisconnectedTimeout: cfg.Caller.ICEDisconnectedTimeout,
		FailedTimeout:       cfg.Caller.ICEFailedTimeout,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init webrtc")
	}

	provider, err := observe.InitProvider("matchcall-caller")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init metrics")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create instruments")
	}
	if *metricsAddr != "" {
		go serveMetrics(ctx, *metricsAddr, provider.Handler)
	}

	var newChannel func() core.SignalChannel
	if *loopback {
		broker := bus.NewMemory()
		defer broker.Close()
		newChannel = func() core.SignalChannel { return sig.NewBrokerChannel(broker) }
	} else {
		newChannel = func() core.SignalChannel {
			return sig.NewWSChannel(sig.WSOptions{URL: cfg.Caller.RelayURL, PingPeriod: cfg.Relay.PingPeriod})
		}
	}

	ctl, err := newSession(ctx, who, newChannel(), links, metrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start call session")
	}
	defer ctl.Close()

	if *loopback {
		mirror := domain.Participants{Match: who.Match, Self: who.Peer, Peer: who.Self}
		peer, err := newSession(ctx, mirror, newChannel(), links, metrics)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to start loopback peer")
		}
		defer peer.Close()
		go autoAccept(ctx, peer)
	}

	go watch(ctx, ctl)

	fmt.Println(usage)
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- strings.TrimSpace(sc.Text())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctl, line); quit {
				return
			}
		}
	}
}

func newSession(ctx context.Context, who domain.Participants, ch core.SignalChannel, links core.PeerLinkFactory, metrics *observe.Metrics) (*call.Controller, error) {
	platform, err := media.DefaultPlatform()
	if err != nil {
		return nil, err
	}
	return call.New(ctx, who, call.Deps{
		Signal:  ch,
		Media:   media.NewSession(platform),
		Links:   links,
		Metrics: metrics,
	})
}

func serveMetrics(ctx context.Context, addr string, h http.Handler) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info().Str("module", "main").Str("addr", addr).Msg("metrics listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Str("module", "main").Msg("metrics server")
	}
}

func run(ctl *call.Controller, line string) (quit bool) {
	var err error
	switch line {
	case "":
		return false
	case "call":
		err = ctl.Call()
	case "accept":
		err = ctl.Accept()
	case "reject":
		err = ctl.Reject()
	case "hangup":
		err = ctl.Hangup()
	case "status":
		printStatus(ctl.Status())
	case "quit", "exit":
		return true
	default:
		fmt.Println(usage)
	}
	if errors.Is(err, core.ErrClosed) {
		return true
	}
	return false
}

func printPeer(ctx context.Context, profiles domain.ProfileStore, id domain.UserID) {
	p, err := profiles.Profile(ctx, id)
	if err != nil && !errors.Is(err, domain.ErrProfileNotFound) {
		log.Warn().Err(err).Str("module", "main").Msg("profile lookup failed")
	}
	if age, ok := p.Age(time.Now()); ok {
		fmt.Printf("calling with %s, %d\n", p.Name(), age)
		return
	}
	fmt.Printf("calling with %s\n", p.Name())
}

func printStatus(st call.Status) {
	line := fmt.Sprintf("[%s] incoming=%t ringing=%t connected=%t", st.Phase, st.Incoming, st.Ringing, st.Connected)
	if st.EndReason != call.EndNone {
		line += " ended=" + string(st.EndReason)
	}
	if st.Error != "" {
		line += " error=" + st.Error
	}
	fmt.Println(line)
}

// watch prints every status change and plays the remote stream of each
// connection.
func watch(ctx context.Context, ctl *call.Controller) {
	updates, stop := ctl.Watch()
	defer stop()
	var playing *core.RemoteStream
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			printStatus(st)
			if rs := ctl.RemoteStream(); st.Connected && rs != nil && rs != playing {
				playing = rs
				go media.Play(ctx, rs)
			}
		}
	}
}

func autoAccept(ctx context.Context, ctl *call.Controller) {
	updates, stop := ctl.Watch()
	defer stop()
	for {
		select {
		case <-ctx.Done():
			return
		case st, ok := <-updates:
			if !ok {
				return
			}
			if st.Incoming {
				_ = ctl.Accept()
			}
		}
	}
}
