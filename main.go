package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"sealbox/config"
	"sealbox/crypto"
	"sealbox/dm"
	"sealbox/logging"
	"sealbox/metrics"
	"sealbox/nostr"
	"sealbox/relay"
	"sealbox/signer"
)

// historyWindow bounds how far back the listener replays stored messages.
const historyWindow = 7 * 24 * time.Hour

const sendTimeout = 30 * time.Second

func main() {
	to := flag.String("to", "", "recipient public key (hex); sends -message and exits")
	message := flag.String("message", "", "message text to send")
	legacy := flag.Bool("legacy", false, "send over the legacy kind 4 channel instead")
	flag.Parse()

	cfg, cfgPath, err := config.LoadOrCreate()
	if err != nil {
		log.Fatalf("startup failed while loading config: %v", err)
	}

	secretHex, err := crypto.EnsureSecretKey(cfg.SecretKeyPath)
	if err != nil {
		log.Fatalf("startup failed while preparing identity key: %v", err)
	}
	publicHex, err := crypto.PublicKeyOf(secretHex)
	if err != nil {
		log.Fatalf("startup failed while deriving public key: %v", err)
	}

	fingerprint := crypto.KeyFingerprint(publicHex)
	if cfg.KeyFingerprint != fingerprint {
		cfg.KeyFingerprint = fingerprint
		if err := config.Save(cfgPath, cfg); err != nil {
			log.Fatalf("startup failed while persisting key fingerprint: %v", err)
		}
	}

	fmt.Printf("Profile ID:      %s\n", cfg.ProfileID)
	fmt.Printf("Display Name:    %s\n", cfg.DisplayName)
	fmt.Printf("Public Key:      %s\n", publicHex)
	fmt.Printf("Fingerprint:     %s\n", crypto.FormatFingerprint(cfg.KeyFingerprint))
	fmt.Printf("Config File:     %s\n", cfgPath)
	fmt.Printf("Data Directory:  %s\n", filepath.Dir(cfgPath))

	logger := logging.New(cfg.LogLevel)
	counters := &metrics.Counters{}

	pool := relay.NewPool(logger)
	defer func() {
		if err := pool.Close(); err != nil {
			logger.Warn("relay pool close", "error", err)
		}
	}()

	localKey, err := signer.NewLocalKey(secretHex)
	if err != nil {
		log.Fatalf("startup failed while loading signer: %v", err)
	}
	gateway := signer.NewGateway(localKey)

	resolver := dm.NewResolver(pool, dm.ResolverOptions{
		IndexRelays:    cfg.IndexRelays,
		FallbackRelays: cfg.FallbackRelays,
		Logger:         logger,
	})
	engineOpts := dm.MessengerOptions{Logger: logger, Counters: counters}
	messenger := dm.NewMessenger(gateway, pool, resolver, engineOpts)
	legacyChannel := dm.NewLegacyChannel(gateway, pool, resolver, engineOpts)
	inbox := dm.NewInbox(gateway, poolSubscriber{pool}, pool, resolver, dm.InboxOptions{
		Logger:       logger,
		Counters:     counters,
		FetchTimeout: time.Duration(cfg.FetchTimeoutSeconds) * time.Second,
	})

	if *to != "" || *message != "" {
		if *to == "" || *message == "" {
			log.Fatalf("sending requires both -to and -message")
		}
		runSend(messenger, legacyChannel, *to, *message, *legacy)
		logSessionCounters(logger, counters)
		return
	}

	runListen(logger, inbox, legacyChannel, pool, resolver, publicHex)
	logSessionCounters(logger, counters)
}

func runSend(messenger *dm.Messenger, legacyChannel *dm.LegacyChannel, to, text string, legacy bool) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	var (
		msg *dm.Message
		err error
	)
	if legacy {
		msg, err = legacyChannel.Send(ctx, to, text)
	} else {
		msg, err = messenger.Send(ctx, to, text)
	}
	if err != nil {
		log.Fatalf("send failed: %v", err)
	}

	fmt.Printf("Sent:            %s message %s\n", msg.Protocol, msg.ID)
}

func runListen(logger logging.Logger, inbox *dm.Inbox, legacyChannel *dm.LegacyChannel, pool *relay.Pool, resolver *dm.Resolver, reader string) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	printMessage := func(msg *dm.Message) {
		label := shortKey(msg.Counterparty)
		if msg.Sender == reader {
			label = "me (to " + label + ")"
		}
		suffix := ""
		if msg.Protocol == dm.ProtocolLegacy {
			suffix = " [legacy]"
		}
		fmt.Printf("[%s] %s%s: %s\n", msg.CreatedAt.Format(time.RFC3339), label, suffix, msg.Content)
	}

	history := inbox.FetchHistorical(ctx, reader, time.Now().Add(-historyWindow), nil)
	fmt.Printf("History:         %d message(s)\n", len(history))
	for _, msg := range history {
		printMessage(msg)
	}

	sub, err := inbox.Subscribe(ctx, reader, printMessage)
	if err != nil {
		log.Fatalf("inbox subscription failed: %v", err)
	}
	defer sub.Stop()

	since := time.Now().Unix()
	legacySub, err := pool.Subscribe(ctx, resolver.Resolve(ctx, reader), nostr.Filter{
		Kinds: []int{nostr.KindLegacyEncrypted},
		Tags:  map[string][]string{"p": {reader}},
		Since: &since,
	})
	if err != nil {
		logger.Warn("legacy subscription failed", "error", err)
	} else {
		defer legacySub.Stop()
		go printLegacyEvents(legacySub, legacyChannel, reader, printMessage)
	}

	fmt.Println("Status:          listening (press Ctrl+C to stop)")
	<-ctx.Done()
	fmt.Println("Status:          shutting down")
}

// printLegacyEvents decrypts inbound kind 4 events off the live stream,
// dropping relay duplicates by event ID.
func printLegacyEvents(stream *relay.PoolSubscription, channel *dm.LegacyChannel, reader string, onMessage func(*dm.Message)) {
	seen := make(map[string]struct{})
	for ev := range stream.Events() {
		if _, dup := seen[ev.ID]; dup {
			continue
		}
		seen[ev.ID] = struct{}{}
		if msg := channel.Decrypt(ev, reader); msg != nil {
			onMessage(msg)
		}
	}
}

func logSessionCounters(logger logging.Logger, counters *metrics.Counters) {
	snap := counters.Snapshot()
	logger.Info("session counters",
		"sent", snap.MessagesSent,
		"legacy_sent", snap.LegacySent,
		"wraps_received", snap.WrapsReceived,
		"wraps_rejected", snap.WrapsRejected,
		"duplicates_dropped", snap.DuplicatesDropped,
		"self_copy_failures", snap.SelfCopyFailures,
		"publish_failures", snap.PublishFailures)
}

func shortKey(publicHex string) string {
	if len(publicHex) <= 12 {
		return publicHex
	}
	return publicHex[:12]
}

// poolSubscriber adapts the relay pool to the inbox subscriber interface.
type poolSubscriber struct {
	pool *relay.Pool
}

func (p poolSubscriber) Subscribe(ctx context.Context, urls []string, filters ...nostr.Filter) (dm.EventStream, error) {
	return p.pool.Subscribe(ctx, urls, filters...)
}
