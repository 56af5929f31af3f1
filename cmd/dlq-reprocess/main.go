// Команда dlq-reprocess повторно публикует события из DLQ в исходный топик.
// По умолчанию работает в режиме dry-run и только печатает кандидатов.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/storefront-oms/internal/messaging/kafka"
)

const (
	defaultReplayLimit = 100
	defaultIdleTimeout = 2 * time.Second
	clientID           = "oms-dlq-reprocess"
	envKafkaBrokers    = "OMS_KAFKA_BROKERS"
)

type options struct {
	brokers     []string
	sourceTopic string
	targetTopic string
	limit       int
	execute     bool
	fromNewest  bool
	idleTimeout time.Duration
	// eventTypes ограничивает повтор указанными типами событий; пустой - все.
	eventTypes map[string]bool
}

func (o options) mode() string {
	if o.execute {
		return "execute"
	}
	return "dry-run"
}

func (o options) wants(eventType string) bool {
	return len(o.eventTypes) == 0 || o.eventTypes[eventType]
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	var (
		opts       options
		brokers    string
		eventTypes string
	)

	fs := flag.NewFlagSet("dlq-reprocess", flag.ContinueOnError)
	fs.StringVar(&brokers, "brokers", "", "comma-separated Kafka brokers (default $"+envKafkaBrokers+")")
	fs.StringVar(&opts.sourceTopic, "source-topic", kafka.TopicDeadLetterQueue, "DLQ topic to scan")
	fs.StringVar(&opts.targetTopic, "target-topic", kafka.TopicOrderEvents, "topic for dead letters without an original topic")
	fs.IntVar(&opts.limit, "limit", defaultReplayLimit, "max number of DLQ messages to scan")
	fs.BoolVar(&opts.execute, "execute", false, "publish messages instead of printing them")
	fs.BoolVar(&opts.fromNewest, "from-newest", false, "scan the newest messages of each partition")
	fs.DurationVar(&opts.idleTimeout, "idle-timeout", defaultIdleTimeout, "stop reading a partition after this long without messages")
	fs.StringVar(&eventTypes, "event-types", "", "comma-separated event types to replay")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	if strings.TrimSpace(brokers) == "" {
		brokers = getenv(envKafkaBrokers)
	}
	opts.brokers = splitList(brokers)
	opts.sourceTopic = strings.TrimSpace(opts.sourceTopic)
	opts.targetTopic = strings.TrimSpace(opts.targetTopic)
	for _, eventType := range splitList(eventTypes) {
		if opts.eventTypes == nil {
			opts.eventTypes = make(map[string]bool)
		}
		opts.eventTypes[eventType] = true
	}

	var errs []error
	if len(opts.brokers) == 0 {
		errs = append(errs, errors.New("kafka brokers are required (-brokers or "+envKafkaBrokers+")"))
	}
	if opts.sourceTopic == "" || opts.targetTopic == "" {
		errs = append(errs, errors.New("source-topic and target-topic must not be empty"))
	}
	if opts.limit <= 0 {
		errs = append(errs, errors.New("limit must be > 0"))
	}
	if opts.idleTimeout <= 0 {
		errs = append(errs, errors.New("idle-timeout must be > 0"))
	}
	return opts, errors.Join(errs...)
}

func splitList(raw string) []string {
	var out []string
	for _, chunk := range strings.Split(raw, ",") {
		if item := strings.TrimSpace(chunk); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// run подключается к Kafka, прогоняет replay и закрывает подключения.
func run(ctx context.Context, opts options) error {
	logger := log.WithFields(log.Fields{
		"source_topic": opts.sourceTopic,
		"mode":         opts.mode(),
	})
	logger.WithFields(log.Fields{"limit": opts.limit, "from_newest": opts.fromNewest}).Info("starting dlq replay")

	conn, err := connect(opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Close(); err != nil {
			logger.WithError(err).Warn("failed to close kafka connections")
		}
	}()

	r := &replayer{opts: opts, offsets: conn.offsets, consumer: conn.consumer, producer: conn.producer, logger: logger}
	total, err := r.run(ctx)
	logger.WithFields(log.Fields{
		"scanned":  total.scanned,
		"replayed": total.replayed,
		"skipped":  total.skipped,
	}).Info("dlq replay finished")
	return err
}

func main() {
	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	opts, err := parseOptions(os.Args[1:], os.Getenv)
	if err != nil {
		fail("%v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fail("dlq replay failed: %v", err)
	}
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
