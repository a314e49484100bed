package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"time"

	"SynthVault/internal/observability"
	"SynthVault/internal/oracle"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// PriceFeedSubscriber consumes oracle price updates from NATS JetStream and
// writes them into the shared price cache. Subjects follow the pattern
// synth.prices.{feed}; the last token names the feed ("WETH", "WBTC").
//
// Price updates tolerate gaps and reordering within a feed: only the most
// recent message per feed matters, so messages are acked unconditionally
// after parsing.
type PriceFeedSubscriber struct {
	js       jetstream.JetStream
	cache    *oracle.Cache
	metrics  *observability.Metrics
	consumer jetstream.ConsumeContext
}

// PriceUpdate is the wire format of one oracle price message. Price is a
// decimal string scaled to 8 decimal places.
type PriceUpdate struct {
	Feed      string    `json:"feed"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	PriceStreamName = "SYNTH_PRICES"
	priceSubject    = "synth.prices.>"
	priceConsumer   = "vault-prices"
)

func NewPriceFeedSubscriber(js jetstream.JetStream, cache *oracle.Cache, metrics *observability.Metrics) *PriceFeedSubscriber {
	return &PriceFeedSubscriber{
		js:      js,
		cache:   cache,
		metrics: metrics,
	}
}

// Subscribe creates the durable consumer and starts feeding the cache.
func (ps *PriceFeedSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ps.js.CreateOrUpdateConsumer(ctx, PriceStreamName, jetstream.ConsumerConfig{
		Durable:       priceConsumer,
		FilterSubject: priceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		// Stale prices are useless; start from the newest message.
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", priceConsumer, err)
	}

	consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
		ps.handle(msg.Data())
		msg.Ack()
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", priceConsumer, err)
	}

	ps.consumer = consumerContext
	log.Printf("INFO: subscribed to %s (consumer=%s)", priceSubject, priceConsumer)
	return nil
}

func (ps *PriceFeedSubscriber) handle(data []byte) {
	feed, price, err := ParsePriceUpdate(data)
	if err != nil {
		log.Printf("WARN: rejected price message: %v", err)
		if ps.metrics != nil {
			ps.metrics.PriceFeedErrors.Inc()
		}
		return
	}

	ps.cache.Set(feed, price)
	if ps.metrics != nil {
		ps.metrics.PriceUpdates.WithLabelValues(feed).Inc()
	}
}

// ParsePriceUpdate decodes and validates one price message. The price must
// be a positive base-10 integer string and the feed name non-empty.
func ParsePriceUpdate(data []byte) (string, *big.Int, error) {
	var update PriceUpdate
	if err := json.Unmarshal(data, &update); err != nil {
		return "", nil, fmt.Errorf("malformed price message: %w", err)
	}
	if update.Feed == "" {
		return "", nil, fmt.Errorf("price message missing feed")
	}
	price, ok := new(big.Int).SetString(update.Price, 10)
	if !ok || price.Sign() <= 0 {
		return "", nil, fmt.Errorf("invalid price %q for feed %s", update.Price, update.Feed)
	}
	return update.Feed, price, nil
}

// Stop gracefully stops the consumer.
func (ps *PriceFeedSubscriber) Stop() {
	if ps.consumer != nil {
		ps.consumer.Stop()
	}
	log.Println("INFO: price feed subscriber stopped")
}

// EnsureStreams creates the required JetStream streams if they don't exist.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      PriceStreamName,
			Subjects:  []string{"synth.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
