package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"math"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fleet-monitor/tracking/internal/config"
	"fleet-monitor/tracking/internal/domain"
	"fleet-monitor/tracking/internal/store"
)

type publisher interface {
	PublishLocation(ctx context.Context, tripID string, payload domain.LocationPayload) error
}

// rider drives one demo trip. Speeds are metres per second.
type rider struct {
	tripID    string
	lat, lng  float64
	bearing   float64
	speed     float64
	battery   float64
	drain     float64
	silentAt  int // tick after which the device stops reporting; 0 never
	stopAfter int // tick after which the rider stands still; 0 never
}

func main() {
	interval := flag.Duration("interval", 2*time.Second, "time between samples per rider")
	ticks := flag.Int("ticks", 0, "stop after this many rounds (0 runs until interrupted)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}
	cfg := config.Load()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var pub publisher
	switch cfg.TelemetrySource {
	case "amqp":
		fmt.Println("Connecting to RabbitMQ...")
		src, err := store.NewAMQPSource(cfg.AMQPURL, cfg.AMQPExchange, quiet)
		if err != nil {
			log.Fatalf("Connection failed: %v\n\nMake sure RabbitMQ is running:\n  docker-compose up -d rabbitmq", err)
		}
		defer src.Close()
		pub = src
	default:
		fmt.Println("Connecting to Redis...")
		rs, err := store.NewRedisStore(ctx, cfg, quiet)
		if err != nil {
			log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
		}
		defer rs.Close()
		pub = rs
	}
	fmt.Println("✓ Connected")

	riders := []*rider{
		{tripID: "trip-1001", lat: 14.5995, lng: 120.9842, bearing: 45, speed: 6, battery: 80, drain: 0.1},
		{tripID: "trip-1002", lat: 14.5547, lng: 121.0244, bearing: 180, speed: 4, battery: 60, drain: 0.2, stopAfter: 10},
		{tripID: "trip-1003", lat: 14.6091, lng: 121.0223, bearing: 300, speed: 5, battery: 24, drain: 0.5, silentAt: 20},
	}

	fmt.Printf("\n── Publishing every %s (Ctrl+C to stop) ──\n", *interval)
	t := time.NewTicker(*interval)
	defer t.Stop()

	for n := 1; *ticks == 0 || n <= *ticks; n++ {
		for _, r := range riders {
			if r.silentAt > 0 && n > r.silentAt {
				continue
			}
			r.step(n, *interval)
			if err := pub.PublishLocation(ctx, r.tripID, r.payload()); err != nil {
				log.Printf("  ✗ %s: %v", r.tripID, err)
				continue
			}
			fmt.Printf("  ✓ %-10s %.5f,%.5f  %4.1f m/s  battery %5.1f%%\n", r.tripID, r.lat, r.lng, r.speed, r.battery)
		}

		select {
		case <-ctx.Done():
			fmt.Println("\nStopped")
			return
		case <-t.C:
		}
	}
	fmt.Println("\n✅ Simulation finished")
}

const metresPerDegree = 111_194.93

func (r *rider) step(n int, dt time.Duration) {
	if r.stopAfter > 0 && n > r.stopAfter {
		r.speed = 0
	}
	d := r.speed * dt.Seconds()
	rad := r.bearing * math.Pi / 180
	r.lat += d * math.Cos(rad) / metresPerDegree
	r.lng += d * math.Sin(rad) / (metresPerDegree * math.Cos(r.lat*math.Pi/180))

	// gentle weaving
	r.bearing = math.Mod(r.bearing+float64(n%5-2)*3+360, 360)
	r.battery = math.Max(0, r.battery-r.drain)
}

func (r *rider) payload() domain.LocationPayload {
	lat, lng := r.lat, r.lng
	bearing, speed := r.bearing, r.speed
	accuracy, battery := 5.0, r.battery
	now := time.Now().UTC()
	return domain.LocationPayload{
		TripID:       r.tripID,
		Latitude:     &lat,
		Longitude:    &lng,
		Bearing:      &bearing,
		Speed:        &speed,
		Accuracy:     &accuracy,
		BatteryLevel: &battery,
		Timestamp:    &now,
	}
}
