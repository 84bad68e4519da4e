// subarrayd is the SDP subarray control point daemon.
//
// It hosts the master controller and the configured subarray devices,
// exposes their command surface over HTTP, publishes attribute changes
// over MQTT and WebSocket, and persists entity snapshots to SQLite so
// state survives restarts.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/radioastro/subarray-core/migrations"

	"github.com/radioastro/subarray-core/internal/api"
	"github.com/radioastro/subarray-core/internal/infrastructure/config"
	"github.com/radioastro/subarray-core/internal/infrastructure/database"
	"github.com/radioastro/subarray-core/internal/infrastructure/influxdb"
	"github.com/radioastro/subarray-core/internal/infrastructure/logging"
	"github.com/radioastro/subarray-core/internal/infrastructure/mqtt"
	"github.com/radioastro/subarray-core/internal/master"
	"github.com/radioastro/subarray-core/internal/observing"
	"github.com/radioastro/subarray-core/internal/schema"
	"github.com/radioastro/subarray-core/internal/subarray"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting subarray control point",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		// Announce availability; the LWT clears this when we drop off
		topics := mqtt.Topics{}
		if pubErr := mqttClient.PublishRetained(topics.SystemStatus(), []byte(`{"status":"online"}`)); pubErr != nil {
			log.Warn("failed to publish system status", "error", pubErr)
		}
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub is shared between the API server and the state publisher
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// With a broker present the hub is fed off the wire, so WebSocket
	// clients see exactly what any MQTT subscriber sees, retained
	// attribute values included. Without one the publisher below feeds
	// the hub directly.
	if mqttClient != nil {
		if relayErr := startRelay(mqttClient, hub); relayErr != nil {
			return fmt.Errorf("starting MQTT relay: %w", relayErr)
		}
		log.Info("MQTT relay subscribed")
	}

	// Compile the command payload schemas
	registry, err := schema.NewRegistry()
	if err != nil {
		return fmt.Errorf("compiling payload schemas: %w", err)
	}
	log.Info("payload schemas compiled",
		"default", schema.VersionDefault,
		"latest", schema.VersionLatest,
	)

	// Snapshot store backs both the master and the subarrays
	store := subarray.NewSQLiteSnapshotStore(db.DB)

	events := &statePublisher{
		mqtt:   mqttClient,
		influx: influxClient,
		log:    log,
	}
	if mqttClient == nil {
		events.hub = hub
	}

	var recorder subarray.CommandRecorder
	if influxClient != nil || mqttClient != nil {
		recorder = &commandRecorder{
			mqtt:   mqttClient,
			influx: influxClient,
			log:    log,
		}
	}

	// Subarray devices
	subarrays := subarray.NewService(subarray.Config{
		Registry: registry,
		Store:    store,
		Events:   events,
		Recorder: recorder,
		Logger:   log,
	})
	for _, id := range cfg.Telescope.Subarrays {
		if _, addErr := subarrays.Add(ctx, id); addErr != nil {
			return fmt.Errorf("initialising subarray %s: %w", id, addErr)
		}
	}
	log.Info("subarrays initialised",
		"telescope", cfg.Telescope.ID,
		"count", len(cfg.Telescope.Subarrays),
	)

	// Master controller
	masterCtrl, err := master.New(ctx, master.Config{
		Store:    store,
		Events:   events,
		Recorder: recorder,
		Logger:   log,
	})
	if err != nil {
		return fmt.Errorf("initialising master: %w", err)
	}

	// HTTP API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Subarrays:   subarrays,
		Master:      masterCtrl,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"host", cfg.API.Host,
		"port", cfg.API.Port,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("subarray control point stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SDPCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SDPCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}

// startRelay subscribes the WebSocket hub to the broker's attribute and
// command event topics.
func startRelay(client *mqtt.Client, hub *api.Hub) error {
	topics := mqtt.Topics{}
	if err := client.Subscribe(topics.AllAttributes(), 1, relayAttribute(hub)); err != nil {
		return fmt.Errorf("subscribing to attributes: %w", err)
	}
	if err := client.Subscribe(topics.AllEvents(), 1, relayCommandEvent(hub)); err != nil {
		return fmt.Errorf("subscribing to command events: %w", err)
	}
	return nil
}

// relayAttribute forwards one attribute message to the WebSocket hub.
func relayAttribute(hub *api.Hub) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		var msg attributeMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			return fmt.Errorf("decoding attribute message: %w", err)
		}
		hub.BroadcastStateChange(msg.Entity, msg.Attribute, msg.Value)
		return nil
	}
}

// relayCommandEvent forwards one command event to the WebSocket hub.
func relayCommandEvent(hub *api.Hub) mqtt.MessageHandler {
	return func(_ string, payload []byte) error {
		var event commandEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			return fmt.Errorf("decoding command event: %w", err)
		}
		hub.Broadcast(api.ChannelCommandEvent, event)
		return nil
	}
}

// attributeMessage is the retained MQTT payload for an attribute topic.
type attributeMessage struct {
	Entity    string `json:"entity"`
	Attribute string `json:"attribute"`
	Value     string `json:"value"`
	Timestamp string `json:"timestamp"`
}

// statePublisher fans attribute changes out to MQTT, InfluxDB, and
// connected WebSocket clients. It adapts the infrastructure clients to the
// subarray package's EventPublisher interface so the domain layer stays
// free of transport concerns. Any sink may be nil.
type statePublisher struct {
	mqtt   *mqtt.Client
	influx *influxdb.Client
	hub    *api.Hub
	log    *logging.Logger
}

// PublishPowerState implements subarray.EventPublisher.
func (p *statePublisher) PublishPowerState(entity string, state observing.PowerState) {
	p.publish(entity, "power_state", state.String(), mqtt.Topics{}.PowerState(entity))
}

// PublishObsState implements subarray.EventPublisher.
func (p *statePublisher) PublishObsState(entity string, state observing.ObsState) {
	p.publish(entity, "obs_state", state.String(), mqtt.Topics{}.ObsState(entity))
}

func (p *statePublisher) publish(entity, attribute, value, topic string) {
	if p.hub != nil {
		p.hub.BroadcastStateChange(entity, attribute, value)
	}

	if p.influx != nil {
		p.influx.RecordStateTransition(entity, attribute, value)
	}

	if p.mqtt != nil {
		msg := attributeMessage{
			Entity:    entity,
			Attribute: attribute,
			Value:     value,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		payload, err := json.Marshal(msg)
		if err != nil {
			p.log.Error("failed to marshal attribute message", "error", err)
			return
		}
		if err := p.mqtt.PublishRetained(topic, payload); err != nil {
			p.log.Warn("failed to publish attribute change",
				"topic", topic,
				"error", err,
			)
		}
	}
}

// commandEvent is the MQTT payload published for each executed command.
type commandEvent struct {
	Entity        string `json:"entity"`
	Command       string `json:"command"`
	TransactionID string `json:"transaction_id"`
	Outcome       string `json:"outcome"`
	DurationMS    int64  `json:"duration_ms"`
	Timestamp     string `json:"timestamp"`
}

// commandRecorder adapts the infrastructure clients to the subarray
// package's CommandRecorder interface. Command telemetry goes to InfluxDB
// and a non-retained event is published per command over MQTT.
type commandRecorder struct {
	mqtt   *mqtt.Client
	influx *influxdb.Client
	log    *logging.Logger
}

// RecordCommand implements subarray.CommandRecorder.
func (r *commandRecorder) RecordCommand(entity string, cmd observing.Command, txn, outcome string, duration time.Duration) {
	if r.influx != nil {
		r.influx.RecordCommand(entity, string(cmd), txn, outcome, duration)
	}

	if r.mqtt != nil {
		event := commandEvent{
			Entity:        entity,
			Command:       string(cmd),
			TransactionID: txn,
			Outcome:       outcome,
			DurationMS:    duration.Milliseconds(),
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		}
		payload, err := json.Marshal(event)
		if err != nil {
			r.log.Error("failed to marshal command event", "error", err)
			return
		}
		topic := mqtt.Topics{}.CommandEvent(entity)
		if err := r.mqtt.Publish(topic, payload, 1, false); err != nil {
			r.log.Warn("failed to publish command event",
				"topic", topic,
				"error", err,
			)
		}
	}
}
