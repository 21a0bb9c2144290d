// pyde1-core is the always-on mediation service between a DE1 espresso
// machine (and its companion scale/thermometer) and the user interfaces
// and automations that watch or drive it.
//
// For architecture details, see SPEC_FULL.md at the repository root.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/pyde1-core/internal/api"
	"github.com/nerrad567/pyde1-core/internal/ble"
	"github.com/nerrad567/pyde1-core/internal/ble/sim"
	"github.com/nerrad567/pyde1-core/internal/domain"
	"github.com/nerrad567/pyde1-core/internal/eventbus"
	"github.com/nerrad567/pyde1-core/internal/flowsequencer"
	"github.com/nerrad567/pyde1-core/internal/infrastructure/config"
	"github.com/nerrad567/pyde1-core/internal/infrastructure/logging"
	"github.com/nerrad567/pyde1-core/internal/mbd"
	mqtt "github.com/nerrad567/pyde1-core/internal/notify/mqtt"
	"github.com/nerrad567/pyde1-core/internal/profile"
	"github.com/nerrad567/pyde1-core/internal/recorder"
	"github.com/nerrad567/pyde1-core/internal/store"
	"github.com/nerrad567/pyde1-core/internal/supervisor"
)

// Version information - set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "/usr/local/etc/pyde1/pyde1.conf"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application's full lifecycle, separated from main for
// testability. Returning an error lets main handle exit codes
// consistently.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting pyde1-core", "version", version, "commit", commit, "build_date", date)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)

	db, err := store.Open(ctx, store.Config{
		Path:          cfg.Database.Filename,
		WALMode:       cfg.Database.WALMode,
		BusyTimeout:   cfg.Database.BusyTimeout,
		BackupTimeout: time.Duration(cfg.Database.BackupTimeout) * time.Second,
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
	log.Info("database ready", "path", cfg.Database.Filename)

	dataStore := store.New(db)

	bus := eventbus.New(log, domain.RealClock{})

	clients := buildSupervisedClients(ctx, cfg, log, bus)

	seq := flowsequencer.New(bus, clients.scaleAdapter, clients.de1Adapter, flowsequencer.Options{
		GHCActive:              cfg.DE1.GHCActive,
		WatchdogTimeout:        time.Duration(cfg.DE1.SequenceWatchdogTimeout) * time.Second,
		StopAtWeightAdjustSecs: cfg.DE1.StopAtWeightAdjust,
		Clock:                  domain.RealClock{},
	})
	seq.SetLogger(log)
	defer seq.Close()

	profileRegistry := profile.NewRegistry(dataStore, profile.JSONDecoder{}, domain.RealClock{})
	profileRegistry.SetLogger(log)

	rec := recorder.New(bus, dataStore, sequenceFactory, recorder.Options{Clock: domain.RealClock{}})
	rec.SetLogger(log)
	defer rec.Close()

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() { log.Info("MQTT reconnected") })
	mqttClient.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected", "broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port))

	transport := mqtt.NewTransport(mqttClient, cfg.MQTT.TopicRoot)
	transport.SetLogger(log)
	transport.Run(ctx, bus)

	apiServer, err := api.New(api.Deps{
		Config:  cfg.HTTP,
		Logger:  log,
		Bus:     bus,
		Devices: clients.devices,
		Scanner: clients.scanner,
		Seq:     seq,
		Profile: profileRegistry,
		LogDir:  cfg.Logging.File.Path,
		Version: api.VersionInfo{RequestMapping: "v1", ResourceSet: "v1", Module: version},
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.HTTP.ServerHost, cfg.HTTP.ServerPort))

	sv := supervisor.New(supervisor.DefaultConfig("de1-capture", func(taskCtx context.Context) error {
		if de1 := clients.devices[domain.RoleDE1]; de1 != nil {
			return de1.Capture(taskCtx)
		}
		return nil
	}))
	sv.SetLogger(log)
	sv.Start(ctx)
	defer sv.Stop()

	if err := healthCheck(ctx, db, mqttClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")
	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	for role, h := range clients.devices {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.Release(releaseCtx); err != nil {
			log.Warn("error releasing device", "role", role, "error", err)
		}
		cancel()
	}

	log.Info("pyde1-core stopped")
	return nil
}

func getConfigPath() string {
	if path := os.Getenv("PYDE1_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// supervisedClients bundles the per-role device handles and the narrow
// adapters flowsequencer.Sequencer needs, so run's construction stays
// readable.
type supervisedClients struct {
	devices      map[domain.DeviceRole]*mbd.Handle
	scanner      ble.Scanner
	scaleAdapter flowsequencer.Scale
	de1Adapter   flowsequencer.DE1
}

// buildSupervisedClients wires the three ManagedDevice handles spec §4.B
// calls for (DE1, Scale, Thermometer) against the simulated BLE transport.
// A real deployment swaps sim.NewCentral/sim.NewScanner for a platform
// Central/Scanner implementation (spec §1: BLE transport is an external
// collaborator, not part of the core design).
func buildSupervisedClients(ctx context.Context, cfg *config.Config, log *logging.Logger, bus *eventbus.Bus) supervisedClients {
	central := sim.NewCentral()
	scanner := sim.NewScanner()

	bleCfg := mbd.Config{
		ConnectTimeout:      time.Duration(cfg.Bluetooth.ConnectTimeout) * time.Second,
		DisconnectTimeout:   time.Duration(cfg.Bluetooth.DisconnectTimeout) * time.Second,
		ReconnectRetryCount: cfg.Bluetooth.ReconnectRetryCount,
		ReconnectGap:        time.Duration(cfg.Bluetooth.ReconnectGap) * time.Second,
	}

	scratch := mbd.NewScratchStore(cfg.Bluetooth.IDFileDirectory, cfg.Bluetooth.IDFileSuffix)
	sweepStaleSessions(central, scratch, log)
	watchForNewOrphans(ctx, central, scratch, log)
	sleepTracker := mbd.NewDE1SleepTracker(bus)

	de1Handle := mbd.New(domain.RoleDE1, central, scanner, nil, scratch, bus, bleCfg)
	de1Handle.SetLogger(log)
	scaleHandle := mbd.New(domain.RoleScale, central, scanner, nil, scratch, bus, bleCfg)
	scaleHandle.SetLogger(log)
	scaleHandle.SetDE1SleepChecker(sleepTracker)
	thermometerHandle := mbd.New(domain.RoleThermometer, central, scanner, nil, scratch, bus, bleCfg)
	thermometerHandle.SetLogger(log)
	thermometerHandle.SetDE1SleepChecker(sleepTracker)

	return supervisedClients{
		devices: map[domain.DeviceRole]*mbd.Handle{
			domain.RoleDE1:         de1Handle,
			domain.RoleScale:       scaleHandle,
			domain.RoleThermometer: thermometerHandle,
		},
		scanner:      scanner,
		scaleAdapter: scaleTareAdapter{handle: scaleHandle},
		de1Adapter:   de1StateAdapter{handle: de1Handle},
	}
}

// sweepStaleSessions implements spec §4.B's on-connect crash-recovery: at
// process start, before any device begins capturing, force-drop any BLE
// session the platform may have left orphaned by an ungraceful prior exit
// (one connect-then-disconnect round trip per stale address), then clear
// its scratch file so the next clean capture starts fresh.
func sweepStaleSessions(central ble.Central, scratch *mbd.ScratchStore, log *logging.Logger) {
	addrs, err := scratch.Sweep()
	if err != nil {
		log.Warn("scratch sweep failed", "error", err)
		return
	}
	for _, addr := range addrs {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if session, connErr := central.Connect(ctx, addr); connErr == nil {
			_ = session.Disconnect(ctx)
		}
		cancel()
		if err := scratch.Remove(addr); err != nil {
			log.Warn("removing stale scratch file failed", "address", addr, "error", err)
			continue
		}
		log.Info("cleaned up stale BLE session from crash recovery", "address", addr)
	}
}

// watchForNewOrphans wires the runtime half of spec §4.B's crash-recovery
// cleanup ("at process start and on external prompt"): if a scratch file
// appears without going through the normal Persist/Remove pair, force-drop
// whatever session the platform holds for that address.
func watchForNewOrphans(ctx context.Context, central ble.Central, scratch *mbd.ScratchStore, log *logging.Logger) {
	err := scratch.WatchForOrphans(ctx, func(address string) {
		dropCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if session, connErr := central.Connect(dropCtx, address); connErr == nil {
			_ = session.Disconnect(dropCtx)
		}
		if err := scratch.Remove(address); err != nil {
			log.Warn("removing orphaned scratch file failed", "address", address, "error", err)
			return
		}
		log.Info("cleaned up orphaned BLE session", "address", address)
	})
	if err != nil {
		log.Warn("scratch orphan watch failed to start", "error", err)
	}
}

// scaleTareAdapter satisfies flowsequencer.Scale. The actual tare command
// is a DE1/scale GATT write, owned by whatever platform-specific
// collaborator replaces ble/sim in a real deployment; here it is a no-op
// once the scale reports ready, matching sim's lack of a real tare
// characteristic.
type scaleTareAdapter struct {
	handle *mbd.Handle
}

func (a scaleTareAdapter) IsReady() bool { return a.handle.IsReady() }

func (a scaleTareAdapter) Tare(ctx context.Context) error {
	return nil
}

// de1StateAdapter satisfies flowsequencer.DE1. Requesting a machine state
// change is a DE1 GATT write on the MachineStates characteristic, owned by
// the same external collaborator as scaleTareAdapter's Tare.
type de1StateAdapter struct {
	handle *mbd.Handle
}

func (a de1StateAdapter) RequestState(ctx context.Context, state domain.MachineState) error {
	return nil
}

// sequenceFactory builds the Sequence row recorder.Recorder creates at
// SequenceStart (spec §4.E step 1: "fetched synchronously from cached
// state"). A full implementation would pull the live DE1
// settings/control/calibration snapshot; this wiring captures only what's
// available at the event envelope level until that cache exists.
func sequenceFactory(ev domain.Event) domain.Sequence {
	return domain.Sequence{
		ID:            ev.SequenceID,
		StartSequence: ev.CreateTime,
	}
}

// healthCheck verifies the infrastructure connections are healthy before
// declaring startup complete.
func healthCheck(ctx context.Context, db *store.DB, mqttClient *mqtt.Client, apiServer *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}
	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
