package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"tickforge/sync/internal/codec"
	"tickforge/sync/internal/config"
	"tickforge/sync/internal/inputqueue"
	"tickforge/sync/internal/logging"
	"tickforge/sync/internal/protocol"
	"tickforge/sync/internal/replay"
	"tickforge/sync/internal/replication"
	"tickforge/sync/internal/simulation"
	"tickforge/sync/internal/transport"
	"tickforge/sync/internal/world"
)

// spawnSpacing offsets consecutive player spawns so they do not stack.
const spawnSpacing = 4000

// server wires the tick loop, the input queue and the replication manager to
// the websocket hub. All world mutation happens on the tick goroutine; hub
// callbacks only enqueue work.
type server struct {
	log      *zap.Logger
	cfg      *config.Config
	stepper  *simulation.MovementStepper
	store    *world.Store
	alloc    *world.Allocator
	queue    *inputqueue.Queue
	manager  *replication.Manager
	hub      *transport.Hub
	journal  *replay.Writer
	spawned  int32
	mu       sync.Mutex
	entities map[string]world.EntityID
	pending  []command
}

type command struct {
	spawn   *world.EntityState
	despawn world.EntityID
}

func newServer(cfg *config.Config, log *zap.Logger, journal *replay.Writer) *server {
	stepper := simulation.NewMovementStepper()
	srv := &server{
		log:      log,
		cfg:      cfg,
		stepper:  stepper,
		alloc:    world.NewAllocator(),
		queue:    inputqueue.NewQueue(inputqueue.Config{ReorderWindow: cfg.ReorderWindowTicks}, log),
		manager: replication.NewManager(replication.Config{
			CadenceTicks:   cfg.SnapshotCadenceTicks,
			AckTimeout:     cfg.AckTimeout,
			RTTMarginTicks: cfg.RTTMarginTicks,
			BytesPerSecond: cfg.BandwidthBytesPerSec,
		}, log),
		journal:  journal,
		entities: make(map[string]world.EntityID),
	}
	//1.- The server steps movement, then applies queued spawns and despawns so
	// lifecycle changes land inside the same committed snapshot.
	srv.store = world.NewStore(world.StepperFunc(srv.stepWithCommands), cfg.HistoryDepth)
	return srv
}

func (s *server) stepWithCommands(prev *world.Snapshot, tick uint64, step time.Duration, inputs []world.TickInput) *world.Snapshot {
	next := s.stepper.Step(prev, tick, step, inputs)

	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, cmd := range pending {
		if cmd.spawn != nil {
			entity := cmd.spawn.Clone()
			entity.SpawnTick = tick
			next.Put(entity)
			continue
		}
		if !cmd.despawn.IsZero() {
			next.Remove(cmd.despawn)
			s.alloc.Release(cmd.despawn, tick)
		}
	}
	return next
}

// step runs once per simulation tick on the loop goroutine.
func (s *server) step(tick uint64, dur time.Duration) {
	inputs := s.queue.DrainForTick(tick)
	snapshot, err := s.store.Advance(dur, inputs)
	if err != nil {
		s.log.Error("simulation step failed", zap.Uint64("tick", tick), zap.Error(err))
		return
	}

	applied := s.queue.AppliedSequences()
	for _, out := range s.manager.PlanTick(snapshot, s.store.History(), applied) {
		data, err := protocol.Encode(protocol.Envelope{
			Kind: protocol.KindSnapshot,
			Snapshot: &protocol.SnapshotPayload{
				Tick:            out.Tick,
				BaselineTick:    out.BaselineTick,
				Full:            out.Full,
				AppliedSequence: out.AppliedSequence,
				Body:            out.Payload,
			},
		})
		if err != nil {
			s.log.Error("snapshot envelope encode failed", zap.Error(err))
			continue
		}
		if err := s.hub.Send(out.ClientID, data); err != nil && !errors.Is(err, transport.ErrUnknownClient) {
			s.log.Warn("snapshot send failed", zap.String("client_id", out.ClientID), zap.Error(err))
		}
	}

	//1.- Journal the authoritative state at the replication cadence.
	if s.journal != nil && tick%s.cfg.SnapshotCadenceTicks == 0 {
		full := codec.EncodeDelta(nil, snapshot)
		if payload, err := codec.Marshal(full); err == nil {
			if err := s.journal.AppendSnapshot(tick, payload); err != nil {
				s.log.Warn("journal snapshot append failed", zap.Error(err))
			}
		}
	}

	//2.- Evict history and recycle entity slots below the retention floor.
	floor := s.manager.RetentionFloor(snapshot.Tick)
	s.store.Prune(floor)
	s.alloc.Recycle(floor)
}

// OnConnect implements transport.Handler. The world join waits for the
// client's join message so the connection can negotiate first.
func (s *server) OnConnect(clientID string) {
	s.log.Info("client connected", zap.String("client_id", clientID))
}

// OnMessage implements transport.Handler.
func (s *server) OnMessage(clientID string, data []byte) {
	envelope, err := protocol.Decode(data)
	if err != nil {
		if errors.Is(err, codec.ErrVersionMismatch) {
			s.log.Warn("protocol version mismatch, disconnecting",
				zap.String("client_id", clientID), zap.Error(err))
			s.hub.Close(clientID)
			return
		}
		s.log.Debug("undecodable message dropped", zap.String("client_id", clientID), zap.Error(err))
		return
	}

	switch envelope.Kind {
	case protocol.KindJoin:
		s.handleJoin(clientID)
	case protocol.KindInput:
		if envelope.Input == nil {
			return
		}
		if err := s.queue.Push(inputqueue.Input{
			Client:   clientID,
			Sequence: envelope.Input.Sequence,
			Tick:     envelope.Input.Tick,
			Controls: envelope.Input.Controls,
		}); err != nil {
			s.log.Debug("input dropped", zap.String("client_id", clientID), zap.Error(err))
		}
		s.manager.ObserveInput(clientID, envelope.Input.Sequence)
	case protocol.KindAck:
		if envelope.Ack != nil {
			s.manager.ObserveAck(clientID, envelope.Ack.Tick)
		}
	case protocol.KindResync:
		s.manager.ForceFull(clientID)
	case protocol.KindLeave:
		s.hub.Close(clientID)
	default:
		s.log.Debug("unhandled message kind",
			zap.String("client_id", clientID), zap.String("kind", string(envelope.Kind)))
	}
}

func (s *server) handleJoin(clientID string) {
	s.mu.Lock()
	if _, ok := s.entities[clientID]; ok {
		s.mu.Unlock()
		return
	}
	id := s.alloc.Allocate()
	s.entities[clientID] = id
	slot := s.spawned
	s.spawned++

	entity := &world.EntityState{ID: id, Class: world.ClassPlayer}
	entity.Set(world.Position(slot*spawnSpacing, 0))
	entity.Set(world.Velocity(0, 0))
	entity.Set(world.Health(100))
	s.pending = append(s.pending, command{spawn: entity})
	s.mu.Unlock()

	s.stepper.Bind(clientID, id)
	s.manager.Join(clientID)

	data, err := protocol.Encode(protocol.Envelope{
		Kind: protocol.KindJoined,
		Joined: &protocol.JoinedPayload{
			ClientID: clientID,
			Entity:   id,
			TickRate: s.cfg.TickRateHz,
		},
	})
	if err == nil {
		_ = s.hub.Send(clientID, data)
	}
	if s.journal != nil {
		_ = s.journal.AppendEvent(s.store.Tick(), "join", []byte(clientID))
	}
	s.log.Info("client joined", zap.String("client_id", clientID),
		zap.Uint32("entity_index", id.Index), zap.Uint32("entity_generation", id.Generation))
}

// OnDisconnect implements transport.Handler.
func (s *server) OnDisconnect(clientID string) {
	s.mu.Lock()
	id, ok := s.entities[clientID]
	if ok {
		delete(s.entities, clientID)
		s.pending = append(s.pending, command{despawn: id})
	}
	s.mu.Unlock()

	s.stepper.Unbind(clientID)
	s.manager.Leave(clientID)
	s.queue.Forget(clientID)
	if s.journal != nil {
		_ = s.journal.AppendEvent(s.store.Tick(), "leave", []byte(clientID))
	}
	s.log.Info("client disconnected", zap.String("client_id", clientID))
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}
	log, cleanup, err := logging.New(cfg.Logging)
	if err != nil {
		os.Stderr.WriteString("logging setup error: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var journal *replay.Writer
	if cfg.ReplayDir != "" {
		writer, _, err := replay.NewWriter(cfg.ReplayDir, ksuid.New().String(), time.Now)
		if err != nil {
			log.Fatal("journal setup failed", zap.Error(err))
		}
		writer.SetHeaderMetadata(cfg.TickRateHz, protocol.Version)
		journal = writer
		defer func() {
			if err := journal.Close(); err != nil {
				log.Warn("journal close failed", zap.Error(err))
			}
		}()

		//1.- Retention sweeps keep the journal directory bounded over time.
		cleaner := replay.NewCleaner(cfg.ReplayDir, replay.RetentionPolicy{
			MaxSessions: cfg.ReplayMaxSessions,
			MaxAge:      cfg.ReplayMaxAge,
		}, log)
		go cleaner.Run(ctx, cfg.ReplaySweepInterval)
	}

	srv := newServer(cfg, log, journal)
	srv.hub = transport.NewHub(transport.Config{
		PingInterval:    cfg.PingInterval,
		MaxPayloadBytes: cfg.MaxPayloadBytes,
		MaxClients:      cfg.MaxClients,
	}, srv, log)

	loop := simulation.NewLoop(cfg.TickRateHz, srv.step)
	loop.Start(ctx)

	mux := http.NewServeMux()
	mux.Handle("/ws", srv.hub)
	httpServer := &http.Server{Addr: cfg.Address, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("sync server listening",
		zap.String("address", cfg.Address), zap.Float64("tick_rate_hz", cfg.TickRateHz))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}

	loop.Stop()
	srv.hub.Shutdown()
	log.Info("sync server stopped", zap.Any("tick_metrics", loop.Metrics()))
}
