package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"time"

	"github.com/accelangel/space-bastard-sub000/core"
	"github.com/accelangel/space-bastard-sub000/internal/batch"
	"github.com/accelangel/space-bastard-sub000/internal/config"
	"github.com/accelangel/space-bastard-sub000/internal/guidance"
	"github.com/accelangel/space-bastard-sub000/internal/logging"
	"github.com/accelangel/space-bastard-sub000/internal/observability"
	"github.com/accelangel/space-bastard-sub000/model"
	"github.com/accelangel/space-bastard-sub000/timectrl"
)

func main() {
	duration := flag.Duration("duration", 30*time.Second, "total scenario duration")
	tick := flag.Duration("tick", 50*time.Millisecond, "control loop tick interval")
	agents := flag.Int("agents", 12, "number of homing agents to spawn (ignored with -scenario)")
	scenarioPath := flag.String("scenario", "", "optional JSON engagement scenario")
	configPath := flag.String("config", "", "optional YAML tuning file")
	metricsAddr := flag.String("metrics-addr", ":9090", "address for the /metrics endpoint (empty disables)")
	accelerated := flag.Bool("accelerated", true, "run in accelerated mode (vs real-time)")

	flag.Parse()

	ctx := context.Background()
	log := logging.NewFromEnv()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tracing init failed: %v\n", err)
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdownTracing, log)

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	collector, err := observability.NewOptimizerCollector(nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "metrics init failed: %v\n", err)
		os.Exit(1)
	}
	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", collector.Handler())
		go func() {
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn(ctx, "metrics server stopped", logging.String("error", err.Error()))
			}
		}()
	}

	// ==== Optimizer wiring ====

	sampler := core.NewTrajectorySampler(core.SamplerConfig{
		FineStep:    cfg.Rollout.FineStep,
		CoarseStep:  cfg.Rollout.CoarseStep,
		FineHorizon: cfg.Rollout.FineHorizon,
		MaxHorizon:  cfg.Rollout.MaxHorizon,
		MinHorizon:  cfg.Rollout.MinHorizon,
	}, core.NewCostEvaluator(core.CostWeights{
		Distance:  cfg.Weights.Distance,
		Control:   cfg.Weights.Control,
		Alignment: cfg.Weights.Alignment,
		Type:      cfg.Weights.Type,
	}))

	evaluator, err := batch.NewEvaluator(sampler, cfg.Scheduling.Workers, log)
	if err != nil {
		// Not fatal: the manager reports degraded and a real deployment
		// would fall back to per-agent evaluation.
		log.Warn(ctx, "batch backend unavailable", logging.String("error", err.Error()))
	}

	registry := guidance.NewRegistry()
	manager := guidance.NewManager(
		registry,
		core.DefaultBank(),
		evaluator,
		guidance.NewArbiter(cfg.Commitment.MinDwell, cfg.Commitment.SwitchThreshold),
		guidance.NewRecycler(cfg.Rollout.MinHorizon, cfg.Rollout.CoarseStep),
		cfg.Scheduling,
		log,
		collector,
	)

	// ==== Engagement setup: from a scenario file, or a generated ring ====

	var spawn []core.ScenarioAgent
	target := model.TargetTrack{
		Position: model.Vec2{X: 0, Y: 0},
		Velocity: model.Vec2{X: 25, Y: 10},
		Valid:    true,
	}
	if *scenarioPath != "" {
		f, err := os.Open(*scenarioPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open scenario %q: %v\n", *scenarioPath, err)
			os.Exit(1)
		}
		sc, err := core.LoadScenario(f)
		f.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "load scenario %q: %v\n", *scenarioPath, err)
			os.Exit(1)
		}
		spawn = sc.Agents
		target = sc.Target
	} else {
		spawn = ringScenario(*agents)
	}

	states := make([]model.AgentState, len(spawn))
	missions := make([]model.MissionParameters, len(spawn))
	commands := make([]model.ControlCommand, len(spawn))
	handles := make([]guidance.Handle, len(spawn))

	start := time.Now().UTC()
	for i := range spawn {
		states[i] = spawn[i].State
		missions[i] = spawn[i].Mission
		idx := i
		h, err := registry.Register(states[i].ID, states[i].Limits, func(cmd model.ControlCommand) {
			commands[idx] = cmd
		}, start)
		if err != nil {
			fmt.Fprintf(os.Stderr, "register %s: %v\n", states[i].ID, err)
			os.Exit(1)
		}
		handles[i] = h
	}

	// ==== Control loop ====

	mode := timectrl.RealTime
	if *accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(start, *tick, mode)

	dt := tick.Seconds()
	tickCount := 0
	tc.AddListener(func(simTime time.Time) {
		tickCount++

		// The target weaves; the optimizer only ever sees snapshots.
		t := simTime.Sub(start).Seconds()
		target.Velocity = model.Vec2{
			X: 25 * math.Cos(t/4),
			Y: 10 + 15*math.Sin(t/3),
		}
		target.Position = target.Position.Add(target.Velocity.Scale(dt))

		for i := range states {
			dist := states[i].Position.DistanceTo(target.Position)
			if err := manager.RequestUpdate(handles[i], 1000/math.Max(dist, 1), states[i], target, missions[i]); err != nil {
				log.Warn(ctx, "request rejected",
					logging.String("agent_id", states[i].ID),
					logging.String("error", err.Error()),
				)
			}
		}

		manager.Advance(ctx, simTime)

		// Apply the latest committed command; this loop stands in for the
		// external physics integrator and actuator layer.
		for i := range states {
			ctrl := model.ControlInput{Thrust: commands[i].Thrust, TurnRate: commands[i].TurnRate}
			states[i] = core.Propagate(states[i], ctrl, dt)
		}

		if tickCount%20 == 0 {
			closest := math.Inf(1)
			for i := range states {
				if d := states[i].Position.DistanceTo(target.Position); d < closest {
					closest = d
				}
			}
			stats := manager.Diagnostics()
			fmt.Printf("[%s] target=(%.0f, %.0f) closest=%.1fm batches=%d agents=%d largest=%d latency=%s\n",
				simTime.Format(time.RFC3339),
				target.Position.X, target.Position.Y,
				closest,
				stats.Batches, stats.AgentsProcessed, stats.LargestBatch, stats.LastCycleLatency,
			)
		}
	})

	fmt.Printf("Starting optimizer scenario: duration=%s, tick=%s, agents=%d\n", *duration, *tick, *agents)
	done := tc.Start(*duration)
	<-done

	stats := manager.Diagnostics()
	fmt.Printf("Scenario complete: %d batches, %d agent resolutions, largest batch %d\n",
		stats.Batches, stats.AgentsProcessed, stats.LargestBatch)
	for idx, count := range stats.TemplateUsage {
		fmt.Printf("↳ template %2d committed %d times\n", idx, count)
	}
}

// ringScenario spawns n agents on a 600 m ring around the origin, headings
// inward, with mission types rotated so every pattern gets exercised.
func ringScenario(n int) []core.ScenarioAgent {
	limits := model.AgentLimits{MaxAccel: 40, MaxTurnRate: 3, MaxSpeed: 80}

	spawn := make([]core.ScenarioAgent, n)
	for i := range spawn {
		theta := 2 * math.Pi * float64(i) / float64(n)

		var mission model.MissionParameters
		switch i % 4 {
		case 1:
			mission = model.MissionParameters{Type: model.MissionArcOffset, Side: model.ArcSideLeft}
		case 2:
			mission = model.MissionParameters{Type: model.MissionArcOffset, Side: model.ArcSideRight}
		case 3:
			mission = model.MissionParameters{
				Type:        model.MissionSimultaneousImpact,
				ImpactTime:  10,
				ImpactAngle: model.WrapAngle(theta),
			}
		default:
			mission = model.MissionParameters{Type: model.MissionDirectIntercept}
		}

		spawn[i] = core.ScenarioAgent{
			State: model.AgentState{
				ID:       fmt.Sprintf("agent-%02d", i),
				Position: model.Vec2{X: 600 * math.Cos(theta), Y: 600 * math.Sin(theta)},
				Heading:  model.WrapAngle(theta + math.Pi),
				Limits:   limits,
			},
			Mission: mission,
		}
	}
	return spawn
}
