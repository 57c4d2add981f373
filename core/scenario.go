// core/scenario.go
package core

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/accelangel/space-bastard-sub000/model"
)

// Scenario is a loaded engagement setup: initial agent states with their
// mission assignments, plus the opening target track.
type Scenario struct {
	Agents   []ScenarioAgent
	Target   model.TargetTrack
	AgentIDs []string
}

// ScenarioAgent pairs one agent's initial state with its assignment.
type ScenarioAgent struct {
	State   model.AgentState
	Mission model.MissionParameters
}

// internal JSON shapes – keep them unexported so we’re free to evolve them.
type scenarioJSON struct {
	Agents []scenarioAgentJSON `json:"agents"`
	Target scenarioTargetJSON  `json:"target"`
}

type scenarioAgentJSON struct {
	ID       string  `json:"id"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	VX       float64 `json:"vx"`
	VY       float64 `json:"vy"`
	Heading  float64 `json:"heading"` // rad
	MaxAccel float64 `json:"max_accel"`
	MaxTurn  float64 `json:"max_turn_rate"`
	MaxSpeed float64 `json:"max_speed"`

	Mission     string   `json:"mission"` // "direct" | "arc" | "simultaneous"
	Side        string   `json:"side"`    // "left" | "right", arc only
	ImpactTime  *float64 `json:"impact_time"`
	ImpactAngle *float64 `json:"impact_angle"`
}

type scenarioTargetJSON struct {
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
	VX float64 `json:"vx"`
	VY float64 `json:"vy"`
}

// LoadScenario reads a JSON engagement setup from r. It fails on JSON and
// structural errors (unknown mission types, duplicate agent ids); numeric
// plausibility is left to the agents' own limits, the same way direct
// construction behaves in tests.
func LoadScenario(r io.Reader) (*Scenario, error) {
	var raw scenarioJSON
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode scenario: %w", err)
	}
	if len(raw.Agents) == 0 {
		return nil, fmt.Errorf("scenario has no agents")
	}

	sc := &Scenario{
		Target: model.TargetTrack{
			Position: model.Vec2{X: raw.Target.X, Y: raw.Target.Y},
			Velocity: model.Vec2{X: raw.Target.VX, Y: raw.Target.VY},
			Valid:    true,
		},
	}

	seen := make(map[string]bool, len(raw.Agents))
	for i, a := range raw.Agents {
		if a.ID == "" {
			return nil, fmt.Errorf("agent %d: missing id", i)
		}
		if seen[a.ID] {
			return nil, fmt.Errorf("agent %q: duplicate id", a.ID)
		}
		seen[a.ID] = true

		mission, err := missionFromJSON(a)
		if err != nil {
			return nil, fmt.Errorf("agent %q: %w", a.ID, err)
		}

		sc.Agents = append(sc.Agents, ScenarioAgent{
			State: model.AgentState{
				ID:       a.ID,
				Position: model.Vec2{X: a.X, Y: a.Y},
				Velocity: model.Vec2{X: a.VX, Y: a.VY},
				Heading:  model.WrapAngle(a.Heading),
				Limits: model.AgentLimits{
					MaxAccel:    a.MaxAccel,
					MaxTurnRate: a.MaxTurn,
					MaxSpeed:    a.MaxSpeed,
				},
			},
			Mission: mission,
		})
		sc.AgentIDs = append(sc.AgentIDs, a.ID)
	}
	return sc, nil
}

func missionFromJSON(a scenarioAgentJSON) (model.MissionParameters, error) {
	switch a.Mission {
	case "", "direct":
		return model.MissionParameters{Type: model.MissionDirectIntercept}, nil

	case "arc":
		side := model.ArcSideLeft
		switch a.Side {
		case "left", "":
		case "right":
			side = model.ArcSideRight
		default:
			return model.MissionParameters{}, fmt.Errorf("unknown arc side %q", a.Side)
		}
		return model.MissionParameters{Type: model.MissionArcOffset, Side: side}, nil

	case "simultaneous":
		m := model.MissionParameters{Type: model.MissionSimultaneousImpact}
		if a.ImpactTime == nil {
			return model.MissionParameters{}, fmt.Errorf("simultaneous mission requires impact_time")
		}
		m.ImpactTime = *a.ImpactTime
		if a.ImpactAngle != nil {
			m.ImpactAngle = model.WrapAngle(*a.ImpactAngle)
		}
		return m, nil

	default:
		return model.MissionParameters{}, fmt.Errorf("unknown mission type %q", a.Mission)
	}
}
