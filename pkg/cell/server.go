package cell

// ServerState is the presence-driven server state machine (spec.md
// section 4.4). Initial state is Down; transitions:
//   - any -> Down when the presence node disappears.
//   - Down -> Up when presence appears and the state is not Frozen.
//   - Up <-> Frozen is set externally via blackout admin.
// Frozen always wins over a presence blip (spec.md section 9, open
// question (d), resolved: preserve current behavior).
type ServerState string

const (
	StateDown   ServerState = "down"
	StateUp     ServerState = "up"
	StateFrozen ServerState = "frozen"
)

// Server is a leaf of the bucket tree and a member of exactly one
// partition's flat membership set (dual membership, spec.md section 3).
type Server struct {
	Name       string
	Bucket     *Bucket
	Capacity   Capacity
	Traits     uint64
	Label      string // partition label
	UpSince    int64
	State      ServerState
	Since      int64
	ValidUntil int64
	Presence   bool
	Apps       map[string]*Application // placed apps, keyed by app name
}

// NewServer creates a server in its initial Down state.
func NewServer(name string, bucket *Bucket, capacity Capacity, traits uint64, label string, now int64) *Server {
	return &Server{
		Name:     name,
		Bucket:   bucket,
		Capacity: capacity,
		Traits:   traits,
		Label:    label,
		UpSince:  now,
		State:    StateDown,
		Since:    now,
		Apps:     make(map[string]*Application),
	}
}

func (s *Server) NodeName() string          { return s.Name }
func (s *Server) AddChild(Node)             {}
func (s *Server) RemoveChild(string)        {}
func (s *Server) Children() []Node          { return nil }
func (s *Server) CapacityAggregate() (Capacity, Capacity) {
	return s.Capacity, s.Free()
}

// PlacedDemand sums the demand of every app currently placed on s.
func (s *Server) PlacedDemand() Capacity {
	var used Capacity
	for _, app := range s.Apps {
		used = used.Add(app.Demand)
	}
	return used
}

// Free returns remaining capacity per dimension (spec.md invariant 2:
// capacity - sum(placed demand) >= 0 componentwise for a consistent
// model; Free may still go negative transiently and callers must check).
func (s *Server) Free() Capacity {
	return s.Capacity.Sub(s.PlacedDemand())
}

// EffectiveTraits returns the server's own traits OR'd with its bucket's
// inherited traits.
func (s *Server) EffectiveTraits() uint64 {
	traits := s.Traits
	if s.Bucket != nil {
		traits |= s.Bucket.EffectiveTraits()
	}
	return traits
}

// PlaceApp records app as placed on s.
func (s *Server) PlaceApp(app *Application) {
	s.Apps[app.Name] = app
	app.Server = s
}

// RemoveApp removes appName from s's placed set.
func (s *Server) RemoveApp(appName string) {
	delete(s.Apps, appName)
}

// NextState computes the state transition driven purely by presence,
// honoring the "frozen wins" invariant; it does not itself mutate s.
func (s *Server) NextState(presence bool) ServerState {
	if s.State == StateFrozen {
		return StateFrozen
	}
	if !presence {
		return StateDown
	}
	return StateUp
}

// Transition moves s to newState, recording `since` if it actually
// changed (spec.md section 4.4: "every transition records {state,since}").
func (s *Server) Transition(newState ServerState, now int64) bool {
	if newState == s.State {
		return false
	}
	s.State = newState
	s.Since = now
	return true
}
