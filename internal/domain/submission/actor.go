package submission

// ActorKind identifies what kind of principal performed an action.
type ActorKind string

const (
	ActorAgent  ActorKind = "agent"
	ActorHuman  ActorKind = "human"
	ActorSystem ActorKind = "system"
)

// Actor identifies the principal behind an operation. Agents and humans
// carry an identifier; system actions may omit it.
type Actor struct {
	Kind ActorKind `json:"kind"`
	ID   string    `json:"id,omitempty"`
	Name string    `json:"name,omitempty"`
}

// SystemActor returns the actor used for server-initiated transitions
// (expiry, finalization, delivery bookkeeping).
func SystemActor() Actor {
	return Actor{Kind: ActorSystem}
}

// IsValid checks that the actor kind is one of the defined constants.
func (k ActorKind) IsValid() bool {
	switch k {
	case ActorAgent, ActorHuman, ActorSystem:
		return true
	default:
		return false
	}
}

// String returns the string representation of the actor kind.
func (k ActorKind) String() string {
	return string(k)
}
