package safety

import "strings"

// Tier is a tool call's risk classification.
type Tier int

const (
	T0 Tier = iota // read
	T1             // write
	T2             // destructive
)

func (t Tier) String() string {
	switch t {
	case T0:
		return "T0"
	case T1:
		return "T1"
	case T2:
		return "T2"
	default:
		return "T2"
	}
}

// baseTierByTool is the fixed tool-name table the Risk Assessor starts
// from before applying escalation rules. Unknown tools default to T1:
// a new or third-party tool should never silently inherit the lowest
// tier.
var baseTierByTool = map[string]Tier{
	"read_file":       T0,
	"list_directory":  T0,
	"web_search":      T0,
	"read_url":        T0,
	"read_messages":   T0,
	"memory_read":     T0,
	"write_file":      T1,
	"edit_file":       T1,
	"send_message":    T1,
	"memory_write":    T1,
	"send_alert":      T1,
	"exec_git":        T1,
	"delegate_task":   T1,
	"spawn_task":      T1,
	"exec":            T2,
	"exec_shell":      T2,
	"delete_file":     T2,
}

// dangerousFlags are argv tokens whose presence bumps a call's tier by
// one, matching the Command Executor's own deny-adjacent vocabulary.
var dangerousFlags = []string{"--force", "-rf", "--delete", "--hard", "--no-verify", "-f"}

// RiskAssessor computes a tool call's risk tier: base tier by name, then
// escalation for dangerous flags, remote origin, and an injection-detector
// match, capped at T2.
type RiskAssessor struct{}

// NewRiskAssessor creates a new RiskAssessor.
func NewRiskAssessor() *RiskAssessor {
	return &RiskAssessor{}
}

// Classification is the outcome of a risk assessment.
type Classification struct {
	Tier              Tier
	OriginEscalated   bool
	FlagEscalated     bool
	InjectionEscalated bool
}

// Input bundles everything the assessor needs to classify one call.
type Input struct {
	ToolName        string
	Arguments       string // canonicalized argument string, scanned for dangerous flags
	RemoteOrigin    bool
	InjectionMatch  bool
}

// Classify computes a call's tier, applying each escalation rule at most
// once and capping the result at T2.
func (a *RiskAssessor) Classify(in Input) Classification {
	tier, ok := baseTierByTool[strings.ToLower(strings.TrimSpace(in.ToolName))]
	if !ok {
		tier = T1
	}
	c := Classification{Tier: tier}

	if hasDangerousFlag(in.Arguments) {
		c.FlagEscalated = true
		tier = escalate(tier)
	}
	if in.RemoteOrigin {
		c.OriginEscalated = true
		tier = escalate(tier)
	}
	if in.InjectionMatch {
		c.InjectionEscalated = true
		tier = escalate(tier)
	}
	c.Tier = tier
	return c
}

func escalate(t Tier) Tier {
	if t >= T2 {
		return T2
	}
	return t + 1
}

func hasDangerousFlag(args string) bool {
	for _, flag := range dangerousFlags {
		if strings.Contains(args, flag) {
			return true
		}
	}
	return false
}
