package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// RoutingFile is the YAML routing/binding configuration loaded once at startup.
// Queue mappings are many-valued and change per deployment, which makes them a
// poor fit for env vars; they live in a file the ops team can review.
//
// Example:
//
//	events:
//	  enabled: [Newchannel, QueueCallerJoin, AgentConnect, Hangup]
//	allowed_extens: ["100", "200"]
//	queue_names:
//	  "001": "Support"
//	queues:
//	  "001":
//	    deal_categories: ["1", "7"]
//	    lead_targets: ["42"]
//	binding:
//	  lead: FILTERED
//	  deal: ALL
type RoutingFile struct {
	Events struct {
		Enabled []string `yaml:"enabled"`
	} `yaml:"events"`

	// AllowedExtens gates which dialed extensions create sessions.
	// Empty admits everything.
	AllowedExtens []string `yaml:"allowed_extens"`

	QueueNames map[string]string    `yaml:"queue_names"`
	Queues     map[string]QueueFile `yaml:"queues"`

	// Binding maps entity type (lead, deal) to ALL, FILTERED or NONE.
	Binding map[string]string `yaml:"binding"`
}

type QueueFile struct {
	DealCategories []string `yaml:"deal_categories"`
	LeadTargets    []string `yaml:"lead_targets"`
}

// LoadRouting reads and validates the routing YAML.
func LoadRouting(path string) (RoutingFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RoutingFile{}, fmt.Errorf("reading routing config: %w", err)
	}

	var rf RoutingFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return RoutingFile{}, fmt.Errorf("parsing routing config: %w", err)
	}
	if err := rf.Validate(); err != nil {
		return RoutingFile{}, err
	}
	return rf, nil
}

func (rf RoutingFile) Validate() error {
	if len(rf.Events.Enabled) == 0 {
		return fmt.Errorf("routing config: events.enabled must list at least one event kind")
	}
	for entity, mode := range rf.Binding {
		switch entity {
		case "lead", "deal":
		default:
			return fmt.Errorf("routing config: unknown binding entity %q", entity)
		}
		switch mode {
		case "ALL", "FILTERED", "NONE":
		default:
			return fmt.Errorf("routing config: binding mode for %q must be ALL, FILTERED or NONE, got %q", entity, mode)
		}
	}
	return nil
}
