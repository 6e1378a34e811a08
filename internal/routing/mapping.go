package routing

import (
	"callbridge/internal/config"
	"callbridge/internal/crm"
)

// BindingMode is the per-entity-type rule governing whether and which
// entities receive a call activity.
type BindingMode string

const (
	// BindingAll routes to every matching entity of the type unconditionally.
	BindingAll BindingMode = "ALL"
	// BindingFiltered routes only to entities whose category/target matches
	// the call's queue mapping.
	BindingFiltered BindingMode = "FILTERED"
	// BindingNone never routes to the entity type.
	BindingNone BindingMode = "NONE"
)

// QueueTargets is the CRM side of one queue: which deal categories and lead
// targets calls on this queue belong to.
type QueueTargets struct {
	DealCategories []string
	LeadTargets    []string
}

// Mapping is the static queue/entity routing table, loaded once at startup
// and read-only for the lifetime of the process.
type Mapping struct {
	queues     map[string]QueueTargets
	queueNames map[string]string
	policies   map[crm.EntityType]BindingMode
}

// NewMapping builds a Mapping from the routing file.
// Entity types without an explicit binding mode default to NONE.
func NewMapping(rf config.RoutingFile) *Mapping {
	m := &Mapping{
		queues:     make(map[string]QueueTargets, len(rf.Queues)),
		queueNames: make(map[string]string, len(rf.QueueNames)),
		policies:   make(map[crm.EntityType]BindingMode, len(rf.Binding)),
	}
	for id, q := range rf.Queues {
		m.queues[id] = QueueTargets{
			DealCategories: append([]string(nil), q.DealCategories...),
			LeadTargets:    append([]string(nil), q.LeadTargets...),
		}
	}
	for id, name := range rf.QueueNames {
		m.queueNames[id] = name
	}
	for entity, mode := range rf.Binding {
		m.policies[crm.EntityType(entity)] = BindingMode(mode)
	}
	return m
}

// Policy returns the binding mode for an entity type. Unconfigured types are
// NONE.
func (m *Mapping) Policy(entity crm.EntityType) BindingMode {
	if mode, ok := m.policies[entity]; ok {
		return mode
	}
	return BindingNone
}

// QueueName returns the display name for a queue id, or the id itself.
func (m *Mapping) QueueName(queueID string) string {
	if name, ok := m.queueNames[queueID]; ok {
		return name
	}
	return queueID
}

// Resolve maps (queue id, entity type) to the configured targets.
// filteredMatch is true when the queue maps to at least one target for the
// entity type. An absent queue id (direct, non-queue call) resolves to no
// targets and never matches under FILTERED, since there is no queue to
// filter on.
func (m *Mapping) Resolve(queueID string, entity crm.EntityType) (targets []string, filteredMatch bool) {
	if queueID == "" {
		return nil, false
	}
	q, ok := m.queues[queueID]
	if !ok {
		return nil, false
	}
	switch entity {
	case crm.EntityDeal:
		targets = q.DealCategories
	case crm.EntityLead:
		targets = q.LeadTargets
	}
	return append([]string(nil), targets...), len(targets) > 0
}
