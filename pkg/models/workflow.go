package models

import "time"

type NodeType string

const (
	TriggerNode       NodeType = "trigger"
	AIAgentNode       NodeType = "ai_agent"
	APIRequestNode    NodeType = "api_request"
	EmailNode         NodeType = "email"
	ConditionNode     NodeType = "condition"
	DelayNode         NodeType = "delay"
	WebhookNode       NodeType = "webhook"
	DatabaseNode      NodeType = "database"
	NotificationNode  NodeType = "notification"
	SocialPostNode    NodeType = "social_post"
	SocialReplyNode   NodeType = "social_reply"
	SocialMonitorNode NodeType = "social_monitor"
)

// Position is builder-UI metadata; the interpreter ignores it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is one step of a workflow graph. Data carries the type-specific
// configuration (recipient/subject for email nodes, operator/value for
// condition nodes, and so on).
type Node struct {
	ID       string         `json:"id"`
	Type     NodeType       `json:"type"`
	Position Position       `json:"position"`
	Data     map[string]any `json:"data"`
}

// TargetCriteria narrows which businesses a scraper-driven workflow
// fires against.
type TargetCriteria struct {
	BusinessType string   `json:"business_type,omitempty"`
	Keywords     []string `json:"keywords,omitempty"`
}

// Workflow is a user-authored directed graph of automation steps.
// Executions hold their own snapshot, so mutating a workflow never
// affects a run already in flight.
type Workflow struct {
	ID          int64          `json:"id" db:"id"`
	UserID      string         `json:"user_id" db:"user_id"`
	Name        string         `json:"name" db:"name"`
	Nodes       []Node         `json:"nodes"`
	Edges       []Edge         `json:"edges"`
	IsActive    bool           `json:"is_active" db:"is_active"`
	Timezone    string         `json:"timezone,omitempty" db:"timezone"`
	TriggerSpec string         `json:"trigger_spec,omitempty" db:"trigger_spec"`
	Targets     TargetCriteria `json:"targets"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at" db:"updated_at"`
}
