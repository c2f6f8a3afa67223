package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/outflowhq/outflow/pkg/models"
)

// EmailSender delivers a single email. Implementations wrap the concrete
// provider (SMTP, SendGrid, ...).
type EmailSender interface {
	Send(ctx context.Context, to, subject, body string) error
}

// SocialPublisher publishes content to one platform for a connected
// account.
type SocialPublisher interface {
	Publish(ctx context.Context, accountID, platform, content string) error
}

// AutomationService manages social automation rules and activity queries
// backing the social_reply and social_monitor nodes.
type AutomationService interface {
	CreateReplyRule(ctx context.Context, config map[string]any) error
	QueryActivity(ctx context.Context, config map[string]any) ([]map[string]any, error)
}

// AIClient runs a prompt against a language model.
type AIClient interface {
	Complete(ctx context.Context, prompt string, vars map[string]any) (string, error)
}

// HTTPCaller performs an outbound HTTP call for api_request and webhook
// nodes.
type HTTPCaller interface {
	Call(ctx context.Context, method, url string, body map[string]any) (map[string]any, error)
}

// DatabaseAction runs a named data operation (save lead, update record, ...).
type DatabaseAction interface {
	Execute(ctx context.Context, action string, config map[string]any) (map[string]any, error)
}

// Notifier delivers an in-app or channel notification.
type Notifier interface {
	Notify(ctx context.Context, channel, message string) error
}

// Collaborators bundles the external services node handlers delegate to.
// Any nil collaborator fails its nodes with a descriptive error instead of
// panicking.
type Collaborators struct {
	Email      EmailSender
	Social     SocialPublisher
	Automation AutomationService
	AI         AIClient
	HTTP       HTTPCaller
	Database   DatabaseAction
	Notify     Notifier
}

func failure(format string, args ...interface{}) NodeResult {
	return NodeResult{ErrorMsg: fmt.Sprintf(format, args...)}
}

func success(output map[string]any) NodeResult {
	return NodeResult{Success: true, Output: output}
}

// execNode dispatches a node to its type-specific handler. Node types form
// a closed set; anything else is a configuration error.
func (e *Engine) execNode(ctx context.Context, rs *runState, node models.Node) NodeResult {
	switch node.Type {
	case models.TriggerNode:
		// A trigger reached mid-walk is a no-op.
		return success(nil)
	case models.EmailNode:
		return e.execEmail(ctx, rs, node)
	case models.DelayNode:
		return e.execDelay(ctx, rs, node)
	case models.ConditionNode:
		return e.execCondition(rs, node)
	case models.SocialPostNode:
		return e.execSocialPost(ctx, rs, node)
	case models.SocialReplyNode:
		return e.execSocialReply(ctx, node)
	case models.SocialMonitorNode:
		return e.execSocialMonitor(ctx, rs, node)
	case models.AIAgentNode:
		return e.execAIAgent(ctx, rs, node)
	case models.APIRequestNode:
		return e.execAPIRequest(ctx, rs, node)
	case models.WebhookNode:
		return e.execWebhook(ctx, rs, node)
	case models.DatabaseNode:
		return e.execDatabase(ctx, node)
	case models.NotificationNode:
		return e.execNotification(ctx, rs, node)
	}
	return failure("unsupported node type '%s'", node.Type)
}

func (e *Engine) execEmail(ctx context.Context, rs *runState, node models.Node) NodeResult {
	if e.collab.Email == nil {
		return failure("no email sender configured")
	}
	to := substitute(stringField(node.Data, "to"), rs.vars)
	subject := substitute(stringField(node.Data, "subject"), rs.vars)
	body := substitute(stringField(node.Data, "body"), rs.vars)
	if to == "" {
		return failure("email node %s has no recipient", node.ID)
	}
	if err := e.collab.Email.Send(ctx, to, subject, body); err != nil {
		return failure("email send failed: %v", err)
	}
	return success(map[string]any{"to": to, "subject": subject})
}

func (e *Engine) execDelay(ctx context.Context, rs *runState, node models.Node) NodeResult {
	seconds := floatField(node.Data, "delaySeconds")
	if seconds < 0 {
		return failure("delay node %s has negative delaySeconds", node.ID)
	}
	d := time.Duration(seconds * float64(time.Second))
	if d <= e.inlineDelayMax {
		if err := e.sleep(ctx, d); err != nil {
			return failure("delay interrupted: %v", err)
		}
		return success(nil)
	}
	return NodeResult{Success: true, suspend: true, resumeIn: d}
}

func (e *Engine) execCondition(rs *runState, node models.Node) NodeResult {
	field := stringField(node.Data, "field")
	operator := stringField(node.Data, "operator")
	expected := node.Data["value"]

	actual, exists := rs.vars[field]
	var outcome bool
	switch operator {
	case "exists":
		outcome = exists
	case "equals":
		outcome = exists && fmt.Sprint(actual) == fmt.Sprint(expected)
	case "contains":
		outcome = exists && strings.Contains(fmt.Sprint(actual), fmt.Sprint(expected))
	case "greater_than":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		outcome = exists && aok && bok && a > b
	case "less_than":
		a, aok := toFloat(actual)
		b, bok := toFloat(expected)
		outcome = exists && aok && bok && a < b
	default:
		return failure("condition node %s has unknown operator '%s'", node.ID, operator)
	}

	handle := "false"
	if outcome {
		handle = "true"
	}
	target, ok := rs.branch(node.ID, handle)
	if !ok {
		// No edge tagged for this branch ends the walk after this node.
		return success(map[string]any{"outcome": outcome})
	}
	return NodeResult{Success: true, Output: map[string]any{"outcome": outcome}, NextNodeID: target}
}

// execSocialPost publishes to every requested platform. Partial failure is
// tolerated: the node succeeds if at least one platform accepted the post,
// and the per-platform outcome is reported in the output.
func (e *Engine) execSocialPost(ctx context.Context, rs *runState, node models.Node) NodeResult {
	if e.collab.Social == nil {
		return failure("no social publisher configured")
	}
	accountID := stringField(node.Data, "accountId")
	content := substitute(stringField(node.Data, "content"), rs.vars)
	platforms := stringSlice(node.Data["platforms"])
	if len(platforms) == 0 {
		return failure("social_post node %s has no platforms", node.ID)
	}

	results := make(map[string]bool, len(platforms))
	succeeded := 0
	for _, platform := range platforms {
		err := e.collab.Social.Publish(ctx, accountID, platform, content)
		results[platform] = err == nil
		if err == nil {
			succeeded++
		} else {
			e.logger.Errorf("Publish to %s failed for account %s: %v", platform, accountID, err)
		}
	}
	if succeeded == 0 {
		return failure("all %d platform publishes failed", len(platforms))
	}
	// Partial failures are visible in the run log and the node output.
	rs.logf("Social post delivered to %d/%d platforms: %v", succeeded, len(platforms), results)
	return success(map[string]any{"results": results})
}

func (e *Engine) execSocialReply(ctx context.Context, node models.Node) NodeResult {
	if e.collab.Automation == nil {
		return failure("no automation service configured")
	}
	if err := e.collab.Automation.CreateReplyRule(ctx, node.Data); err != nil {
		return failure("creating reply rule failed: %v", err)
	}
	return success(nil)
}

// execSocialMonitor queries social activity and, when saveToVariable is
// set, writes the result list back into the run's variable context so
// downstream nodes can read it.
func (e *Engine) execSocialMonitor(ctx context.Context, rs *runState, node models.Node) NodeResult {
	if e.collab.Automation == nil {
		return failure("no automation service configured")
	}
	activity, err := e.collab.Automation.QueryActivity(ctx, node.Data)
	if err != nil {
		return failure("activity query failed: %v", err)
	}
	if name := stringField(node.Data, "saveToVariable"); name != "" {
		rs.vars[name] = activity
	}
	return success(map[string]any{"count": len(activity)})
}

func (e *Engine) execAIAgent(ctx context.Context, rs *runState, node models.Node) NodeResult {
	if e.collab.AI == nil {
		return failure("no AI client configured")
	}
	prompt := substitute(stringField(node.Data, "prompt"), rs.vars)
	response, err := e.collab.AI.Complete(ctx, prompt, rs.vars)
	if err != nil {
		return failure("AI completion failed: %v", err)
	}
	if name := stringField(node.Data, "outputVariable"); name != "" {
		rs.vars[name] = response
	}
	return success(map[string]any{"response": response})
}

func (e *Engine) execAPIRequest(ctx context.Context, rs *runState, node models.Node) NodeResult {
	if e.collab.HTTP == nil {
		return failure("no HTTP caller configured")
	}
	method := stringField(node.Data, "method")
	if method == "" {
		method = "GET"
	}
	url := substitute(stringField(node.Data, "url"), rs.vars)
	body, _ := node.Data["body"].(map[string]any)
	out, err := e.collab.HTTP.Call(ctx, method, url, body)
	if err != nil {
		return failure("api request failed: %v", err)
	}
	return success(out)
}

func (e *Engine) execWebhook(ctx context.Context, rs *runState, node models.Node) NodeResult {
	if e.collab.HTTP == nil {
		return failure("no HTTP caller configured")
	}
	url := substitute(stringField(node.Data, "url"), rs.vars)
	payload, _ := node.Data["payload"].(map[string]any)
	out, err := e.collab.HTTP.Call(ctx, "POST", url, payload)
	if err != nil {
		return failure("webhook call failed: %v", err)
	}
	return success(out)
}

func (e *Engine) execDatabase(ctx context.Context, node models.Node) NodeResult {
	if e.collab.Database == nil {
		return failure("no database action configured")
	}
	action := stringField(node.Data, "action")
	if action == "" {
		return failure("database node %s has no action", node.ID)
	}
	out, err := e.collab.Database.Execute(ctx, action, node.Data)
	if err != nil {
		return failure("database action '%s' failed: %v", action, err)
	}
	return success(out)
}

func (e *Engine) execNotification(ctx context.Context, rs *runState, node models.Node) NodeResult {
	if e.collab.Notify == nil {
		return failure("no notifier configured")
	}
	channel := stringField(node.Data, "channel")
	message := substitute(stringField(node.Data, "message"), rs.vars)
	if err := e.collab.Notify.Notify(ctx, channel, message); err != nil {
		return failure("notification failed: %v", err)
	}
	return success(nil)
}

// substitute replaces {name} placeholders with values from the variable
// context. Unknown placeholders are left untouched.
func substitute(s string, vars map[string]any) string {
	if s == "" || !strings.Contains(s, "{") {
		return s
	}
	for key, value := range vars {
		s = strings.ReplaceAll(s, "{"+key+"}", fmt.Sprint(value))
	}
	return s
}

func stringField(data map[string]any, key string) string {
	if v, ok := data[key].(string); ok {
		return v
	}
	return ""
}

func floatField(data map[string]any, key string) float64 {
	f, _ := toFloat(data[key])
	return f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
