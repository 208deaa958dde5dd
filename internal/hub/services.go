package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/haasonsaas/hearth/internal/observability"
)

// servicesTTL bounds how long the fetched service table is trusted.
const servicesTTL = 5 * time.Minute

// FetchServices returns the hub's domain -> service -> descriptor table,
// cached for five minutes.
func (c *Client) FetchServices(ctx context.Context) (map[string]map[string]ServiceDescriptor, error) {
	c.servicesMu.Lock()
	defer c.servicesMu.Unlock()

	if c.services != nil && time.Since(c.servicesAt) < servicesTTL {
		return c.services, nil
	}

	payload, err := c.roundTrip(ctx, map[string]any{"type": "get_services"})
	if err != nil {
		return nil, fmt.Errorf("get_services: %w", err)
	}
	var services map[string]map[string]ServiceDescriptor
	if err := json.Unmarshal(payload, &services); err != nil {
		return nil, fmt.Errorf("decode get_services: %w", err)
	}

	c.services = services
	c.servicesAt = time.Now()
	c.logger.Debug("service table refreshed", "domains", len(services))
	return services, nil
}

// CallService invokes one hub service. In test mode nothing is sent; the
// call is validated instead: every target entity must carry the call's
// domain prefix.
func (c *Client) CallService(ctx context.Context, call Call, testMode bool) error {
	if call.Domain == "" || call.Service == "" {
		return fmt.Errorf("call_service: domain and service are required")
	}

	if testMode {
		for _, entityID := range call.Target.EntityID {
			if !strings.HasPrefix(entityID, call.Domain+".") {
				return fmt.Errorf("call_service test: entity %q does not belong to domain %q",
					entityID, call.Domain)
			}
		}
		c.logger.Info("call_service validated (test mode)",
			"domain", call.Domain, "service", call.Service)
		return nil
	}

	ctx, span := observability.StartSpan(ctx, "hub.call_service",
		attribute.String("service.domain", call.Domain),
		attribute.String("service.name", call.Service))
	defer span.End()

	payload := map[string]any{
		"type":    "call_service",
		"domain":  call.Domain,
		"service": call.Service,
	}
	if len(call.Target.EntityID) > 0 || len(call.Target.DeviceID) > 0 || len(call.Target.AreaID) > 0 {
		payload["target"] = call.Target
	}
	if len(call.Data) > 0 {
		payload["service_data"] = call.Data
	}

	if _, err := c.roundTrip(ctx, payload); err != nil {
		return fmt.Errorf("call_service %s.%s: %w", call.Domain, call.Service, err)
	}
	c.logger.Info("service called", "domain", call.Domain, "service", call.Service,
		"entities", call.Target.EntityID)
	return nil
}

// SendNotification delivers a message through a notify.* service. In test
// mode the target is validated against the fetched service table instead.
func (c *Client) SendNotification(ctx context.Context, target, message, title string, testMode bool) error {
	if target == "" {
		return fmt.Errorf("send notification: target is required")
	}

	if testMode {
		targets, err := c.NotifyTargets(ctx)
		if err != nil {
			return err
		}
		for _, t := range targets {
			if t == target {
				c.logger.Info("notification validated (test mode)", "target", target)
				return nil
			}
		}
		return fmt.Errorf("send notification test: %q is not a known notify target", target)
	}

	data := map[string]any{"message": message}
	if title != "" {
		data["title"] = title
	}
	payload := map[string]any{
		"type":         "call_service",
		"domain":       "notify",
		"service":      target,
		"service_data": data,
	}
	if _, err := c.roundTrip(ctx, payload); err != nil {
		return fmt.Errorf("notify %s: %w", target, err)
	}
	c.logger.Info("notification sent", "target", target)
	return nil
}

// NotifyTargets lists the services of the notify domain, sorted.
func (c *Client) NotifyTargets(ctx context.Context) ([]string, error) {
	services, err := c.FetchServices(ctx)
	if err != nil {
		return nil, err
	}
	var targets []string
	for name := range services["notify"] {
		targets = append(targets, name)
	}
	sort.Strings(targets)
	return targets, nil
}
