package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"
)

// Sender delivers one event. *Client implements it.
type Sender interface {
	Send(ctx context.Context, event string) (Response, error)
}

// ProducerConfig controls the event loop.
type ProducerConfig struct {
	// Events is the pool each event is drawn from uniformly.
	Events []string

	// MinDelay and MaxDelay bound the uniform pause between events
	// (defaults 5 s and 15 s).
	MinDelay time.Duration
	MaxDelay time.Duration

	// Count stops the loop after that many events. Zero runs until ctx ends.
	Count int
}

// Producer sends random events from a pool at random intervals.
type Producer struct {
	cfg    ProducerConfig
	sender Sender
	logger *slog.Logger
}

// NewProducer returns a Producer sending through s.
func NewProducer(s Sender, cfg ProducerConfig, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Events) == 0 {
		return nil, fmt.Errorf("trigger: producer needs at least one event")
	}
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 5 * time.Second
	}
	if cfg.MaxDelay < cfg.MinDelay {
		cfg.MaxDelay = max(cfg.MinDelay, 15*time.Second)
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(noopWriter{}, nil))
	}
	return &Producer{cfg: cfg, sender: s, logger: logger}, nil
}

// Run sends events until ctx is cancelled or Count events were sent. Send
// failures are logged and never stop the loop. It returns the number of
// events delivered successfully.
func (p *Producer) Run(ctx context.Context) int {
	p.logger.Info("trigger: producer starting", "events", len(p.cfg.Events))
	sent := 0
	for i := 0; p.cfg.Count == 0 || i < p.cfg.Count; i++ {
		event := p.cfg.Events[rand.IntN(len(p.cfg.Events))]
		resp, err := p.sender.Send(ctx, event)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			p.logger.Error("trigger: send failed", "event", event, "error", err.Error())
		} else {
			sent++
			p.logger.Info("trigger: sent", "event", event, "module", resp.Module)
		}

		if p.cfg.Count != 0 && i == p.cfg.Count-1 {
			break
		}
		timer := time.NewTimer(p.delay())
		select {
		case <-ctx.Done():
			timer.Stop()
			p.logger.Info("trigger: producer stopped", "sent", sent)
			return sent
		case <-timer.C:
		}
	}
	p.logger.Info("trigger: producer stopped", "sent", sent)
	return sent
}

func (p *Producer) delay() time.Duration {
	span := p.cfg.MaxDelay - p.cfg.MinDelay
	if span <= 0 {
		return p.cfg.MinDelay
	}
	return p.cfg.MinDelay + rand.N(span+1)
}

// ─────────────────────────────────────────────────────────────────────────────
// Built-in event sets
// ─────────────────────────────────────────────────────────────────────────────

var eventSets = map[string][]string{
	"advanced_features": {
		"System Alert: High CPU Load",
		"Network Warning: Packet Loss Detected",
		"Security Notice: Failed Login Attempt",
		"Maintenance: Backup Initiated",
		"Performance: API Latency Spike",
		"Normal: Routine Check Completed",
	},
	"self_healing": {
		"Auto-Repair: Restarted container web_app due to crash",
		"Auto-Repair: Fixed network latency on eth0",
		"Auto-Repair: Reconnected dropped VPN tunnel",
		"Anomaly Detected: Docker container db_server high CPU usage",
		"Anomaly Detected: Kubernetes pod nginx-123 memory leak",
		"Anomaly Detected: VM instance app1 offline",
		"Self-Healing: Recreated Docker container db_server",
		"Self-Healing: Restarted Kubernetes pod nginx-123",
		"Self-Healing: Reprovisioned VM instance app1",
		"Threat Mitigation: Blocked DDoS attack on port 80",
		"Threat Mitigation: Quarantined Zero-Day exploit in app_server",
		"Threat Mitigation: Denied unauthorized access attempt on db_server",
		"Log Analysis: Detected repeated login failures in auth.log",
		"Log Analysis: Found disk I/O bottleneck in container logs",
		"Log Analysis: Identified SQL injection attempt in web logs",
		"Real-Time Learning: Optimized CPU allocation for nginx pods",
		"Real-Time Learning: Adjusted network QoS for low latency",
		"Real-Time Learning: Updated firewall rules based on threat pattern",
	},
	"decision_making": {
		"Resource Allocation: Increased CPU for web_app due to high load",
		"Resource Allocation: Rebalanced memory across 5 containers",
		"Resource Allocation: Allocated GPU for AI training job",
		"Intent Deployment: Deployed web app with nginx",
		"Intent Deployment: Scaled database to 3 replicas",
		"Intent Deployment: Launched AI worker with Python",
		"Predictive Scaling: Forecasted 20% pod increase for peak traffic",
		"Predictive Scaling: Recommended scaling down to 2 pods",
		"Predictive Scaling: Predicted resource spike in 2 hours",
		"Network Optimization: Adjusted QoS for low latency",
		"Network Optimization: Optimized routing for 3 networks",
		"Network Optimization: Balanced load across Docker bridge",
		"Security Policy: Blocked port 22 due to suspicious traffic",
		"Security Policy: Enforced HTTPS for all services",
		"Security Policy: Isolated app_server for anomaly detection",
		"Cost Optimization: Stopped idle container db_backup",
		"Cost Optimization: Reduced replicas from 5 to 3",
		"Cost Optimization: Switched to spot instances for batch jobs",
	},
}

// Events returns a copy of the built-in event set for dashboard.
func Events(dashboard string) ([]string, bool) {
	set, ok := eventSets[dashboard]
	if !ok {
		return nil, false
	}
	return append([]string(nil), set...), true
}

// EventSets lists the dashboards with a built-in event set.
func EventSets() []string {
	names := make([]string, 0, len(eventSets))
	for n := range eventSets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
