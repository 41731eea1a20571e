// Package dispatch detects voice-command triggers inside identified
// transcript segments and relays them to an external chat/automation
// gateway.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/snarg/voxpipe/internal/model"
)

const maxTriggerProximity = 20
const minCommandChars = 3

// Options configures gateway delivery and the speaker-verification gates.
type Options struct {
	GatewayURL          string
	BearerToken         string
	Timeout             time.Duration // default 10s
	RequireVerification bool
	AllowList           []string // empty means "no allow-list restriction"
}

func (o Options) withDefaults() Options {
	if o.Timeout == 0 {
		o.Timeout = 10 * time.Second
	}
	return o
}

// Accounting tracks dispatch outcomes for the health endpoint.
type Accounting struct {
	Dispatched int
	Blocked    int
	Failed     int
}

// Dispatcher is the worker pool's PostHook implementation.
type Dispatcher struct {
	registry *Registry
	opts     Options
	client   *http.Client
	log      zerolog.Logger

	mu  sync.Mutex
	acc Accounting
}

// New builds a Dispatcher bound to a trigger registry.
func New(registry *Registry, opts Options, log zerolog.Logger) *Dispatcher {
	opts = opts.withDefaults()
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		client:   &http.Client{Timeout: opts.Timeout},
		log:      log.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch runs the full command-detection gate chain over a completed
// transcript's segments and posts any matched commands to the gateway. All
// gate failures drop the candidate silently apart from a log line; none
// of them fail the caller's pipeline. Matches the worker pool's PostHook
// interface — outcomes accumulate into the Dispatcher's own counters,
// readable via Snapshot for the health endpoint and tests.
func (d *Dispatcher) Dispatch(ctx context.Context, segments []model.Segment, audioPath string) {
	acc := d.dispatch(ctx, segments, audioPath)
	d.mu.Lock()
	d.acc.Dispatched += acc.Dispatched
	d.acc.Blocked += acc.Blocked
	d.acc.Failed += acc.Failed
	d.mu.Unlock()
}

// Snapshot returns the running dispatch counters.
func (d *Dispatcher) Snapshot() Accounting {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.acc
}

func (d *Dispatcher) dispatch(ctx context.Context, segments []model.Segment, audioPath string) Accounting {
	var acc Accounting

	if d.registry == nil || len(d.registry.triggers) == 0 {
		return acc
	}

	candidates := d.eligibleSegments(segments)
	if len(candidates) == 0 {
		d.log.Debug().Str("audio", audioPath).Msg("no eligible segments, commands blocked")
		acc.Blocked++
		return acc
	}

	for _, seg := range candidates {
		m, ok := d.registry.findTrigger(seg.Text)
		if !ok {
			continue
		}
		if m.index > maxTriggerProximity {
			d.log.Debug().Int("offset", m.index).Str("trigger", m.trigger).Msg("trigger too far into segment, dropped")
			continue
		}
		command := strings.TrimSpace(seg.Text[m.index+len(m.trigger):])
		command = strings.TrimFunc(command, func(r rune) bool { return unicode.IsPunct(r) || unicode.IsSpace(r) })
		if len(command) < minCommandChars {
			d.log.Debug().Str("command", command).Msg("command too short, dropped")
			continue
		}

		if err := d.post(ctx, m.agent, command, seg); err != nil {
			d.log.Warn().Err(err).Str("agent_id", m.agent.AgentID).Msg("gateway dispatch failed")
			acc.Failed++
			continue
		}
		acc.Dispatched++
	}

	return acc
}

// eligibleSegments applies the speaker-verification and allow-list gates
// (§4.9 steps 1-3). A segment only carries SpeakerName once the identifier
// has matched it to an enrolled profile, so filtering on that field is
// equivalent to re-running verification without a second embedding pass.
func (d *Dispatcher) eligibleSegments(segments []model.Segment) []model.Segment {
	named := make([]model.Segment, 0, len(segments))
	for _, s := range segments {
		if s.SpeakerName != "" {
			named = append(named, s)
		}
	}
	if len(named) == 0 {
		if d.opts.RequireVerification {
			return nil
		}
		named = segments
	}

	allow := map[string]bool{}
	for _, n := range d.opts.AllowList {
		allow[strings.ToLower(n)] = true
	}
	if len(allow) == 0 {
		return named
	}

	out := make([]model.Segment, 0, len(named))
	for _, s := range named {
		if allow[strings.ToLower(s.SpeakerName)] {
			out = append(out, s)
		}
	}
	return out
}

// gatewayEnvelope is the fixed wire shape the command gateway expects.
type gatewayEnvelope struct {
	Message    string `json:"message"`
	Name       string `json:"name"`
	AgentID    string `json:"agentId"`
	Channel    string `json:"channel"`
	To         string `json:"to"`
	Deliver    bool   `json:"deliver"`
	SessionKey string `json:"sessionKey"`
}

type gatewayResponse struct {
	RunID string `json:"runId"`
}

func (d *Dispatcher) post(ctx context.Context, agent Agent, command string, seg model.Segment) error {
	env := gatewayEnvelope{
		Message:    command,
		Name:       seg.SpeakerName,
		AgentID:    agent.AgentID,
		Channel:    agent.Channel,
		To:         agent.Name,
		Deliver:    true,
		SessionKey: uuid.New().String(),
	}

	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	url := strings.TrimRight(d.opts.GatewayURL, "/") + "/hooks/agent"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.opts.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.opts.BearerToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("gateway returned %d", resp.StatusCode)
	}

	var out gatewayResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	d.log.Info().Str("agent_id", agent.AgentID).Str("run_id", out.RunID).Msg("command dispatched")
	return nil
}
