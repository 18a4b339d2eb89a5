// Package orchestrator routes channel chat messages. A request without agent
// ids is routed through the backbone agent, which either picks candidate
// peers or answers directly; a request with agent ids fans the message out to
// those members concurrently.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lunarr-ai/a4s/internal/agent"
	"github.com/lunarr-ai/a4s/internal/agent/registry"
	"github.com/lunarr-ai/a4s/internal/channel"
	"github.com/lunarr-ai/a4s/internal/common/logger"
	"github.com/lunarr-ai/a4s/internal/events"
	"github.com/lunarr-ai/a4s/internal/events/bus"
	"github.com/lunarr-ai/a4s/pkg/a2a"
)

// Chat response types.
const (
	TypeCandidates = "candidates"
	TypeDirect     = "direct"
	TypeResults    = "results"
)

// Fallback routing searches the whole registry and keeps the best in-channel
// hits.
const (
	fallbackSearchLimit = 50
	fallbackCandidates  = 5
)

// Per-peer error messages surfaced in chat results.
const (
	errAgentNotInChannel = "Agent not in channel"
	errRequestTimedOut   = "Request timed out"
	errConnectFailed     = "Failed to connect to agent"
	errNoResponse        = "No response from agent"
	errAgentError        = "Agent error"
)

// Candidate is one agent suggested by the backbone or the search fallback.
type Candidate struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Reason string `json:"reason"`
}

// AgentChatResult is the outcome of delivering the message to one agent.
// Exactly one of Response and Error is set.
type AgentChatResult struct {
	AgentID   string `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

// ChatResponse is the aggregated outcome of one chat request. Type selects
// which payload field is populated.
type ChatResponse struct {
	Type       string            `json:"type"`
	Candidates []Candidate       `json:"candidates,omitempty"`
	Text       string            `json:"text,omitempty"`
	Results    []AgentChatResult `json:"results,omitempty"`
}

// Channels resolves channel records.
type Channels interface {
	Get(ctx context.Context, id string) (*channel.Channel, error)
}

// AgentSource is the registry surface the orchestrator needs.
type AgentSource interface {
	Get(ctx context.Context, id string) (*agent.Agent, error)
	Search(ctx context.Context, query string, limit int) ([]registry.SearchHit, error)
}

// Runner wakes serverless agents before they receive traffic.
type Runner interface {
	EnsureRunning(ctx context.Context, id string) (*agent.Agent, *int64, error)
	RecordActivity(id string)
}

// Sender delivers A2A messages to agent base URLs.
type Sender interface {
	Send(ctx context.Context, agentURL, text string, opts a2a.SendOptions) (string, error)
}

// Orchestrator coordinates backbone routing and fan-out for channel chat.
type Orchestrator struct {
	channels   Channels
	agents     AgentSource
	runner     Runner
	sender     Sender
	bus        bus.EventBus
	backboneID string
	logger     *logger.Logger

	// sendTimeout bounds each A2A exchange. Zero selects the client
	// default; tests shrink it.
	sendTimeout time.Duration
}

// New creates a channel orchestrator. An empty backboneID disables backbone
// routing; phase 1 then always uses the search fallback. eventBus may be nil.
func New(channels Channels, agents AgentSource, runner Runner, sender Sender, eventBus bus.EventBus, backboneID string, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		channels:   channels,
		agents:     agents,
		runner:     runner,
		sender:     sender,
		bus:        eventBus,
		backboneID: backboneID,
		logger:     log.WithFields(zap.String("component", "orchestrator")),
	}
}

// Chat processes one channel chat request. A nil agentIDs selects backbone
// routing; a non-nil list (even an empty one) fans the message out to those
// members. Errors are returned only when the channel itself cannot be
// resolved; routing and delivery failures degrade into the response.
func (o *Orchestrator) Chat(ctx context.Context, channelID, message string, agentIDs []string) (*ChatResponse, error) {
	ch, err := o.channels.Get(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var resp *ChatResponse
	if agentIDs == nil {
		resp = o.route(ctx, ch, message)
	} else {
		resp = o.fanOut(ctx, ch, message, agentIDs)
	}

	o.publishMessage(ch.ID, resp.Type)
	return resp, nil
}

// route asks the backbone agent to pick candidates for the message. Any
// failure along the way degrades to the search fallback.
func (o *Orchestrator) route(ctx context.Context, ch *channel.Channel, message string) *ChatResponse {
	if o.backboneID == "" {
		o.logger.Debug("No backbone configured, using search fallback",
			zap.String("channel_id", ch.ID))
		return o.searchFallback(ctx, ch, message)
	}

	backbone, _, err := o.runner.EnsureRunning(ctx, o.backboneID)
	if err != nil {
		o.logger.Warn("Backbone unavailable, using search fallback",
			zap.String("channel_id", ch.ID),
			zap.Error(err))
		return o.searchFallback(ctx, ch, message)
	}

	peers := o.channelPeers(ctx, ch)
	reply, err := o.sender.Send(ctx, backbone.URL, routingPrompt(ch, peers, message), a2a.SendOptions{Depth: 1, Timeout: o.sendTimeout})
	if err != nil {
		o.logger.Warn("Backbone routing failed, using search fallback",
			zap.String("channel_id", ch.ID),
			zap.Error(err))
		return o.searchFallback(ctx, ch, message)
	}

	if candidates, ok := parseCandidates(reply); ok {
		valid := make([]Candidate, 0, len(candidates))
		for _, cand := range candidates {
			if ch.HasAgent(cand.ID) {
				valid = append(valid, cand)
			}
		}
		return &ChatResponse{Type: TypeCandidates, Candidates: valid}
	}
	return &ChatResponse{Type: TypeDirect, Text: reply}
}

// peerSummary is the agent shape serialized into the routing prompt.
type peerSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// channelPeers resolves the channel members the backbone may choose from.
// The backbone itself and members that are no longer registered are skipped.
func (o *Orchestrator) channelPeers(ctx context.Context, ch *channel.Channel) []peerSummary {
	peers := make([]peerSummary, 0, len(ch.AgentIDs))
	for _, id := range ch.AgentIDs {
		if id == o.backboneID {
			continue
		}
		a, err := o.agents.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, registry.ErrNotRegistered) {
				o.logger.Warn("Failed to resolve channel member",
					zap.String("channel_id", ch.ID),
					zap.String("agent_id", id),
					zap.Error(err))
			}
			continue
		}
		peers = append(peers, peerSummary{ID: a.ID, Name: a.Name, Description: a.Description})
	}
	return peers
}

func routingPrompt(ch *channel.Channel, peers []peerSummary, message string) string {
	peerList, _ := json.Marshal(peers)
	return fmt.Sprintf(`You route messages for the channel %q (id %s).

Channel agents:
%s

User message:
%s

Pick the agents best suited to handle the message and reply with a JSON object {"candidates": [{"id": "...", "name": "...", "reason": "..."}]}. If none of them fit, answer the message directly in plain text.`,
		ch.Name, ch.ID, peerList, message)
}

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// parseCandidates extracts a {"candidates": [...]} document from the backbone
// reply, either as raw JSON or inside the first fenced code block. ok is
// false when no such document is present; the caller then treats the reply as
// a direct text answer.
func parseCandidates(reply string) ([]Candidate, bool) {
	if candidates, ok := decodeCandidates(reply); ok {
		return candidates, true
	}
	if m := fencedBlock.FindStringSubmatch(reply); m != nil {
		return decodeCandidates(m[1])
	}
	return nil, false
}

func decodeCandidates(text string) ([]Candidate, bool) {
	var doc struct {
		Candidates *[]Candidate `json:"candidates"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &doc); err != nil || doc.Candidates == nil {
		return nil, false
	}
	return *doc.Candidates, true
}

// searchFallback ranks channel members by semantic similarity to the message
// when the backbone cannot. Search failures yield an empty candidate list
// rather than an error.
func (o *Orchestrator) searchFallback(ctx context.Context, ch *channel.Channel, message string) *ChatResponse {
	candidates := make([]Candidate, 0, fallbackCandidates)

	hits, err := o.agents.Search(ctx, message, fallbackSearchLimit)
	if err != nil {
		o.logger.Warn("Fallback search failed",
			zap.String("channel_id", ch.ID),
			zap.Error(err))
		return &ChatResponse{Type: TypeCandidates, Candidates: candidates}
	}

	for _, hit := range hits {
		if hit.Agent.ID == o.backboneID || !ch.HasAgent(hit.Agent.ID) {
			continue
		}
		candidates = append(candidates, Candidate{
			ID:     hit.Agent.ID,
			Name:   hit.Agent.Name,
			Reason: hit.Agent.Description,
		})
		if len(candidates) == fallbackCandidates {
			break
		}
	}
	return &ChatResponse{Type: TypeCandidates, Candidates: candidates}
}

// fanOut delivers the message to the selected members concurrently. Results
// keep the order of agentIDs. If any id is not a member, no messages are sent
// at all and only the invalid ids are reported.
func (o *Orchestrator) fanOut(ctx context.Context, ch *channel.Channel, message string, agentIDs []string) *ChatResponse {
	invalid := make([]AgentChatResult, 0)
	for _, id := range agentIDs {
		if !ch.HasAgent(id) {
			invalid = append(invalid, AgentChatResult{AgentID: id, Error: errAgentNotInChannel})
		}
	}
	if len(invalid) > 0 {
		return &ChatResponse{Type: TypeResults, Results: invalid}
	}

	results := make([]AgentChatResult, len(agentIDs))
	var wg sync.WaitGroup
	for i, id := range agentIDs {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			results[i] = o.sendToAgent(ctx, message, id)
		}(i, id)
	}
	wg.Wait()

	return &ChatResponse{Type: TypeResults, Results: results}
}

// sendToAgent delivers the message to one member. Failures are folded into
// the result so one slow or broken agent never aborts the others.
func (o *Orchestrator) sendToAgent(ctx context.Context, message, agentID string) AgentChatResult {
	result := AgentChatResult{AgentID: agentID}

	a, err := o.agents.Get(ctx, agentID)
	if err != nil {
		result.Error = peerErrorMessage(err)
		return result
	}
	result.AgentName = a.Name

	if a.Serverless() {
		if _, _, err := o.runner.EnsureRunning(ctx, agentID); err != nil {
			result.Error = peerErrorMessage(err)
			return result
		}
		o.runner.RecordActivity(agentID)
	}

	reply, err := o.sender.Send(ctx, a.URL, message, a2a.SendOptions{Depth: 1, Timeout: o.sendTimeout})
	if err != nil {
		result.Error = peerErrorMessage(err)
		return result
	}
	result.Response = reply
	return result
}

// peerErrorMessage folds delivery failures into the short, stable strings
// clients show next to each agent.
func peerErrorMessage(err error) string {
	var httpErr *a2a.HTTPError
	var rpcErr *a2a.RPCError
	switch {
	case errors.Is(err, a2a.ErrTimeout):
		return errRequestTimedOut
	case errors.Is(err, a2a.ErrConnect):
		return errConnectFailed
	case errors.Is(err, a2a.ErrEmptyReply):
		return errNoResponse
	case errors.As(err, &httpErr):
		return fmt.Sprintf("HTTP %d", httpErr.StatusCode)
	case errors.As(err, &rpcErr):
		if rpcErr.Message != "" {
			return rpcErr.Message
		}
		return errAgentError
	default:
		return err.Error()
	}
}

func (o *Orchestrator) publishMessage(channelID, responseType string) {
	if o.bus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	event := bus.NewEvent(events.ChannelMessage, "orchestrator", map[string]interface{}{
		"channel_id":    channelID,
		"response_type": responseType,
	})
	if err := o.bus.Publish(ctx, events.BuildChannelSubject(events.ChannelMessage, channelID), event); err != nil {
		o.logger.Warn("Failed to publish channel event",
			zap.String("channel_id", channelID),
			zap.Error(err))
	}
}
