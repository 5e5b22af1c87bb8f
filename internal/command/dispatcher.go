// Package command delivers actions to nodes. Nodes usually sit behind NAT,
// so delivery is inverted: the orchestrator appends to a durable queue and
// each node claims its own commands through polling. A direct HTTP path
// exists for nodes currently reachable, falling back to the queue otherwise.
package command

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"laundry-orchestrator/internal/model"
	"laundry-orchestrator/internal/store"
)

var (
	ErrInvalidAction = errors.New("action must be \"on\" or \"off\"")
	ErrUnknownNode   = errors.New("node is not configured")
	ErrNodeOffline   = errors.New("node is offline or not responding")
)

// EnqueueRequest describes one relay action for a node.
type EnqueueRequest struct {
	ESP32ID       string `json:"esp32_id" binding:"required"`
	RelayPin      int    `json:"relay_pin" binding:"required"`
	Action        string `json:"action" binding:"required"`
	MachineID     string `json:"machine_id" binding:"required"`
	TransactionID string `json:"transaction_id"`
}

// DispatchResult reports how a command reached (or will reach) its node.
type DispatchResult struct {
	CommandID string `json:"command_id"`
	Queued    bool   `json:"queued"`
}

// Dispatcher enqueues and delivers node commands.
type Dispatcher struct {
	store  store.Store
	client *http.Client
}

// New creates a Dispatcher. timeout bounds the direct relay and credit calls.
func New(s store.Store, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{
		store:  s,
		client: &http.Client{Timeout: timeout},
	}
}

// Enqueue appends a pending command and returns its id immediately; it never
// waits for the node. Delivery is at-least-once: the row stays pending until
// the node claims and acks it, with no automatic expiry. Two enqueues for the
// same logical action create two commands — callers must not retry blindly.
func (d *Dispatcher) Enqueue(ctx context.Context, req *EnqueueRequest) (string, error) {
	if req.Action != model.ActionOn && req.Action != model.ActionOff {
		return "", ErrInvalidAction
	}

	cmd := &model.PendingCommand{
		ID:            uuid.NewString(),
		ESP32ID:       req.ESP32ID,
		RelayPin:      req.RelayPin,
		Action:        req.Action,
		MachineID:     req.MachineID,
		TransactionID: req.TransactionID,
		Status:        model.CommandPending,
	}
	if err := d.store.InsertCommand(ctx, cmd); err != nil {
		return "", err
	}
	log.Printf("Enqueued command %s for node %s (relay %d %s)", cmd.ID, req.ESP32ID, req.RelayPin, req.Action)
	return cmd.ID, nil
}

// Pending returns the commands a node should claim, oldest first.
func (d *Dispatcher) Pending(ctx context.Context, esp32ID string) ([]model.PendingCommand, error) {
	return d.store.PendingCommands(ctx, esp32ID)
}

// Ack records a node's execution outcome for a claimed command.
func (d *Dispatcher) Ack(ctx context.Context, commandID, status string) error {
	if status != model.CommandExecuted && status != model.CommandFailed {
		return fmt.Errorf("invalid ack status %q", status)
	}
	return d.store.CompleteCommand(ctx, commandID, status)
}

// Dispatch tries the direct relay endpoint when the node is known to be
// online, and falls back to the queue otherwise. The queued fallback is what
// makes the call safe for unreachable nodes.
func (d *Dispatcher) Dispatch(ctx context.Context, req *EnqueueRequest) (*DispatchResult, error) {
	if req.Action != model.ActionOn && req.Action != model.ActionOff {
		return nil, ErrInvalidAction
	}

	status, err := d.store.NodeStatus(ctx, req.ESP32ID)
	if err != nil || !status.IsOnline {
		id, qErr := d.Enqueue(ctx, req)
		if qErr != nil {
			return nil, qErr
		}
		return &DispatchResult{CommandID: id, Queued: true}, nil
	}

	callCtx, cancel := context.WithTimeout(ctx, d.client.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s/relay/%d/%s", status.IPAddress, req.RelayPin, req.Action)
	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay request: %w", err)
	}
	resp, err := d.client.Do(httpReq)
	if err != nil {
		// Status said online but the node did not answer; queue instead of
		// failing the caller.
		log.Printf("Direct relay call to node %s failed, queueing: %v", req.ESP32ID, err)
		id, qErr := d.Enqueue(ctx, req)
		if qErr != nil {
			return nil, qErr
		}
		return &DispatchResult{CommandID: id, Queued: true}, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("node %s answered %d to relay command", req.ESP32ID, resp.StatusCode)
	}

	d.recordRelayState(ctx, status, req)
	return &DispatchResult{Queued: false}, nil
}

// recordRelayState mirrors the executed relay action into the node's status
// row so the admin view reflects it without waiting for the next heartbeat.
func (d *Dispatcher) recordRelayState(ctx context.Context, status *model.NodeStatus, req *EnqueueRequest) {
	relays := map[string]string{}
	if len(status.RelayStatus) > 0 {
		if err := json.Unmarshal(status.RelayStatus, &relays); err != nil {
			relays = map[string]string{}
		}
	}
	relays[fmt.Sprintf("relay_%d", req.RelayPin)] = req.Action

	encoded, err := json.Marshal(relays)
	if err != nil {
		return
	}
	status.RelayStatus = datatypes.JSON(encoded)
	if err := d.store.UpsertNodeStatus(ctx, status); err != nil {
		log.Printf("Warning: could not record relay state for node %s: %v", req.ESP32ID, err)
	}
}

// creditReleaseBody is the payload of the release-credit call to a node.
type creditReleaseBody struct {
	TransactionID string  `json:"transaction_id"`
	Amount        float64 `json:"amount"`
	Timestamp     string  `json:"timestamp"`
}

// ReleaseCredit pushes a credit release to an online node and logs it. The
// node must be configured and online; any non-2xx answer or timeout is a
// failure, since crediting a machine blindly cannot be undone.
func (d *Dispatcher) ReleaseCredit(ctx context.Context, esp32ID, transactionID string, amount float64) error {
	configs, err := d.store.NodeConfigs(ctx)
	if err != nil {
		return err
	}
	var target *model.NodeConfig
	for i := range configs {
		if configs[i].ID == esp32ID {
			target = &configs[i]
			break
		}
	}
	if target == nil {
		return ErrUnknownNode
	}

	status, err := d.store.NodeStatus(ctx, esp32ID)
	if err != nil || !status.IsOnline {
		return ErrNodeOffline
	}

	body, err := json.Marshal(creditReleaseBody{
		TransactionID: transactionID,
		Amount:        amount,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("failed to encode credit release: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, d.client.Timeout)
	defer cancel()

	url := fmt.Sprintf("http://%s:%d/release-credit", target.Host, target.Port)
	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create credit release request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("credit release to node %s failed: %w", esp32ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("node %s answered %d to credit release", esp32ID, resp.StatusCode)
	}

	entry := &model.CreditLog{
		TransactionID: transactionID,
		ESP32ID:       esp32ID,
		Amount:        amount,
		Description:   fmt.Sprintf("Credit released remotely via node %s", esp32ID),
	}
	if err := d.store.InsertCreditLog(ctx, entry); err != nil {
		log.Printf("Warning: credit release delivered but not logged: %v", err)
	}
	return nil
}
