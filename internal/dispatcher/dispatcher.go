// Package dispatcher fans a formatted Notification out to every active
// client whose relevance predicate matches, concurrently, and logs exactly
// one delivery outcome per eligible client.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hermesrelay/hermes/internal/metrics"
	"github.com/hermesrelay/hermes/internal/models"
	"github.com/hermesrelay/hermes/internal/relevance"
	"github.com/hermesrelay/hermes/internal/store"
)

// deliveryTimeout bounds each outbound POST to a client callback.
const deliveryTimeout = 5 * time.Second

// ClientStore is the subset of *store.Store the dispatcher needs. Defined
// as a narrow interface so tests can substitute an in-memory fake.
type ClientStore interface {
	ListClients(ctx context.Context) ([]models.Client, error)
	UpdateLastSeen(ctx context.Context, id string, when time.Time) error
	AppendLog(ctx context.Context, entry models.LogEntry)
}

// DeliveryObserver is notified as each delivery completes, so the admin
// live-tail (internal/stream) can push the entry to connected dashboards
// without the dispatcher importing the stream package directly.
type DeliveryObserver interface {
	ObserveDelivery(entry models.LogEntry)
}

type noopObserver struct{}

func (noopObserver) ObserveDelivery(models.LogEntry) {}

// Dispatcher performs the concurrent relevance-evaluate-then-deliver fan-out
// described in §4.5.
type Dispatcher struct {
	store    ClientStore
	groups   relevance.GroupFetcher
	observer DeliveryObserver
	client   *http.Client
	log      *zap.Logger
}

// New constructs a Dispatcher.
func New(st ClientStore, groups relevance.GroupFetcher, observer DeliveryObserver, log *zap.Logger) *Dispatcher {
	if observer == nil {
		observer = noopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		store:    st,
		groups:   groups,
		observer: observer,
		client:   &http.Client{Timeout: deliveryTimeout},
		log:      log.Named("dispatcher"),
	}
}

// Dispatch evaluates every active client against n and concurrently
// delivers to every eligible one. It returns the number of eligible clients
// a delivery was attempted to, whether or not that delivery succeeded.
// Dispatch never returns an error for
// per-client failures — those are recorded as LogEntry.Success=false — only
// a failure to even load the client registry propagates.
func (d *Dispatcher) Dispatch(ctx context.Context, n models.Notification) (int, error) {
	clients, err := d.store.ListClients(ctx)
	if err != nil {
		return 0, fmt.Errorf("dispatcher: list clients: %w", err)
	}

	metrics.NotificationsDispatchedTotal.WithLabelValues(string(n.EventType)).Inc()

	active := make([]models.Client, 0, len(clients))
	for _, c := range clients {
		if c.Active {
			active = append(active, c)
		}
	}

	eligible := d.evaluateRelevance(ctx, active, n)
	if len(eligible) == 0 {
		return 0, nil
	}

	d.deliverAll(ctx, eligible, n)
	return len(eligible), nil
}

// evaluateRelevance runs relevance.IsRelevant for every client concurrently
// — each check may block on an ADO group-membership round trip — and
// returns the subset that should receive n.
func (d *Dispatcher) evaluateRelevance(ctx context.Context, clients []models.Client, n models.Notification) []models.Client {
	results := make([]bool, len(clients))

	var wg sync.WaitGroup
	wg.Add(len(clients))
	for i, c := range clients {
		go func(i int, c models.Client) {
			defer wg.Done()
			results[i] = relevance.IsRelevant(ctx, c, n, d.groups)
		}(i, c)
	}
	wg.Wait()

	eligible := make([]models.Client, 0, len(clients))
	for i, ok := range results {
		if ok {
			eligible = append(eligible, clients[i])
		}
	}
	return eligible
}

// deliverAll concurrently POSTs n to every client in eligible and appends
// exactly one LogEntry per client. A failure delivering to one client never
// affects delivery to, or the log entry for, any other.
func (d *Dispatcher) deliverAll(ctx context.Context, eligible []models.Client, n models.Notification) {
	body, err := json.Marshal(n)
	if err != nil {
		d.log.Error("marshal notification", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	wg.Add(len(eligible))
	for _, c := range eligible {
		go func(c models.Client) {
			defer wg.Done()
			d.deliverOne(ctx, c, n, body)
		}(c)
	}
	wg.Wait()
}

func (d *Dispatcher) deliverOne(ctx context.Context, c models.Client, n models.Notification, body []byte) {
	entry := models.LogEntry{
		ClientID:  c.ID,
		EventType: n.EventType,
		Payload:   n,
		SentAt:    time.Now().UTC(),
	}

	reqCtx, cancel := context.WithTimeout(ctx, deliveryTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.CallbackURL, bytes.NewReader(body))
	if err != nil {
		entry.Error = err.Error()
	} else {
		req.Header.Set("Content-Type", "application/json")
		resp, doErr := d.client.Do(req)
		switch {
		case doErr != nil:
			entry.Error = doErr.Error()
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			entry.Error = fmt.Sprintf("non-2xx response: %d", resp.StatusCode)
		default:
			entry.Success = true
		}
		if resp != nil {
			resp.Body.Close()
		}
	}

	outcome := "failure"
	if entry.Success {
		outcome = "success"
		if err := d.store.UpdateLastSeen(ctx, c.ID, entry.SentAt); err != nil {
			d.log.Warn("update last_seen", zap.String("client_id", c.ID), zap.Error(err))
		}
	} else {
		d.log.Debug("delivery failed",
			zap.String("client_id", c.ID),
			zap.String("callback_url", c.CallbackURL),
			zap.String("error", entry.Error),
		)
	}
	metrics.DeliveriesTotal.WithLabelValues(string(n.EventType), outcome).Inc()

	d.store.AppendLog(ctx, entry)
	d.observer.ObserveDelivery(entry)
}
