package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	natspkg "github.com/brojonat/walletgraph/service/nats"
	"github.com/brojonat/walletgraph/service/pipeline"
	"github.com/brojonat/walletgraph/service/transfers"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/shopspring/decimal"
)

const (
	// SSE event names. Graphs with no counterparties are sent as sseEventEmpty.
	sseEventConnected = "connected"
	sseEventGraph     = "graph"
	sseEventEmpty     = "empty"
	sseEventError     = "error"

	sseKeepalive = 10 * time.Second
)

// SSEPublisher relays graph events from JetStream to Server-Sent Events clients.
type SSEPublisher struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	logger *slog.Logger
}

// NewSSEPublisher connects to NATS for relaying graph events.
func NewSSEPublisher(natsURL string, logger *slog.Logger) (*SSEPublisher, error) {
	nc, err := nats.Connect(natsURL,
		nats.Name("walletgraph-sse-publisher"),
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	logger.Info("SSE publisher initialized", "nats_url", natsURL)
	return &SSEPublisher{nc: nc, js: js, logger: logger}, nil
}

// Close closes the NATS connection.
func (p *SSEPublisher) Close() error {
	if p.nc != nil {
		p.nc.Close()
		p.logger.Info("SSE publisher closed")
	}
	return nil
}

// graphStreamFilter selects the graph events one SSE client receives.
type graphStreamFilter struct {
	address           string
	statuses          map[pipeline.Status]struct{}
	minCounterparties int
	// top trims the counterparty summary. Negative keeps it whole.
	top int
	// lastEventID is the stream sequence the client already has.
	lastEventID uint64
}

// parseGraphStreamFilter reads the address path value, the status,
// min_counterparties and top query params, and Last-Event-ID.
func parseGraphStreamFilter(r *http.Request) (graphStreamFilter, error) {
	f := graphStreamFilter{address: r.PathValue("address"), top: -1}
	if f.address != "" {
		if err := validateAddress(f.address); err != nil {
			return f, err
		}
	}

	q := r.URL.Query()
	if s := q.Get("status"); s != "" {
		f.statuses = make(map[pipeline.Status]struct{})
		for _, part := range strings.Split(s, ",") {
			st := pipeline.Status(strings.TrimSpace(part))
			switch st {
			case pipeline.StatusOK, pipeline.StatusNoTransactions, pipeline.StatusNoCounterparties:
				f.statuses[st] = struct{}{}
			default:
				return f, errorf("invalid status %q", part)
			}
		}
	}

	var err error
	if f.minCounterparties, err = nonNegativeParam(q.Get("min_counterparties"), "min_counterparties", 0); err != nil {
		return f, err
	}
	if f.top, err = nonNegativeParam(q.Get("top"), "top", -1); err != nil {
		return f, err
	}

	id := r.Header.Get("Last-Event-ID")
	if id == "" {
		id = q.Get("last_event_id")
	}
	if id != "" {
		if f.lastEventID, err = strconv.ParseUint(id, 10, 64); err != nil {
			return f, errorf("invalid last event id %q", id)
		}
	}
	return f, nil
}

func nonNegativeParam(v, name string, def int) (int, error) {
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errorf("%s must be a non-negative integer", name)
	}
	return n, nil
}

func (f graphStreamFilter) subject() string {
	if f.address == "" {
		return natspkg.StreamSubjects
	}
	return natspkg.Subject(f.address)
}

func (f graphStreamFilter) describe() string {
	if f.address == "" {
		return "all wallets"
	}
	return f.address
}

func (f graphStreamFilter) matches(e *natspkg.GraphBuiltEvent) bool {
	if f.statuses != nil {
		if _, ok := f.statuses[pipeline.Status(e.Status)]; !ok {
			return false
		}
	}
	return e.Counterparties >= f.minCounterparties
}

// consumerConfig resumes after lastEventID, or delivers only new events.
func (f graphStreamFilter) consumerConfig() jetstream.ConsumerConfig {
	cfg := jetstream.ConsumerConfig{
		FilterSubject: f.subject(),
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	}
	if f.lastEventID > 0 {
		cfg.DeliverPolicy = jetstream.DeliverByStartSequencePolicy
		cfg.OptStartSeq = f.lastEventID + 1
	}
	return cfg
}

// graphStreamEvent is the payload of one graph SSE message.
type graphStreamEvent struct {
	Sequence          uint64                        `json:"sequence"`
	QueryID           string                        `json:"query_id"`
	Address           string                        `json:"address"`
	Status            string                        `json:"status"`
	Message           string                        `json:"message,omitempty"`
	WindowDays        int                           `json:"window_days"`
	TransactionCount  int                           `json:"transaction_count"`
	Truncated         bool                          `json:"truncated"`
	Counterparties    int                           `json:"counterparties"`
	ExchangeCount     int                           `json:"exchange_count"`
	NetFlow           decimal.Decimal               `json:"net_flow"`
	PrimaryDirection  transfers.Direction           `json:"primary_direction"`
	TopCounterparties []natspkg.CounterpartySummary `json:"top_counterparties"`
	CompletedAt       time.Time                     `json:"completed_at"`
}

func (f graphStreamFilter) project(e *natspkg.GraphBuiltEvent, seq uint64) graphStreamEvent {
	top := e.TopCounterparties
	if f.top >= 0 && len(top) > f.top {
		top = top[:f.top]
	}
	if top == nil {
		top = []natspkg.CounterpartySummary{}
	}
	dir := transfers.Inflow
	if e.NetFlow.IsNegative() {
		dir = transfers.Outflow
	}
	return graphStreamEvent{
		Sequence:          seq,
		QueryID:           e.QueryID,
		Address:           e.Address,
		Status:            e.Status,
		Message:           e.Message,
		WindowDays:        e.WindowDays,
		TransactionCount:  e.TransactionCount,
		Truncated:         e.Truncated,
		Counterparties:    e.Counterparties,
		ExchangeCount:     e.ExchangeCount,
		NetFlow:           e.NetFlow,
		PrimaryDirection:  dir,
		TopCounterparties: top,
		CompletedAt:       e.CompletedAt,
	}
}

// eventName is sseEventGraph for a renderable graph and sseEventEmpty otherwise.
func (e graphStreamEvent) eventName() string {
	if pipeline.Status(e.Status) == pipeline.StatusOK {
		return sseEventGraph
	}
	return sseEventEmpty
}

// writeSSE writes one message. A zero id omits the id field.
func writeSSE(w io.Writer, event string, id uint64, data []byte) {
	if id > 0 {
		fmt.Fprintf(w, "id: %d\n", id)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	if flusher, ok := w.(http.Flusher); ok {
		flusher.Flush()
	}
}

// handleStreamGraphs streams graph events for one wallet, or for every wallet
// when the address path value is empty.
func handleStreamGraphs(publisher *SSEPublisher, logger *slog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		filter, err := parseGraphStreamFilter(r)
		if err != nil {
			writeError(w, err.Error(), http.StatusBadRequest)
			return
		}
		ctx := r.Context()

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		// Ephemeral consumer, removed by the server once the connection ends.
		cons, err := publisher.js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, filter.consumerConfig())
		if err != nil {
			logger.ErrorContext(ctx, "failed to create consumer", "wallet", filter.describe(), "error", err)
			writeSSE(w, sseEventError, 0, []byte(`{"error":"failed to subscribe"}`))
			return
		}

		msgs := make(chan jetstream.Msg, 10)
		cc, err := cons.Consume(func(msg jetstream.Msg) {
			select {
			case msgs <- msg:
			case <-ctx.Done():
			}
		})
		if err != nil {
			logger.ErrorContext(ctx, "failed to start consuming", "wallet", filter.describe(), "error", err)
			writeSSE(w, sseEventError, 0, []byte(`{"error":"failed to subscribe"}`))
			return
		}
		defer cc.Stop()

		hello, _ := json.Marshal(map[string]interface{}{
			"wallet":        filter.describe(),
			"last_event_id": filter.lastEventID,
		})
		writeSSE(w, sseEventConnected, 0, hello)
		logger.DebugContext(ctx, "SSE client connected", "wallet", filter.describe(), "remote_addr", r.RemoteAddr)

		keepalive := time.NewTicker(sseKeepalive)
		defer keepalive.Stop()

		sent := 0
		for {
			select {
			case <-keepalive.C:
				fmt.Fprint(w, ": keepalive\n\n")
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}

			case msg := <-msgs:
				msg.Ack()

				var event natspkg.GraphBuiltEvent
				if err := json.Unmarshal(msg.Data(), &event); err != nil {
					logger.WarnContext(ctx, "dropping malformed graph event", "subject", msg.Subject(), "error", err)
					continue
				}
				if !filter.matches(&event) {
					continue
				}

				var seq uint64
				if meta, err := msg.Metadata(); err == nil {
					seq = meta.Sequence.Stream
				}
				out := filter.project(&event, seq)
				data, err := json.Marshal(out)
				if err != nil {
					logger.WarnContext(ctx, "failed to marshal graph event", "query_id", event.QueryID, "error", err)
					continue
				}
				writeSSE(w, out.eventName(), seq, data)
				sent++

			case <-ctx.Done():
				logger.DebugContext(ctx, "SSE client disconnected",
					"wallet", filter.describe(),
					"remote_addr", r.RemoteAddr,
					"events_sent", sent,
				)
				return
			}
		}
	})
}
