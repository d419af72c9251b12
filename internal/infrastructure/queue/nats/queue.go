package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/sales-tech-rag/internal/core/domain"
	"github.com/kirillkom/sales-tech-rag/internal/infrastructure/resilience"
)

const defaultQueueGroup = "indexers"

// Queue carries JSON encoded index requests between the API and workers.
type Queue struct {
	conn       *nats.Conn
	subject    string
	queueGroup string
	executor   *resilience.Executor
}

type Options struct {
	QueueGroup           string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

func New(url, subject string, options Options) (*Queue, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}
	queueGroup := options.QueueGroup
	if queueGroup == "" {
		queueGroup = defaultQueueGroup
	}

	conn, err := nats.Connect(
		url,
		nats.Name("sales-tech-rag"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, domain.WrapError(domain.ErrBackendUnavailable, "connect nats", err)
	}
	return &Queue{
		conn:       conn,
		subject:    subject,
		queueGroup: queueGroup,
		executor:   options.ResilienceExecutor,
	}, nil
}

func (q *Queue) Close() {
	if q.conn != nil {
		q.conn.Close()
	}
}

func (q *Queue) Ping() error {
	if q.conn == nil || !q.conn.IsConnected() {
		return domain.WrapError(domain.ErrBackendUnavailable, "nats ping", nats.ErrDisconnected)
	}
	return nil
}

func (q *Queue) PublishIndexRequest(ctx context.Context, req domain.IndexRequest) error {
	payload, err := encodeIndexRequest(req)
	if err != nil {
		return err
	}
	if err := checkPayloadSize(payload, q.conn.MaxPayload()); err != nil {
		return err
	}

	call := func(_ context.Context) error {
		if err := q.conn.Publish(q.subject, payload); err != nil {
			return fmt.Errorf("nats publish: %w", err)
		}
		return nil
	}

	if q.executor != nil {
		err = q.executor.Execute(ctx, "nats.publish", call, classifyNATSError)
	} else {
		err = call(ctx)
	}
	if err != nil {
		return wrapTemporaryIfNeeded(err)
	}
	return nil
}

// SubscribeIndexRequests blocks until ctx is done, then drains the
// subscription so the server stops delivering to this worker. Handlers run
// under ctx: once it is cancelled, running handlers see the cancellation and
// messages still buffered during the drain are dropped unprocessed.
func (q *Queue) SubscribeIndexRequests(ctx context.Context, handler func(context.Context, domain.IndexRequest) error) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.queueGroup, func(msg *nats.Msg) {
		if errors.Is(ctx.Err(), context.Canceled) {
			return
		}

		req, err := decodeIndexRequest(msg.Data)
		if err != nil {
			slog.Error("index_request_malformed", "subject", msg.Subject, "error", err)
			return
		}

		handlerCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		if err := handler(handlerCtx, req); err != nil {
			slog.Error("index_request_failed",
				"document_name", req.DocumentName,
				"version", req.Version,
				"error", err,
			)
		}
	})
	if err != nil {
		return fmt.Errorf("nats subscribe: %w", err)
	}

	if err := q.conn.Flush(); err != nil {
		return fmt.Errorf("nats flush: %w", err)
	}

	<-ctx.Done()
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain subscription: %w", err)
	}
	if err := q.conn.FlushTimeout(5 * time.Second); err != nil {
		return fmt.Errorf("nats flush after drain: %w", err)
	}
	return nil
}

// checkPayloadSize rejects payloads the server would refuse. A zero limit
// means the server has not been reached yet.
func checkPayloadSize(payload []byte, limit int64) error {
	if limit <= 0 || int64(len(payload)) <= limit {
		return nil
	}
	return domain.WrapError(domain.ErrInvalidInput, "nats publish", domain.WrapError(
		domain.ErrPayloadTooLarge, "index request",
		fmt.Errorf("%d bytes exceeds server max payload %d: %w", len(payload), limit, nats.ErrMaxPayload),
	))
}

func encodeIndexRequest(req domain.IndexRequest) ([]byte, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, domain.WrapError(domain.ErrInvalidInput, "encode index request", err)
	}
	return payload, nil
}

func decodeIndexRequest(data []byte) (domain.IndexRequest, error) {
	var req domain.IndexRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.IndexRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode index request", err)
	}
	if req.DocumentName == "" {
		return domain.IndexRequest{}, domain.WrapError(domain.ErrInvalidInput, "decode index request", errors.New("document_name is required"))
	}
	return req, nil
}
