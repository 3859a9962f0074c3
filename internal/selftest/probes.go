package selftest

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/dronefleet-core/internal/infrastructure/mqtt"
)

// SQLStore is the relational store under test.
type SQLStore interface {
	Conn(ctx context.Context) (*sql.Conn, error)
}

// Timeseries is the timeseries sink under test.
type Timeseries interface {
	Ping(ctx context.Context) error
	WriteCanary(ctx context.Context, probeID string, ts time.Time) error
	ReadCanary(ctx context.Context, probeID string) (bool, error)
}

// Broker is the bridge connection under test.
type Broker interface {
	IsConnected() bool
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte) bool
}

var errNotConfigured = errors.New("not configured")

// probeID returns a fresh identifier safe for table names and topics.
func probeID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// checkDatabase creates a temp table, writes a row, reads it back and drops
// the table, all on one pinned connection.
func checkDatabase(ctx context.Context, store SQLStore) DependencyResult {
	res := newResult(DependencyDatabase)
	if store == nil {
		res.record(CheckConnect, errNotConfigured)
		res.skip(CheckCreateTable, CheckWrite, CheckRead, CheckDropTable)
		return res.finish()
	}

	conn, err := store.Conn(ctx)
	if err == nil {
		err = conn.PingContext(ctx)
	}
	if !res.record(CheckConnect, err) {
		if conn != nil {
			conn.Close() //nolint:errcheck,gosec // best-effort release
		}
		res.skip(CheckCreateTable, CheckWrite, CheckRead, CheckDropTable)
		return res.finish()
	}
	defer conn.Close() //nolint:errcheck // best-effort release

	id := probeID()
	table := "system_check_" + id
	want := "connection test " + time.Now().UTC().Format(time.RFC3339Nano)

	// #nosec G202 -- table name is built from a generated hex identifier
	_, err = conn.ExecContext(ctx, "CREATE TEMP TABLE "+table+" (id TEXT PRIMARY KEY, test_value TEXT NOT NULL)")
	if !res.record(CheckCreateTable, err) {
		res.skip(CheckWrite, CheckRead, CheckDropTable)
		return res.finish()
	}

	// #nosec G202 -- see above
	_, err = conn.ExecContext(ctx, "INSERT INTO "+table+" (id, test_value) VALUES (?, ?)", id, want)
	if res.record(CheckWrite, err) {
		var got string
		// #nosec G202 -- see above
		err = conn.QueryRowContext(ctx, "SELECT test_value FROM "+table+" WHERE id = ?", id).Scan(&got)
		if err == nil && got != want {
			err = fmt.Errorf("read back %q, want %q", got, want)
		}
		res.record(CheckRead, err)
	} else {
		res.skip(CheckRead)
	}

	// #nosec G202 -- see above
	_, err = conn.ExecContext(ctx, "DROP TABLE "+table)
	res.record(CheckDropTable, err)

	return res.finish()
}

// checkTimeseries pings the sink, writes a canary point and reads it back.
func checkTimeseries(ctx context.Context, ts Timeseries) DependencyResult {
	res := newResult(DependencyTimeseries)
	if !res.record(CheckConfigured, failIf(ts == nil, errNotConfigured)) {
		res.skip(CheckPing, CheckWrite, CheckRead)
		return res.finish()
	}

	if !res.record(CheckPing, ts.Ping(ctx)) {
		res.skip(CheckWrite, CheckRead)
		return res.finish()
	}

	id := probeID()
	if !res.record(CheckWrite, ts.WriteCanary(ctx, id, time.Now())) {
		res.skip(CheckRead)
		return res.finish()
	}

	found, err := ts.ReadCanary(ctx, id)
	if err == nil && !found {
		err = errors.New("canary point not found")
	}
	res.record(CheckRead, err)
	return res.finish()
}

// checkBroker subscribes to a canary topic on the bridge connection,
// publishes a marker and waits up to timeout for it to come back.
func checkBroker(ctx context.Context, broker Broker, timeout time.Duration) DependencyResult {
	res := newResult(DependencyBroker)
	if broker == nil {
		res.record(CheckConnect, errNotConfigured)
		res.skip(CheckSubscribe, CheckPublish, CheckReceive, CheckUnsubscribe)
		return res.finish()
	}
	if !res.record(CheckConnect, failIf(!broker.IsConnected(), mqtt.ErrNotConnected)) {
		res.skip(CheckSubscribe, CheckPublish, CheckReceive, CheckUnsubscribe)
		return res.finish()
	}

	topic := mqtt.Topics{}.Canary(probeID())
	marker := []byte("connectivity check " + time.Now().UTC().Format(time.RFC3339Nano))
	received := make(chan struct{}, 1)

	err := broker.Subscribe(topic, 1, func(_ string, payload []byte) error {
		if bytes.Equal(payload, marker) {
			select {
			case received <- struct{}{}:
			default:
			}
		}
		return nil
	})
	if !res.record(CheckSubscribe, err) {
		res.skip(CheckPublish, CheckReceive, CheckUnsubscribe)
		return res.finish()
	}

	if res.record(CheckPublish, failIf(!broker.Publish(topic, marker, 1), mqtt.ErrPublishFailed)) {
		timer := time.NewTimer(timeout)
		select {
		case <-received:
			res.record(CheckReceive, nil)
		case <-timer.C:
			res.record(CheckReceive, fmt.Errorf("no canary within %v", timeout))
		case <-ctx.Done():
			res.record(CheckReceive, ctx.Err())
		}
		timer.Stop()
	} else {
		res.skip(CheckReceive)
	}

	res.record(CheckUnsubscribe, broker.Unsubscribe(topic))
	return res.finish()
}

// failIf returns err when failed is true.
func failIf(failed bool, err error) error {
	if failed {
		return err
	}
	return nil
}
