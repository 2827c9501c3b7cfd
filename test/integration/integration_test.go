//go:build integration

package integration

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/HatiCode/timequery/pkg/adapters"
	"github.com/HatiCode/timequery/pkg/api/grpcapi"
	"github.com/HatiCode/timequery/pkg/cell"
	"github.com/HatiCode/timequery/pkg/httpx"
	"github.com/HatiCode/timequery/pkg/storage"
)

// fakePrometheus answers instant queries with a vector whose value grows by
// 10 on every request.
func fakePrometheus(t *testing.T) *httptest.Server {
	t.Helper()

	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/query" {
			http.NotFound(w, r)
			return
		}
		n := calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"success","data":{"resultType":"vector","result":[{"metric":{"service":"api"},"value":[%d,"%d"]}]}}`,
			time.Now().Unix(), n*10)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func startRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("failed to get redis endpoint: %v", err)
	}
	return strings.TrimPrefix(endpoint, "redis://")
}

// TestSamplePublishServe drives a query cell from a Prometheus compatible
// source, publishes its snapshots to Redis and reads them back over gRPC.
func TestSamplePublishServe(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	prom := fakePrometheus(t)
	adapter, err := adapters.New("prometheus", map[string]any{
		"url":     prom.URL,
		"queries": map[string]any{"rps": `sum(rate(http_requests_total[1m]))`},
	})
	if err != nil {
		t.Fatalf("adapters.New() error = %v", err)
	}
	adapter = adapters.WithHTTPClient(adapter, httpx.NewClient(5*time.Second, nil))

	store, err := storage.NewRedisStore(startRedis(t), "", 0, time.Minute)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	defer store.Close()

	c := cell.NewQueryCell("rps", nil, [][]any{{map[string]any{"select": "rps"}}}, logger)
	c.OnRunStart()

	for i := 0; i < 3; i++ {
		sample, err := adapter.Sample(ctx)
		if err != nil {
			t.Fatalf("Sample() error = %v", err)
		}
		at := sample.Time.Add(time.Duration(i) * time.Second)
		res := c.Step(at.UnixMilli(), sample.Values)
		if res.Code != "" {
			t.Fatalf("step %d failed: %s", i, res.Error)
		}
		if err := store.Put(ctx, storage.NewSnapshot("rps", at, res)); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	gs := grpc.NewServer()
	grpcapi.RegisterCellsServer(gs, grpcapi.NewServer(store, func() []string { return []string{"rps"} }, logger))
	go func() { _ = gs.Serve(lis) }()
	defer gs.Stop()

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("grpc.NewClient() error = %v", err)
	}
	defer conn.Close()
	client := grpcapi.NewClient(conn)

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	names, err := client.ListCells(callCtx)
	if err != nil {
		t.Fatalf("ListCells() error = %v", err)
	}
	if len(names) != 1 || names[0] != "rps" {
		t.Errorf("ListCells() = %v, want [rps]", names)
	}

	snap, err := client.GetSnapshot(callCtx, "rps")
	if err != nil {
		t.Fatalf("GetSnapshot() error = %v", err)
	}
	fields := snap.GetFields()
	if got := fields["storeSize"].GetNumberValue(); got != 3 {
		t.Errorf("storeSize = %v, want 3", got)
	}
	rows := fields["rows"].GetListValue().GetValues()
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	newest := rows[2].GetStructValue().GetFields()["values"].GetStructValue().GetFields()["rps"].GetNumberValue()
	if newest != 30 {
		t.Errorf("newest rps = %v, want 30", newest)
	}
}
