package posclient

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"tokoku/internal/domain"
	"tokoku/internal/httpapi"
	"tokoku/internal/service"
	"tokoku/internal/store/memory"
	"tokoku/internal/syncer"
)

const testPassword = "rahasia-toko"

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	for _, path := range [][]string{
		{"store", "list"}, {"store", "price", "set"}, {"product", "save"}, {"category", "remove"},
		{"sale", "add"}, {"return", "update"}, {"cash", "add"},
		{"sync"}, {"push"}, {"pull"}, {"status"}, {"queue"},
		{"deadletter", "requeue"}, {"dlq", "discard"},
	} {
		sub, _, err := cmd.Find(path)
		if err != nil || sub == nil {
			t.Fatalf("command %v not found: %v", path, err)
		}
		if sub.Name() != path[len(path)-1] {
			t.Fatalf("expected %s, got %s", path[len(path)-1], sub.Name())
		}
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()
	for _, name := range []string{"server", "state", "username", "password", "push-mode", "max-attempts", "timeout", "format", "offline"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Fatalf("missing persistent flag %s", name)
		}
	}
	if got := cmd.PersistentFlags().Lookup("format").DefValue; got != "text" {
		t.Fatalf("expected text default format, got %s", got)
	}
}

func TestRejectsUnknownFormat(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "xml", "--state", filepath.Join(t.TempDir(), "s.db"), "status"})
	cmd.SetOut(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected invalid format error")
	}
}

func TestParseLine(t *testing.T) {
	line, err := parseLine("Gula Pasir:0.5:16000:kilogram")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if line.ProductName != "Gula Pasir" || line.Qty != 0.5 || line.Price != 16000 || line.Unit != domain.UnitKilogram {
		t.Fatalf("unexpected line %+v", line)
	}
	if _, err := parseLine("Tepung:2"); err == nil {
		t.Fatal("expected error for missing price")
	}
	if _, err := parseLine("Tepung:dua:5200"); err == nil {
		t.Fatal("expected error for bad qty")
	}
}

func TestRupiah(t *testing.T) {
	cases := map[int64]string{0: "Rp0", 500: "Rp500", 5200: "Rp5.200", 1234567: "Rp1.234.567", -16000: "-Rp16.000"}
	for in, want := range cases {
		if got := rupiah(in); got != want {
			t.Fatalf("rupiah(%d) = %q, want %q", in, got, want)
		}
	}
}

func runCLI(t *testing.T, args ...string) []byte {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	if err := cmd.Execute(); err != nil {
		t.Fatalf("posclient %v: %v", args, err)
	}
	return out.Bytes()
}

func decodeOutput(t *testing.T, raw []byte, dest any) {
	t.Helper()
	if err := json.Unmarshal(raw, dest); err != nil {
		t.Fatalf("decode output %q: %v", raw, err)
	}
}

func TestOfflineCashThenSync(t *testing.T) {
	auth, err := httpapi.NewAuthManager("posclient-test-secret", time.Hour, "admin", testPassword)
	if err != nil {
		t.Fatalf("new auth manager: %v", err)
	}
	api := httpapi.New(service.New(memory.NewSeeded(), nil, time.Minute), auth, "*")
	srv := httptest.NewServer(api.Handler())
	defer srv.Close()

	base := []string{
		"--server", srv.URL,
		"--state", filepath.Join(t.TempDir(), "state.db"),
		"--password", testPassword,
		"--format", "json",
	}
	with := func(args ...string) []string {
		return append(append([]string{}, base...), args...)
	}

	var sales []domain.SaleRecord
	decodeOutput(t, runCLI(t, with("sale", "add", "--store", "store-main", "--product", "Tepung", "--qty", "2", "--price", "5200")...), &sales)
	if len(sales) != 1 || sales[0].Qty != 2 {
		t.Fatalf("unexpected sale output %+v", sales)
	}

	var status syncer.Status
	decodeOutput(t, runCLI(t, with("--offline", "status")...), &status)
	if status.QueueLength != 0 {
		t.Fatalf("expected online add to push right away, got %d queued", status.QueueLength)
	}

	runCLI(t, with("--offline", "cash", "add", "--store", "store-main", "--amount", "150000")...)
	var queue []domain.QueueItem
	decodeOutput(t, runCLI(t, with("--offline", "queue")...), &queue)
	if len(queue) != 1 || queue[0].Kind != domain.KindCashAdd {
		t.Fatalf("expected queued cash receipt, got %+v", queue)
	}

	var res syncer.SyncResult
	decodeOutput(t, runCLI(t, with("sync")...), &res)
	if len(res.Push.Applied) != 1 || res.Push.Remaining != 0 {
		t.Fatalf("unexpected sync result %+v", res)
	}

	var receipts []domain.CashReceipt
	decodeOutput(t, runCLI(t, with("--offline", "cash", "list")...), &receipts)
	if len(receipts) != 1 || receipts[0].Amount != 150000 {
		t.Fatalf("unexpected receipts %+v", receipts)
	}
	var stores []domain.Store
	decodeOutput(t, runCLI(t, with("--offline", "store", "list")...), &stores)
	if len(stores) != 2 {
		t.Fatalf("expected seeded stores after sync, got %+v", stores)
	}
}
