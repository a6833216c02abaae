// Command webhook-receiver is a local sink for NOTIFY_WEBHOOK_URL. It checks
// the signature when WEBHOOK_SECRET is set and keeps the last notifications
// for inspection at /stats.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/djlord-it/bgp-withdraw/internal/notify"
)

type received struct {
	ReceivedAt string         `json:"received_at"`
	RunID      string         `json:"run_id"`
	Verified   bool           `json:"verified"`
	Message    notify.Message `json:"message"`
}

type stats struct {
	Count    int64      `json:"count"`
	Rejected int64      `json:"rejected"`
	Last     []received `json:"last"`
	Since    string     `json:"since"`
}

type receiver struct {
	secret    string
	maxStored int

	mu       sync.Mutex
	count    int64
	rejected int64
	last     []received
	since    time.Time
}

func main() {
	addr := ":8090"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	rc := &receiver{
		secret:    os.Getenv("WEBHOOK_SECRET"),
		maxStored: 50,
		since:     time.Now().UTC(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/hook", rc.hook)
	mux.HandleFunc("/stats", rc.stats)
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("/reset", rc.reset)

	log.Printf("webhook-receiver listening on %s (verify=%t)", addr, rc.secret != "")
	log.Fatal(http.ListenAndServe(addr, mux))
}

func (rc *receiver) hook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	defer r.Body.Close()
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	verified := false
	if rc.secret != "" {
		if !notify.VerifySignature(rc.secret, body, r.Header.Get(notify.HeaderSignature)) {
			rc.mu.Lock()
			rc.rejected++
			rc.mu.Unlock()
			log.Printf("hook rejected: bad signature run=%s", r.Header.Get(notify.HeaderRunID))
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
		verified = true
	}

	var msg notify.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}

	rec := received{
		ReceivedAt: time.Now().UTC().Format(time.RFC3339Nano),
		RunID:      r.Header.Get(notify.HeaderRunID),
		Verified:   verified,
		Message:    msg,
	}

	rc.mu.Lock()
	rc.count++
	rc.last = append(rc.last, rec)
	if len(rc.last) > rc.maxStored {
		rc.last = rc.last[len(rc.last)-rc.maxStored:]
	}
	current := rc.count
	rc.mu.Unlock()

	log.Printf("hook received #%d: run=%s items=%d failed=%t", current, rec.RunID, len(msg.Items), msg.Failed)
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func (rc *receiver) stats(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	s := stats{
		Count:    rc.count,
		Rejected: rc.rejected,
		Last:     rc.last,
		Since:    rc.since.Format(time.RFC3339),
	}
	rc.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}

func (rc *receiver) reset(w http.ResponseWriter, _ *http.Request) {
	rc.mu.Lock()
	rc.count = 0
	rc.rejected = 0
	rc.last = nil
	rc.since = time.Now().UTC()
	rc.mu.Unlock()
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "reset")
}
