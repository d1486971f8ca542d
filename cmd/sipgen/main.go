// Load generator that replays call-masking bursts against a running VoxGuard.
//
// Usage:
//
//	go run ./cmd/sipgen -target 127.0.0.1:5060 -bursts 20 -callers 8
//
// Each burst sends INVITEs from distinct callers to one B-number over UDP.
// Bursts with more callers than the detector's threshold should raise an
// alert; the tool reads /stats before and after to report what happened.
package main

import (
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Metrics tracks generator results.
type Metrics struct {
	Sent       int64
	Mismatched int64
	SendErrors int64
	Bursts     int64
}

// Stats mirrors the fields of GET /stats the generator reports on.
type Stats struct {
	PendingAlerts int64 `json:"pendingAlerts"`
	Ingest        struct {
		Processed   int64 `json:"processed"`
		ParseErrors int64 `json:"parseErrors"`
		Failed      int64 `json:"failed"`
		Dropped     int64 `json:"dropped"`
	} `json:"ingest"`
}

type burst struct {
	bNumber string
	callers int
}

func main() {
	target := flag.String("target", "127.0.0.1:5060", "UDP address of the SIP listener")
	baseURL := flag.String("url", "http://localhost:8080", "VoxGuard admin API base URL (empty to skip stats)")
	bursts := flag.Int("bursts", 10, "Number of bursts to send")
	callers := flag.Int("callers", 8, "Distinct callers per burst")
	bPrefix := flag.String("b-prefix", "+23480", "B-number prefix; each burst gets a unique suffix")
	mismatch := flag.Float64("mismatch", 0.0, "Fraction of INVITEs carrying a differing P-Asserted-Identity (0.0-1.0)")
	rateFlag := flag.Int("rate", 500, "Maximum INVITEs per second (0 = unlimited)")
	workers := flag.Int("workers", 4, "Number of concurrent senders")
	settle := flag.Duration("settle", 2*time.Second, "Wait before reading final stats")
	verbose := flag.Bool("verbose", false, "Print each INVITE sent")
	flag.Parse()

	if *callers < 1 || *bursts < 1 || *workers < 1 {
		fmt.Println("Usage: sipgen [-target host:port] [-bursts n] [-callers n]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║            VOXGUARD SIPGEN - Call Masking Bursts              ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nTarget:      %s\n", *target)
	fmt.Printf("Admin URL:   %s\n", *baseURL)
	fmt.Printf("Bursts:      %d\n", *bursts)
	fmt.Printf("Callers:     %d per burst\n", *callers)
	fmt.Printf("Mismatch:    %.2f\n", *mismatch)
	fmt.Printf("Rate:        %d/s\n", *rateFlag)
	fmt.Println()

	var before *Stats
	if *baseURL != "" {
		if err := checkHealth(*baseURL); err != nil {
			fmt.Printf("ERROR: VoxGuard not reachable at %s: %v\n", *baseURL, err)
			fmt.Println("\nMake sure VoxGuard is running:")
			fmt.Println("  go run ./cmd/voxguard")
			os.Exit(1)
		}
		fmt.Println("✓ VoxGuard is healthy")
		before, _ = fetchStats(*baseURL)
	}

	conn, err := net.Dial("udp", *target)
	if err != nil {
		fmt.Printf("ERROR: Failed to dial %s: %v\n", *target, err)
		os.Exit(1)
	}
	defer conn.Close()

	plan := make([]burst, *bursts)
	for i := range plan {
		plan[i] = burst{bNumber: fmt.Sprintf("%s%07d", *bPrefix, rand.IntN(10_000_000)), callers: *callers}
	}

	fmt.Printf("\nSending %d INVITEs with %d workers...\n", len(plan)*(*callers), *workers)
	startTime := time.Now()
	m := run(conn, plan, *workers, *rateFlag, *mismatch, *verbose)
	duration := time.Since(startTime)

	var after *Stats
	if *baseURL != "" {
		time.Sleep(*settle)
		after, _ = fetchStats(*baseURL)
	}

	printResults(m, duration, before, after)
}

func run(conn net.Conn, plan []burst, numWorkers, perSecond int, mismatch float64, verbose bool) *Metrics {
	m := &Metrics{}
	local := conn.LocalAddr().String()

	var tick <-chan time.Time
	if perSecond > 0 {
		ticker := time.NewTicker(time.Second / time.Duration(perSecond))
		defer ticker.Stop()
		tick = ticker.C
	}

	type invite struct {
		bNumber, caller, asserted string
	}
	work := make(chan invite, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for inv := range work {
				msg := buildInvite(local, inv.bNumber, inv.caller, inv.asserted)
				if _, err := conn.Write(msg); err != nil {
					atomic.AddInt64(&m.SendErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %s: %v\n", inv.caller, inv.bNumber, err)
					}
					continue
				}
				atomic.AddInt64(&m.Sent, 1)
				if verbose {
					fmt.Printf("→ %-16s → %-16s PAI: %s\n", inv.caller, inv.bNumber, inv.asserted)
				}
			}
		}()
	}

	for _, b := range plan {
		for c := 0; c < b.callers; c++ {
			if tick != nil {
				<-tick
			}
			caller := fmt.Sprintf("+234%010d", rand.IntN(1_000_000_000))
			asserted := ""
			if mismatch > 0 && rand.Float64() < mismatch {
				asserted = fmt.Sprintf("+234%010d", rand.IntN(1_000_000_000))
				m.Mismatched++
			}
			work <- invite{bNumber: b.bNumber, caller: caller, asserted: asserted}
		}
		m.Bursts++
	}
	close(work)

	wg.Wait()
	return m
}

func buildInvite(local, bNumber, caller, asserted string) []byte {
	host, _, _ := net.SplitHostPort(local)
	lines := []string{
		fmt.Sprintf("INVITE sip:%s@voxguard.local SIP/2.0", bNumber),
		fmt.Sprintf("Via: SIP/2.0/UDP %s;branch=z9hG4bK%s", local, uuid.NewString()[:8]),
		fmt.Sprintf("From: <sip:%s@%s>;tag=%s", caller, host, uuid.NewString()[:8]),
		fmt.Sprintf("To: <sip:%s@voxguard.local>", bNumber),
		"Call-ID: " + uuid.NewString(),
		"CSeq: 1 INVITE",
		"Max-Forwards: 70",
	}
	if asserted != "" {
		lines = append(lines, fmt.Sprintf("P-Asserted-Identity: <sip:%s@%s>", asserted, host))
	}
	lines = append(lines, "Content-Length: 0", "", "")
	return []byte(strings.Join(lines, "\r\n"))
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func fetchStats(baseURL string) (*Stats, error) {
	resp, err := http.Get(baseURL + "/stats")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stats: status %d", resp.StatusCode)
	}
	var s Stats
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func printResults(m *Metrics, duration time.Duration, before, after *Stats) {
	fmt.Println()
	fmt.Println("═══════════════════════════════════════════════════════════════")
	fmt.Println("                           RESULTS")
	fmt.Println("═══════════════════════════════════════════════════════════════")

	fmt.Printf("\n📊 TRAFFIC\n")
	fmt.Printf("   Bursts:          %d\n", m.Bursts)
	fmt.Printf("   INVITEs Sent:    %d\n", m.Sent)
	fmt.Printf("   PAI Mismatches:  %d\n", m.Mismatched)
	fmt.Printf("   Send Errors:     %d\n", m.SendErrors)

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:  %v\n", duration.Round(time.Millisecond))
	if m.Sent > 0 && duration > 0 {
		fmt.Printf("   Throughput:      %.2f INVITE/sec\n", float64(m.Sent)/duration.Seconds())
	}

	if before != nil && after != nil {
		fmt.Printf("\n🔍 DETECTOR\n")
		fmt.Printf("   Processed:       %d\n", after.Ingest.Processed-before.Ingest.Processed)
		fmt.Printf("   New Alerts:      %d / %d bursts\n", after.PendingAlerts-before.PendingAlerts, m.Bursts)
		fmt.Printf("   Parse Errors:    %d\n", after.Ingest.ParseErrors-before.Ingest.ParseErrors)
		fmt.Printf("   Failed:          %d\n", after.Ingest.Failed-before.Ingest.Failed)
		fmt.Printf("   Dropped:         %d\n", after.Ingest.Dropped-before.Ingest.Dropped)
	}

	fmt.Println()
}
