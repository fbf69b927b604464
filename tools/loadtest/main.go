package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/SkynetNext/game-server/internal/domain"
	"github.com/SkynetNext/game-server/internal/protocol"
)

var (
	url      = flag.String("url", "ws://localhost:8080/ws", "Server websocket URL")
	clients  = flag.Int("clients", 100, "Number of concurrent players")
	duration = flag.Duration("duration", 30*time.Second, "Gift storm duration")
	rate     = flag.Float64("rate", 10.0, "Gifts per second per player")
	amount   = flag.Int64("amount", 1, "Coins per gift")
	timeout  = flag.Duration("timeout", 5*time.Second, "Dial and response timeout")
	verbose  = flag.Bool("verbose", false, "Verbose output")
)

type Stats struct {
	ConnErrors    atomic.Int64
	GiftsSent     atomic.Int64
	GiftsOK       atomic.Int64
	GiftsFailed   atomic.Int64
	GiftsReceived atomic.Int64

	mu        sync.Mutex
	codes     map[string]int64
	latencies []time.Duration
}

func (s *Stats) recordError(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[code]++
}

func (s *Stats) recordLatency(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latencies = append(s.latencies, d)
}

var stats = Stats{codes: make(map[string]int64)}

type player struct {
	id  int
	ws  *websocket.Conn
	pid domain.PlayerID
}

func main() {
	flag.Parse()

	fmt.Printf("=== Game Server Load Test ===\n")
	fmt.Printf("Target: %s\n", *url)
	fmt.Printf("Players: %d\n", *clients)
	fmt.Printf("Duration: %v\n", *duration)
	fmt.Printf("Rate: %.2f gifts/s per player\n", *rate)
	fmt.Printf("\n")

	if *clients < 2 {
		fmt.Println("need at least 2 players")
		os.Exit(2)
	}

	setupCtx, cancelSetup := context.WithTimeout(context.Background(), time.Minute)
	defer cancelSetup()

	players, err := setup(setupCtx)
	if err != nil {
		fmt.Printf("❌ Setup failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		for _, p := range players {
			p.ws.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	statsDone := make(chan struct{})
	go reportStats(ctx, statsDone)

	startTime := time.Now()
	var g errgroup.Group
	for i, p := range players {
		left := players[(i+len(players)-1)%len(players)]
		right := players[(i+1)%len(players)]
		g.Go(func() error {
			storm(ctx, p, left.pid, right.pid)
			return nil
		})
	}
	g.Wait()
	elapsed := time.Since(startTime)

	<-statsDone
	printFinalReport(elapsed)
}

// setup connects every player, befriends ring neighbours and tops up coins
func setup(ctx context.Context) ([]*player, error) {
	run := time.Now().UnixNano()
	players := make([]*player, *clients)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(50)
	for i := range players {
		g.Go(func() error {
			p, err := connect(gctx, i, fmt.Sprintf("loadtest-%d-%d", run, i))
			if err != nil {
				stats.ConnErrors.Add(1)
				return err
			}
			players[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, p := range players {
			if p != nil {
				p.ws.Close()
			}
		}
		return nil, err
	}

	for i, p := range players {
		// with two players the ring has a single edge
		if len(players) == 2 && i == 1 {
			break
		}
		next := players[(i+1)%len(players)]
		if err := p.send(protocol.TypeAddFriend, protocol.AddFriendRequest{FriendPlayerID: next.pid}); err != nil {
			return nil, err
		}
	}

	topUp := *amount * int64(*rate*duration.Seconds()+1)
	for _, p := range players {
		if err := p.send(protocol.TypeUpdateResources, protocol.UpdateResourcesRequest{Type: domain.Coins, Value: topUp}); err != nil {
			return nil, err
		}
		if _, err := p.await(); err != nil {
			return nil, err
		}
	}
	return players, nil
}

func connect(ctx context.Context, id int, device string) (*player, error) {
	dialer := websocket.Dialer{HandshakeTimeout: *timeout}
	ws, resp, err := dialer.DialContext(ctx, *url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial player %d: %w", id, err)
	}
	resp.Body.Close()

	p := &player{id: id, ws: ws}
	if err := p.send(protocol.TypeLogin, protocol.LoginRequest{DeviceID: device}); err != nil {
		ws.Close()
		return nil, err
	}
	for {
		env, err := p.read()
		if err != nil {
			ws.Close()
			return nil, err
		}
		switch env.Type {
		case protocol.TypeLoginResponse:
			var login protocol.LoginResponse
			if err := json.Unmarshal(env.Payload, &login); err != nil {
				ws.Close()
				return nil, err
			}
			p.pid = login.PlayerID
			return p, nil
		case protocol.TypeError:
			ws.Close()
			return nil, fmt.Errorf("login player %d: %s", id, env.Payload)
		}
	}
}

func (p *player) send(msgType string, payload any) error {
	data, err := protocol.Encode(msgType, payload)
	if err != nil {
		return err
	}
	p.ws.SetWriteDeadline(time.Now().Add(*timeout))
	return p.ws.WriteMessage(websocket.TextMessage, data)
}

func (p *player) read() (*protocol.Envelope, error) {
	p.ws.SetReadDeadline(time.Now().Add(*timeout))
	_, data, err := p.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return protocol.Parse(data)
}

var errServer = errors.New("server error")

// await skips pushes until the reply to the last request arrives. ERROR
// replies are recorded by code and returned as errServer.
func (p *player) await() (*protocol.Envelope, error) {
	for {
		env, err := p.read()
		if err != nil {
			return nil, err
		}
		switch env.Type {
		case protocol.TypeResourceUpdated:
			return env, nil
		case protocol.TypeError:
			var e protocol.ErrorPayload
			if err := json.Unmarshal(env.Payload, &e); err == nil {
				stats.recordError(e.Code)
				if *verbose {
					fmt.Printf("player %d: %s %s\n", p.id, e.Code, e.Message)
				}
			}
			return env, errServer
		case protocol.TypeGiftReceived:
			stats.GiftsReceived.Add(1)
		}
	}
}

// storm alternates gifts to both neighbours so that every pair is locked
// from both sides
func storm(ctx context.Context, p *player, left, right domain.PlayerID) {
	interval := time.Duration(float64(time.Second) / *rate)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	targets := [2]domain.PlayerID{left, right}
	for n := 0; ; n++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		stats.GiftsSent.Add(1)
		err := p.send(protocol.TypeSendGift, protocol.SendGiftRequest{
			FriendPlayerID: targets[n%2],
			Type:           domain.Coins,
			Value:          *amount,
		})
		if err == nil {
			_, err = p.await()
		}
		if err != nil {
			stats.GiftsFailed.Add(1)
			if !errors.Is(err, errServer) {
				stats.recordError("transport")
				if *verbose {
					fmt.Printf("❌ player %d: %v\n", p.id, err)
				}
				return
			}
			continue
		}
		stats.GiftsOK.Add(1)
		stats.recordLatency(time.Since(start))
	}
}

func reportStats(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Printf("\r[Stats] Gifts: %d sent, %d ok, %d failed | Received: %d",
				stats.GiftsSent.Load(), stats.GiftsOK.Load(), stats.GiftsFailed.Load(), stats.GiftsReceived.Load())
		}
	}
}

func printFinalReport(elapsed time.Duration) {
	fmt.Printf("\n\n=== Final Report ===\n")
	fmt.Printf("Duration: %v\n", elapsed)

	sent := stats.GiftsSent.Load()
	ok := stats.GiftsOK.Load()
	failed := stats.GiftsFailed.Load()

	fmt.Printf("\n--- Gifts ---\n")
	fmt.Printf("Sent: %d\n", sent)
	if sent > 0 {
		fmt.Printf("Successful: %d (%.2f%%)\n", ok, float64(ok)/float64(sent)*100)
		fmt.Printf("Failed: %d (%.2f%%)\n", failed, float64(failed)/float64(sent)*100)
	}
	fmt.Printf("Throughput: %.2f gifts/s\n", float64(ok)/elapsed.Seconds())

	stats.mu.Lock()
	defer stats.mu.Unlock()

	fmt.Printf("\n--- Latency ---\n")
	if n := len(stats.latencies); n > 0 {
		sort.Slice(stats.latencies, func(i, j int) bool { return stats.latencies[i] < stats.latencies[j] })
		var total time.Duration
		for _, d := range stats.latencies {
			total += d
		}
		fmt.Printf("Min: %v\n", stats.latencies[0])
		fmt.Printf("Avg: %v\n", total/time.Duration(n))
		fmt.Printf("P99: %v\n", stats.latencies[n*99/100])
		fmt.Printf("Max: %v\n", stats.latencies[n-1])
	}

	fmt.Printf("\n--- Errors ---\n")
	fmt.Printf("Connection Errors: %d\n", stats.ConnErrors.Load())
	for code, count := range stats.codes {
		fmt.Printf("%s: %d\n", code, count)
	}

	// Exit code
	if failed > sent/10 {
		fmt.Printf("\n❌ Test failed: too many errors\n")
		os.Exit(1)
	}
	fmt.Printf("\n✅ Test completed successfully\n")
}
