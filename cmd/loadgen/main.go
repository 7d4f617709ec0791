// loadgen drives a running relay with pairs of chatting users to smoke-test
// connection handling and message fan-out under load.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"peerchat/internal/event"
)

var (
	baseURL  = flag.String("base", "http://localhost:8080", "relay base URL")
	wsURL    = flag.String("ws", "ws://localhost:8080/ws", "relay websocket URL")
	pairs    = flag.Int("pairs", 50, "number of user pairs")
	msgCount = flag.Int("messages", 20, "messages per user")
)

type authResponse struct {
	Token    string `json:"access_token"`
	ID       string `json:"id"`
	Username string `json:"username"`
}

func main() {
	flag.Parse()
	log.Printf("starting load run: %d users, %d messages each", *pairs*2, *msgCount)

	var wg sync.WaitGroup
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			runPair(pairID)
		}(i)
	}
	wg.Wait()
	log.Println("load run complete")
}

func runPair(pairID int) {
	userA := fmt.Sprintf("load_%d_a", pairID)
	userB := fmt.Sprintf("load_%d_b", pairID)
	pass := "loadgen-password"

	authA := authenticate(userA, pass)
	authB := authenticate(userB, pass)
	if authA == nil || authB == nil {
		return
	}

	var wsWg sync.WaitGroup
	wsWg.Add(2)
	go chatLoop(&wsWg, authA, authB.ID)
	go chatLoop(&wsWg, authB, authA.ID)
	wsWg.Wait()
}

// authenticate registers (ignoring "already exists") and logs in.
func authenticate(username, password string) *authResponse {
	creds := map[string]string{"username": username, "password": password}
	postJSON("/register", creds)

	resp, err := postJSON("/login", creds)
	if err != nil {
		log.Printf("login failed [%s]: %v", username, err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		log.Printf("login rejected [%s]: %s", username, resp.Status)
		return nil
	}

	var data authResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil
	}
	return &data
}

func chatLoop(wg *sync.WaitGroup, auth *authResponse, peerID string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(fmt.Sprintf("%s?token=%s", *wsURL, auth.Token), nil)
	if err != nil {
		log.Printf("ws connect failed [%s]: %v", auth.Username, err)
		return
	}
	defer conn.Close()

	// Drain inbound frames so the server-side send buffer never fills.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for i := 0; i < *msgCount; i++ {
		frame, _ := event.Encode(event.KindSendMessage, event.SendMessage{
			RecipientID: peerID,
			Body:        fmt.Sprintf("load message %d from %s", i, auth.Username),
		})
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Printf("send failed [%s]: %v", auth.Username, err)
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	log.Printf("%s finished sending %d messages", auth.Username, *msgCount)
}

func postJSON(endpoint string, data any) (*http.Response, error) {
	jsonData, _ := json.Marshal(data)
	return http.Post(*baseURL+endpoint, "application/json", bytes.NewBuffer(jsonData))
}
