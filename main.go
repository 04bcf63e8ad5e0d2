package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"devmatch-client/internal/api"
	"devmatch-client/internal/bridge"
	"devmatch-client/internal/conversation"
	"devmatch-client/internal/observability"
	"devmatch-client/internal/session"
	"devmatch-client/internal/storage"
	"devmatch-client/internal/stubserver"
	"devmatch-client/internal/subscription"
)

func main() {
	stubMode := flag.Bool("stub", false, "run the in-memory stub backend instead of the client")
	flag.Parse()

	ctx := context.Background()

	shutdownTracing, err := observability.SetupTracing(ctx, "devmatch-client", getEnv("OTLP_ENDPOINT", ""))
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	if amqpURL := getEnv("AMQP_URL", ""); amqpURL != "" {
		publisher, err := observability.NewAMQPPublisher(amqpURL, getEnv("AMQP_EXCHANGE", "devmatch_events"))
		if err != nil {
			log.Printf("amqp publisher unavailable: %v", err)
		} else {
			observability.SetPublisher(publisher)
			defer publisher.Close()
		}
	}

	if *stubMode {
		runStub()
		return
	}
	runClient(ctx)
}

func runStub() {
	router := stubserver.New().Router()
	port := getEnv("PORT", "8083")
	log.Printf("stub backend listening on :%s", port)
	if err := router.Run(":" + port); err != nil {
		log.Fatalf("stub server error: %v", err)
	}
}

func runClient(ctx context.Context) {
	apiURL := getEnv("DEVMATCH_API_URL", "http://localhost:8083")
	wsURL := getEnv("DEVMATCH_WS_URL", "ws://localhost:8083/ws")
	statePath := getEnv("DEVMATCH_STATE_PATH", "devmatch-state.db")

	state, err := storage.Open(statePath)
	if err != nil {
		log.Fatalf("failed to open state store: %v", err)
	}
	defer state.Close()

	client := api.NewClient(apiURL)
	sessions := session.NewStore(wsURL, nil)
	conversations := conversation.NewStore(client, client)
	subs := subscription.New(conversations)

	b := bridge.New(client, client, state, sessions, conversations, subs, nil)
	b.OnApplicationUpdate(func(data json.RawMessage) {
		log.Printf("application update: %s", data)
	})

	if resumed, err := b.Resume(ctx); err != nil {
		log.Printf("resume failed: %v", err)
	} else if resumed {
		fmt.Printf("welcome back, %s\n", sessions.CurrentUser().Name)
	}

	repl(ctx, b, sessions, conversations)
}

func repl(ctx context.Context, b *bridge.Bridge, sessions *session.Store, conversations *conversation.Store) {
	fmt.Println("devmatch client - commands: login, signup, peers, open, send, close, logout, quit")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "login":
			if len(fields) != 3 {
				fmt.Println("usage: login <email> <password>")
				continue
			}
			if err := b.Login(ctx, fields[1], fields[2]); err == nil {
				fmt.Printf("logged in as %s\n", sessions.CurrentUser().Name)
			}

		case "signup":
			if len(fields) != 5 {
				fmt.Println("usage: signup <name> <email> <password> <programmer|recruiter>")
				continue
			}
			if err := b.Signup(ctx, fields[1], fields[2], fields[3], fields[4]); err == nil {
				fmt.Println("account created")
			}

		case "peers":
			if err := b.RefreshRoster(ctx, 1, 20); err != nil {
				continue
			}
			for i, p := range conversations.Peers() {
				status := " "
				if conversations.IsOnline(p.ID) {
					status = "*"
				}
				preview := ""
				if p.LastMessage != nil {
					preview = " - " + p.LastMessage.Text
				}
				fmt.Printf("%s %d. %s (%s)%s\n", status, i+1, p.Name, p.ID, preview)
			}

		case "open":
			if len(fields) != 2 {
				fmt.Println("usage: open <number>")
				continue
			}
			idx, err := strconv.Atoi(fields[1])
			peers := conversations.Peers()
			if err != nil || idx < 1 || idx > len(peers) {
				fmt.Println("no such peer; run peers first")
				continue
			}
			peer := peers[idx-1]
			if err := b.OpenConversation(ctx, peer); err != nil {
				continue
			}
			for _, m := range conversations.Messages() {
				fmt.Printf("[%s] %s\n", m.SenderID, m.Text)
			}

		case "send":
			if len(fields) < 2 {
				fmt.Println("usage: send <text>")
				continue
			}
			text := strings.Join(fields[1:], " ")
			if _, err := b.Send(ctx, conversation.SendInput{Text: text}); err == nil {
				fmt.Println("sent")
			}

		case "close":
			b.CloseConversation()

		case "logout":
			b.Logout(ctx)
			fmt.Println("logged out")

		case "quit":
			return

		default:
			fmt.Println("unknown command")
		}
	}
}

func getEnv(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return fallback
}
