package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/soundspace/realtime/internal/config"
	"github.com/soundspace/realtime/internal/exchange"
	"github.com/soundspace/realtime/internal/messenger"
	"github.com/soundspace/realtime/internal/session"
	"github.com/soundspace/realtime/pkg/wire"
)

func main() {
	peer := flag.String("peer", "", "user ID to chat with")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *peer == "" {
		log.Fatal("Peer is required. Use -peer flag")
	}

	level := zerolog.WarnLevel
	if cfg.Debug {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	m := messenger.New(messenger.Config{
		ServerURL:  cfg.ServerURL,
		APIURL:     cfg.APIURL,
		Credential: cfg.Credential,
		UserID:     cfg.UserID,
		Session: session.Config{
			HandshakeTimeout: cfg.HandshakeTimeout,
			MaxAttempts:      cfg.MaxAttempts,
			RetryBaseDelay:   cfg.RetryBaseDelay,
			RetryMaxDelay:    cfg.RetryMaxDelay,
		},
		Exchange: exchange.Config{
			AckTimeout:  cfg.AckTimeout,
			TypingDecay: cfg.TypingDecay,
		},
	}, logger)
	defer m.Close()

	m.OnConnectionChange(func(connected bool) {
		if connected {
			fmt.Println("*** connected ***")
		} else {
			fmt.Println("*** connection lost ***")
		}
	})
	m.OnMessage(func(msg wire.Message) {
		fmt.Printf("[%s]: %s\n", msg.SenderID, msg.Message)
	})
	m.OnTypingStart(func(peerID string) {
		fmt.Printf("*** %s is typing ***\n", peerID)
	})
	m.OnServerShutdown(func(message string) {
		fmt.Printf("*** server going down: %s ***\n", message)
	})

	ctx := context.Background()
	m.Connect(ctx)

	convs, err := m.Conversations(ctx)
	if err != nil {
		log.Printf("Failed to load conversations: %v", err)
	}
	for _, c := range convs {
		fmt.Printf("%-20s %q (unread %d)\n", c.Peer.Username, c.LastMessage.Message, c.UnreadCount)
	}

	if err := m.OpenConversation(*peer); err != nil {
		log.Printf("Failed to open conversation: %v", err)
	}

	fmt.Println("Type your messages (or 'quit' to exit). Commands: /online, /read, /typing")
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		switch {
		case text == "quit" || text == "exit":
			return
		case text == "/online":
			if m.IsOnline(*peer) {
				fmt.Printf("%s is online\n", *peer)
			} else {
				fmt.Printf("%s is offline (or unknown)\n", *peer)
			}
		case text == "/read":
			if err := m.OpenConversation(*peer); err != nil {
				log.Printf("Failed to mark conversation read: %v", err)
			}
			fmt.Printf("Unread total: %d\n", m.Unread())
		case text == "/typing":
			if err := m.SendTypingStart(*peer); err != nil {
				log.Printf("Failed to send typing signal: %v", err)
			}
		default:
			msg, err := m.Send(ctx, *peer, text)
			if err != nil {
				log.Printf("Failed to send message: %v", err)
				continue
			}
			fmt.Printf("[me -> %s] %s (id %s)\n", *peer, msg.Message, msg.ID)
		}
	}

	if err := scanner.Err(); err != nil {
		log.Printf("Error reading input: %v", err)
	}
}
