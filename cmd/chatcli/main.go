package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/servify/chat-client/internal/auth"
	"github.com/servify/chat-client/internal/chat"
	"github.com/servify/chat-client/internal/config"
	"github.com/servify/chat-client/internal/files"
	"github.com/servify/chat-client/internal/metrics"
	"github.com/servify/chat-client/internal/protocol"
	"github.com/servify/chat-client/internal/realtime"
	"github.com/servify/chat-client/internal/rest"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	log.Printf("Servify chat client starting")
	log.Printf("  gateway_url:        %s", cfg.GatewayURL)
	log.Printf("  api_base_url:       %s", cfg.APIBaseURL)
	log.Printf("  reconnect_attempts: %d", cfg.ReconnectAttempts)
	log.Printf("  reconnect_delay:    %s", cfg.ReconnectDelay)
	log.Printf("  typing_quiet:       %s", cfg.TypingQuiet)
	log.Printf("  metrics_addr:       %s", cfg.MetricsAddr)

	var userID string
	if cfg.AuthToken != "" {
		userID, err = auth.UserID(cfg.AuthToken)
		if err != nil {
			log.Printf("could not read user id from credential: %v", err)
		}
	}

	// --- Metrics ---
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("metrics endpoint error: %v", err)
		}
	}()

	api := rest.NewClient(cfg.APIBaseURL, cfg.AuthToken)
	policy := files.NewPolicy(api.FileTypes)

	gw := realtime.New(realtime.Config{
		URL:               cfg.GatewayURL,
		Token:             cfg.AuthToken,
		ReconnectAttempts: cfg.ReconnectAttempts,
		ReconnectDelay:    cfg.ReconnectDelay,
	})

	// Connectivity badge.
	gw.On(protocol.EventConnect, func(json.RawMessage) { log.Printf("online") })
	gw.On(protocol.EventDisconnect, func(json.RawMessage) { log.Printf("offline") })

	feed := chat.NewNotificationFeed(gw)
	feed.Mount()
	gw.On(protocol.EventNotification, func(json.RawMessage) {
		log.Printf("notifications: %d unseen", feed.Unseen())
	})

	presence := chat.NewPresenceTracker(gw)
	presence.Mount()

	var order *chat.OrderChat
	if cfg.OrderID != "" {
		order = chat.NewOrderChat(cfg.OrderID, userID, gw, api, policy)
		order.SetTypingQuiet(cfg.TypingQuiet)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := order.Mount(ctx); err != nil {
			log.Printf("order %s: history unavailable: %v", cfg.OrderID, err)
		}
		cancel()

		for _, m := range order.Messages() {
			printMessage(userID, m)
		}
		gw.On(protocol.EventOrderMessage, func(data json.RawMessage) {
			var ev protocol.OrderMessageEvent
			if json.Unmarshal(data, &ev) == nil && ev.OrderID == cfg.OrderID && ev.SenderID != userID {
				fmt.Printf("  [them] %s\n", ev.Content)
			}
		})

		go inputLoop(order)
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("received signal %v, shutting down", sig)

	if order != nil {
		order.Unmount()
	}
	presence.Unmount()
	feed.Unmount()
	gw.Disconnect()
}

// inputLoop reads stdin lines and sends each as a chat message. Lines of the
// form "/edit <id> <content>" and "/delete <id>" exercise the mutation flow.
func inputLoop(order *chat.OrderChat) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		switch {
		case strings.HasPrefix(line, "/edit "):
			parts := strings.SplitN(strings.TrimPrefix(line, "/edit "), " ", 2)
			if len(parts) == 2 {
				if err := order.Edit(ctx, parts[0], parts[1]); err != nil {
					log.Printf("edit failed: %v", err)
				}
			}

		case strings.HasPrefix(line, "/delete "):
			if err := order.Delete(ctx, strings.TrimPrefix(line, "/delete ")); err != nil {
				log.Printf("delete failed: %v", err)
			}

		default:
			order.InputChanged(line)
			if _, err := order.Send(ctx, line, nil); err != nil {
				if errors.Is(err, chat.ErrCooldown) {
					log.Printf("rate limited, try again in %s", order.CooldownRemaining().Round(time.Second))
				} else {
					log.Printf("send failed: %v", err)
				}
			}
		}
		cancel()
	}
}

func printMessage(userID string, m rest.Message) {
	who := "them"
	if m.SenderID == userID {
		who = "me"
	}
	fmt.Printf("  [%s] %s\n", who, m.Content)
	for _, a := range m.Attachments {
		fmt.Printf("         attachment: %s (%s)\n", a.FileName, a.FileURL)
	}
}
