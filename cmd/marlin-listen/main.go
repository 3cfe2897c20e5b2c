// Command marlin-listen hosts the client side of the Marlin event bus: a
// ClientEventDriver that attaches to a relay's channel and prints every
// inbound event to stdout until interrupted.
package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"marlin-events/internal/clientdriver"
	"marlin-events/internal/config"
	"marlin-events/internal/event"
	"marlin-events/internal/obslog"
)

func main() {
	obslog.Init("marlin-listen")

	url := flag.String("url", "http://localhost:8089", "base URL of the marlin-relay to attach to")
	session := flag.String("session", "demo", "channel name to attach")
	cookie := flag.String("cookie", "", "name of the identity cookie the relay expects, if required")
	token := flag.String("token", "", "value that cookie must carry, if required")
	policyName := flag.String("policy", "SureDelivery", "failover policy: Binary, HighSecurity, Disconnected, ImmediateS2C, TwoWayMessages, NoSockets, SureDelivery")
	flag.Parse()

	policy, err := parsePolicy(*policyName)
	if err != nil {
		slog.Error("invalid policy", "error", err)
		os.Exit(1)
	}

	driver := clientdriver.New(config.Get())
	driver.SetCallback(func(appData uint64, e event.Event) {
		switch e.Type {
		case event.Open:
			slog.Info("channel opened")
		case event.Close:
			slog.Info("channel closed")
		case event.Error:
			slog.Warn("transport error", "message", string(e.Payload))
		default:
			slog.Info("event received", "number", e.Number, "type", e.TypeName, "payload", string(e.Payload))
		}
	}, 0)

	if err := driver.StartEventDriver(*url, *session, *cookie, *token, policy); err != nil {
		slog.Error("failed to start event driver", "error", err)
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh

	slog.Info("shutdown signal received")
	driver.StopEventsForSession()
}

func parsePolicy(name string) (event.Policy, error) {
	switch name {
	case "Binary":
		return event.Binary, nil
	case "HighSecurity":
		return event.HighSecurity, nil
	case "Disconnected":
		return event.Disconnected, nil
	case "ImmediateS2C":
		return event.ImmediateS2C, nil
	case "TwoWayMessages":
		return event.TwoWayMessages, nil
	case "NoSockets":
		return event.NoSockets, nil
	case "SureDelivery":
		return event.SureDelivery, nil
	default:
		return 0, errUnknownPolicy(name)
	}
}

type errUnknownPolicy string

func (e errUnknownPolicy) Error() string { return "unknown policy: " + string(e) }
